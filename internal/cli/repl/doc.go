// Package repl implements the interactive cloudlock-cli shell.
//
//   - repl.go: the read-eval-print loop and built-in commands
//   - terminal.go: line editing on a terminal through liner
//   - split.go: shell-style splitting of an input line
//   - completer.go: tab completion of command paths
//   - history.go: history persisted across sessions
//
// Every line other than a built-in is split into arguments and handed to
// an Executor, which runs it as a cloudlock-cli command line.
package repl
