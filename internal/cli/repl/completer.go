package repl

import (
	"sort"
	"strings"
)

// Completer completes command paths such as "snapshot create".
type Completer struct {
	commands []string
}

// NewCompleter creates a Completer over the given command paths. Built-in
// REPL commands are always included.
func NewCompleter(commands []string) *Completer {
	seen := make(map[string]struct{})
	var all []string
	for _, c := range append(append([]string(nil), commands...), builtins...) {
		c = strings.Join(strings.Fields(c), " ")
		if _, ok := seen[c]; ok || c == "" {
			continue
		}
		seen[c] = struct{}{}
		all = append(all, c)
	}
	sort.Strings(all)
	return &Completer{commands: all}
}

// Complete returns the command paths that extend line by its current word.
// Paths with more words than line are not offered, so "snap" completes to
// "snapshot" and "snapshot " to its subcommands.
func (c *Completer) Complete(line string) []string {
	words := len(strings.Fields(line))
	if line == "" || strings.HasSuffix(line, " ") {
		words++
	}
	var out []string
	for _, cmd := range c.commands {
		if strings.HasPrefix(cmd, line) && len(strings.Fields(cmd)) == words {
			out = append(out, cmd)
		}
	}
	return out
}
