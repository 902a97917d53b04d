package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/cloudlock-go/internal/cli/repl"
)

// ShellCommand returns the interactive shell command. Running the CLI
// without a command starts the same shell.
func ShellCommand() *cli.Command {
	return &cli.Command{
		Name:   "shell",
		Usage:  "Start an interactive shell",
		Action: runShell,
	}
}

// newShellReader picks the line reader for the shell. Terminals get line
// editing and completion; pipes are read line by line.
var newShellReader = func(in io.Reader, comp *repl.Completer, h *repl.History) repl.LineReader {
	if f, ok := in.(*os.File); ok && isTerminal(f) {
		return repl.NewTerminal(comp, h)
	}
	return repl.NewScanner(in, nil)
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

func runShell(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	history := repl.NewHistory(cfg.HistoryPath())
	if err := history.Load(); err != nil {
		fmt.Fprintf(errWriter(c), "warning: load history: %v\n", err)
	}

	in := c.App.Reader
	if in == nil {
		in = os.Stdin
	}
	out := writer(c)
	fmt.Fprintf(out, "%s %s. Type \"help\" for commands, \"exit\" to leave.\n", AppName, c.App.Version)

	shell := repl.New(repl.Config{
		Reader:  newShellReader(in, repl.NewCompleter(commandPaths("", Commands())), history),
		Output:  out,
		History: history,
		Exec:    shellExecutor(c),
	})
	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	return shell.Run(ctx)
}

// shellExecutor runs each line as a fresh invocation of the CLI. Global
// flags given to the shell apply to every line unless the line overrides
// them.
func shellExecutor(parent *cli.Context) repl.Executor {
	inherited := inheritedFlags(parent)
	return func(ctx context.Context, args []string) error {
		if args[0] == "shell" {
			return errors.New("already in a shell")
		}
		app := App()
		app.Reader = parent.App.Reader
		app.Writer = parent.App.Writer
		app.ErrWriter = parent.App.ErrWriter
		app.ExitErrHandler = func(*cli.Context, error) {}
		app.Action = func(c *cli.Context) error {
			if c.NArg() == 0 {
				return errors.New("missing command")
			}
			return fmt.Errorf("unknown command %q", c.Args().First())
		}

		argv := make([]string, 0, len(inherited)+len(args)+1)
		argv = append(argv, AppName)
		argv = append(argv, inherited...)
		argv = append(argv, args...)
		return app.RunContext(ctx, argv)
	}
}

// inheritedFlags renders the global flags set on the shell invocation.
func inheritedFlags(c *cli.Context) []string {
	var out []string
	for _, f := range globalFlags() {
		name := f.Names()[0]
		if !c.IsSet(name) {
			continue
		}
		switch f.(type) {
		case *cli.BoolFlag:
			out = append(out, fmt.Sprintf("--%s=%t", name, c.Bool(name)))
		case *cli.DurationFlag:
			out = append(out, fmt.Sprintf("--%s=%s", name, c.Duration(name)))
		default:
			out = append(out, fmt.Sprintf("--%s=%s", name, c.String(name)))
		}
	}
	return out
}

// commandPaths lists every command path, such as "snapshot create", for
// completion.
func commandPaths(prefix string, cmds []*cli.Command) []string {
	var out []string
	for _, cmd := range cmds {
		if cmd.Hidden {
			continue
		}
		path := strings.TrimSpace(prefix + " " + cmd.Name)
		out = append(out, path)
		out = append(out, commandPaths(path, cmd.Subcommands)...)
	}
	return out
}
