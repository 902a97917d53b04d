package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DefaultPrompt is shown before every line.
const DefaultPrompt = "cloudlock> "

var builtins = []string{"exit", "quit", "help", "history"}

// Executor runs one command line split into arguments.
type Executor func(ctx context.Context, args []string) error

// Config configures a REPL.
type Config struct {
	Reader  LineReader
	Output  io.Writer
	History *History
	Exec    Executor
	Prompt  string
}

// REPL represents the Read-Eval-Print Loop.
type REPL struct {
	reader  LineReader
	output  io.Writer
	history *History
	exec    Executor
	prompt  string
}

// New creates a REPL.
func New(cfg Config) *REPL {
	if cfg.Output == nil {
		cfg.Output = io.Discard
	}
	if cfg.History == nil {
		cfg.History = NewHistory("")
	}
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}
	return &REPL{
		reader:  cfg.Reader,
		output:  cfg.Output,
		history: cfg.History,
		exec:    cfg.Exec,
		prompt:  cfg.Prompt,
	}
}

// Run reads and executes lines until exit, EOF or ctx ends. Command errors
// are printed and do not end the loop. The history is saved on return.
func (r *REPL) Run(ctx context.Context) error {
	defer r.reader.Close()
	defer func() {
		if err := r.history.Save(); err != nil {
			fmt.Fprintf(r.output, "warning: save history: %v\n", err)
		}
	}()

	for ctx.Err() == nil {
		line, err := r.reader.Prompt(r.prompt)
		if errors.Is(err, ErrInterrupted) {
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(r.output)
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.history.Add(line)
		r.reader.AppendHistory(line)

		done, err := r.execute(ctx, line)
		if err != nil {
			fmt.Fprintf(r.output, "Error: %v\n", err)
		}
		if done {
			return nil
		}
	}
	return nil
}

func (r *REPL) execute(ctx context.Context, line string) (done bool, err error) {
	args, err := Split(line)
	if err != nil {
		return false, err
	}
	switch args[0] {
	case "exit", "quit":
		return true, nil
	case "history":
		for i, e := range r.history.Entries() {
			fmt.Fprintf(r.output, "%4d  %s\n", i+1, e)
		}
		return false, nil
	}
	if r.exec == nil {
		return false, fmt.Errorf("unknown command %q", args[0])
	}
	return false, r.exec(ctx, args)
}

type scanner struct {
	s   *bufio.Scanner
	out io.Writer
}

// NewScanner returns a LineReader over plain input such as a pipe. The
// prompt is written to out, which may be nil.
func NewScanner(in io.Reader, out io.Writer) LineReader {
	if out == nil {
		out = io.Discard
	}
	return &scanner{s: bufio.NewScanner(in), out: out}
}

func (s *scanner) Prompt(prompt string) (string, error) {
	fmt.Fprint(s.out, prompt)
	if s.s.Scan() {
		return s.s.Text(), nil
	}
	if err := s.s.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (s *scanner) AppendHistory(string) {}

func (s *scanner) Close() error { return nil }
