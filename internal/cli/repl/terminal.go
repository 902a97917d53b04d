package repl

import (
	"errors"
	"io"

	"github.com/peterh/liner"
)

// LineReader reads input lines for the REPL.
type LineReader interface {
	// Prompt shows prompt and returns the next line. io.EOF ends the
	// session and ErrInterrupted discards the current line.
	Prompt(prompt string) (string, error)
	AppendHistory(line string)
	Close() error
}

// ErrInterrupted is returned by Prompt when the user pressed Ctrl+C.
var ErrInterrupted = errors.New("interrupted")

type terminal struct {
	state *liner.State
}

// NewTerminal returns a LineReader with line editing, tab completion from c
// and the entries of h as initial history.
func NewTerminal(c *Completer, h *History) LineReader {
	st := liner.NewLiner()
	st.SetCtrlCAborts(true)
	st.SetTabCompletionStyle(liner.TabPrints)
	if c != nil {
		st.SetCompleter(c.Complete)
	}
	if h != nil {
		for _, e := range h.Entries() {
			st.AppendHistory(e)
		}
	}
	return &terminal{state: st}
}

func (t *terminal) Prompt(prompt string) (string, error) {
	line, err := t.state.Prompt(prompt)
	switch {
	case errors.Is(err, liner.ErrPromptAborted):
		return "", ErrInterrupted
	case errors.Is(err, io.EOF):
		return "", io.EOF
	}
	return line, err
}

func (t *terminal) AppendHistory(line string) { t.state.AppendHistory(line) }

func (t *terminal) Close() error { return t.state.Close() }
