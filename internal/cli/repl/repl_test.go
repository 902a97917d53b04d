package repl

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

type recorder struct {
	calls [][]string
	fail  string
}

func (r *recorder) exec(_ context.Context, args []string) error {
	r.calls = append(r.calls, args)
	if args[0] == r.fail {
		return errors.New("command failed")
	}
	return nil
}

func run(t *testing.T, input string, rec *recorder, h *History) string {
	t.Helper()
	var out bytes.Buffer
	r := New(Config{
		Reader:  NewScanner(strings.NewReader(input), &out),
		Output:  &out,
		History: h,
		Exec:    rec.exec,
	})
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return out.String()
}

func TestREPL_Exit(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"exit", "exit\nindices list\n"},
		{"quit", "quit\n"},
		{"EOF", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			out := run(t, tt.input, rec, nil)
			if len(rec.calls) != 0 {
				t.Errorf("commands ran after %s: %v", tt.name, rec.calls)
			}
			if !strings.Contains(out, DefaultPrompt) {
				t.Errorf("output %q has no prompt", out)
			}
		})
	}
}

func TestREPL_Executes(t *testing.T) {
	rec := &recorder{fail: "bad"}
	out := run(t, "\n  indices list \nbad cmd\ndoc put o 1 '{\"a\": 1}'\n'open\n", rec, nil)

	want := [][]string{
		{"indices", "list"},
		{"bad", "cmd"},
		{"doc", "put", "o", "1", `{"a": 1}`},
	}
	if !reflect.DeepEqual(rec.calls, want) {
		t.Errorf("calls = %q, want %q", rec.calls, want)
	}
	if !strings.Contains(out, "Error: command failed") {
		t.Errorf("command error not printed: %q", out)
	}
	if !strings.Contains(out, "Error: unterminated quote") {
		t.Errorf("split error not printed: %q", out)
	}
}

func TestREPL_History(t *testing.T) {
	file := filepath.Join(t.TempDir(), "history")
	h := NewHistory(file)
	out := run(t, "indices list\nsystem health\nhistory\n", &recorder{}, h)
	if !strings.Contains(out, "   1  indices list") || !strings.Contains(out, "   2  system health") {
		t.Errorf("history output = %q", out)
	}

	saved := NewHistory(file)
	if err := saved.Load(); err != nil {
		t.Fatal(err)
	}
	if saved.Len() != 3 || saved.Get(0) != "history" {
		t.Errorf("saved history = %v", saved.Entries())
	}
}

func TestREPL_NoExecutor(t *testing.T) {
	var out bytes.Buffer
	r := New(Config{Reader: NewScanner(strings.NewReader("indices\n"), nil), Output: &out})
	if err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), `unknown command "indices"`) {
		t.Errorf("output = %q", out.String())
	}
}

func TestREPL_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := &recorder{}
	r := New(Config{Reader: NewScanner(strings.NewReader("indices list\n"), nil), Exec: rec.exec})
	if err := r.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if len(rec.calls) != 0 {
		t.Errorf("commands ran after cancel: %v", rec.calls)
	}
}
