package shutdown

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"testing"
	"time"
)

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// record registers a hook per name that appends the name to order.
func record(h *Handler, order *[]string, names ...string) {
	for _, name := range names {
		h.OnShutdownNamed(name, func(context.Context) error {
			*order = append(*order, name)
			return nil
		})
	}
}

func waitDone(t *testing.T, h *Handler) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done() not closed")
	}
}

func TestHandler_TriggerRunsHooksInReverse(t *testing.T) {
	h := NewHandler(time.Second, quiet())
	var order []string
	record(h, &order, "background tasks", "raft", "key service", "http server")

	h.Trigger("admin http server failed")
	h.Trigger("ignored")
	if err := h.Wait(); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	waitDone(t, h)

	want := "http server,key service,raft,background tasks"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("hook order = %s, want %s", got, want)
	}
}

func TestHandler_HookErrors(t *testing.T) {
	errGossip := errors.New("leave timed out")
	tests := []struct {
		name    string
		hook    string
		err     error
		wantMsg string
	}{
		{"named", "gossip", errGossip, "gossip: leave timed out"},
		{"unnamed", "", errGossip, "leave timed out"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(time.Second, quiet())
			var order []string
			record(h, &order, "first")
			h.OnShutdownNamed(tt.hook, func(context.Context) error { return tt.err })
			record(h, &order, "last")

			h.Trigger("test")
			err := h.Wait()
			if !errors.Is(err, errGossip) || err.Error() != tt.wantMsg {
				t.Errorf("Wait() = %v, want %q", err, tt.wantMsg)
			}
			if len(order) != 2 {
				t.Errorf("a failing hook stopped the others: ran %v", order)
			}
		})
	}
}

func TestHandler_TimeoutReachesHooks(t *testing.T) {
	h := NewHandler(50*time.Millisecond, quiet())
	h.OnShutdown(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	h.Trigger("test")
	if err := h.Wait(); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() = %v, want the deadline error", err)
	}
}

func TestHandler_Signal(t *testing.T) {
	h := NewHandler(time.Second, quiet())
	var order []string
	record(h, &order, "only")

	// Keep SIGTERM from killing the test binary before Wait listens.
	guard := make(chan os.Signal, 8)
	signal.Notify(guard, syscall.SIGTERM)
	defer signal.Stop(guard)

	result := make(chan error, 1)
	go func() { result <- h.Wait() }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
			t.Fatal(err)
		}
		select {
		case err := <-result:
			if err != nil || len(order) != 1 {
				t.Errorf("Wait() = %v, hooks %v", err, order)
			}
			return
		case <-time.After(50 * time.Millisecond):
		}
		if time.Now().After(deadline) {
			t.Fatal("SIGTERM did not end Wait()")
		}
	}
}
