package command

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/urfave/cli/v2"
)

// recordedRequest is a request seen by a mockServer.
type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   []byte
}

// mockServer is an admin API stub that records every request.
type mockServer struct {
	*httptest.Server
	mux *http.ServeMux

	mu       sync.Mutex
	requests []recordedRequest
}

func newMockServer(t *testing.T) *mockServer {
	t.Helper()
	m := &mockServer{mux: http.NewServeMux()}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(body))
		m.mu.Lock()
		m.requests = append(m.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.EscapedPath(),
			Query:  r.URL.RawQuery,
			Body:   body,
		})
		m.mu.Unlock()
		m.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(m.Close)
	return m
}

// handle registers a handler for a ServeMux pattern such as "GET /health".
func (m *mockServer) handle(pattern string, h http.HandlerFunc) {
	m.mux.HandleFunc(pattern, h)
}

// reply registers a handler answering with a fixed JSON document.
func (m *mockServer) reply(pattern string, status int, data any) {
	m.handle(pattern, func(w http.ResponseWriter, _ *http.Request) {
		jsonResponse(w, status, data)
	})
}

func (m *mockServer) received() []recordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]recordedRequest(nil), m.requests...)
}

func (m *mockServer) last(t *testing.T) recordedRequest {
	t.Helper()
	reqs := m.received()
	if len(reqs) == 0 {
		t.Fatal("no request received")
	}
	return reqs[len(reqs)-1]
}

// jsonResponse writes a JSON response.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// errorResponse writes an admin API error document.
func errorResponse(w http.ResponseWriter, status int, code, message string) {
	jsonResponse(w, status, map[string]string{
		"code":       code,
		"message":    message,
		"request_id": "req-1",
	})
}

// cliRun describes one CLI invocation.
type cliRun struct {
	server string // --server, omitted when empty
	config string // --config, a fresh path when empty
	stdin  string
}

type cliResult struct {
	stdout string
	stderr string
	err    error
}

// run executes the CLI in-process.
func (r cliRun) run(t *testing.T, args ...string) cliResult {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := App()
	app.Reader = strings.NewReader(r.stdin)
	app.Writer = &stdout
	app.ErrWriter = &stderr
	app.ExitErrHandler = func(*cli.Context, error) {}

	cfg := r.config
	if cfg == "" {
		cfg = filepath.Join(t.TempDir(), "cli.yaml")
	}
	argv := []string{AppName, "--config", cfg}
	if r.server != "" {
		argv = append(argv, "--server", r.server)
	}
	err := app.Run(append(argv, args...))
	return cliResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

// runCLI runs the CLI against server with a fresh configuration.
func runCLI(t *testing.T, server string, args ...string) cliResult {
	t.Helper()
	return cliRun{server: server}.run(t, args...)
}

// writeConfig writes a CLI configuration file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cli.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// decodeBody unmarshals a recorded request body.
func decodeBody(t *testing.T, req recordedRequest, v any) {
	t.Helper()
	if err := json.Unmarshal(req.Body, v); err != nil {
		t.Fatalf("request body %q: %v", req.Body, err)
	}
}

func sampleIndex(name string, encrypted bool) indexInfo {
	return indexInfo{
		Name:              name,
		UUID:              "uuid-" + name,
		Shards:            1,
		Encrypted:         encrypted,
		StoreType:         "fs",
		StoreTypeOriginal: "fs",
		CreatedAt:         1700000000000,
	}
}

func sampleSnapshot(index, id string) snapshotInfo {
	return snapshotInfo{
		ID:        id,
		Index:     index,
		IndexUUID: "uuid-" + index,
		NodeID:    "n1",
		CreatedAt: 1700000000000,
		SizeBytes: 2048,
		Shards: []snapshotShard{{
			Shard: 0,
			Seq:   12,
			Files: []snapshotFile{{Name: "translog-00000001.tlog", Size: 2048, Checksum: "abc123"}},
		}},
	}
}
