package command

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/yndnr/cloudlock-go/internal/infra/buildinfo"
)

func TestSystemHealth(t *testing.T) {
	srv := newMockServer(t)
	srv.reply("GET /health", http.StatusOK, statusResponse{Status: "ok", Time: "2024-01-01T00:00:00Z"})

	res := runCLI(t, srv.URL, "-o", "json", "system", "health")
	if res.err != nil {
		t.Fatalf("err = %v", res.err)
	}
	var got statusResponse
	if err := json.Unmarshal([]byte(res.stdout), &got); err != nil {
		t.Fatalf("stdout %q: %v", res.stdout, err)
	}
	if got.Status != "ok" {
		t.Errorf("status = %q", got.Status)
	}
}

func TestSystemReady(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    statusResponse
		wantErr string
	}{
		{"ready", http.StatusOK, statusResponse{Status: "ok"}, ""},
		{"waiting", http.StatusServiceUnavailable, statusResponse{Status: "waiting_for_key"}, "server is not ready: waiting_for_key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newMockServer(t)
			srv.reply("GET /ready", tt.status, tt.body)

			res := runCLI(t, srv.URL, "sys", "ready")
			if tt.wantErr == "" {
				if res.err != nil {
					t.Fatalf("err = %v", res.err)
				}
			} else if res.err == nil || res.err.Error() != tt.wantErr {
				t.Fatalf("err = %v, want %q", res.err, tt.wantErr)
			}
			if !strings.Contains(res.stdout, tt.body.Status) {
				t.Errorf("stdout = %q", res.stdout)
			}
		})
	}
}

func TestSystemStatus(t *testing.T) {
	srv := newMockServer(t)
	srv.reply("GET /health", http.StatusOK, statusResponse{Status: "ok"})
	srv.reply("GET /ready", http.StatusServiceUnavailable, statusResponse{Status: "waiting_for_key"})
	srv.reply("GET /_cloudlock/api/_key_status", http.StatusOK, keyStatus{
		NodeID:   "n1",
		NodeName: "node-1",
		IsLeader: true,
	})

	res := runCLI(t, srv.URL, "-o", "json", "system", "status")
	if res.err != nil {
		t.Fatalf("err = %v", res.err)
	}
	var got systemSummary
	if err := json.Unmarshal([]byte(res.stdout), &got); err != nil {
		t.Fatalf("stdout %q: %v", res.stdout, err)
	}
	if got.Health != "ok" || got.Ready != "waiting_for_key" || got.NodeName != "node-1" || !got.IsLeader || got.KeySet {
		t.Errorf("summary = %+v", got)
	}
	if got.Server != srv.URL {
		t.Errorf("server = %q, want %q", got.Server, srv.URL)
	}
}

func TestSystemVersion(t *testing.T) {
	res := runCLI(t, "", "-o", "json", "system", "version")
	if res.err != nil {
		t.Fatalf("err = %v", res.err)
	}
	var got buildinfo.Info
	if err := json.Unmarshal([]byte(res.stdout), &got); err != nil {
		t.Fatalf("stdout %q: %v", res.stdout, err)
	}
	if got != buildinfo.Get() {
		t.Errorf("version = %+v, want %+v", got, buildinfo.Get())
	}
}
