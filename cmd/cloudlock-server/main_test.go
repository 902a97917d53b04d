package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/cloudlock-go/internal/server/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// runApp runs the server app with action replacing every Action, so flag
// handling can be tested without starting a node.
func runApp(t *testing.T, action cli.ActionFunc, args ...string) error {
	t.Helper()
	app := newApp()
	app.Writer = io.Discard
	app.ErrWriter = io.Discard
	if action != nil {
		app.Action = action
	}
	return app.Run(append([]string{"cloudlock-server"}, args...))
}

func TestFlagOverrides(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want map[string]any
	}{
		{"none", nil, map[string]any{}},
		{
			"strings",
			[]string{"--log-level", "debug", "--http-addr", "0.0.0.0:9200", "--data-dir", "/srv/data"},
			map[string]any{"log.level": "debug", "http.addr": "0.0.0.0:9200", "storage.data_dir": "/srv/data"},
		},
		{
			"cluster",
			[]string{"--cluster", "--node-id", "n2", "--seed", "10.0.0.1:5345", "--seed", "10.0.0.2:5345"},
			map[string]any{
				"cluster.enabled": true,
				"cluster.node_id": "n2",
				"cluster.seeds":   []string{"10.0.0.1:5345", "10.0.0.2:5345"},
			},
		},
		{"bootstrap off", []string{"--bootstrap=false"}, map[string]any{"cluster.bootstrap": false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]any
			err := runApp(t, func(c *cli.Context) error {
				got = flagOverrides(c)
				return nil
			}, tt.args...)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("flagOverrides() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadConfig_Precedence(t *testing.T) {
	dataDir := t.TempDir()
	path := writeFile(t, "server.yaml", `
http:
  addr: 127.0.0.1:7000
log:
  level: warn
  format: text
storage:
  data_dir: `+dataDir+`
`)
	t.Setenv("CLOUDLOCK_HTTP_ADDR", "127.0.0.1:7100")

	var cfg *config.ServerConfig
	err := runApp(t, func(c *cli.Context) error {
		var err error
		cfg, _, err = loadConfig(c)
		return err
	}, "--config", path, "--log-level", "error")
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	if cfg.HTTP.Addr != "127.0.0.1:7100" {
		t.Errorf("http.addr = %q, want the environment value", cfg.HTTP.Addr)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("log.level = %q, want the flag value", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" || cfg.Storage.DataDir != dataDir {
		t.Errorf("file values lost: format %q, data dir %q", cfg.Log.Format, cfg.Storage.DataDir)
	}
	if cfg.Translog.CacheCapacity != config.DefaultCacheCapacity {
		t.Errorf("translog.cache_capacity = %d, want the default", cfg.Translog.CacheCapacity)
	}
}

func TestLoadConfig_EnvFile(t *testing.T) {
	const name = "CLOUDLOCK_LOG_FORMAT"
	if _, set := os.LookupEnv(name); set {
		t.Skipf("%s is set in the test environment", name)
	}
	t.Cleanup(func() { os.Unsetenv(name) })

	envFile := writeFile(t, "test.env", name+"=text\n")
	var cfg *config.ServerConfig
	err := runApp(t, func(c *cli.Context) error {
		var err error
		cfg, _, err = loadConfig(c)
		return err
	}, "--env-file", envFile, "--data-dir", t.TempDir())
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("log.format = %q, want the env file value", cfg.Log.Format)
	}

	err = runApp(t, func(c *cli.Context) error {
		_, _, err := loadConfig(c)
		return err
	}, "--env-file", filepath.Join(t.TempDir(), "missing.env"))
	if err == nil {
		t.Error("loadConfig() with a missing --env-file succeeded")
	}
}

func TestCheckCommand(t *testing.T) {
	dataDir := t.TempDir()
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"valid", "storage:\n  data_dir: " + dataDir + "\n", ""},
		{"bad level", "storage:\n  data_dir: " + dataDir + "\nlog:\n  level: verbose\n", "log.level"},
		{"cluster without secret", "storage:\n  data_dir: " + dataDir + "\ncluster:\n  enabled: true\n", "cluster.secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "server.yaml", tt.yaml)
			var out bytes.Buffer
			app := newApp()
			app.Writer = &out
			app.ErrWriter = io.Discard
			err := app.Run([]string{"cloudlock-server", "--config", path, "check"})
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("check error = %v, want it to mention %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("check error = %v", err)
			}
			if !strings.Contains(out.String(), "is valid") {
				t.Errorf("check output = %q", out.String())
			}
		})
	}
}

// operatorKeys returns a base64 X.509 public key and the matching base64
// PKCS#8 private key.
func operatorKeys(t *testing.T) (pub, priv string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(pubDER), base64.StdEncoding.EncodeToString(privDER)
}

type apiClient struct {
	t    *testing.T
	base string
}

func (c apiClient) do(method, path string, body any) (int, map[string]any) {
	c.t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			c.t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, r)
	if err != nil {
		c.t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestStandaloneNode(t *testing.T) {
	pub, priv := operatorKeys(t)

	cfg := config.Default()
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.HTTP.RateLimit = 0
	cfg.Storage.DataDir = t.TempDir()
	cfg.Crypto.PublicKey = pub
	cfg.Cluster.NodeName = "solo"
	if err := config.Verify(cfg); err != nil {
		t.Fatal(err)
	}

	var failed []string
	n, err := newNode(context.Background(), cfg, discardLogger(), func(reason string) { failed = append(failed, reason) })
	if err != nil {
		t.Fatalf("newNode() error = %v", err)
	}
	t.Cleanup(func() { n.stop(context.Background()) })

	if n.hooks[0].name != "background tasks" || n.hooks[len(n.hooks)-1].name != "http server" {
		t.Errorf("stop hooks out of startup order: first %q, last %q", n.hooks[0].name, n.hooks[len(n.hooks)-1].name)
	}

	api := apiClient{t: t, base: "http://" + n.httpAddr()}

	if code, _ := api.do(http.MethodGet, "/health", nil); code != http.StatusOK {
		t.Errorf("GET /health = %d", code)
	}
	if code, _ := api.do(http.MethodGet, "/ready", nil); code != http.StatusServiceUnavailable {
		t.Errorf("GET /ready before the key = %d, want 503", code)
	}

	code, status := api.do(http.MethodGet, "/_cloudlock/api/_key_status", nil)
	if code != http.StatusOK || status["key_set"] != false || status["is_leader"] != true || status["node_name"] != "solo" {
		t.Errorf("key status = %d %v", code, status)
	}

	if code, body := api.do(http.MethodPost, "/_cloudlock/api/_initialize_key", map[string]string{"key": priv}); code != http.StatusOK {
		t.Fatalf("initialize key = %d %v", code, body)
	}
	if code, _ := api.do(http.MethodGet, "/ready", nil); code != http.StatusOK {
		t.Errorf("GET /ready after the key = %d, want 200", code)
	}
	if _, err := os.Stat(cfg.BootstrapKeyPath()); err != nil {
		t.Errorf("bootstrap key file: %v", err)
	}

	if code, body := api.do(http.MethodPut, "/indices/vault", map[string]any{"encrypted": true, "shards": 2}); code != http.StatusCreated {
		t.Fatalf("create index = %d %v", code, body)
	}
	if code, body := api.do(http.MethodPut, "/indices/vault/_doc/card-1", map[string]string{"pan": "4111111111111111"}); code != http.StatusCreated {
		t.Fatalf("index document = %d %v", code, body)
	}
	code, doc := api.do(http.MethodGet, "/indices/vault/_doc/card-1", nil)
	if code != http.StatusOK || doc["found"] != true {
		t.Fatalf("get document = %d %v", code, doc)
	}

	code, snap := api.do(http.MethodPut, "/indices/vault/_snapshot", nil)
	if code != http.StatusCreated {
		t.Fatalf("create snapshot = %d %v", code, snap)
	}
	snapID, _ := snap["snapshot"].(string)
	if code, body := api.do(http.MethodPost, "/indices/vault/_snapshot/"+snapID+"/_restore", map[string]string{"target": "vault-copy"}); code != http.StatusCreated {
		t.Fatalf("restore snapshot = %d %v", code, body)
	}
	if code, _ := api.do(http.MethodGet, "/indices/vault-copy/_doc/card-1", nil); code != http.StatusOK {
		t.Errorf("get restored document = %d", code)
	}

	if len(failed) != 0 {
		t.Errorf("node reported failures: %v", failed)
	}

	// A restarted standalone node keeps its indices and its node id.
	id := n.id
	n.stop(context.Background())
	restarted, err := newNode(context.Background(), cfg, discardLogger(), nil)
	if err != nil {
		t.Fatalf("restart error = %v", err)
	}
	t.Cleanup(func() { restarted.stop(context.Background()) })
	if restarted.id != id {
		t.Errorf("node id after restart = %s, want %s", restarted.id, id)
	}
	api.base = "http://" + restarted.httpAddr()
	if code, body := api.do(http.MethodGet, "/indices/vault-copy", nil); code != http.StatusOK || body["encrypted"] != true {
		t.Errorf("index after restart = %d %v", code, body)
	}
}
