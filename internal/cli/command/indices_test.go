package command

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
)

func TestIndicesList(t *testing.T) {
	srv := newMockServer(t)
	srv.reply("GET /indices", http.StatusOK, indexList{Indices: []indexInfo{
		sampleIndex("logs", false),
		sampleIndex("vault", true),
	}})

	tests := []struct {
		name    string
		args    []string
		want    []string
		notWant []string
	}{
		{"table", nil, []string{"NAME", "logs", "vault", "ENCRYPTED"}, []string{"uuid-logs"}},
		{"wide", []string{"-w"}, []string{"uuid-logs", "STORE_TYPE_ORIGINAL"}, nil},
		{"json", []string{"-o", "json"}, []string{`"indices"`, `"uuid": "uuid-vault"`}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append(append([]string(nil), tt.args...), "indices", "list")
			res := runCLI(t, srv.URL, args...)
			if res.err != nil {
				t.Fatalf("err = %v", res.err)
			}
			for _, w := range tt.want {
				if !strings.Contains(res.stdout, w) {
					t.Errorf("stdout missing %q:\n%s", w, res.stdout)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(res.stdout, w) {
					t.Errorf("stdout has %q:\n%s", w, res.stdout)
				}
			}
		})
	}
}

func TestIndicesCreate(t *testing.T) {
	srv := newMockServer(t)
	srv.handle("PUT /indices/{name}", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusCreated, sampleIndex(r.PathValue("name"), true))
	})

	res := runCLI(t, srv.URL, "-o", "json", "idx", "create", "--encrypted", "--store-type", "niofs", "--shards", "3", "secrets")
	if res.err != nil {
		t.Fatalf("err = %v", res.err)
	}
	req := srv.last(t)
	if req.Method != http.MethodPut || req.Path != "/indices/secrets" {
		t.Errorf("request = %s %s", req.Method, req.Path)
	}
	var body createIndexRequest
	decodeBody(t, req, &body)
	want := createIndexRequest{Shards: 3, Encrypted: true, StoreTypeOriginal: "niofs"}
	if body != want {
		t.Errorf("body = %+v, want %+v", body, want)
	}

	var got indexInfo
	if err := json.Unmarshal([]byte(res.stdout), &got); err != nil {
		t.Fatalf("stdout %q: %v", res.stdout, err)
	}
	if got.Name != "secrets" || !got.Encrypted {
		t.Errorf("printed index = %+v", got)
	}
}

func TestIndicesCreate_Defaults(t *testing.T) {
	srv := newMockServer(t)
	srv.reply("PUT /indices/logs", http.StatusCreated, sampleIndex("logs", false))

	if res := runCLI(t, srv.URL, "indices", "create", "logs"); res.err != nil {
		t.Fatalf("err = %v", res.err)
	}
	if body := string(srv.last(t).Body); strings.TrimSpace(body) != `{"encrypted":false}` {
		t.Errorf("body = %s", body)
	}
}

func TestIndicesGet(t *testing.T) {
	srv := newMockServer(t)
	srv.reply("GET /indices/logs", http.StatusOK, sampleIndex("logs", false))

	res := runCLI(t, srv.URL, "index", "get", "logs")
	if res.err != nil {
		t.Fatalf("err = %v", res.err)
	}
	if !strings.Contains(res.stdout, "FIELD") || !strings.Contains(res.stdout, "logs") {
		t.Errorf("stdout = %q", res.stdout)
	}
}
