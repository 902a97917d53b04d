package tlsroots

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"io"
	"log"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type testCA struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
	pem  []byte
}

func newTestCA(t *testing.T) *testCA {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(100),
		Subject:               pkix.Name{CommonName: "cloudlock test ca"},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	return &testCA{cert: cert, key: key, pem: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})}
}

// issue writes a node certificate valid for both TLS sides on 127.0.0.1.
func (ca *testCA) issue(t *testing.T, dir, name string, serial int64) (certFile, keyFile string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: name},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(12 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.cert, &key.PublicKey, ca.key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	certFile = filepath.Join(dir, name+".crt")
	keyFile = filepath.Join(dir, name+".key")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatal(err)
	}
	return certFile, keyFile
}

func TestLoadCA(t *testing.T) {
	ca := newTestCA(t)
	other := newTestCA(t)

	dir := t.TempDir()
	caFile := filepath.Join(dir, "ca.pem")
	if err := os.WriteFile(caFile, ca.pem, 0o644); err != nil {
		t.Fatal(err)
	}
	bundle := filepath.Join(t.TempDir(), "bundle.crt")
	if err := os.WriteFile(bundle, append(append([]byte{}, ca.pem...), other.pem...), 0o644); err != nil {
		t.Fatal(err)
	}
	keyOnly := filepath.Join(t.TempDir(), "key.pem")
	if err := os.WriteFile(keyOnly, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: []byte{1}}), 0o600); err != nil {
		t.Fatal(err)
	}
	corrupt := filepath.Join(t.TempDir(), "bad.pem")
	if err := os.WriteFile(corrupt, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte("junk")}), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr error
		fails   bool
	}{
		{"file", caFile, nil, false},
		{"directory", dir, nil, false},
		{"bundle", bundle, nil, false},
		{"empty directory", t.TempDir(), ErrNoCertsFound, true},
		{"no certificate blocks", keyOnly, ErrNoCertsFound, true},
		{"corrupt certificate", corrupt, nil, true},
		{"missing", filepath.Join(dir, "missing.pem"), nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := LoadCA(tt.path)
			if tt.fails {
				if err == nil {
					t.Fatal("LoadCA() succeeded")
				}
				if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
					t.Errorf("LoadCA() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadCA() error = %v", err)
			}
			if p.TLSConfig().RootCAs != p.Pool() {
				t.Error("TLSConfig() does not trust the pool")
			}
		})
	}
}

func TestPool_AddPEM(t *testing.T) {
	ca, other := newTestCA(t), newTestCA(t)
	p := &Pool{certs: x509.NewCertPool()}
	n, err := p.AddPEM(append(append([]byte("preamble\n"), ca.pem...), other.pem...))
	if err != nil || n != 2 {
		t.Errorf("AddPEM() = %d, %v, want 2", n, err)
	}
	if SystemPool().Pool() == nil {
		t.Error("SystemPool() has no cert pool")
	}
}

func TestClusterConfigs_MutualTLS(t *testing.T) {
	ca := newTestCA(t)
	dir := t.TempDir()
	caFile := filepath.Join(dir, "ca.pem")
	if err := os.WriteFile(caFile, ca.pem, 0o644); err != nil {
		t.Fatal(err)
	}
	pool, err := LoadCA(caFile)
	if err != nil {
		t.Fatal(err)
	}

	serverCert, serverKey := ca.issue(t, dir, "node-a", 2)
	clientCert, clientKey := ca.issue(t, dir, "node-b", 3)

	sw, err := NewWatcher(serverCert, serverKey)
	if err != nil {
		t.Fatal(err)
	}
	defer sw.Stop()
	cw, err := NewWatcher(clientCert, clientKey)
	if err != nil {
		t.Fatal(err)
	}
	defer cw.Stop()

	serverTLS, _, err := ClusterConfigs(sw, pool)
	if err != nil {
		t.Fatal(err)
	}
	_, clientTLS, err := ClusterConfigs(cw, pool)
	if err != nil {
		t.Fatal(err)
	}

	// The listener serves only the watcher's certificate and demands one from
	// the client in return.
	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverTLS)
	if err != nil {
		t.Fatal(err)
	}
	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, r.TLS.PeerCertificates[0].Subject.CommonName)
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          log.New(io.Discard, "", 0),
	}
	go srv.Serve(ln)
	defer srv.Close()
	url := "https://" + ln.Addr().String()

	client := &http.Client{Transport: &http.Transport{TLSClientConfig: clientTLS}}
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("mutual TLS request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "node-b" {
		t.Errorf("server saw client %q, want node-b", body)
	}

	anonymous := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool.Pool()}}}
	if resp, err := anonymous.Get(url); err == nil {
		resp.Body.Close()
		t.Error("request without a client certificate succeeded")
	}
}

func TestServerConfig_ServesWatcherCertificate(t *testing.T) {
	ca := newTestCA(t)
	dir := t.TempDir()
	certFile, keyFile := ca.issue(t, dir, "admin", 4)

	w, err := NewWatcher(certFile, keyFile)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	cfg := ServerConfig(w)
	cert, err := cfg.GetCertificate(&tls.ClientHelloInfo{})
	if err != nil || cert == nil {
		t.Fatalf("GetCertificate() = %v, %v", cert, err)
	}
	if got := w.NotAfter(); got.IsZero() || got.Before(time.Now()) {
		t.Errorf("NotAfter() = %v", got)
	}

	w.Stop()
	w.Stop()
}
