package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoCertsFound is returned when a CA file or directory holds no
// certificate.
var ErrNoCertsFound = errors.New("tlsroots: no certificates found")

// Pool is a set of trusted CA certificates.
type Pool struct {
	certs *x509.CertPool
}

// SystemPool returns the system roots, or an empty pool when they cannot be
// loaded.
func SystemPool() *Pool {
	certs, err := x509.SystemCertPool()
	if err != nil {
		certs = x509.NewCertPool()
	}
	return &Pool{certs: certs}
}

// LoadCA returns a pool holding only the certificates at path, which is a
// PEM file or a directory of .pem, .crt and .cer files.
func LoadCA(path string) (*Pool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("tlsroots: %w", err)
	}
	files := []string{path}
	if info.IsDir() {
		if files, err = caFiles(path); err != nil {
			return nil, err
		}
	}

	p := &Pool{certs: x509.NewCertPool()}
	n := 0
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("tlsroots: %w", err)
		}
		added, err := p.AddPEM(data)
		if err != nil {
			return nil, fmt.Errorf("tlsroots: %s: %w", f, err)
		}
		n += added
	}
	if n == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoCertsFound, path)
	}
	return p, nil
}

func caFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("tlsroots: %w", err)
	}
	var files []string
	for _, e := range entries {
		switch filepath.Ext(e.Name()) {
		case ".pem", ".crt", ".cer":
			if !e.IsDir() {
				files = append(files, filepath.Join(dir, e.Name()))
			}
		}
	}
	return files, nil
}

// AddPEM adds every CERTIFICATE block of data and returns how many it
// added. Other block types are skipped.
func (p *Pool) AddPEM(data []byte) (int, error) {
	n := 0
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return n, nil
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return n, fmt.Errorf("parse certificate: %w", err)
		}
		p.certs.AddCert(cert)
		n++
	}
}

// Pool returns the underlying x509.CertPool.
func (p *Pool) Pool() *x509.CertPool { return p.certs }

// TLSConfig returns a client config that trusts the pool.
func (p *Pool) TLSConfig() *tls.Config {
	return &tls.Config{RootCAs: p.certs, MinVersion: tls.VersionTLS12}
}

// ServerConfig serves the certificate of w, picking up reloads.
func ServerConfig(w *Watcher) *tls.Config {
	return &tls.Config{GetCertificate: w.GetCertificate, MinVersion: tls.VersionTLS12}
}

// ClusterConfigs returns the server and client configs of node to node
// mutual TLS. Both sides present the certificate of w and verify the peer
// against ca. A nil ca trusts the system roots.
func ClusterConfigs(w *Watcher, ca *Pool) (server, client *tls.Config, err error) {
	if ca == nil {
		ca = SystemPool()
	}
	server = &tls.Config{
		GetCertificate: w.GetCertificate,
		ClientCAs:      ca.Pool(),
		ClientAuth:     tls.RequireAndVerifyClientCert,
		MinVersion:     tls.VersionTLS12,
	}
	client = &tls.Config{
		GetClientCertificate: w.GetClientCertificate,
		RootCAs:              ca.Pool(),
		MinVersion:           tls.VersionTLS12,
	}
	return server, client, nil
}
