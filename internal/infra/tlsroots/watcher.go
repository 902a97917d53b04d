package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// DefaultDebounce is how long a burst of file events settles before the
	// pair is reloaded.
	DefaultDebounce = 500 * time.Millisecond
	// DefaultExpiryWarning is how long before expiry a load logs a warning.
	DefaultExpiryWarning = 30 * 24 * time.Hour
)

// Watcher holds a certificate pair and reloads it when either file
// changes. A pair that fails to load leaves the previous one in use.
type Watcher struct {
	certFile string
	keyFile  string
	cert     atomic.Pointer[tls.Certificate]

	logger        *slog.Logger
	debounce      time.Duration
	expiryWarning time.Duration

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets the logger of the watcher.
func WithLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = logger }
}

// WithDebounce sets how long file events settle before a reload.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// NewWatcher loads the pair once. Call Start or StartAsync to follow
// changes.
func NewWatcher(certFile, keyFile string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		certFile:      filepath.Clean(certFile),
		keyFile:       filepath.Clean(keyFile),
		logger:        slog.Default(),
		debounce:      DefaultDebounce,
		expiryWarning: DefaultExpiryWarning,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.reload(); err != nil {
		return nil, fmt.Errorf("tlsroots: %w", err)
	}
	return w, nil
}

// Start watches the directories of both files until Stop is called.
// Directories are watched instead of the files so that editors and secret
// mounts that replace files by rename are followed.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tlsroots: create watcher: %w", err)
	}
	defer fw.Close()

	for _, dir := range []string{filepath.Dir(w.certFile), filepath.Dir(w.keyFile)} {
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("tlsroots: watch %s: %w", dir, err)
		}
	}
	w.logger.Info("certificate watcher started", "cert_file", w.certFile, "key_file", w.keyFile)

	var settle <-chan time.Time
	for {
		select {
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if name := filepath.Clean(ev.Name); name != w.certFile && name != w.keyFile {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			settle = time.After(w.debounce)

		case <-settle:
			settle = nil
			if err := w.reload(); err != nil {
				w.logger.Error("certificate reload failed, keeping the previous certificate",
					"cert_file", w.certFile, "error", err)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("certificate watcher error", "cert_file", w.certFile, "error", err)

		case <-w.done:
			return nil
		}
	}
}

// StartAsync runs Start in a goroutine.
func (w *Watcher) StartAsync() {
	go func() {
		if err := w.Start(); err != nil {
			w.logger.Error("certificate watcher stopped", "error", err)
		}
	}()
}

// Stop ends Start. It may be called more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

// Certificate returns the pair in use.
func (w *Watcher) Certificate() *tls.Certificate { return w.cert.Load() }

// NotAfter returns the expiry of the certificate in use.
func (w *Watcher) NotAfter() time.Time {
	if c := w.cert.Load(); c != nil && c.Leaf != nil {
		return c.Leaf.NotAfter
	}
	return time.Time{}
}

// GetCertificate implements tls.Config.GetCertificate.
func (w *Watcher) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return w.cert.Load(), nil
}

// GetClientCertificate implements tls.Config.GetClientCertificate.
func (w *Watcher) GetClientCertificate(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
	return w.cert.Load(), nil
}

func (w *Watcher) reload() error {
	cert, err := tls.LoadX509KeyPair(w.certFile, w.keyFile)
	if err != nil {
		return fmt.Errorf("load key pair: %w", err)
	}
	if cert.Leaf == nil {
		if cert.Leaf, err = x509.ParseCertificate(cert.Certificate[0]); err != nil {
			return fmt.Errorf("parse certificate: %w", err)
		}
	}
	w.cert.Store(&cert)

	notAfter := cert.Leaf.NotAfter
	w.logger.Info("certificate loaded",
		"cert_file", w.certFile,
		"subject", cert.Leaf.Subject.CommonName,
		"not_after", notAfter)
	if time.Until(notAfter) < w.expiryWarning {
		w.logger.Warn("certificate expires soon", "cert_file", w.certFile, "not_after", notAfter)
	}
	return nil
}
