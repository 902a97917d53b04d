package blobcrypt

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/yndnr/cloudlock-go/internal/storage/blobstore"
	"github.com/yndnr/cloudlock-go/internal/telemetry/metric"
)

// RepositoryType is the repository type name of encrypted repositories.
const RepositoryType = "encrypted"

// Repository is an encrypted repository layered over another named
// repository. The delegate is looked up on first use, so it may be
// registered after the encrypted repository.
type Repository struct {
	repos    *blobstore.Registry
	delegate string
	keys     KeySource
	metrics  *metric.Registry

	mu    sync.Mutex
	store *Store
}

var _ blobstore.Store = (*Repository)(nil)

// NewRepository creates an encrypted repository delegating to the
// repository registered as delegate.
func NewRepository(repos *blobstore.Registry, delegate string, keys KeySource, m *metric.Registry) (*Repository, error) {
	if delegate == "" {
		return nil, fmt.Errorf("blobcrypt: no delegate repository set")
	}
	return &Repository{repos: repos, delegate: delegate, keys: keys, metrics: m}, nil
}

// Delegate returns the delegate repository name.
func (r *Repository) Delegate() string { return r.delegate }

func (r *Repository) resolve() (*Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store != nil {
		return r.store, nil
	}
	d, err := r.repos.Get(r.delegate)
	if err != nil {
		return nil, fmt.Errorf("blobcrypt: delegate %q: %w", r.delegate, err)
	}
	if _, nested := d.(*Repository); nested {
		return nil, fmt.Errorf("blobcrypt: delegate %q is itself encrypted", r.delegate)
	}
	r.store = NewStore(d, r.keys, r.metrics)
	return r.store, nil
}

// Container returns an encrypting container of the delegate. If the
// delegate cannot be resolved every operation of the container fails.
func (r *Repository) Container(path string) blobstore.Container {
	s, err := r.resolve()
	if err != nil {
		return failedContainer{path: path, err: err}
	}
	return s.Container(path)
}

// Close does not close the delegate, which the registry owns.
func (r *Repository) Close() error { return nil }

type failedContainer struct {
	path string
	err  error
}

func (f failedContainer) Path() string { return f.path }
func (f failedContainer) Exists(context.Context, string) (bool, error) {
	return false, f.err
}
func (f failedContainer) Read(context.Context, string) (io.ReadCloser, error) {
	return nil, f.err
}
func (f failedContainer) ReadRange(context.Context, string, int64, int64) (io.ReadCloser, error) {
	return nil, f.err
}
func (f failedContainer) Write(context.Context, string, io.Reader, int64, bool) error {
	return f.err
}
func (f failedContainer) Delete(context.Context, ...string) error { return f.err }
func (f failedContainer) List(context.Context, string) (map[string]int64, error) {
	return nil, f.err
}
