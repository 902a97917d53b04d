package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
)

// IndexRegistry stores index metadata.
type IndexRegistry interface {
	// Create registers a new index. A duplicate name fails with domain.ErrIndexExists.
	Create(ctx context.Context, idx *domain.Index) error

	// Get returns the named index or domain.ErrIndexNotFound.
	Get(ctx context.Context, name string) (*domain.Index, error)

	// List returns all indices ordered by name.
	List(ctx context.Context) ([]*domain.Index, error)

	// Delete removes the named index.
	Delete(ctx context.Context, name string) error
}

// MemoryIndexRegistry is the IndexRegistry of a standalone node. A registry
// opened on a file rewrites it on every change.
type MemoryIndexRegistry struct {
	mu      sync.RWMutex
	indices map[string]*domain.Index
	path    string
}

// NewMemoryIndexRegistry creates an empty registry.
func NewMemoryIndexRegistry() *MemoryIndexRegistry {
	return &MemoryIndexRegistry{indices: make(map[string]*domain.Index)}
}

// OpenFileIndexRegistry loads the registry kept at path. A missing file is
// an empty registry.
func OpenFileIndexRegistry(path string) (*MemoryIndexRegistry, error) {
	r := NewMemoryIndexRegistry()
	r.path = path
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("service: read index registry: %w", err)
	}
	var list []*domain.Index
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("service: decode index registry %s: %w", path, err)
	}
	for _, idx := range list {
		r.indices[idx.Name] = idx
	}
	return r, nil
}

// saveLocked writes the registry through a temporary file, so a crash
// leaves either the old or the new file.
func (r *MemoryIndexRegistry) saveLocked() error {
	if r.path == "" {
		return nil
	}
	list := make([]*domain.Index, 0, len(r.indices))
	for _, idx := range r.indices {
		list = append(list, idx)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o750); err != nil {
		return fmt.Errorf("service: save index registry: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("service: save index registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("service: save index registry: %w", err)
	}
	return nil
}

// Create implements IndexRegistry.
func (r *MemoryIndexRegistry) Create(_ context.Context, idx *domain.Index) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.indices[idx.Name]; ok {
		return domain.ErrIndexExists.WithDetails(idx.Name)
	}
	c := *idx
	r.indices[idx.Name] = &c
	if err := r.saveLocked(); err != nil {
		delete(r.indices, idx.Name)
		return err
	}
	return nil
}

// Get implements IndexRegistry.
func (r *MemoryIndexRegistry) Get(_ context.Context, name string) (*domain.Index, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.indices[name]
	if !ok {
		return nil, domain.ErrIndexNotFound.WithDetails(name)
	}
	c := *idx
	return &c, nil
}

// List implements IndexRegistry.
func (r *MemoryIndexRegistry) List(context.Context) ([]*domain.Index, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Index, 0, len(r.indices))
	for _, idx := range r.indices {
		c := *idx
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Delete implements IndexRegistry.
func (r *MemoryIndexRegistry) Delete(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.indices[name]
	if !ok {
		return domain.ErrIndexNotFound.WithDetails(name)
	}
	delete(r.indices, name)
	if err := r.saveLocked(); err != nil {
		r.indices[name] = idx
		return err
	}
	return nil
}

// EncryptedIndex is one entry of the encryption status query.
type EncryptedIndex struct {
	UUID              string `json:"uuid"`
	Name              string `json:"name"`
	StoreTypeOriginal string `json:"store_type_original"`
}

// ShardOpener allocates the shards of a new index.
type ShardOpener interface {
	OpenShard(ctx context.Context, shard domain.ShardID, encrypted bool) error
}

// IndexService manages indices and answers the encryption status query.
type IndexService struct {
	registry IndexRegistry
	shards   ShardOpener
	logger   *slog.Logger
}

// NewIndexService creates an IndexService. shards may be nil, in which case
// new indices are registered but not allocated.
func NewIndexService(registry IndexRegistry, shards ShardOpener, logger *slog.Logger) *IndexService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IndexService{registry: registry, shards: shards, logger: logger}
}

// CreateIndex registers a new index and allocates its shards. Encrypted
// shards that cannot open because no cluster key is set yet are left to the
// allocator, and the index is still created.
func (s *IndexService) CreateIndex(ctx context.Context, name string, settings domain.IndexSettings) (*domain.Index, error) {
	idx, err := domain.NewIndex(name, settings)
	if err != nil {
		return nil, err
	}
	if err := s.registry.Create(ctx, idx); err != nil {
		return nil, err
	}
	s.logger.Info("index created",
		"index", idx.Name,
		"uuid", idx.UUID,
		"encrypted", idx.Encrypted,
		"store_type", idx.StoreType())

	if s.shards == nil {
		return idx, nil
	}
	for n := range idx.Shards {
		shard := domain.ShardID{IndexUUID: idx.UUID, Shard: n}
		err := s.shards.OpenShard(ctx, shard, idx.Encrypted)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrKeyNotReady):
			s.logger.Warn("shard blocked until the cluster key is set", "shard", shard.String())
		default:
			return idx, err
		}
	}
	return idx, nil
}

// OpenIndices allocates the shards of every registered index. It is called
// once at startup; blocked shards are left to the allocator.
func (s *IndexService) OpenIndices(ctx context.Context) error {
	if s.shards == nil {
		return nil
	}
	all, err := s.registry.List(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, idx := range all {
		for n := range idx.Shards {
			shard := domain.ShardID{IndexUUID: idx.UUID, Shard: n}
			err := s.shards.OpenShard(ctx, shard, idx.Encrypted)
			if err != nil && !errors.Is(err, domain.ErrKeyNotReady) {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// GetIndex returns the named index.
func (s *IndexService) GetIndex(ctx context.Context, name string) (*domain.Index, error) {
	if err := domain.ValidateIndexName(name); err != nil {
		return nil, err
	}
	return s.registry.Get(ctx, name)
}

// ListIndices returns every index ordered by name.
func (s *IndexService) ListIndices(ctx context.Context) ([]*domain.Index, error) {
	return s.registry.List(ctx)
}

// ListEncryptedIndices returns the encrypted indices with their original
// store type.
func (s *IndexService) ListEncryptedIndices(ctx context.Context) ([]EncryptedIndex, error) {
	all, err := s.registry.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]EncryptedIndex, 0, len(all))
	for _, idx := range all {
		if !idx.Encrypted {
			continue
		}
		store := idx.StoreTypeOriginal
		if store == "" {
			store = domain.DefaultStoreType
		}
		out = append(out, EncryptedIndex{UUID: idx.UUID, Name: idx.Name, StoreTypeOriginal: store})
	}
	return out, nil
}
