package snapshot

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
	"github.com/yndnr/cloudlock-go/internal/storage/blobstore"
)

const (
	idPrefix          = "snap-"
	manifestExtension = ".json"
	manifestVersion   = 1

	// DefaultRetentionCount is the number of snapshots Prune keeps per index.
	DefaultRetentionCount = 5

	restoredFilePerm = 0o600
	restoredDirPerm  = 0o750
)

var (
	// ErrNotFound is returned for an unknown snapshot id.
	ErrNotFound = errors.New("snapshot: not found")

	// ErrChecksumMismatch is returned when a stored file differs from its manifest entry.
	ErrChecksumMismatch = errors.New("snapshot: checksum mismatch")
)

// FileEntry describes one copied file.
type FileEntry struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Checksum string `json:"sha256"`
}

// ShardEntry describes the files of one shard.
type ShardEntry struct {
	Shard int         `json:"shard"`
	Seq   uint64      `json:"seq"`
	Files []FileEntry `json:"files"`
}

// Manifest describes a snapshot.
type Manifest struct {
	Version   int           `json:"version"`
	ID        string        `json:"id"`
	Index     *domain.Index `json:"index"`
	NodeID    string        `json:"node_id,omitempty"`
	CreatedAt int64         `json:"created_at"`
	Shards    []ShardEntry  `json:"shards"`
}

// Size returns the total bytes of all files.
func (m *Manifest) Size() int64 {
	var n int64
	for _, s := range m.Shards {
		for _, f := range s.Files {
			n += f.Size
		}
	}
	return n
}

// ShardSource is the local translog directory of one shard.
type ShardSource struct {
	Shard int
	Seq   uint64
	Dir   string
}

// Config configures a Manager.
type Config struct {
	// RetentionCount is the number of snapshots Prune keeps per index.
	RetentionCount int

	NodeID string
	Logger *slog.Logger
}

// Manager creates and restores snapshots in a blob repository.
type Manager struct {
	store  blobstore.Store
	cfg    Config
	logger *slog.Logger
}

// NewManager creates a Manager over store.
func NewManager(store blobstore.Store, cfg Config) (*Manager, error) {
	if store == nil {
		return nil, errors.New("snapshot: blob store is required")
	}
	if cfg.RetentionCount <= 0 {
		cfg.RetentionCount = DefaultRetentionCount
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{store: store, cfg: cfg, logger: cfg.Logger}, nil
}

func shardContainer(indexUUID, id string, shard int) string {
	return path.Join(indexUUID, id, strconv.Itoa(shard))
}

// Create copies every file of the shard sources into a new snapshot of idx.
// A failed copy removes the blobs already written.
func (m *Manager) Create(ctx context.Context, idx *domain.Index, shards []ShardSource) (*Manifest, error) {
	now := time.Now()
	id, err := m.nextID(ctx, idx.UUID, now)
	if err != nil {
		return nil, err
	}
	man := &Manifest{
		Version:   manifestVersion,
		ID:        id,
		Index:     idx,
		NodeID:    m.cfg.NodeID,
		CreatedAt: now.UnixMilli(),
	}

	for _, src := range shards {
		entry, err := m.uploadShard(ctx, idx.UUID, id, src)
		man.Shards = append(man.Shards, entry)
		if err != nil {
			m.deleteBlobs(context.WithoutCancel(ctx), man)
			return nil, fmt.Errorf("snapshot: shard %d: %w", src.Shard, err)
		}
	}

	b, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := m.store.Container(idx.UUID).Write(ctx, id+manifestExtension, bytes.NewReader(b), int64(len(b)), true); err != nil {
		m.deleteBlobs(context.WithoutCancel(ctx), man)
		return nil, fmt.Errorf("snapshot: write manifest: %w", err)
	}

	m.logger.Info("snapshot created",
		"snapshot", id,
		"index", idx.Name,
		"shards", len(man.Shards),
		"bytes", man.Size())
	return man, nil
}

func (m *Manager) uploadShard(ctx context.Context, indexUUID, id string, src ShardSource) (ShardEntry, error) {
	entry := ShardEntry{Shard: src.Shard, Seq: src.Seq}
	dirEntries, err := os.ReadDir(src.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return entry, nil
	}
	if err != nil {
		return entry, err
	}

	c := m.store.Container(shardContainer(indexUUID, id, src.Shard))
	for _, de := range dirEntries {
		if !de.Type().IsRegular() {
			continue
		}
		fe, err := upload(ctx, c, filepath.Join(src.Dir, de.Name()))
		if err != nil {
			return entry, err
		}
		entry.Files = append(entry.Files, fe)
	}
	return entry, nil
}

func upload(ctx context.Context, c blobstore.Container, file string) (FileEntry, error) {
	f, err := os.Open(file)
	if err != nil {
		return FileEntry{}, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return FileEntry{}, err
	}

	name := filepath.Base(file)
	h := sha256.New()
	r := io.TeeReader(io.LimitReader(f, st.Size()), h)
	if err := c.Write(ctx, name, r, st.Size(), true); err != nil {
		return FileEntry{}, fmt.Errorf("upload %s: %w", name, err)
	}
	return FileEntry{Name: name, Size: st.Size(), Checksum: hex.EncodeToString(h.Sum(nil))}, nil
}

// nextID returns snap-<timestamp>-<seq>, where seq follows the highest seq
// already used in the same second.
func (m *Manager) nextID(ctx context.Context, indexUUID string, t time.Time) (string, error) {
	prefix := idPrefix + t.UTC().Format("20060102150405") + "-"
	existing, err := m.store.Container(indexUUID).List(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("snapshot: list: %w", err)
	}
	seq := 0
	for name := range existing {
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, prefix), manifestExtension))
		if err == nil && strings.HasSuffix(name, manifestExtension) && n > seq {
			seq = n
		}
	}
	return fmt.Sprintf("%s%04d", prefix, seq+1), nil
}

// List returns the snapshots of an index, oldest first. Unreadable
// manifests are skipped.
func (m *Manager) List(ctx context.Context, indexUUID string) ([]*Manifest, error) {
	names, err := m.store.Container(indexUUID).List(ctx, idPrefix)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list: %w", err)
	}
	ids := make([]string, 0, len(names))
	for name := range names {
		if strings.HasSuffix(name, manifestExtension) {
			ids = append(ids, strings.TrimSuffix(name, manifestExtension))
		}
	}
	sort.Strings(ids)

	out := make([]*Manifest, 0, len(ids))
	for _, id := range ids {
		man, err := m.Get(ctx, indexUUID, id)
		if err != nil {
			m.logger.Warn("skipping unreadable snapshot manifest", "snapshot", id, "error", err)
			continue
		}
		out = append(out, man)
	}
	return out, nil
}

// Get reads the manifest of snapshot id.
func (m *Manager) Get(ctx context.Context, indexUUID, id string) (*Manifest, error) {
	if !strings.HasPrefix(id, idPrefix) || blobstore.ValidateName(id) != nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	rc, err := m.store.Container(indexUUID).Read(ctx, id+manifestExtension)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var man Manifest
	if err := json.NewDecoder(rc).Decode(&man); err != nil {
		return nil, fmt.Errorf("snapshot: decode manifest %s: %w", id, err)
	}
	if man.Version != manifestVersion || man.Index == nil {
		return nil, fmt.Errorf("snapshot: manifest %s has unsupported version %d", id, man.Version)
	}
	return &man, nil
}

// Verify reads every file of the snapshot back and checks its size and
// checksum.
func (m *Manager) Verify(ctx context.Context, man *Manifest) error {
	var errs []error
	for _, s := range man.Shards {
		c := m.store.Container(shardContainer(man.Index.UUID, man.ID, s.Shard))
		for _, fe := range s.Files {
			if err := readChecked(ctx, c, fe, io.Discard); err != nil {
				errs = append(errs, fmt.Errorf("shard %d: %w", s.Shard, err))
			}
		}
	}
	return errors.Join(errs...)
}

func readChecked(ctx context.Context, c blobstore.Container, fe FileEntry, w io.Writer) error {
	rc, err := c.Read(ctx, fe.Name)
	if err != nil {
		return fmt.Errorf("read %s: %w", fe.Name, err)
	}
	defer rc.Close()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(w, h), rc)
	if err != nil {
		return fmt.Errorf("read %s: %w", fe.Name, err)
	}
	return checkFile(fe, n, h)
}

func checkFile(fe FileEntry, n int64, h hash.Hash) error {
	if n != fe.Size {
		return fmt.Errorf("%w: %s is %d bytes, want %d", ErrChecksumMismatch, fe.Name, n, fe.Size)
	}
	if sum := hex.EncodeToString(h.Sum(nil)); sum != fe.Checksum {
		return fmt.Errorf("%w: %s", ErrChecksumMismatch, fe.Name)
	}
	return nil
}

// Restore writes the files of one shard into dir, which must not hold any
// files yet.
func (m *Manager) Restore(ctx context.Context, man *Manifest, shard int, dir string) error {
	var entry *ShardEntry
	for i := range man.Shards {
		if man.Shards[i].Shard == shard {
			entry = &man.Shards[i]
			break
		}
	}
	if entry == nil {
		return fmt.Errorf("%w: shard %d of %s", ErrNotFound, shard, man.ID)
	}

	if err := os.MkdirAll(dir, restoredDirPerm); err != nil {
		return fmt.Errorf("snapshot: create %s: %w", dir, err)
	}
	if existing, err := os.ReadDir(dir); err != nil {
		return err
	} else if len(existing) > 0 {
		return fmt.Errorf("snapshot: restore target %s is not empty", dir)
	}

	c := m.store.Container(shardContainer(man.Index.UUID, man.ID, shard))
	for _, fe := range entry.Files {
		if err := restoreFile(ctx, c, fe, dir); err != nil {
			return fmt.Errorf("snapshot: restore shard %d: %w", shard, err)
		}
	}
	m.logger.Info("snapshot shard restored", "snapshot", man.ID, "shard", shard, "files", len(entry.Files), "dir", dir)
	return nil
}

func restoreFile(ctx context.Context, c blobstore.Container, fe FileEntry, dir string) error {
	if err := blobstore.ValidateName(fe.Name); err != nil {
		return err
	}
	target := filepath.Join(dir, fe.Name)
	tmp := target + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, restoredFilePerm)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	if err := readChecked(ctx, c, fe, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}

// Delete removes snapshot id and its files.
func (m *Manager) Delete(ctx context.Context, indexUUID, id string) error {
	man, err := m.Get(ctx, indexUUID, id)
	if err != nil {
		return err
	}
	if err := m.deleteBlobs(ctx, man); err != nil {
		return err
	}
	if err := m.store.Container(indexUUID).Delete(ctx, id+manifestExtension); err != nil {
		return fmt.Errorf("snapshot: delete manifest: %w", err)
	}
	m.logger.Info("snapshot deleted", "snapshot", id, "index_uuid", indexUUID)
	return nil
}

func (m *Manager) deleteBlobs(ctx context.Context, man *Manifest) error {
	var errs []error
	for _, s := range man.Shards {
		names := make([]string, 0, len(s.Files))
		for _, fe := range s.Files {
			names = append(names, fe.Name)
		}
		if len(names) == 0 {
			continue
		}
		if err := m.store.Container(shardContainer(man.Index.UUID, man.ID, s.Shard)).Delete(ctx, names...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Prune deletes the oldest snapshots of an index beyond the retention count
// and returns how many were removed.
func (m *Manager) Prune(ctx context.Context, indexUUID string) (int, error) {
	all, err := m.List(ctx, indexUUID)
	if err != nil {
		return 0, err
	}
	excess := len(all) - m.cfg.RetentionCount
	removed := 0
	for i := 0; i < excess; i++ {
		if err := m.Delete(ctx, indexUUID, all[i].ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
