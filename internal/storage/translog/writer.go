package translog

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var errInvalidMagic = errors.New("translog: invalid magic bytes")

// File format constants.
const (
	FilePrefix      = "translog-"
	FileExtension   = ".tlog"
	MagicBytes      = "CLTLOG\x00\x01"
	MagicBytesSize  = 8
	ChecksumSize    = 32
	DefaultFilePerm = 0o600
	DefaultDirPerm  = 0o750
)

// Default configuration values.
const (
	DefaultBatchCount          = 100
	DefaultBatchBytes    int64 = 1 << 20
	DefaultSyncInterval        = time.Second
	DefaultMaxFileSize   int64 = 64 << 20
	DefaultMaxEntryCount       = 100000
)

// SyncMode defines how the log reaches disk.
type SyncMode string

const (
	SyncModeSync  SyncMode = "sync"
	SyncModeBatch SyncMode = "batch"
)

// Interceptor sees every operation before it is logged and before it is
// replayed. An error aborts the append or the replay.
type Interceptor interface {
	BeforeAppend(ctx context.Context, op *Operation) error
	BeforeReplay(ctx context.Context, op *Operation) error
}

// Config configures a Writer.
type Config struct {
	Dir string

	SyncMode     SyncMode
	SyncInterval time.Duration

	BatchCount int
	BatchBytes int64

	MaxFileSize   int64
	MaxEntryCount int

	Interceptor Interceptor
}

// DefaultConfig returns the default configuration for dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:           dir,
		SyncMode:      SyncModeBatch,
		SyncInterval:  DefaultSyncInterval,
		BatchCount:    DefaultBatchCount,
		BatchBytes:    DefaultBatchBytes,
		MaxFileSize:   DefaultMaxFileSize,
		MaxEntryCount: DefaultMaxEntryCount,
	}
}

func applyDefaults(cfg *Config) {
	d := DefaultConfig(cfg.Dir)
	if cfg.SyncMode == "" {
		cfg.SyncMode = d.SyncMode
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = d.SyncInterval
	}
	if cfg.BatchCount <= 0 {
		cfg.BatchCount = d.BatchCount
	}
	if cfg.BatchBytes <= 0 {
		cfg.BatchBytes = d.BatchBytes
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = d.MaxFileSize
	}
	if cfg.MaxEntryCount <= 0 {
		cfg.MaxEntryCount = d.MaxEntryCount
	}
}

// Writer appends operations to segment files.
type Writer struct {
	cfg Config

	mu sync.Mutex

	segmentID uint64
	file      *os.File
	filePath  string

	fileSize       int64 // bytes written excluding the trailer
	segmentEntries int
	hash           hash.Hash
	buffer         [][]byte
	bufferBytes    int64
	syncTicker     *time.Ticker
	stopCh         chan struct{}
	wg             sync.WaitGroup
	closed         bool
}

// NewWriter opens the log in cfg.Dir, continuing an unfinalized last segment.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("translog: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, DefaultDirPerm); err != nil {
		return nil, fmt.Errorf("translog: create dir: %w", err)
	}
	applyDefaults(&cfg)

	w := &Writer{
		cfg:    cfg,
		hash:   sha256.New(),
		stopCh: make(chan struct{}),
	}

	latestID, latestPath, finalized, err := findLatestSegment(cfg.Dir)
	if err != nil {
		return nil, err
	}
	if latestID == 0 || finalized {
		w.segmentID = latestID + 1
		err = w.openNewSegment()
	} else {
		w.segmentID = latestID
		w.filePath = latestPath
		err = w.openExistingSegment()
	}
	if err != nil {
		return nil, err
	}

	if cfg.SyncMode == SyncModeBatch {
		w.startSyncLoop()
	}
	return w, nil
}

// Append passes op through the interceptor and buffers it. The operation is
// not logged when the interceptor fails.
func (w *Writer) Append(ctx context.Context, op *Operation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.cfg.Interceptor != nil {
		if err := w.cfg.Interceptor.BeforeAppend(ctx, op); err != nil {
			return fmt.Errorf("translog: append seq %d: %w", op.Seq, err)
		}
	}
	frame, err := encodeFrame(op)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	w.buffer = append(w.buffer, frame)
	w.bufferBytes += int64(len(frame))
	if len(w.buffer) >= w.cfg.BatchCount || w.bufferBytes >= w.cfg.BatchBytes {
		return w.flushLocked()
	}
	return nil
}

// Sync writes buffered operations and fsyncs the current segment.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	return w.file.Sync()
}

// Flush writes buffered operations without forcing them to disk.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *Writer) flushLocked() error {
	if w.file == nil {
		return ErrClosed
	}
	if len(w.buffer) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, frame := range w.buffer {
		buf.Write(frame)
	}

	if w.fileSize+int64(buf.Len()) > w.cfg.MaxFileSize || w.segmentEntries+len(w.buffer) > w.cfg.MaxEntryCount {
		if err := w.finalizeSegmentLocked(); err != nil {
			return err
		}
		w.segmentID++
		if err := w.openNewSegment(); err != nil {
			return err
		}
	}

	if _, err := w.writeLocked(buf.Bytes()); err != nil {
		return fmt.Errorf("translog: write batch: %w", err)
	}
	w.segmentEntries += len(w.buffer)
	w.buffer = nil
	w.bufferBytes = 0

	if w.cfg.SyncMode == SyncModeSync {
		return w.file.Sync()
	}
	return nil
}

func (w *Writer) startSyncLoop() {
	w.syncTicker = time.NewTicker(w.cfg.SyncInterval)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-w.syncTicker.C:
				_ = w.Flush()
			case <-w.stopCh:
				return
			}
		}
	}()
}

func (w *Writer) openNewSegment() error {
	path := filepath.Join(w.cfg.Dir, formatSegmentFilename(w.segmentID))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, DefaultFilePerm)
	if err != nil {
		return fmt.Errorf("translog: open segment: %w", err)
	}
	w.file = file
	w.filePath = path
	w.fileSize = 0
	w.segmentEntries = 0
	w.hash = sha256.New()

	if _, err := w.writeLocked([]byte(MagicBytes)); err != nil {
		file.Close()
		return err
	}
	return nil
}

func (w *Writer) openExistingSegment() error {
	file, err := os.OpenFile(w.filePath, os.O_RDWR, DefaultFilePerm)
	if err != nil {
		return fmt.Errorf("translog: open existing segment: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	finalized, dataLen, err := verifyChecksumTrailer(file, stat.Size())
	if err != nil {
		file.Close()
		return err
	}
	if finalized {
		file.Close()
		return fmt.Errorf("translog: latest segment already finalized")
	}

	w.hash = sha256.New()
	if _, err := io.Copy(w.hash, io.NewSectionReader(file, 0, dataLen)); err != nil {
		file.Close()
		return fmt.Errorf("translog: hash existing segment: %w", err)
	}
	if _, err := file.Seek(dataLen, io.SeekStart); err != nil {
		file.Close()
		return err
	}
	w.file = file
	w.fileSize = dataLen
	return nil
}

func (w *Writer) writeLocked(p []byte) (int, error) {
	n, err := w.file.Write(p)
	if n > 0 {
		w.hash.Write(p[:n])
		w.fileSize += int64(n)
	}
	return n, err
}

// finalizeSegmentLocked appends the checksum trailer and closes the segment.
func (w *Writer) finalizeSegmentLocked() error {
	if _, err := w.file.Write(w.hash.Sum(nil)); err != nil {
		return fmt.Errorf("translog: write checksum: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("translog: sync: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("translog: close: %w", err)
	}
	w.file = nil
	return nil
}

// Close flushes pending operations and finalizes the current segment.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.stopCh)
	w.mu.Unlock()

	if w.syncTicker != nil {
		w.syncTicker.Stop()
	}
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	return w.finalizeSegmentLocked()
}

func formatSegmentFilename(id uint64) string {
	return fmt.Sprintf("%s%08d%s", FilePrefix, id, FileExtension)
}

func parseSegmentFilename(name string) (uint64, bool) {
	if !strings.HasPrefix(name, FilePrefix) || !strings.HasSuffix(name, FileExtension) {
		return 0, false
	}
	var id uint64
	_, err := fmt.Sscanf(name, FilePrefix+"%d"+FileExtension, &id)
	return id, err == nil
}

type segmentInfo struct {
	id   uint64
	path string
}

func listSegments(dir string) ([]segmentInfo, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("translog: read dir: %w", err)
	}
	var segs []segmentInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := parseSegmentFilename(e.Name()); ok {
			segs = append(segs, segmentInfo{id: id, path: filepath.Join(dir, e.Name())})
		}
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].id < segs[j].id })
	return segs, nil
}

func findLatestSegment(dir string) (id uint64, path string, finalized bool, err error) {
	segs, err := listSegments(dir)
	if err != nil || len(segs) == 0 {
		return 0, "", false, err
	}
	last := segs[len(segs)-1]
	f, err := os.Open(last.path)
	if err != nil {
		return 0, "", false, fmt.Errorf("translog: open latest: %w", err)
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return 0, "", false, err
	}
	finalized, _, err = verifyChecksumTrailer(f, stat.Size())
	if err != nil {
		return 0, "", false, err
	}
	return last.id, last.path, finalized, nil
}

// verifyChecksumTrailer reports whether the segment ends with a valid
// SHA-256 trailer and how many bytes precede it.
func verifyChecksumTrailer(f *os.File, size int64) (finalized bool, dataLen int64, err error) {
	if size < MagicBytesSize {
		return false, 0, fmt.Errorf("%w: segment shorter than header", ErrCorrupted)
	}
	magic := make([]byte, MagicBytesSize)
	if _, err := f.ReadAt(magic, 0); err != nil {
		return false, 0, fmt.Errorf("translog: read magic: %w", err)
	}
	if string(magic) != MagicBytes {
		return false, 0, errInvalidMagic
	}
	if size < MagicBytesSize+ChecksumSize {
		return false, size, nil
	}

	trailer := make([]byte, ChecksumSize)
	if _, err := f.ReadAt(trailer, size-ChecksumSize); err != nil {
		return false, 0, fmt.Errorf("translog: read trailer: %w", err)
	}
	h := sha256.New()
	dataLen = size - ChecksumSize
	if _, err := io.Copy(h, io.NewSectionReader(f, 0, dataLen)); err != nil {
		return false, 0, err
	}
	if !bytes.Equal(h.Sum(nil), trailer) {
		return false, size, nil
	}
	return true, dataLen, nil
}
