package ceff

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	mrand "math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
	"github.com/yndnr/cloudlock-go/internal/crypto/kek"
	"github.com/yndnr/cloudlock-go/internal/telemetry/logger"
)

func testHierarchy(t *testing.T) *kek.Hierarchy {
	t.Helper()
	master := make([]byte, 32)
	if _, err := rand.Read(master); err != nil {
		t.Fatal(err)
	}
	h, err := kek.New(master, []byte("rsa-wrapped-"+t.Name()))
	if err != nil {
		t.Fatalf("kek.New() error = %v", err)
	}
	return h
}

// openTestDir opens an encrypted directory at <tmp>/shard/index.
func openTestDir(t *testing.T, h *kek.Hierarchy, opts ...Option) (*Directory, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "shard", "index")
	store, err := NewFSStore(dir)
	if err != nil {
		t.Fatalf("NewFSStore() error = %v", err)
	}
	d, err := OpenDirectory(context.Background(), store, KeyPath(dir), h, opts...)
	if err != nil {
		t.Fatalf("OpenDirectory() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d, dir
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatal(err)
	}
	return b
}

func writeFile(t *testing.T, d *Directory, name string, data []byte, step int) {
	t.Helper()
	out, err := d.Create(name)
	if err != nil {
		t.Fatalf("Create(%s) error = %v", name, err)
	}
	for len(data) > 0 {
		n := min(step, len(data))
		if _, err := out.Write(data[:n]); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		data = data[n:]
	}
	if err := out.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func readAll(t *testing.T, d *Directory, name string) []byte {
	t.Helper()
	in, err := d.OpenInput(name)
	if err != nil {
		t.Fatalf("OpenInput(%s) error = %v", name, err)
	}
	defer in.Close()
	b, err := io.ReadAll(in)
	if err != nil {
		t.Fatalf("ReadAll(%s) error = %v", name, err)
	}
	return b
}

func TestLengthLaw(t *testing.T) {
	const c = DefaultChunkLength
	tests := []struct {
		p    int64
		want int64
	}{
		{0, 0},
		{1, 1 + Overhead},
		{c - 1, c - 1 + Overhead},
		{c, c + Overhead},
		{c + 1, c + Overhead + 1 + Overhead},
		{10*c + 7, 10*(c+Overhead) + 7 + Overhead},
	}
	for _, tt := range tests {
		if got := CiphertextLength(tt.p, c); got != tt.want {
			t.Errorf("CiphertextLength(%d) = %d, want %d", tt.p, got, tt.want)
		}
		stored := EncryptedFileLength(tt.p, c)
		if stored != HeaderLength+tt.want {
			t.Errorf("EncryptedFileLength(%d) = %d", tt.p, stored)
		}
		back, err := PlaintextLength(stored, c)
		if err != nil || back != tt.p {
			t.Errorf("PlaintextLength(%d) = %d, %v, want %d", stored, back, err, tt.p)
		}
	}

	for _, bad := range []int64{HeaderLength - 1, HeaderLength + 1, HeaderLength + Overhead} {
		if _, err := PlaintextLength(bad, c); !errors.Is(err, ErrInvalidLength) {
			t.Errorf("PlaintextLength(%d) error = %v, want ErrInvalidLength", bad, err)
		}
	}
}

func TestStoredSizeFollowsLaw(t *testing.T) {
	const c = 1024
	d, dir := openTestDir(t, testHierarchy(t), WithChunkLength(c))

	for _, p := range []int{HeaderLength, c - 1, c, c + 1, 10*c + 7} {
		name := "f" + string(rune('a'+p%26))
		data := randomBytes(t, p)
		writeFile(t, d, name, data, 333)

		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			t.Fatal(err)
		}
		if want := EncryptedFileLength(int64(p), c); info.Size() != want {
			t.Errorf("stored size for %d bytes = %d, want %d", p, info.Size(), want)
		}
		if got := readAll(t, d, name); !bytes.Equal(got, data) {
			t.Errorf("round trip of %d bytes mismatch", p)
		}
		d.Remove(name)
	}
}

func TestRoundTripAndRandomAccess(t *testing.T) {
	d, dir := openTestDir(t, testHierarchy(t))
	data := randomBytes(t, 100_000)
	writeFile(t, d, "_0.cfs", data, 4096)

	info, err := os.Stat(filepath.Join(dir, "_0.cfs"))
	if err != nil {
		t.Fatal(err)
	}
	if want := EncryptedFileLength(100_000, DefaultChunkLength); info.Size() != want {
		t.Errorf("stored size = %d, want %d", info.Size(), want)
	}
	raw, _ := os.ReadFile(filepath.Join(dir, "_0.cfs"))
	if bytes.Contains(raw, data[:64]) {
		t.Error("plaintext visible in stored file")
	}

	if got := readAll(t, d, "_0.cfs"); !bytes.Equal(got, data) {
		t.Fatal("full read mismatch")
	}

	in, err := d.OpenInput("_0.cfs")
	if err != nil {
		t.Fatal(err)
	}
	defer in.Close()
	if in.Length() != int64(len(data)) {
		t.Errorf("Length() = %d, want %d", in.Length(), len(data))
	}
	rng := mrand.New(mrand.NewPCG(1, 2))
	for i := 0; i < 200; i++ {
		off := rng.IntN(len(data))
		n := rng.IntN(40_000) + 1
		buf := make([]byte, n)
		got, err := in.ReadAt(buf, int64(off))
		want := min(n, len(data)-off)
		if got != want {
			t.Fatalf("ReadAt(%d, %d) = %d, want %d", off, n, got, want)
		}
		if want < n && !errors.Is(err, io.EOF) {
			t.Fatalf("ReadAt past end error = %v, want EOF", err)
		}
		if !bytes.Equal(buf[:got], data[off:off+got]) {
			t.Fatalf("ReadAt(%d, %d) content mismatch", off, n)
		}
	}

	if _, err := in.Seek(-10, io.SeekEnd); err != nil {
		t.Fatal(err)
	}
	tail, _ := io.ReadAll(in)
	if !bytes.Equal(tail, data[len(data)-10:]) {
		t.Error("Seek(-10, end) read mismatch")
	}
}

func TestTamperedChunkIsIsolated(t *testing.T) {
	const c = 1024
	d, dir := openTestDir(t, testHierarchy(t), WithChunkLength(c))
	data := randomBytes(t, 5*c)
	writeFile(t, d, "doc.fdt", data, c)

	path := filepath.Join(dir, "doc.fdt")
	raw, _ := os.ReadFile(path)
	raw[HeaderLength+2*(c+Overhead)+10] ^= 0xFF
	if err := os.WriteFile(path, raw, 0o640); err != nil {
		t.Fatal(err)
	}

	in, err := d.OpenInput("doc.fdt")
	if err != nil {
		t.Fatal(err)
	}
	defer in.Close()

	buf := make([]byte, 100)
	for _, chunk := range []int{0, 1, 3, 4} {
		if _, err := in.ReadAt(buf, int64(chunk*c)); err != nil {
			t.Errorf("chunk %d: ReadAt() error = %v", chunk, err)
		}
	}
	if _, err := in.ReadAt(buf, int64(2*c+5)); !errors.Is(err, domain.ErrAuthentication) {
		t.Errorf("tampered chunk: ReadAt() error = %v, want ErrAuthentication", err)
	}
}

func TestTruncationAtChunkBoundary(t *testing.T) {
	const c = 1024
	d, dir := openTestDir(t, testHierarchy(t), WithChunkLength(c))
	writeFile(t, d, "seg.dat", randomBytes(t, 4*c), c)

	path := filepath.Join(dir, "seg.dat")
	if err := os.Truncate(path, EncryptedFileLength(3*c, c)); err != nil {
		t.Fatal(err)
	}
	in, err := d.OpenInput("seg.dat")
	if err != nil {
		t.Fatal(err)
	}
	defer in.Close()
	buf := make([]byte, 10)
	if _, err := in.ReadAt(buf, int64(2*c)); !errors.Is(err, domain.ErrAuthentication) {
		t.Errorf("truncated file: ReadAt() error = %v, want ErrAuthentication", err)
	}
}

func TestWrongKeyFails(t *testing.T) {
	d, dir := openTestDir(t, testHierarchy(t))
	writeFile(t, d, "a.bin", randomBytes(t, 3000), 3000)
	d.Close()

	// A foreign hierarchy cannot open the directory key.
	store, _ := NewFSStore(dir)
	if _, err := OpenDirectory(context.Background(), store, KeyPath(dir), testHierarchy(t)); !errors.Is(err, domain.ErrAuthentication) {
		t.Errorf("OpenDirectory() with foreign hierarchy error = %v, want ErrAuthentication", err)
	}
}

func TestReopenWithSameHierarchy(t *testing.T) {
	h := testHierarchy(t)
	d, dir := openTestDir(t, h)
	data := randomBytes(t, 50_000)
	writeFile(t, d, "keep.bin", data, 7000)
	d.Close()

	store, _ := NewFSStore(dir)
	d2, err := OpenDirectory(context.Background(), store, KeyPath(dir), h)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer d2.Close()
	if got := readAll(t, d2, "keep.bin"); !bytes.Equal(got, data) {
		t.Error("content mismatch after reopen")
	}
}

func TestKeyCreationIsLogged(t *testing.T) {
	var buf bytes.Buffer
	l, err := logger.New(logger.Config{Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	prev := logger.Default()
	logger.SetDefault(l)
	t.Cleanup(func() { logger.SetDefault(prev) })

	h := testHierarchy(t)
	dir := filepath.Join(t.TempDir(), "index")
	store, err := NewFSStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := logger.WithRequestID(context.Background(), "req-ceff")
	for i := range 2 {
		d, err := OpenDirectory(ctx, store, KeyPath(dir), h)
		if err != nil {
			t.Fatalf("OpenDirectory() #%d error = %v", i, err)
		}
		d.Close()
	}

	if n := bytes.Count(buf.Bytes(), []byte("created directory key")); n != 1 {
		t.Errorf("key creation logged %d times, want once: %s", n, buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"request_id":"req-ceff"`)) {
		t.Errorf("log lacks the request id: %s", buf.String())
	}
}

func TestPassThroughAndTinyFiles(t *testing.T) {
	d, dir := openTestDir(t, testHierarchy(t))

	manifest := bytes.Repeat([]byte("m"), 500)
	writeFile(t, d, "segments_3", manifest, 100)
	writeFile(t, d, "write.lock", nil, 1)
	writeFile(t, d, "tiny", []byte("short"), 5)

	for name, want := range map[string][]byte{"segments_3": manifest, "tiny": []byte("short")} {
		raw, _ := os.ReadFile(filepath.Join(dir, name))
		if !bytes.Equal(raw, want) {
			t.Errorf("%s stored %q, want plaintext", name, raw)
		}
		if got := readAll(t, d, name); !bytes.Equal(got, want) {
			t.Errorf("%s read mismatch", name)
		}
	}
}

func TestLegacyPlaintext(t *testing.T) {
	tests := []struct {
		name    string
		strict  bool
		wantErr error
	}{
		{"lenient", false, nil},
		{"strict", true, ErrNotEncrypted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, dir := openTestDir(t, testHierarchy(t), WithStrict(tt.strict))
			legacy := bytes.Repeat([]byte("legacy"), 100)
			if err := os.WriteFile(filepath.Join(dir, "old.cfs"), legacy, 0o640); err != nil {
				t.Fatal(err)
			}
			in, err := d.OpenInput("old.cfs")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("OpenInput() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			defer in.Close()
			got, _ := io.ReadAll(in)
			if !bytes.Equal(got, legacy) || in.Encrypted() {
				t.Error("legacy file not read as plaintext")
			}
		})
	}
}

func TestStates(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "idx")
	store, _ := NewFSStore(dir)
	d, err := NewDirectory(store, KeyPath(dir))
	if err != nil {
		t.Fatal(err)
	}
	if d.State() != StateUninitialized {
		t.Errorf("State() = %s", d.State())
	}
	if _, err := d.Create("x"); !errors.Is(err, domain.ErrKeyNotReady) {
		t.Errorf("Create() before key error = %v, want ErrKeyNotReady", err)
	}
	if err := d.ResolveKey(context.Background(), nil); !errors.Is(err, domain.ErrKeyNotReady) {
		t.Errorf("ResolveKey(nil) error = %v, want ErrKeyNotReady", err)
	}
	if err := d.ResolveKey(context.Background(), testHierarchy(t)); err != nil {
		t.Fatal(err)
	}
	if d.State() != StateKeyResolved {
		t.Errorf("State() = %s, want key_resolved", d.State())
	}
	if err := d.Open(); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := d.OpenInput("x"); !errors.Is(err, ErrClosed) {
		t.Errorf("OpenInput() after close error = %v, want ErrClosed", err)
	}
	if _, err := d.List(); !errors.Is(err, ErrClosed) {
		t.Errorf("List() after close error = %v, want ErrClosed", err)
	}
}

func TestInvalidChunkLength(t *testing.T) {
	store, _ := NewFSStore(t.TempDir())
	for _, n := range []int{0, MinChunkLength - 1, MaxChunkLength + 1} {
		if _, err := NewDirectory(store, "k", WithChunkLength(n)); err == nil {
			t.Errorf("NewDirectory(chunk=%d) succeeded", n)
		}
	}
}

func TestRenameKeepsContent(t *testing.T) {
	d, _ := openTestDir(t, testHierarchy(t))
	data := randomBytes(t, 20_000)
	writeFile(t, d, "tmp_1", data, 20_000)
	if err := d.Rename("tmp_1", "final_1"); err != nil {
		t.Fatal(err)
	}
	if got := readAll(t, d, "final_1"); !bytes.Equal(got, data) {
		t.Error("content mismatch after rename")
	}
	if err := d.Rename("final_1", "segments_9"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("Rename() into pass-through error = %v, want ErrInvalidArgument", err)
	}
	names, _ := d.List()
	if len(names) != 1 || names[0] != "final_1" {
		t.Errorf("List() = %v", names)
	}
}
