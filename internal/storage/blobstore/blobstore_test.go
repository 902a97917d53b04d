package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFSStore(filepath.Join(t.TempDir(), "fs"))
	if err != nil {
		t.Fatal(err)
	}
	bs, err := NewBadgerStore(filepath.Join(t.TempDir(), "badger"), DefaultBadgerConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	stores := map[string]Store{
		TypeFS:     fs,
		TypeBadger: bs,
		TypeMemory: NewMemoryStore(),
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func TestContainerOperations(t *testing.T) {
	ctx := context.Background()
	for typ, store := range backends(t) {
		t.Run(typ, func(t *testing.T) {
			c := store.Container("indices/abc/0")
			if c.Path() != "indices/abc/0" {
				t.Errorf("Path() = %q", c.Path())
			}

			data := []byte("snapshot segment contents")
			if err := c.Write(ctx, "__1", bytes.NewReader(data), int64(len(data)), true); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if err := c.Write(ctx, "__1", bytes.NewReader(data), int64(len(data)), true); !errors.Is(err, ErrAlreadyExists) {
				t.Errorf("second Write(failIfExists) error = %v, want ErrAlreadyExists", err)
			}

			ok, err := c.Exists(ctx, "__1")
			if err != nil || !ok {
				t.Errorf("Exists() = %v, %v", ok, err)
			}

			rc, err := c.Read(ctx, "__1")
			if err != nil {
				t.Fatal(err)
			}
			got, _ := io.ReadAll(rc)
			rc.Close()
			if !bytes.Equal(got, data) {
				t.Errorf("Read() = %q", got)
			}

			rc, err = c.ReadRange(ctx, "__1", 9, 7)
			if err != nil {
				t.Fatal(err)
			}
			got, _ = io.ReadAll(rc)
			rc.Close()
			if string(got) != "segment" {
				t.Errorf("ReadRange() = %q, want segment", got)
			}

			replacement := []byte("v2")
			if err := c.Write(ctx, "__1", bytes.NewReader(replacement), 2, false); err != nil {
				t.Fatalf("overwrite error = %v", err)
			}
			c.Write(ctx, "meta-1.dat", strings.NewReader("m"), 1, false)

			list, err := c.List(ctx, "__")
			if err != nil {
				t.Fatal(err)
			}
			if len(list) != 1 || list["__1"] != 2 {
				t.Errorf("List(__) = %v", list)
			}

			if err := c.Delete(ctx, "__1", "missing"); err != nil {
				t.Errorf("Delete() error = %v", err)
			}
			if _, err := c.Read(ctx, "__1"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Read() after delete error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestWriteSizeMismatch(t *testing.T) {
	ctx := context.Background()
	for typ, store := range backends(t) {
		t.Run(typ, func(t *testing.T) {
			c := store.Container("c")
			if err := c.Write(ctx, "short", strings.NewReader("abc"), 5, false); !errors.Is(err, ErrSizeMismatch) {
				t.Errorf("short Write() error = %v, want ErrSizeMismatch", err)
			}
			if err := c.Write(ctx, "long", strings.NewReader("abcdef"), 3, false); !errors.Is(err, ErrSizeMismatch) {
				t.Errorf("long Write() error = %v, want ErrSizeMismatch", err)
			}
			for _, name := range []string{"short", "long"} {
				if ok, _ := c.Exists(ctx, name); ok {
					t.Errorf("%s stored after failed write", name)
				}
			}
		})
	}
}

func TestContainersAreIsolated(t *testing.T) {
	ctx := context.Background()
	for typ, store := range backends(t) {
		t.Run(typ, func(t *testing.T) {
			a, b := store.Container("a"), store.Container("a/b")
			a.Write(ctx, "x", strings.NewReader("1"), 1, false)
			if ok, _ := b.Exists(ctx, "x"); ok {
				t.Error("blob visible in nested container")
			}
			list, _ := a.List(ctx, "")
			if len(list) != 1 {
				t.Errorf("List() = %v", list)
			}
		})
	}
}

func TestInvalidNames(t *testing.T) {
	for _, name := range []string{"", ".", "..", "a/b", `a\b`} {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) succeeded", name)
		}
	}
}

func TestOpen(t *testing.T) {
	tests := []struct {
		cfg     Config
		wantErr bool
	}{
		{Config{Type: TypeMemory}, false},
		{Config{Type: TypeFS, Dir: t.TempDir()}, false},
		{Config{Type: TypeBadger, Badger: BadgerConfig{InMemory: true}}, false},
		{Config{Type: "s3"}, true},
	}
	for _, tt := range tests {
		s, err := Open(tt.cfg, nil)
		if (err != nil) != tt.wantErr {
			t.Errorf("Open(%s) error = %v, wantErr %v", tt.cfg.Type, err, tt.wantErr)
		}
		if s != nil {
			s.Close()
		}
	}
}
