package ceff

import (
	"fmt"
	"sync"

	"github.com/yndnr/cloudlock-go/pkg/crypto/adaptive"
)

// Output writes one file of a Directory. Data is buffered per chunk and a
// full chunk is held back until more bytes arrive, so Close can seal the
// final chunk with the last flag set.
type Output struct {
	mu   sync.Mutex
	name string
	file WritableFile
	dir  *Directory
	raw  bool

	chunkLength int
	pending     []byte
	header      []byte
	cipher      adaptive.Cipher
	index       int64
	nonce       []byte
	sealed      []byte
	written     int64
	closed      bool
}

func newOutput(d *Directory, name string, file WritableFile, raw bool) *Output {
	o := &Output{
		name:        name,
		file:        file,
		dir:         d,
		raw:         raw,
		chunkLength: d.chunkLength,
	}
	if !raw {
		o.pending = make([]byte, 0, 2*d.chunkLength)
	}
	return o
}

// Name returns the file name.
func (o *Output) Name() string { return o.name }

// Write encrypts p into the file.
func (o *Output) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return 0, ErrClosed
	}
	if o.raw {
		n, err := o.file.Write(p)
		o.written += int64(n)
		return n, err
	}

	o.pending = append(o.pending, p...)
	for len(o.pending) > o.chunkLength {
		if err := o.sealChunk(o.pending[:o.chunkLength], false); err != nil {
			return 0, err
		}
		o.pending = append(o.pending[:0], o.pending[o.chunkLength:]...)
	}
	o.written += int64(len(p))
	return len(p), nil
}

// Length returns the number of plaintext bytes written so far.
func (o *Output) Length() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.written
}

// Close seals the final chunk and closes the file. Files shorter than the
// header are written unencrypted.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true

	if !o.raw {
		var err error
		if o.header == nil && len(o.pending) < HeaderLength {
			_, err = o.file.Write(o.pending)
		} else {
			err = o.sealChunk(o.pending, true)
		}
		clear(o.pending)
		o.pending = nil
		if err != nil {
			o.file.Close()
			return err
		}
	}

	if err := o.file.Sync(); err != nil {
		o.file.Close()
		return fmt.Errorf("ceff: sync %s: %w", o.name, err)
	}
	if err := o.file.Close(); err != nil {
		return fmt.Errorf("ceff: close %s: %w", o.name, err)
	}
	o.dir.metrics.FileWritten(o.written)
	return nil
}

func (o *Output) sealChunk(chunk []byte, last bool) error {
	if o.header == nil {
		if err := o.writeHeader(); err != nil {
			return err
		}
	}
	o.nonce = chunkNonce(o.nonce, o.index, last)
	var err error
	o.sealed, err = o.cipher.SealAt(o.sealed[:0], o.nonce, chunk, o.header)
	if err != nil {
		return fmt.Errorf("ceff: seal %s chunk %d: %w", o.name, o.index, err)
	}
	if _, err := o.file.Write(o.sealed); err != nil {
		return fmt.Errorf("ceff: write %s: %w", o.name, err)
	}
	o.index++
	return nil
}

func (o *Output) writeHeader() error {
	h, err := newHeader(o.dir.family, o.chunkLength)
	if err != nil {
		return err
	}
	c, err := o.dir.fileCipher(h)
	if err != nil {
		return err
	}
	hdr := h.marshal()
	if _, err := o.file.Write(hdr); err != nil {
		return fmt.Errorf("ceff: write %s header: %w", o.name, err)
	}
	o.header = hdr
	o.cipher = c
	o.nonce = make([]byte, nonceLength)
	o.sealed = make([]byte, 0, o.chunkLength+Overhead)
	return nil
}
