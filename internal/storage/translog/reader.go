package translog

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// maxFrameSize bounds a single record read back from disk.
const maxFrameSize = 64 << 20

// Reader replays the operations of a log directory in order.
type Reader struct {
	dir         string
	interceptor Interceptor
	origin      Origin
}

// NewReader returns a reader of dir. Replayed operations carry the
// local_translog_recovery origin.
func NewReader(dir string, interceptor Interceptor) *Reader {
	return &Reader{dir: dir, interceptor: interceptor, origin: OriginLocalTranslogRecovery}
}

// WithOrigin returns a reader that replays with a different origin, such
// as local_reset.
func (r *Reader) WithOrigin(o Origin) *Reader {
	c := *r
	c.origin = o
	return &c
}

// Replay calls fn for every logged operation after the interceptor has seen
// it. The first error from the interceptor or fn stops the replay and is
// returned. A damaged record stops the replay with ErrCorrupted.
func (r *Reader) Replay(ctx context.Context, fn func(*Operation) error) (int, error) {
	segs, err := listSegments(r.dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, seg := range segs {
		c, err := r.replaySegment(ctx, seg, fn)
		n += c
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// ReadAll replays into a slice.
func (r *Reader) ReadAll(ctx context.Context) ([]*Operation, error) {
	var out []*Operation
	_, err := r.Replay(ctx, func(op *Operation) error {
		out = append(out, op)
		return nil
	})
	return out, err
}

func (r *Reader) replaySegment(ctx context.Context, seg segmentInfo, fn func(*Operation) error) (int, error) {
	f, err := os.Open(seg.path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return 0, err
	}
	_, dataLen, err := verifyChecksumTrailer(f, stat.Size())
	if err != nil {
		return 0, fmt.Errorf("translog: segment %d: %w", seg.id, err)
	}

	br := bufio.NewReader(io.NewSectionReader(f, MagicBytesSize, dataLen-MagicBytesSize))
	offset := int64(MagicBytesSize)
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		op, size, err := readFrame(br)
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("%w: segment %d offset %d: %v", ErrCorrupted, seg.id, offset, err)
		}
		offset += size

		op.Origin = r.origin
		if r.interceptor != nil {
			if err := r.interceptor.BeforeReplay(ctx, op); err != nil {
				return n, fmt.Errorf("translog: replay seq %d: %w", op.Seq, err)
			}
		}
		if err := fn(op); err != nil {
			return n, err
		}
		n++
	}
}

// readFrame returns io.EOF only at a clean record boundary.
func readFrame(br *bufio.Reader) (*Operation, int64, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, io.EOF
		}
		return nil, 0, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length < 5 || length > maxFrameSize {
		return nil, 0, fmt.Errorf("frame length %d", length)
	}
	frame := make([]byte, length)
	if _, err := io.ReadFull(br, frame); err != nil {
		return nil, 0, fmt.Errorf("short frame: %w", io.ErrUnexpectedEOF)
	}
	op, err := decodeFrame(frame)
	if err != nil {
		return nil, 0, err
	}
	return op, int64(4 + length), nil
}
