package translog

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
)

type wireRecord struct {
	Seq    uint64          `json:"seq"`
	DocID  string          `json:"id,omitempty"`
	Source json.RawMessage `json:"source,omitempty"`
}

// encodeFrame lays out [length:4][crc32:4][type:1][json payload].
// length covers everything after itself.
func encodeFrame(op *Operation) ([]byte, error) {
	if op == nil {
		return nil, fmt.Errorf("translog: operation is nil")
	}
	switch op.Type {
	case OpIndex:
		if op.DocID == "" || len(op.Source) == 0 {
			return nil, fmt.Errorf("translog: index operation needs id and source")
		}
	case OpDelete:
		if op.DocID == "" {
			return nil, fmt.Errorf("translog: delete operation needs id")
		}
	case OpNoop:
	default:
		return nil, ErrInvalidOpType
	}

	payload, err := json.Marshal(wireRecord{Seq: op.Seq, DocID: op.DocID, Source: op.Source})
	if err != nil {
		return nil, fmt.Errorf("translog: marshal record: %w", err)
	}

	out := make([]byte, 9, 9+len(payload))
	binary.BigEndian.PutUint32(out[0:4], uint32(5+len(payload)))
	out[8] = byte(op.Type)
	out = append(out, payload...)
	binary.BigEndian.PutUint32(out[4:8], crc32.ChecksumIEEE(out[8:]))
	return out, nil
}

// decodeFrame parses a frame without its length prefix.
func decodeFrame(frame []byte) (*Operation, error) {
	if len(frame) < 5 {
		return nil, ErrCorrupted
	}
	if crc32.ChecksumIEEE(frame[4:]) != binary.BigEndian.Uint32(frame[:4]) {
		return nil, ErrChecksumMismatch
	}
	op := OpType(frame[4])
	switch op {
	case OpIndex, OpDelete, OpNoop:
	default:
		return nil, ErrInvalidOpType
	}
	var rec wireRecord
	if err := json.Unmarshal(frame[5:], &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return &Operation{Seq: rec.Seq, Type: op, DocID: rec.DocID, Source: rec.Source}, nil
}
