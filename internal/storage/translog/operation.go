// Package translog provides the per-shard operation log and the field-level
// encryption applied to document sources before they are logged.
//
// The log is a sequence of segment files. Each segment starts with a magic
// header, holds length-prefixed CRC32 framed records and, once finalized,
// ends with a SHA-256 trailer over its contents.
package translog

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Errors for translog operations.
var (
	ErrCorrupted        = errors.New("translog: corrupted record")
	ErrChecksumMismatch = errors.New("translog: checksum mismatch")
	ErrInvalidOpType    = errors.New("translog: invalid operation type")
	ErrClosed           = errors.New("translog: closed")
)

// OpType is the kind of a logged operation.
type OpType uint8

const (
	OpUnspecified OpType = iota
	OpIndex
	OpDelete
	OpNoop
)

func (t OpType) String() string {
	switch t {
	case OpIndex:
		return "index"
	case OpDelete:
		return "delete"
	case OpNoop:
		return "noop"
	default:
		return fmt.Sprintf("op(%d)", uint8(t))
	}
}

// Origin says where an operation came from. It is not persisted.
type Origin string

const (
	OriginPrimary               Origin = "primary"
	OriginReplica               Origin = "replica"
	OriginPeerRecovery          Origin = "peer_recovery"
	OriginLocalTranslogRecovery Origin = "local_translog_recovery"
	OriginLocalReset            Origin = "local_reset"
)

// Operation is one logged document change.
type Operation struct {
	Seq    uint64
	Type   OpType
	DocID  string
	Source json.RawMessage
	Origin Origin
}
