package translog

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
	"github.com/yndnr/cloudlock-go/internal/telemetry/metric"
)

// EncryptedField is the only field of an encrypted source document.
const EncryptedField = "_encrypted_tl_content"

const sourceField = "_source"

// ErrNotEncryptedSource is returned when a replayed index operation does not
// carry an encrypted source.
var ErrNotEncryptedSource = errors.New("translog: source is not encrypted")

// FieldEncryptor encrypts document sources of one shard before they reach
// the log and decrypts them when the log is replayed. The document id is
// bound as associated data, so a source cannot be moved to another document.
type FieldEncryptor struct {
	cache   *KeyCache
	shard   domain.ShardID
	dir     string
	metrics *metric.Registry
}

var _ Interceptor = (*FieldEncryptor)(nil)

// NewFieldEncryptor returns the interceptor of the shard logging to dir.
func NewFieldEncryptor(cache *KeyCache, shard domain.ShardID, dir string, m *metric.Registry) *FieldEncryptor {
	return &FieldEncryptor{cache: cache, shard: shard, dir: dir, metrics: m}
}

func associatedData(docID string) []byte {
	return []byte(sourceField + docID)
}

// BeforeAppend encrypts the source of index operations arriving from a
// primary, a replica or peer recovery.
func (e *FieldEncryptor) BeforeAppend(ctx context.Context, op *Operation) error {
	if op.Type != OpIndex {
		return nil
	}
	switch op.Origin {
	case OriginPrimary, OriginReplica, OriginPeerRecovery:
	default:
		return fmt.Errorf("translog: cannot append operation with origin %q", op.Origin)
	}
	if op.DocID == "" {
		return domain.ErrInvalidArgument.WithDetails("document id is required")
	}

	c, err := e.cache.Get(ctx, e.shard, e.dir)
	if err != nil {
		return err
	}
	sealed, err := c.Encrypt(op.Source, associatedData(op.DocID))
	if err != nil {
		return fmt.Errorf("translog: encrypt source of %s: %w", op.DocID, err)
	}
	wrapped, err := json.Marshal(map[string]string{EncryptedField: base64.StdEncoding.EncodeToString(sealed)})
	if err != nil {
		return err
	}
	op.Source = wrapped
	e.metrics.TranslogField("encrypt")
	return nil
}

// BeforeReplay decrypts the source of index operations replayed from the
// local log.
func (e *FieldEncryptor) BeforeReplay(ctx context.Context, op *Operation) error {
	if op.Type != OpIndex {
		return nil
	}
	switch op.Origin {
	case OriginLocalTranslogRecovery, OriginLocalReset:
	default:
		return fmt.Errorf("translog: cannot replay operation with origin %q", op.Origin)
	}
	if op.DocID == "" {
		return domain.ErrInvalidArgument.WithDetails("document id is required")
	}

	sealed, err := unwrapSource(op.Source)
	if err != nil {
		return fmt.Errorf("translog: seq %d: %w", op.Seq, err)
	}
	c, err := e.cache.Get(ctx, e.shard, e.dir)
	if err != nil {
		return err
	}
	plain, err := c.Decrypt(sealed, associatedData(op.DocID))
	if err != nil {
		e.metrics.AuthFailure(metric.ComponentTranslog)
		return domain.ErrAuthentication.
			WithDetails(fmt.Sprintf("translog source of %s in %s", op.DocID, e.shard)).
			WithCause(err)
	}
	op.Source = plain
	e.metrics.TranslogField("decrypt")
	return nil
}

func unwrapSource(src json.RawMessage) ([]byte, error) {
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(src, &wrapper); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotEncryptedSource, err)
	}
	raw, ok := wrapper[EncryptedField]
	if !ok || len(wrapper) != 1 {
		return nil, ErrNotEncryptedSource
	}
	var b64 string
	if err := json.Unmarshal(raw, &b64); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotEncryptedSource, err)
	}
	sealed, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotEncryptedSource, err)
	}
	return sealed, nil
}

// IsEncryptedSource reports whether src is an encrypted source wrapper.
func IsEncryptedSource(src []byte) bool {
	if !bytes.Contains(src, []byte(EncryptedField)) {
		return false
	}
	_, err := unwrapSource(src)
	return err == nil
}
