package service

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	"github.com/spaolacci/murmur3"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
	"github.com/yndnr/cloudlock-go/internal/storage/translog"
	"github.com/yndnr/cloudlock-go/internal/telemetry/metric"
)

// MaxDocumentIDLength bounds the byte length of a document id.
const MaxDocumentIDLength = 512

// Document write results.
const (
	ResultCreated = "created"
	ResultUpdated = "updated"
	ResultDeleted = "deleted"
)

// ShardProvider hands out allocated shards.
type ShardProvider interface {
	Acquire(ctx context.Context, shard domain.ShardID, encrypted bool) (*Shard, error)
}

// Document is one document of an index.
type Document struct {
	Index  string          `json:"index"`
	ID     string          `json:"id"`
	Shard  int             `json:"shard"`
	Seq    uint64          `json:"seq"`
	Result string          `json:"result,omitempty"`
	Source json.RawMessage `json:"source,omitempty"`
}

// DocumentService writes documents to the translogs of their shards.
type DocumentService struct {
	registry IndexRegistry
	shards   ShardProvider
	metrics  *metric.Registry
	logger   *slog.Logger
}

// NewDocumentService creates a DocumentService.
func NewDocumentService(registry IndexRegistry, shards ShardProvider, m *metric.Registry, logger *slog.Logger) *DocumentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentService{registry: registry, shards: shards, metrics: m, logger: logger}
}

// RouteShard returns the shard of a document id among shards.
func RouteShard(id string, shards int) int {
	if shards <= 1 {
		return 0
	}
	return int(murmur3.Sum32([]byte(id)) % uint32(shards))
}

func validateDocumentID(id string) error {
	if id == "" {
		return domain.ErrInvalidArgument.WithDetails("document id is required")
	}
	if len(id) > MaxDocumentIDLength {
		return domain.ErrInvalidArgument.WithDetails("document id too long")
	}
	return nil
}

func (s *DocumentService) shardOf(ctx context.Context, index, id string) (*domain.Index, *Shard, error) {
	if err := domain.ValidateIndexName(index); err != nil {
		return nil, nil, err
	}
	if err := validateDocumentID(id); err != nil {
		return nil, nil, err
	}
	idx, err := s.registry.Get(ctx, index)
	if err != nil {
		return nil, nil, err
	}
	shard := domain.ShardID{IndexUUID: idx.UUID, Shard: RouteShard(id, idx.Shards)}
	sh, err := s.shards.Acquire(ctx, shard, idx.Encrypted)
	if err != nil {
		return nil, nil, err
	}
	return idx, sh, nil
}

// lookup returns the latest source of id in sh and the sequence number that
// wrote it. found is false when the document was never indexed or was deleted.
func lookup(ctx context.Context, sh *Shard, id string) (source json.RawMessage, seq uint64, found bool, err error) {
	err = sh.Replay(ctx, func(op *translog.Operation) error {
		if op.DocID != id {
			return nil
		}
		switch op.Type {
		case translog.OpIndex:
			source, seq, found = op.Source, op.Seq, true
		case translog.OpDelete:
			source, seq, found = nil, op.Seq, false
		}
		return nil
	})
	return source, seq, found, err
}

// IndexDocument logs source as the new version of document id. Sources of
// encrypted indices are sealed before they reach the log.
func (s *DocumentService) IndexDocument(ctx context.Context, index, id string, source []byte) (*Document, error) {
	source = bytes.TrimSpace(source)
	if !json.Valid(source) || len(source) == 0 || source[0] != '{' {
		return nil, domain.ErrInvalidArgument.WithDetails("document source must be a JSON object")
	}
	idx, sh, err := s.shardOf(ctx, index, id)
	if err != nil {
		return nil, err
	}

	_, _, exists, err := lookup(ctx, sh, id)
	if err != nil {
		return nil, err
	}
	seq, err := sh.Append(ctx, &translog.Operation{
		Type:   translog.OpIndex,
		DocID:  id,
		Source: append(json.RawMessage(nil), source...),
	})
	if err != nil {
		return nil, err
	}
	s.metrics.DocumentOp(translog.OpIndex.String())

	result := ResultCreated
	if exists {
		result = ResultUpdated
	}
	s.logger.Debug("document indexed",
		"index", idx.Name,
		"shard", sh.ID.String(),
		"seq", seq,
		"result", result)
	return &Document{Index: idx.Name, ID: id, Shard: sh.ID.Shard, Seq: seq, Result: result}, nil
}

// GetDocument returns the latest version of document id.
func (s *DocumentService) GetDocument(ctx context.Context, index, id string) (*Document, error) {
	idx, sh, err := s.shardOf(ctx, index, id)
	if err != nil {
		return nil, err
	}
	source, seq, found, err := lookup(ctx, sh, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.ErrDocumentNotFound.WithDetails(id)
	}
	return &Document{Index: idx.Name, ID: id, Shard: sh.ID.Shard, Seq: seq, Source: source}, nil
}

// DeleteDocument logs the deletion of document id.
func (s *DocumentService) DeleteDocument(ctx context.Context, index, id string) (*Document, error) {
	idx, sh, err := s.shardOf(ctx, index, id)
	if err != nil {
		return nil, err
	}
	_, _, found, err := lookup(ctx, sh, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.ErrDocumentNotFound.WithDetails(id)
	}
	seq, err := sh.Append(ctx, &translog.Operation{Type: translog.OpDelete, DocID: id})
	if err != nil {
		return nil, err
	}
	s.metrics.DocumentOp(translog.OpDelete.String())
	s.logger.Debug("document deleted", "index", idx.Name, "shard", sh.ID.String(), "seq", seq)
	return &Document{Index: idx.Name, ID: id, Shard: sh.ID.Shard, Seq: seq, Result: ResultDeleted}, nil
}
