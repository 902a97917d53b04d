package handler

import (
	"encoding/json"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
	"github.com/yndnr/cloudlock-go/internal/core/service"
	"github.com/yndnr/cloudlock-go/internal/storage/snapshot"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// InitializeKeyRequest is the request body for POST /_cloudlock/api/_initialize_key.
type InitializeKeyRequest struct {
	// Key is the base64 PKCS#8 DER (or PEM) RSA private key.
	Key string `json:"key"`
}

// EncryptedIndicesResponse is the response body for GET /_cloudlock/api/_encrypted_indices.
type EncryptedIndicesResponse struct {
	Indices []service.EncryptedIndex `json:"indices"`
}

// CreateIndexRequest is the request body for PUT /indices/{name}.
type CreateIndexRequest struct {
	Shards            int    `json:"shards,omitempty"`
	Encrypted         bool   `json:"encrypted"`
	StoreTypeOriginal string `json:"store_type_original,omitempty"`
}

// IndexResponse describes one index.
type IndexResponse struct {
	UUID              string `json:"uuid"`
	Name              string `json:"name"`
	Shards            int    `json:"shards"`
	Encrypted         bool   `json:"encrypted"`
	StoreType         string `json:"store_type"`
	StoreTypeOriginal string `json:"store_type_original"`
	CreatedAt         int64  `json:"created_at"`
}

func newIndexResponse(idx *domain.Index) IndexResponse {
	return IndexResponse{
		UUID:              idx.UUID,
		Name:              idx.Name,
		Shards:            idx.Shards,
		Encrypted:         idx.Encrypted,
		StoreType:         idx.StoreType(),
		StoreTypeOriginal: idx.StoreTypeOriginal,
		CreatedAt:         idx.CreatedAt,
	}
}

// IndexListResponse is the response body for GET /indices.
type IndexListResponse struct {
	Indices []IndexResponse `json:"indices"`
}

// StatusResponse is the body of the health and readiness probes.
type StatusResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// DocumentResponse is the response body of the document endpoints.
type DocumentResponse struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Shard  int             `json:"_shard"`
	Seq    uint64          `json:"_seq_no"`
	Result string          `json:"result,omitempty"`
	Found  *bool           `json:"found,omitempty"`
	Source json.RawMessage `json:"_source,omitempty"`
}

func newDocumentResponse(doc *service.Document) DocumentResponse {
	return DocumentResponse{
		Index:  doc.Index,
		ID:     doc.ID,
		Shard:  doc.Shard,
		Seq:    doc.Seq,
		Result: doc.Result,
		Source: doc.Source,
	}
}

// SnapshotResponse describes one snapshot.
type SnapshotResponse struct {
	ID        string                `json:"snapshot"`
	Index     string                `json:"index"`
	IndexUUID string                `json:"index_uuid"`
	NodeID    string                `json:"node_id,omitempty"`
	CreatedAt int64                 `json:"created_at"`
	SizeBytes int64                 `json:"size_in_bytes"`
	Shards    []snapshot.ShardEntry `json:"shards"`
	Verified  bool                  `json:"verified,omitempty"`
}

func newSnapshotResponse(man *snapshot.Manifest) SnapshotResponse {
	return SnapshotResponse{
		ID:        man.ID,
		Index:     man.Index.Name,
		IndexUUID: man.Index.UUID,
		NodeID:    man.NodeID,
		CreatedAt: man.CreatedAt,
		SizeBytes: man.Size(),
		Shards:    man.Shards,
	}
}

// SnapshotListResponse is the response body for GET /indices/{name}/_snapshot.
type SnapshotListResponse struct {
	Snapshots []SnapshotResponse `json:"snapshots"`
}

// RestoreSnapshotRequest is the request body for
// POST /indices/{name}/_snapshot/{id}/_restore.
type RestoreSnapshotRequest struct {
	// Target is the name of the index to create.
	Target string `json:"target"`
}
