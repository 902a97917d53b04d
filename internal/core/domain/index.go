package domain

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Index constraints.
const (
	MaxIndexNameLength = 255

	// DefaultStoreType is the store type an index uses when encryption is off.
	DefaultStoreType = "fs"

	// EncryptedStoreType is the store type reported for encrypted indices.
	EncryptedStoreType = "encrypted"
)

var indexNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.\-]*$`)

// Index is a storage unit whose files and log entries may be encrypted.
type Index struct {
	// UUID is the unique identifier of the index, a lowercase ULID.
	UUID string `json:"uuid"`

	// Name is the display name.
	Name string `json:"name"`

	// Shards is the number of shards, each with its own directory and log.
	Shards int `json:"shards"`

	// Encrypted reports whether files of this index are encrypted at rest.
	Encrypted bool `json:"encrypted"`

	// StoreTypeOriginal is the store type the index would use without encryption.
	StoreTypeOriginal string `json:"store_type_original"`

	// CreatedAt is the creation timestamp (Unix milliseconds).
	CreatedAt int64 `json:"created_at"`
}

// IndexSettings are the user supplied settings of a new index.
type IndexSettings struct {
	Shards            int    `json:"shards"`
	Encrypted         bool   `json:"encrypted"`
	StoreTypeOriginal string `json:"store_type_original"`
}

// NewIndex creates an Index with a generated UUID after validating its settings.
func NewIndex(name string, settings IndexSettings) (*Index, error) {
	if err := ValidateIndexName(name); err != nil {
		return nil, err
	}
	if settings.Shards < 0 {
		return nil, ErrInvalidArgument.WithDetails("shards must not be negative")
	}
	if settings.Shards == 0 {
		settings.Shards = 1
	}
	if settings.StoreTypeOriginal == "" {
		settings.StoreTypeOriginal = DefaultStoreType
	}

	id, err := ulid.New(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0))
	if err != nil {
		return nil, ErrInternal.WithCause(err)
	}

	return &Index{
		UUID:              strings.ToLower(id.String()),
		Name:              name,
		Shards:            settings.Shards,
		Encrypted:         settings.Encrypted,
		StoreTypeOriginal: settings.StoreTypeOriginal,
		CreatedAt:         time.Now().UnixMilli(),
	}, nil
}

// ValidateIndexName checks the naming rules of an index.
func ValidateIndexName(name string) error {
	if name == "" {
		return ErrInvalidArgument.WithDetails("index name is required")
	}
	if len(name) > MaxIndexNameLength {
		return ErrInvalidArgument.WithDetails("index name too long")
	}
	if !indexNamePattern.MatchString(name) {
		return ErrInvalidArgument.WithDetails("index name must be lowercase alphanumeric with _ . -")
	}
	return nil
}

// StoreType returns the store type in effect for the index.
func (i *Index) StoreType() string {
	if i.Encrypted {
		return EncryptedStoreType
	}
	return i.StoreTypeOriginal
}

// ShardID addresses one shard of an index.
type ShardID struct {
	IndexUUID string `json:"index_uuid"`
	Shard     int    `json:"shard"`
}

// String returns the canonical "[uuid][n]" form.
func (s ShardID) String() string {
	return fmt.Sprintf("[%s][%d]", s.IndexUUID, s.Shard)
}
