package command

import "encoding/json"

// Response documents of the admin API. Column tags drive the table output.

type indexInfo struct {
	Name              string `json:"name"`
	UUID              string `json:"uuid" table:"wide"`
	Shards            int    `json:"shards"`
	Encrypted         bool   `json:"encrypted"`
	StoreType         string `json:"store_type"`
	StoreTypeOriginal string `json:"store_type_original" table:"wide"`
	CreatedAt         int64  `json:"created_at" table:"millis"`
}

type indexList struct {
	Indices []indexInfo `json:"indices"`
}

type createIndexRequest struct {
	Shards            int    `json:"shards,omitempty"`
	Encrypted         bool   `json:"encrypted"`
	StoreTypeOriginal string `json:"store_type_original,omitempty"`
}

type encryptedIndex struct {
	Name              string `json:"name"`
	UUID              string `json:"uuid"`
	StoreTypeOriginal string `json:"store_type_original"`
}

type encryptedIndexList struct {
	Indices []encryptedIndex `json:"indices"`
}

type keyStatus struct {
	NodeID              string `json:"node_id"`
	NodeName            string `json:"node_name"`
	IsLeader            bool   `json:"is_leader"`
	KeySet              bool   `json:"key_set"`
	KeyID               string `json:"key_id,omitempty"`
	PublicKeyConfigured bool   `json:"public_key_configured"`
}

type initializeKeyRequest struct {
	Key string `json:"key"`
}

type nodeEntry struct {
	NodeName     string `json:"node_name"`
	IsLeader     bool   `json:"is_leader"`
	KeySet       bool   `json:"key_set"`
	KeyPersisted bool   `json:"key_persisted"`
}

type nodeFailure struct {
	NodeID string `json:"node_id"`
	Reason string `json:"reason"`
}

type initializeResponse struct {
	KeyID    string               `json:"key_id"`
	Created  bool                 `json:"created"`
	Rerouted bool                 `json:"rerouted"`
	Nodes    map[string]nodeEntry `json:"nodes"`
	Failures []nodeFailure        `json:"failures"`
	OK       bool                 `json:"ok"`
}

type documentResponse struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Shard  int             `json:"_shard" table:"wide"`
	Seq    uint64          `json:"_seq_no"`
	Result string          `json:"result,omitempty"`
	Found  *bool           `json:"found,omitempty"`
	Source json.RawMessage `json:"_source,omitempty"`
}

type snapshotFile struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Checksum string `json:"sha256"`
}

type snapshotShard struct {
	Shard int            `json:"shard"`
	Seq   uint64         `json:"seq"`
	Files []snapshotFile `json:"files"`
}

type snapshotInfo struct {
	ID        string          `json:"snapshot"`
	Index     string          `json:"index"`
	IndexUUID string          `json:"index_uuid" table:"wide"`
	NodeID    string          `json:"node_id,omitempty" table:"wide"`
	CreatedAt int64           `json:"created_at" table:"millis"`
	SizeBytes int64           `json:"size_in_bytes"`
	Shards    []snapshotShard `json:"shards"`
	Verified  bool            `json:"verified,omitempty" table:"wide"`
}

type snapshotList struct {
	Snapshots []snapshotInfo `json:"snapshots"`
}

type restoreRequest struct {
	Target string `json:"target"`
}

type statusResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}
