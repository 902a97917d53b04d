package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/yndnr/cloudlock-go/internal/storage/ceff"
)

// The commit point of an encrypted shard lives in its directory and is
// encrypted with the directory key like any other index file.
const (
	checkpointFile        = "checkpoint.json"
	pendingCheckpointFile = "checkpoint.json.pending"
)

// checkpoint records the last sequence number made durable by a commit.
type checkpoint struct {
	Shard       string    `json:"shard"`
	Seq         uint64    `json:"seq"`
	HierarchyID string    `json:"hierarchy_id"`
	Committed   time.Time `json:"committed"`
}

// writeCheckpoint replaces the commit point of d. The new file is written
// and synced under a pending name first, so a crash leaves the previous
// commit point intact.
func writeCheckpoint(d *ceff.Directory, cp checkpoint) error {
	b, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	if ok, err := d.Exists(pendingCheckpointFile); err != nil {
		return err
	} else if ok {
		if err := d.Remove(pendingCheckpointFile); err != nil {
			return err
		}
	}

	out, err := d.Create(pendingCheckpointFile)
	if err != nil {
		return fmt.Errorf("service: create checkpoint: %w", err)
	}
	if _, err := out.Write(b); err != nil {
		out.Close()
		return errors.Join(fmt.Errorf("service: write checkpoint: %w", err), d.Remove(pendingCheckpointFile))
	}
	if err := out.Close(); err != nil {
		return errors.Join(fmt.Errorf("service: write checkpoint: %w", err), d.Remove(pendingCheckpointFile))
	}
	if err := d.Rename(pendingCheckpointFile, checkpointFile); err != nil {
		return fmt.Errorf("service: commit checkpoint: %w", err)
	}
	return d.Sync([]string{checkpointFile})
}

// readCheckpoint returns the commit point of d, nil when none was written.
// A checkpoint that fails authentication fails the read.
func readCheckpoint(d *ceff.Directory) (*checkpoint, error) {
	ok, err := d.Exists(checkpointFile)
	if err != nil || !ok {
		return nil, err
	}
	in, err := d.OpenInput(checkpointFile)
	if err != nil {
		return nil, fmt.Errorf("service: open checkpoint: %w", err)
	}
	defer in.Close()
	b, err := io.ReadAll(in)
	if err != nil {
		return nil, fmt.Errorf("service: read checkpoint: %w", err)
	}
	var cp checkpoint
	if err := json.Unmarshal(b, &cp); err != nil {
		return nil, fmt.Errorf("service: decode checkpoint: %w", err)
	}
	return &cp, nil
}
