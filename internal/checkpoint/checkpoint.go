// Package checkpoint persists frontier snapshots so an interrupted scan can
// resume where it stopped.
package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/JakeFAU/competitor-watch/internal/frontier"
	"github.com/JakeFAU/competitor-watch/internal/store"
)

const prefix = "checkpoints"

// Store saves snapshots as JSON objects keyed by scan id.
type Store struct {
	blobs store.BlobStore
}

// New wraps a blob store.
func New(blobs store.BlobStore) *Store {
	return &Store{blobs: blobs}
}

// Key returns the object path used for scanID.
func Key(scanID string) string {
	return path.Join(prefix, scanID+".json")
}

// Save writes snap for scanID and returns the object URI.
func (s *Store) Save(ctx context.Context, scanID string, snap frontier.Snapshot) (string, error) {
	body, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("marshal checkpoint: %w", err)
	}
	uri, err := s.blobs.PutObject(ctx, Key(scanID), "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("write checkpoint: %w", err)
	}
	return uri, nil
}

// Load reads the snapshot for scanID. The boolean is false when none exists.
func (s *Store) Load(ctx context.Context, scanID string) (frontier.Snapshot, bool, error) {
	body, err := s.blobs.GetObject(ctx, Key(scanID))
	if errors.Is(err, store.ErrNotFound) {
		return frontier.Snapshot{}, false, nil
	}
	if err != nil {
		return frontier.Snapshot{}, false, fmt.Errorf("read checkpoint: %w", err)
	}
	var snap frontier.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return frontier.Snapshot{}, false, fmt.Errorf("decode checkpoint: %w", err)
	}
	return snap, true, nil
}

// Delete removes the snapshot for scanID.
func (s *Store) Delete(ctx context.Context, scanID string) error {
	if err := s.blobs.DeleteObject(ctx, Key(scanID)); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}
