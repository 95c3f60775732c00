package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a checkpoint or thread does not exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrConflict is returned when a Save loses the per-thread compare-and-swap,
	// i.e. the thread head moved since the caller loaded it.
	ErrConflict = errors.New("checkpoint conflict: thread head has moved")
)

// Checkpoint is a persisted snapshot of workflow state at a stage boundary.
// Checkpoints for one thread form a chain through ParentID, so the full
// history of a workflow can be replayed or audited.
type Checkpoint struct {
	ThreadID  string          `json:"thread_id"`
	ID        string          `json:"id"`
	ParentID  string          `json:"parent_id,omitempty"`
	State     json.RawMessage `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
}

// CheckpointStore defines the interface for checkpoint persistence.
//
// Save enforces at-most-one in-flight mutation per thread: the checkpoint's
// ParentID must equal the thread's current head (empty for a new thread) or
// Save fails with ErrConflict. The check is per-key; mutations on distinct
// threads never contend with each other.
type CheckpointStore interface {
	// Save appends a checkpoint and advances the thread head, subject to the
	// per-thread compare-and-swap on ParentID.
	Save(ctx context.Context, checkpoint *Checkpoint) error

	// Load retrieves a checkpoint by ID
	Load(ctx context.Context, checkpointID string) (*Checkpoint, error)

	// Latest returns the thread's head checkpoint, or ErrNotFound
	Latest(ctx context.Context, threadID string) (*Checkpoint, error)

	// History returns all checkpoints for a thread in chain order
	History(ctx context.Context, threadID string) ([]*Checkpoint, error)

	// Delete removes a checkpoint
	Delete(ctx context.Context, checkpointID string) error

	// Clear removes all checkpoints for a thread
	Clear(ctx context.Context, threadID string) error
}
