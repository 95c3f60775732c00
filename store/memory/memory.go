package memory

import (
	"context"
	"sync"

	"github.com/psworks/scriptflow/store"
)

// MemoryCheckpointStore implements store.CheckpointStore with in-process maps.
// It is volatile and intended for development and tests.
type MemoryCheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*store.Checkpoint // checkpoint id -> checkpoint
	heads       map[string]string            // thread id -> head checkpoint id
	chains      map[string][]string          // thread id -> checkpoint ids in save order
}

// NewMemoryCheckpointStore creates a new in-memory checkpoint store
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		checkpoints: make(map[string]*store.Checkpoint),
		heads:       make(map[string]string),
		chains:      make(map[string][]string),
	}
}

// Save appends a checkpoint under the per-thread compare-and-swap rule.
func (s *MemoryCheckpointStore) Save(ctx context.Context, checkpoint *store.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	head := s.heads[checkpoint.ThreadID]
	if head != checkpoint.ParentID {
		return store.ErrConflict
	}

	cp := *checkpoint
	s.checkpoints[cp.ID] = &cp
	s.heads[cp.ThreadID] = cp.ID
	s.chains[cp.ThreadID] = append(s.chains[cp.ThreadID], cp.ID)

	return nil
}

// Load retrieves a checkpoint by ID
func (s *MemoryCheckpointStore) Load(ctx context.Context, checkpointID string) (*store.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[checkpointID]
	if !ok {
		return nil, store.ErrNotFound
	}

	copied := *cp
	return &copied, nil
}

// Latest returns the thread's head checkpoint
func (s *MemoryCheckpointStore) Latest(ctx context.Context, threadID string) (*store.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	head, ok := s.heads[threadID]
	if !ok || head == "" {
		return nil, store.ErrNotFound
	}

	cp := *s.checkpoints[head]
	return &cp, nil
}

// History returns all checkpoints for a thread in chain order
func (s *MemoryCheckpointStore) History(ctx context.Context, threadID string) ([]*store.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.chains[threadID]
	checkpoints := make([]*store.Checkpoint, 0, len(ids))
	for _, id := range ids {
		if cp, ok := s.checkpoints[id]; ok {
			copied := *cp
			checkpoints = append(checkpoints, &copied)
		}
	}

	return checkpoints, nil
}

// Delete removes a checkpoint. Deleting the head rewinds it to the previous
// checkpoint in the chain.
func (s *MemoryCheckpointStore) Delete(ctx context.Context, checkpointID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.checkpoints[checkpointID]
	if !ok {
		return store.ErrNotFound
	}

	delete(s.checkpoints, checkpointID)

	chain := s.chains[cp.ThreadID]
	for i, id := range chain {
		if id == checkpointID {
			s.chains[cp.ThreadID] = append(chain[:i], chain[i+1:]...)
			break
		}
	}

	if s.heads[cp.ThreadID] == checkpointID {
		remaining := s.chains[cp.ThreadID]
		if len(remaining) == 0 {
			delete(s.heads, cp.ThreadID)
		} else {
			s.heads[cp.ThreadID] = remaining[len(remaining)-1]
		}
	}

	return nil
}

// Clear removes all checkpoints for a thread
func (s *MemoryCheckpointStore) Clear(ctx context.Context, threadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.chains[threadID] {
		delete(s.checkpoints, id)
	}
	delete(s.chains, threadID)
	delete(s.heads, threadID)

	return nil
}
