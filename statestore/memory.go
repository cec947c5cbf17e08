package statestore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store implementation. Data is lost on
// restart; suitable for development, tests, and the "memory" state_store
// backend when durability across process restarts is not required.
//
// Adapted from agent/persistence/memory_task_store.go: the same
// RWMutex-guarded map plus a copy-on-read discipline (a shallow copy of each
// state or checkpoint struct; the maps inside a snapshot are shared), generalized from
// one flat task map to a workflow-state map plus a per-state checkpoint
// list.
type MemoryStore struct {
	mu          sync.RWMutex
	states      map[string]*WorkflowState   // stateID -> state
	byWorkflow  map[string]string           // workflowID -> stateID (most recent)
	checkpoints map[string][]*Checkpoint    // stateID -> checkpoints, oldest first
	closed      bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:      make(map[string]*WorkflowState),
		byWorkflow:  make(map[string]string),
		checkpoints: make(map[string][]*Checkpoint),
	}
}

func cloneState(s *WorkflowState) *WorkflowState {
	cp := *s
	return &cp
}

func cloneCheckpoint(c *Checkpoint) *Checkpoint {
	cp := *c
	return &cp
}

func (s *MemoryStore) SaveWorkflowState(ctx context.Context, state *WorkflowState) error {
	if state == nil || state.StateID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	existing, ok := s.states[state.StateID]
	now := time.Now()
	if !ok {
		if state.CreatedAt.IsZero() {
			state.CreatedAt = now
		}
	} else if !existing.UpdatedAt.Equal(state.UpdatedAt) {
		return ErrConflict
	}

	state.UpdatedAt = now
	s.states[state.StateID] = cloneState(state)
	s.byWorkflow[state.WorkflowID] = state.StateID
	return nil
}

func (s *MemoryStore) LoadWorkflowState(ctx context.Context, stateID string) (*WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	st, ok := s.states[stateID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneState(st), nil
}

func (s *MemoryStore) LoadWorkflowStateByWorkflowID(ctx context.Context, workflowID string) (*WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	stateID, ok := s.byWorkflow[workflowID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneState(s.states[stateID]), nil
}

func (s *MemoryStore) ListActiveWorkflows(ctx context.Context) ([]*WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	out := make([]*WorkflowState, 0)
	for _, st := range s.states {
		if st.Status.IsActive() {
			out = append(out, cloneState(st))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStore) CreateCheckpoint(ctx context.Context, cp *Checkpoint, retention int) error {
	if cp == nil || cp.StateID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if cp.CheckpointID == "" {
		cp.CheckpointID = uuid.New().String()
	}
	if cp.Timestamp.IsZero() {
		cp.Timestamp = time.Now()
	}
	list := s.checkpoints[cp.StateID]
	if len(list) > 0 {
		cp.ParentID = list[len(list)-1].CheckpointID
	}
	list = append(list, cloneCheckpoint(cp))

	if retention > 0 && len(list) > retention {
		list = list[len(list)-retention:]
	}
	s.checkpoints[cp.StateID] = list
	return nil
}

func (s *MemoryStore) GetLatestCheckpoint(ctx context.Context, stateID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	list := s.checkpoints[stateID]
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return cloneCheckpoint(list[len(list)-1]), nil
}

func (s *MemoryStore) RestoreFromCheckpoint(ctx context.Context, checkpointID string) (*WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	for _, list := range s.checkpoints {
		for _, cp := range list {
			if cp.CheckpointID == checkpointID {
				st := cp.State
				return &st, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) DeleteOldStates(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	count := 0
	for id, st := range s.states {
		if st.Status.IsActive() {
			continue
		}
		if st.UpdatedAt.Before(olderThan) {
			delete(s.states, id)
			delete(s.checkpoints, id)
			if s.byWorkflow[st.WorkflowID] == id {
				delete(s.byWorkflow, st.WorkflowID)
			}
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) CleanupOldCheckpoints(ctx context.Context, stateID string, keepCount int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	list := s.checkpoints[stateID]
	if keepCount < 0 || len(list) <= keepCount {
		return 0, nil
	}
	removed := len(list) - keepCount
	s.checkpoints[stateID] = list[removed:]
	return removed, nil
}

func (s *MemoryStore) GetHistory(ctx context.Context, stateID string) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	list := s.checkpoints[stateID]
	out := make([]*Checkpoint, len(list))
	for i, cp := range list {
		out[len(list)-1-i] = cloneCheckpoint(cp)
	}
	return out, nil
}

func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Store = (*MemoryStore)(nil)
