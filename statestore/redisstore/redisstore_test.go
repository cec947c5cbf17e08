package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmdevops/orchestrator/statestore"
)

// setupTestStore starts a miniredis fixture: an in-process Redis server
// wired through the real client, so the backend
// exercises actual pipeline/sorted-set/list semantics rather than a mock.
func setupTestStore(t *testing.T) (*miniredis.Miniredis, *Store) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStoreWithClient(client, "test:")
	return mr, store
}

func TestStore_SaveAndLoadWorkflowState(t *testing.T) {
	mr, store := setupTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	state := &statestore.WorkflowState{StateID: "s1", WorkflowID: "wf1", Status: statestore.StatusRunning}
	require.NoError(t, store.SaveWorkflowState(ctx, state))

	loaded, err := store.LoadWorkflowState(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "wf1", loaded.WorkflowID)
}

func TestStore_LoadWorkflowState_NotFound(t *testing.T) {
	mr, store := setupTestStore(t)
	defer mr.Close()
	_, err := store.LoadWorkflowState(context.Background(), "ghost")
	assert.ErrorIs(t, err, statestore.ErrNotFound)
}

func TestStore_SaveWorkflowState_RejectsStaleUpdatedAt(t *testing.T) {
	mr, store := setupTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	state := &statestore.WorkflowState{StateID: "s1", WorkflowID: "wf1", Status: statestore.StatusRunning}
	require.NoError(t, store.SaveWorkflowState(ctx, state))

	loaded, err := store.LoadWorkflowState(ctx, "s1")
	require.NoError(t, err)

	stale := &statestore.WorkflowState{StateID: "s1", WorkflowID: "wf1", Status: statestore.StatusRunning, UpdatedAt: loaded.UpdatedAt}

	loaded.Status = statestore.StatusCompleted
	require.NoError(t, store.SaveWorkflowState(ctx, loaded))

	err = store.SaveWorkflowState(ctx, stale)
	assert.ErrorIs(t, err, statestore.ErrConflict)
}

func TestStore_LoadWorkflowStateByWorkflowID(t *testing.T) {
	mr, store := setupTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	require.NoError(t, store.SaveWorkflowState(ctx, &statestore.WorkflowState{StateID: "s1", WorkflowID: "wf1", Status: statestore.StatusRunning}))

	loaded, err := store.LoadWorkflowStateByWorkflowID(ctx, "wf1")
	require.NoError(t, err)
	assert.Equal(t, "s1", loaded.StateID)
}

func TestStore_ListActiveWorkflows(t *testing.T) {
	mr, store := setupTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	require.NoError(t, store.SaveWorkflowState(ctx, &statestore.WorkflowState{StateID: "s1", WorkflowID: "wf1", Status: statestore.StatusPending}))
	require.NoError(t, store.SaveWorkflowState(ctx, &statestore.WorkflowState{StateID: "s2", WorkflowID: "wf2", Status: statestore.StatusCompleted}))

	active, err := store.ListActiveWorkflows(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "s1", active[0].StateID)
}

func TestStore_CreateCheckpoint_RetentionTrimsList(t *testing.T) {
	mr, store := setupTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		cp := &statestore.Checkpoint{StateID: "s1", StepID: "step", State: statestore.WorkflowState{StateID: "s1"}}
		require.NoError(t, store.CreateCheckpoint(ctx, cp, 3))
	}

	history, err := store.GetHistory(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestStore_GetLatestCheckpoint_LinksParent(t *testing.T) {
	mr, store := setupTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	first := &statestore.Checkpoint{StateID: "s1", StepID: "a", State: statestore.WorkflowState{StateID: "s1"}}
	require.NoError(t, store.CreateCheckpoint(ctx, first, 10))
	second := &statestore.Checkpoint{StateID: "s1", StepID: "b", State: statestore.WorkflowState{StateID: "s1"}}
	require.NoError(t, store.CreateCheckpoint(ctx, second, 10))

	latest, err := store.GetLatestCheckpoint(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "b", latest.StepID)
	assert.Equal(t, first.CheckpointID, latest.ParentID)
}

func TestStore_RestoreFromCheckpoint(t *testing.T) {
	mr, store := setupTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	state := statestore.WorkflowState{StateID: "s1", WorkflowID: "wf1"}
	state.Context.Outputs = map[string]map[string]any{"step1": {"text": "hello"}}
	cp := &statestore.Checkpoint{StateID: "s1", StepID: "step1", State: state}
	require.NoError(t, store.CreateCheckpoint(ctx, cp, 10))

	restored, err := store.RestoreFromCheckpoint(ctx, cp.CheckpointID)
	require.NoError(t, err)
	assert.Equal(t, "hello", restored.Context.Outputs["step1"]["text"])
}

func TestStore_CleanupOldCheckpoints(t *testing.T) {
	mr, store := setupTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		cp := &statestore.Checkpoint{StateID: "s1", StepID: "step", State: statestore.WorkflowState{StateID: "s1"}}
		require.NoError(t, store.CreateCheckpoint(ctx, cp, 100))
	}

	removed, err := store.CleanupOldCheckpoints(ctx, "s1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
}

func TestStore_DeleteOldStates(t *testing.T) {
	mr, store := setupTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	old := &statestore.WorkflowState{StateID: "s1", WorkflowID: "wf1", Status: statestore.StatusCompleted}
	require.NoError(t, store.SaveWorkflowState(ctx, old))
	active := &statestore.WorkflowState{StateID: "s2", WorkflowID: "wf2", Status: statestore.StatusRunning}
	require.NoError(t, store.SaveWorkflowState(ctx, active))

	count, err := store.DeleteOldStates(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = store.LoadWorkflowState(ctx, "s2")
	assert.NoError(t, err)
	_, err = store.LoadWorkflowState(ctx, "s1")
	assert.ErrorIs(t, err, statestore.ErrNotFound)
}

func TestStore_HealthCheck(t *testing.T) {
	mr, store := setupTestStore(t)
	defer mr.Close()
	require.NoError(t, store.HealthCheck(context.Background()))

	mr.Close()
	assert.Error(t, store.HealthCheck(context.Background()))
}
