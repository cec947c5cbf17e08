package relational

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/llmdevops/orchestrator/internal/database"
	"github.com/llmdevops/orchestrator/statestore"
)

// setupMockStore mirrors internal/database/pool_test.go's setupTestDB: a
// sqlmock-backed *gorm.DB wired through the postgres dialector so GORM's
// query builder behaves as it would against a real connection.
func setupMockStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{})
	require.NoError(t, err)

	pool, err := database.NewPoolManager(gormDB, database.PoolConfig{}, zap.NewNop())
	require.NoError(t, err)

	store := &Store{pool: pool, db: gormDB, logger: zap.NewNop()}
	return store, mock, func() { mockDB.Close() }
}

func TestStore_HealthCheck(t *testing.T) {
	store, mock, cleanup := setupMockStore(t)
	defer cleanup()

	mock.ExpectPing()
	require.NoError(t, store.HealthCheck(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_HealthCheckFailed(t *testing.T) {
	store, mock, cleanup := setupMockStore(t)
	defer cleanup()

	mock.ExpectPing().WillReturnError(assert.AnError)
	assert.Error(t, store.HealthCheck(context.Background()))
}

func TestStore_Close(t *testing.T) {
	store, mock, _ := setupMockStore(t)
	mock.ExpectClose()
	require.NoError(t, store.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestToRowFromRow_RoundTrips(t *testing.T) {
	now := time.Now()
	state := &statestore.WorkflowState{
		StateID:    "s1",
		WorkflowID: "wf1",
		Status:     statestore.StatusRunning,
		CreatedAt:  now,
		UpdatedAt:  now,
		Error:      "",
	}
	state.Context.Outputs = map[string]map[string]any{"step1": {"text": "hi"}}

	row, err := toRow(state)
	require.NoError(t, err)
	assert.Equal(t, now.UnixNano(), row.UpdatedAtNano)

	back, err := fromRow(row)
	require.NoError(t, err)
	assert.Equal(t, state.StateID, back.StateID)
	assert.Equal(t, "hi", back.Context.Outputs["step1"]["text"])
}

func TestCheckpointFromRow_RoundTrips(t *testing.T) {
	state := statestore.WorkflowState{StateID: "s1", WorkflowID: "wf1", Status: statestore.StatusRunning}
	cpRow := &checkpointRow{
		CheckpointID: "cp1",
		StateID:      "s1",
		StepID:       "step1",
		Timestamp:    time.Now(),
	}
	stateJSON, err := json.Marshal(state)
	require.NoError(t, err)
	cpRow.StateJSON = string(stateJSON)

	cp, err := checkpointFromRow(cpRow)
	require.NoError(t, err)
	assert.Equal(t, "cp1", cp.CheckpointID)
	assert.Equal(t, "wf1", cp.State.WorkflowID)
}

