// Package relational implements the state store adapter over a relational
// database via GORM. The caller chooses the concrete dialect
// (postgres/mysql/sqlite) by constructing the gorm.Dialector and handing it
// to NewStore; this package is dialect-agnostic beyond that.
//
// Grounded on internal/database/pool.go's transaction-retry convention
// (PoolManager.WithTransactionRetry, its isRetryableError classifier) and
// agent/persistence/store.go's Store/StoreConfig shape, adapted from "async
// task" rows to "workflow state" + "checkpoint" rows with optimistic
// concurrency on updated_at.
package relational

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/llmdevops/orchestrator/internal/database"
	"github.com/llmdevops/orchestrator/statestore"
)

// writeRetries bounds how many times a write transaction is retried after a
// transient error (deadlock, connection reset) before giving up — the
// store's own operations never retry on ErrConflict, only on the
// PoolManager's transient classification.
const writeRetries = 3

// workflowStateRow is the GORM model backing the workflow_states table.
// UpdatedAtNano mirrors UpdatedAt as a monotonic integer so the optimistic
// concurrency check compares exactly, independent of the driver's
// timestamp column precision.
type workflowStateRow struct {
	StateID       string `gorm:"primaryKey;column:state_id"`
	WorkflowID    string `gorm:"column:workflow_id;index"`
	Status        string `gorm:"column:status;index"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at;index"`
	UpdatedAtNano int64  `gorm:"column:updated_at_nano"`
	ContextJSON   string `gorm:"column:context_json;type:text"`
	Error         string `gorm:"column:error"`
}

func (workflowStateRow) TableName() string { return "workflow_states" }

// checkpointRow is the GORM model backing the checkpoints table.
type checkpointRow struct {
	CheckpointID string    `gorm:"primaryKey;column:checkpoint_id"`
	StateID      string    `gorm:"column:state_id;index:idx_checkpoints_state_ts"`
	StepID       string    `gorm:"column:step_id"`
	Timestamp    time.Time `gorm:"column:timestamp;index:idx_checkpoints_state_ts"`
	ParentID     string    `gorm:"column:parent_id"`
	StateJSON    string    `gorm:"column:state_json;type:text"`
}

func (checkpointRow) TableName() string { return "checkpoints" }

// Store is the GORM-backed Store implementation. Writes are issued through
// a database.PoolManager so a transient deadlock or dropped connection is
// retried transparently instead of surfacing as a one-shot write failure.
type Store struct {
	pool   *database.PoolManager
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore opens dialector, wraps it in a connection pool manager, runs
// AutoMigrate for the two tables, and returns a ready Store. Passing a
// postgres/mysql/sqlite dialector selects the backend; the adapter logic
// above this line is identical either way.
func NewStore(dialector gorm.Dialector, poolConfig database.PoolConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := poolConfig.Validate(); err != nil {
		return nil, fmt.Errorf("relational statestore: %w", err)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("relational statestore: open: %w", err)
	}
	if err := db.AutoMigrate(&workflowStateRow{}, &checkpointRow{}); err != nil {
		return nil, fmt.Errorf("relational statestore: migrate: %w", err)
	}
	pool, err := database.NewPoolManager(db, poolConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("relational statestore: pool: %w", err)
	}
	return &Store{pool: pool, db: db, logger: logger.With(zap.String("component", "statestore_relational"))}, nil
}

func toRow(state *statestore.WorkflowState) (*workflowStateRow, error) {
	ctxJSON, err := json.Marshal(state.Context)
	if err != nil {
		return nil, fmt.Errorf("marshal context: %w", err)
	}
	return &workflowStateRow{
		StateID:       state.StateID,
		WorkflowID:    state.WorkflowID,
		Status:        string(state.Status),
		CreatedAt:     state.CreatedAt,
		UpdatedAt:     state.UpdatedAt,
		UpdatedAtNano: state.UpdatedAt.UnixNano(),
		ContextJSON:   string(ctxJSON),
		Error:         state.Error,
	}, nil
}

func fromRow(row *workflowStateRow) (*statestore.WorkflowState, error) {
	state := &statestore.WorkflowState{
		StateID:    row.StateID,
		WorkflowID: row.WorkflowID,
		Status:     statestore.WorkflowStatus(row.Status),
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
		Error:      row.Error,
	}
	if row.ContextJSON != "" {
		if err := json.Unmarshal([]byte(row.ContextJSON), &state.Context); err != nil {
			return nil, fmt.Errorf("unmarshal context: %w", err)
		}
	}
	return state, nil
}

// SaveWorkflowState upserts by state_id inside a transaction; the
// conditional update on updated_at_nano is the store's optimistic
// concurrency discipline.
func (s *Store) SaveWorkflowState(ctx context.Context, state *statestore.WorkflowState) error {
	if state == nil || state.StateID == "" {
		return statestore.ErrInvalidInput
	}

	return s.pool.WithTransactionRetry(ctx, writeRetries, func(tx *gorm.DB) error {
		var existing workflowStateRow
		err := tx.Where("state_id = ?", state.StateID).First(&existing).Error
		now := time.Now()

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if state.CreatedAt.IsZero() {
				state.CreatedAt = now
			}
			state.UpdatedAt = now
			row, rowErr := toRow(state)
			if rowErr != nil {
				return rowErr
			}
			return tx.Create(row).Error
		case err != nil:
			return fmt.Errorf("relational statestore: load existing: %w", err)
		}

		if existing.UpdatedAtNano != state.UpdatedAt.UnixNano() {
			return statestore.ErrConflict
		}

		state.CreatedAt = existing.CreatedAt
		state.UpdatedAt = now
		row, rowErr := toRow(state)
		if rowErr != nil {
			return rowErr
		}
		return tx.Model(&workflowStateRow{}).Where("state_id = ?", state.StateID).Updates(row).Error
	})
}

func (s *Store) LoadWorkflowState(ctx context.Context, stateID string) (*statestore.WorkflowState, error) {
	var row workflowStateRow
	err := s.db.WithContext(ctx).Where("state_id = ?", stateID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, statestore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("relational statestore: load: %w", err)
	}
	return fromRow(&row)
}

func (s *Store) LoadWorkflowStateByWorkflowID(ctx context.Context, workflowID string) (*statestore.WorkflowState, error) {
	var row workflowStateRow
	err := s.db.WithContext(ctx).Where("workflow_id = ?", workflowID).Order("updated_at desc").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, statestore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("relational statestore: load by workflow id: %w", err)
	}
	return fromRow(&row)
}

func (s *Store) ListActiveWorkflows(ctx context.Context) ([]*statestore.WorkflowState, error) {
	active := []string{string(statestore.StatusPending), string(statestore.StatusRunning), string(statestore.StatusPaused)}
	var rows []workflowStateRow
	if err := s.db.WithContext(ctx).Where("status IN ?", active).Order("updated_at desc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("relational statestore: list active: %w", err)
	}
	out := make([]*statestore.WorkflowState, 0, len(rows))
	for i := range rows {
		state, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	return out, nil
}

func (s *Store) CreateCheckpoint(ctx context.Context, cp *statestore.Checkpoint, retention int) error {
	if cp == nil || cp.StateID == "" {
		return statestore.ErrInvalidInput
	}

	return s.pool.WithTransactionRetry(ctx, writeRetries, func(tx *gorm.DB) error {
		var latest checkpointRow
		err := tx.Where("state_id = ?", cp.StateID).Order("timestamp desc").First(&latest).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			cp.ParentID = ""
		case err != nil:
			return fmt.Errorf("relational statestore: load latest checkpoint: %w", err)
		default:
			cp.ParentID = latest.CheckpointID
		}

		if cp.CheckpointID == "" {
			cp.CheckpointID = fmt.Sprintf("%s-%d", cp.StateID, time.Now().UnixNano())
		}
		if cp.Timestamp.IsZero() {
			cp.Timestamp = time.Now()
		}
		stateJSON, err := json.Marshal(cp.State)
		if err != nil {
			return fmt.Errorf("marshal checkpoint state: %w", err)
		}
		row := &checkpointRow{
			CheckpointID: cp.CheckpointID,
			StateID:      cp.StateID,
			StepID:       cp.StepID,
			Timestamp:    cp.Timestamp,
			ParentID:     cp.ParentID,
			StateJSON:    string(stateJSON),
		}
		if err := tx.Create(row).Error; err != nil {
			return fmt.Errorf("relational statestore: insert checkpoint: %w", err)
		}

		return pruneCheckpoints(tx, cp.StateID, retention)
	})
}

func pruneCheckpoints(tx *gorm.DB, stateID string, keepCount int) error {
	if keepCount <= 0 {
		return nil
	}
	var ids []string
	if err := tx.Model(&checkpointRow{}).
		Where("state_id = ?", stateID).
		Order("timestamp desc").
		Offset(keepCount).
		Pluck("checkpoint_id", &ids).Error; err != nil {
		return fmt.Errorf("relational statestore: find prune candidates: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	return tx.Where("checkpoint_id IN ?", ids).Delete(&checkpointRow{}).Error
}

func (s *Store) GetLatestCheckpoint(ctx context.Context, stateID string) (*statestore.Checkpoint, error) {
	var row checkpointRow
	err := s.db.WithContext(ctx).Where("state_id = ?", stateID).Order("timestamp desc").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, statestore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("relational statestore: get latest checkpoint: %w", err)
	}
	return checkpointFromRow(&row)
}

func checkpointFromRow(row *checkpointRow) (*statestore.Checkpoint, error) {
	cp := &statestore.Checkpoint{
		CheckpointID: row.CheckpointID,
		StateID:      row.StateID,
		StepID:       row.StepID,
		Timestamp:    row.Timestamp,
		ParentID:     row.ParentID,
	}
	if row.StateJSON != "" {
		if err := json.Unmarshal([]byte(row.StateJSON), &cp.State); err != nil {
			return nil, fmt.Errorf("unmarshal checkpoint state: %w", err)
		}
	}
	return cp, nil
}

func (s *Store) RestoreFromCheckpoint(ctx context.Context, checkpointID string) (*statestore.WorkflowState, error) {
	var row checkpointRow
	err := s.db.WithContext(ctx).Where("checkpoint_id = ?", checkpointID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, statestore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("relational statestore: restore: %w", err)
	}
	cp, err := checkpointFromRow(&row)
	if err != nil {
		return nil, err
	}
	state := cp.State
	return &state, nil
}

func (s *Store) DeleteOldStates(ctx context.Context, olderThan time.Time) (int, error) {
	terminal := []string{string(statestore.StatusCompleted), string(statestore.StatusFailed), string(statestore.StatusCancelled)}
	var count int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&workflowStateRow{}).
			Where("status IN ? AND updated_at < ?", terminal, olderThan).
			Pluck("state_id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("state_id IN ?", ids).Delete(&checkpointRow{}).Error; err != nil {
			return err
		}
		res := tx.Where("state_id IN ?", ids).Delete(&workflowStateRow{})
		count = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("relational statestore: delete old states: %w", err)
	}
	return int(count), nil
}

func (s *Store) CleanupOldCheckpoints(ctx context.Context, stateID string, keepCount int) (int, error) {
	var removed int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&checkpointRow{}).
			Where("state_id = ?", stateID).
			Order("timestamp desc").
			Offset(keepCount).
			Pluck("checkpoint_id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		res := tx.Where("checkpoint_id IN ?", ids).Delete(&checkpointRow{})
		removed = int(res.RowsAffected)
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("relational statestore: cleanup old checkpoints: %w", err)
	}
	return removed, nil
}

func (s *Store) GetHistory(ctx context.Context, stateID string) ([]*statestore.Checkpoint, error) {
	var rows []checkpointRow
	if err := s.db.WithContext(ctx).Where("state_id = ?", stateID).Order("timestamp desc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("relational statestore: get history: %w", err)
	}
	out := make([]*statestore.Checkpoint, 0, len(rows))
	for i := range rows {
		cp, err := checkpointFromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	return s.pool.Close()
}

var _ statestore.Store = (*Store)(nil)
