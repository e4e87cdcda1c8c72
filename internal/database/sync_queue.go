package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fieldops/internal/models"
)

const syncTaskColumns = `id, task_type, job_id, payload, status, last_error, created_at, processed_at`

func scanSyncTask(row rowScanner) (models.SyncTask, error) {
	var t models.SyncTask
	err := row.Scan(&t.ID, &t.TaskType, &t.JobID, &t.Payload, &t.Status, &t.LastError, &t.CreatedAt, &t.ProcessedAt)
	return t, err
}

func (db *DB) CreateSyncTask(ctx context.Context, task *models.SyncTask) error {
	if task.Status == "" {
		task.Status = models.SyncStatusPending
	}
	query := `INSERT INTO sync_queue (task_type, job_id, payload, status, last_error, created_at)
              VALUES (?, ?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		task.TaskType,
		task.JobID,
		task.Payload,
		task.Status,
		task.LastError,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	task.CreatedAt = now

	return nil
}

func (db *DB) GetSyncTask(ctx context.Context, id int64) (models.SyncTask, error) {
	row := db.QueryRowContext(ctx, `SELECT `+syncTaskColumns+` FROM sync_queue WHERE id = ?`, id)
	t, err := scanSyncTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SyncTask{}, ErrSyncTaskNotFound
	}
	if err != nil {
		return models.SyncTask{}, fmt.Errorf("failed to get sync task: %w", err)
	}
	return t, nil
}

func (db *DB) GetPendingSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error) {
	query := `SELECT ` + syncTaskColumns + `
              FROM sync_queue
              WHERE status = ?
              ORDER BY created_at ASC, id ASC LIMIT ?`
	return db.querySyncTasks(ctx, query, models.SyncStatusPending, limit)
}

func (db *DB) GetFailedSyncTasks(ctx context.Context) ([]models.SyncTask, error) {
	query := `SELECT ` + syncTaskColumns + `
              FROM sync_queue WHERE status = ? ORDER BY created_at DESC, id DESC`
	return db.querySyncTasks(ctx, query, models.SyncStatusFailed)
}

func (db *DB) querySyncTasks(ctx context.Context, query string, args ...any) ([]models.SyncTask, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.SyncTask
	for rows.Next() {
		t, err := scanSyncTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (db *DB) UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string) error {
	var lastError *string
	if errMsg != "" {
		lastError = &errMsg
	}

	var query string
	var args []any
	switch status {
	case models.SyncStatusCompleted, models.SyncStatusFailed, models.SyncStatusSuperseded:
		query = `UPDATE sync_queue SET status = ?, last_error = ?, processed_at = ? WHERE id = ?`
		args = []any{status, lastError, time.Now(), id}
	default:
		query = `UPDATE sync_queue SET status = ?, last_error = ? WHERE id = ?`
		args = []any{status, lastError, id}
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update sync task status: %w", err)
	}
	return nil
}

// SupersedePendingSyncTasks marks pending tasks of the given type other than
// keepID as superseded. Must be called before the resync reads the job log:
// every task already queued at that point is then covered by it.
func (db *DB) SupersedePendingSyncTasks(ctx context.Context, taskType string, keepID int64) (int64, error) {
	query := `UPDATE sync_queue SET status = ?, processed_at = ?
              WHERE status = ? AND task_type = ? AND id <> ?`
	result, err := db.ExecContext(ctx, query,
		models.SyncStatusSuperseded, time.Now(), models.SyncStatusPending, taskType, keepID)
	if err != nil {
		return 0, fmt.Errorf("failed to supersede sync tasks: %w", err)
	}
	return result.RowsAffected()
}
