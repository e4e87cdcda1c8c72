package domain

import (
	"context"
	"time"

	"fieldops/internal/google"
	"fieldops/internal/models"
)

type JobRepository interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id int64) (*models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) error
	DeleteJob(ctx context.Context, id int64) error
	ListJobs(ctx context.Context, from, to time.Time) ([]*models.Job, error)
	ListJobsForSheet(ctx context.Context) ([]*models.Job, error)
	NextDisplayNumber(ctx context.Context, date *time.Time) (int, error)
}

type SyncQueueRepository interface {
	CreateSyncTask(ctx context.Context, task *models.SyncTask) error
	GetSyncTask(ctx context.Context, id int64) (models.SyncTask, error)
	GetPendingSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error)
	GetFailedSyncTasks(ctx context.Context) ([]models.SyncTask, error)
	UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string) error
	SupersedePendingSyncTasks(ctx context.Context, taskType string, keepID int64) (int64, error)
}

// LockRepository hands out named mutual-exclusion locks.
type LockRepository interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// SheetsWriter is the spreadsheet sink. Results carry an error kind instead of
// returning errors.
type SheetsWriter interface {
	Configured() bool
	SpreadsheetID() string
	TestConnection(ctx context.Context) google.Result
	EnsureHeaders(ctx context.Context) google.Result
	SyncAllJobs(ctx context.Context) google.Result
	SyncJob(ctx context.Context, job *models.Job) google.Result
	DeleteJob(ctx context.Context, no string) google.Result
}

type SyncWorker interface {
	EnqueueResync(ctx context.Context, jobID int64) (taskID int64, err error)
	EnqueueDeleteRow(ctx context.Context, no string) (taskID int64, err error)
}

type JobService interface {
	CreateJob(ctx context.Context, job *models.Job) error
	UpdateJob(ctx context.Context, job *models.Job) error
	DeleteJob(ctx context.Context, id int64) error
	GetJob(ctx context.Context, id int64) (*models.Job, error)
	ListJobs(ctx context.Context, from, to time.Time) ([]*models.Job, error)
	ListJobsForSheet(ctx context.Context) ([]*models.Job, error)
	Categories() []string
}
