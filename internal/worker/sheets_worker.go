package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fieldops/internal/domain"
	"fieldops/internal/events"
	"fieldops/internal/google"
	"fieldops/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	TaskResync    = "resync"
	TaskDeleteRow = "delete_row"
)

// taskPayload is persisted in SyncTask.Payload as JSON.
type taskPayload struct {
	JobID int64  `json:"job_id,omitempty"`
	No    string `json:"no,omitempty"`
}

// SheetsClient is the part of the sheet sink the worker drives.
type SheetsClient interface {
	EnsureHeaders(ctx context.Context) google.Result
	SyncAllJobs(ctx context.Context) google.Result
	SyncJob(ctx context.Context, job *models.Job) google.Result
	DeleteJob(ctx context.Context, no string) google.Result
}

type Options struct {
	QueueSize    int
	PollInterval time.Duration
	BatchSize    int
}

// SheetsWorker is the only writer of the spreadsheet outside explicit operator
// calls. Tasks run one at a time in the Start goroutine.
type SheetsWorker struct {
	store         domain.SyncQueueRepository
	sheets        SheetsClient
	redis         *redis.Client
	queue         chan models.SyncTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        zerolog.Logger
}

func NewSheetsWorker(store domain.SyncQueueRepository, sheets SheetsClient, redisClient *redis.Client, opts Options, logger *zerolog.Logger) *SheetsWorker {
	if opts.QueueSize <= 0 {
		opts.QueueSize = models.WorkerQueueSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = models.DefaultSyncBatchSize
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "sheets_worker").Logger()
	}

	return &SheetsWorker{
		store:         store,
		sheets:        sheets,
		redis:         redisClient,
		queue:         make(chan models.SyncTask, opts.QueueSize),
		redisQueueKey: "sheets:queue",
		deadLetterKey: "sheets:deadletter",
		pollInterval:  opts.PollInterval,
		batchSize:     opts.BatchSize,
		logger:        l,
	}
}

// EnqueueResync schedules a full resync. A non-zero jobID names the job change
// that triggered it and routes the task through SyncJob; zero is an operator resync.
func (w *SheetsWorker) EnqueueResync(ctx context.Context, jobID int64) (int64, error) {
	return w.enqueue(ctx, TaskResync, taskPayload{JobID: jobID})
}

// EnqueueDeleteRow schedules clearing the first row whose column A equals no.
func (w *SheetsWorker) EnqueueDeleteRow(ctx context.Context, no string) (int64, error) {
	no = strings.TrimSpace(no)
	if no == "" {
		return 0, errors.New("display number is required")
	}
	return w.enqueue(ctx, TaskDeleteRow, taskPayload{No: no})
}

func (w *SheetsWorker) enqueue(ctx context.Context, taskType string, payload taskPayload) (int64, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}

	task := models.SyncTask{
		TaskType: taskType,
		JobID:    payload.JobID,
		Payload:  string(payloadBytes),
		Status:   models.SyncStatusPending,
	}
	if err := w.store.CreateSyncTask(ctx, &task); err != nil {
		return 0, fmt.Errorf("persist sync task: %w", err)
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, w.redisQueueKey, task); err != nil {
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("redis push failed, fallback to memory queue")
		} else {
			return task.ID, nil
		}
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("in-memory queue full, task left to polling")
	}
	return task.ID, nil
}

// Start runs the worker loop until ctx is done.
func (w *SheetsWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("sheets worker started")
	defer w.logger.Info().Msg("sheets worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		tasks, err := w.store.GetPendingSyncTasks(ctx, w.batchSize)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Error().Err(err).Msg("fetch pending tasks")
			}
			w.wait(ctx)
			continue
		}
		if len(tasks) == 0 {
			w.wait(ctx)
			continue
		}

		for i := range tasks {
			w.processTask(ctx, &tasks[i])
		}
	}
}

func (w *SheetsWorker) wait(ctx context.Context) {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	case t := <-w.queue:
		w.processTask(ctx, &t)
	}
}

func (w *SheetsWorker) tryLocalQueue() (models.SyncTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.SyncTask{}, false
	}
}

func (w *SheetsWorker) tryRedis(ctx context.Context) (models.SyncTask, bool) {
	if w.redis == nil {
		return models.SyncTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return models.SyncTask{}, false
		}
		w.logger.Error().Err(err).Msg("redis BRPOP")
		return models.SyncTask{}, false
	}
	if len(res) != 2 {
		return models.SyncTask{}, false
	}
	var task models.SyncTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("decode redis task")
		return models.SyncTask{}, false
	}
	return task, true
}

// processTask runs a task if it is still pending. The same task may reach the
// worker through more than one transport, and resyncs supersede each other.
func (w *SheetsWorker) processTask(ctx context.Context, task *models.SyncTask) {
	current, err := w.store.GetSyncTask(ctx, task.ID)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("load task")
		return
	}
	if current.Status != models.SyncStatusPending {
		w.logger.Debug().Int64("task_id", task.ID).Str("status", current.Status).Msg("task already handled")
		return
	}
	task = &current

	log := w.logger.With().Int64("task_id", task.ID).Str("task_type", task.TaskType).Logger()

	var payload taskPayload
	if err := json.Unmarshal([]byte(task.Payload), &payload); err != nil {
		w.failTask(ctx, task, fmt.Errorf("decode payload: %w", err))
		return
	}

	var res google.Result
	switch task.TaskType {
	case TaskResync:
		if n, err := w.store.SupersedePendingSyncTasks(ctx, TaskResync, task.ID); err != nil {
			log.Warn().Err(err).Msg("supersede pending resyncs")
		} else if n > 0 {
			log.Debug().Int64("superseded", n).Msg("pending resyncs folded into this one")
		}
		if hdr := w.sheets.EnsureHeaders(ctx); !hdr.OK() {
			log.Warn().Err(hdr.Err).Str("kind", hdr.Kind.String()).Msg("ensure headers")
		}
		if payload.JobID > 0 {
			res = w.sheets.SyncJob(ctx, &models.Job{ID: payload.JobID})
		} else {
			res = w.sheets.SyncAllJobs(ctx)
		}
	case TaskDeleteRow:
		if payload.No == "" {
			w.failTask(ctx, task, errors.New("display number missing"))
			return
		}
		res = w.sheets.DeleteJob(ctx, payload.No)
		if res.Kind == google.KindNotFound {
			log.Info().Str("no", payload.No).Msg("row not found, nothing to clear")
			w.complete(ctx, task, res.Err.Error())
			return
		}
	default:
		w.failTask(ctx, task, fmt.Errorf("unknown task type: %s", task.TaskType))
		return
	}

	if !res.OK() {
		w.failTask(ctx, task, fmt.Errorf("%s: %w", res.Kind, res.Err))
		return
	}
	log.Info().Int("rows", res.Rows).Msg("task completed")
	w.complete(ctx, task, "")
}

func (w *SheetsWorker) complete(ctx context.Context, task *models.SyncTask, note string) {
	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusCompleted, note); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark completed")
	}
}

// failTask marks the task failed and parks it in the dead-letter list. Failed
// tasks are not retried; the next resync repairs the sheet.
func (w *SheetsWorker) failTask(ctx context.Context, task *models.SyncTask, cause error) {
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Str("task_type", task.TaskType).Msg("task failed")
	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusFailed, cause.Error()); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark failed")
	}
	msg := cause.Error()
	task.Status = models.SyncStatusFailed
	task.LastError = &msg
	w.pushDeadLetter(ctx, task)
}

func (w *SheetsWorker) pushRedis(ctx context.Context, key string, task models.SyncTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}

func (w *SheetsWorker) pushDeadLetter(ctx context.Context, task *models.SyncTask) {
	if w.redis == nil {
		return
	}
	if err := w.pushRedis(ctx, w.deadLetterKey, *task); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("deadletter push")
	}
}

// SubscribeJobEvents turns every job mutation into a resync task.
func SubscribeJobEvents(bus *events.EventBus, w domain.SyncWorker, logger *zerolog.Logger) {
	if bus == nil || w == nil {
		return
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "sheets_events").Logger()
	}

	handler := func(ev *events.Event) error {
		payload, err := events.DecodeJobPayload(ev)
		if err != nil {
			return fmt.Errorf("decode %s payload: %w", ev.Type, err)
		}
		taskID, err := w.EnqueueResync(context.Background(), payload.JobID)
		if err != nil {
			return fmt.Errorf("enqueue resync for job %d: %w", payload.JobID, err)
		}
		l.Debug().Str("event", ev.Type).Int64("job_id", payload.JobID).Int64("task_id", taskID).Msg("resync queued")
		return nil
	}
	bus.Subscribe(handler, events.EventJobCreated, events.EventJobUpdated, events.EventJobDeleted)
}
