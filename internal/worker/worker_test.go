package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fieldops/internal/database"
	"fieldops/internal/events"
	"fieldops/internal/google"
	"fieldops/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestProcessResyncSuccess(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{}
	worker := NewSheetsWorker(db, sheets, nil, Options{}, nil)

	ctx := context.Background()
	id, err := worker.EnqueueResync(ctx, 7)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	if task.ID != id || task.JobID != 7 || task.TaskType != TaskResync {
		t.Fatalf("unexpected task: %+v", task)
	}
	worker.processTask(ctx, &task)

	stored := loadTask(t, db, id)
	if stored.Status != models.SyncStatusCompleted {
		t.Fatalf("expected status=completed, got %s", stored.Status)
	}
	if stored.ProcessedAt == nil {
		t.Fatalf("expected processed_at to be set")
	}
	if sheets.headerCalls != 1 || sheets.syncCalls != 1 {
		t.Fatalf("expected one header and one sync call, got %d/%d", sheets.headerCalls, sheets.syncCalls)
	}
	if len(sheets.jobSyncs) != 1 || sheets.jobSyncs[0] != 7 {
		t.Fatalf("expected SyncJob for job 7, got %v", sheets.jobSyncs)
	}
}

func TestProcessOperatorResyncSyncsAll(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{}
	worker := NewSheetsWorker(db, sheets, nil, Options{}, nil)

	ctx := context.Background()
	id, err := worker.EnqueueResync(ctx, 0)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	if got := loadTask(t, db, id).Status; got != models.SyncStatusCompleted {
		t.Fatalf("expected status=completed, got %s", got)
	}
	if sheets.syncCalls != 1 || len(sheets.jobSyncs) != 0 {
		t.Fatalf("expected one SyncAllJobs call, got %d syncs, job syncs %v", sheets.syncCalls, sheets.jobSyncs)
	}
}

func TestProcessResyncFailureIsNotRetried(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	db := newTestDB(t)
	sheets := &fakeSheets{syncResult: google.Result{Kind: google.KindTransport, Err: errors.New("quota exceeded")}}
	worker := NewSheetsWorker(db, sheets, client, Options{}, nil)

	ctx := context.Background()
	id, err := worker.EnqueueResync(ctx, 1)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryRedis(ctx)
	if !ok {
		t.Fatalf("expected task in redis queue")
	}
	worker.processTask(ctx, &task)

	stored := loadTask(t, db, id)
	if stored.Status != models.SyncStatusFailed {
		t.Fatalf("expected status=failed, got %s", stored.Status)
	}
	if stored.LastError == nil || *stored.LastError == "" {
		t.Fatalf("expected last_error to be recorded")
	}

	dead, err := client.LLen(ctx, "sheets:deadletter").Result()
	if err != nil {
		t.Fatalf("llen: %v", err)
	}
	if dead != 1 {
		t.Fatalf("expected 1 deadletter entry, got %d", dead)
	}

	pending, err := db.GetPendingSyncTasks(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("failed task must not be requeued, got %d pending", len(pending))
	}
}

func TestResyncSupersedesPending(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{}
	worker := NewSheetsWorker(db, sheets, nil, Options{}, nil)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := worker.EnqueueResync(ctx, int64(i+1))
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		ids = append(ids, id)
	}
	deleteID, err := worker.EnqueueDeleteRow(ctx, "4")
	if err != nil {
		t.Fatalf("enqueue delete: %v", err)
	}

	for {
		task, ok := worker.tryLocalQueue()
		if !ok {
			break
		}
		worker.processTask(ctx, &task)
	}

	if sheets.syncCalls != 1 {
		t.Fatalf("expected a single resync, got %d", sheets.syncCalls)
	}
	if got := loadTask(t, db, ids[0]).Status; got != models.SyncStatusCompleted {
		t.Fatalf("first task: expected completed, got %s", got)
	}
	for _, id := range ids[1:] {
		if got := loadTask(t, db, id).Status; got != models.SyncStatusSuperseded {
			t.Fatalf("task %d: expected superseded, got %s", id, got)
		}
	}
	if got := loadTask(t, db, deleteID).Status; got != models.SyncStatusCompleted {
		t.Fatalf("delete task must not be superseded, got %s", got)
	}
}

func TestProcessDeleteRow(t *testing.T) {
	ctx := context.Background()

	t.Run("Cleared", func(t *testing.T) {
		db := newTestDB(t)
		sheets := &fakeSheets{}
		worker := NewSheetsWorker(db, sheets, nil, Options{}, nil)

		id, err := worker.EnqueueDeleteRow(ctx, " 12 ")
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		task, _ := worker.tryLocalQueue()
		worker.processTask(ctx, &task)

		if len(sheets.deleted) != 1 || sheets.deleted[0] != "12" {
			t.Fatalf("expected delete of \"12\", got %v", sheets.deleted)
		}
		if got := loadTask(t, db, id).Status; got != models.SyncStatusCompleted {
			t.Fatalf("expected completed, got %s", got)
		}
	})

	t.Run("NotFoundCompletesWithNote", func(t *testing.T) {
		db := newTestDB(t)
		sheets := &fakeSheets{deleteResult: google.Result{Kind: google.KindNotFound, Err: google.ErrRowNotFound}}
		worker := NewSheetsWorker(db, sheets, nil, Options{}, nil)

		id, err := worker.EnqueueDeleteRow(ctx, "99")
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		task, _ := worker.tryLocalQueue()
		worker.processTask(ctx, &task)

		stored := loadTask(t, db, id)
		if stored.Status != models.SyncStatusCompleted {
			t.Fatalf("expected completed, got %s", stored.Status)
		}
		if stored.LastError == nil {
			t.Fatalf("expected not-found note in last_error")
		}
	})

	t.Run("EmptyNumberRejected", func(t *testing.T) {
		worker := NewSheetsWorker(newTestDB(t), &fakeSheets{}, nil, Options{}, nil)
		if _, err := worker.EnqueueDeleteRow(ctx, "  "); err == nil {
			t.Fatalf("expected error for empty display number")
		}
	})
}

func TestProcessInvalidTasks(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{}
	worker := NewSheetsWorker(db, sheets, nil, Options{}, nil)
	ctx := context.Background()

	unknown := models.SyncTask{TaskType: "bogus", Payload: `{}`}
	if err := db.CreateSyncTask(ctx, &unknown); err != nil {
		t.Fatalf("create: %v", err)
	}
	broken := models.SyncTask{TaskType: TaskResync, Payload: `invalid json`}
	if err := db.CreateSyncTask(ctx, &broken); err != nil {
		t.Fatalf("create: %v", err)
	}
	missing := models.SyncTask{TaskType: TaskDeleteRow, Payload: `{}`}
	if err := db.CreateSyncTask(ctx, &missing); err != nil {
		t.Fatalf("create: %v", err)
	}

	for _, task := range []models.SyncTask{unknown, broken, missing} {
		task := task
		worker.processTask(ctx, &task)
		if got := loadTask(t, db, task.ID).Status; got != models.SyncStatusFailed {
			t.Fatalf("task %s: expected failed, got %s", task.TaskType, got)
		}
	}
	if sheets.syncCalls != 0 || len(sheets.deleted) != 0 {
		t.Fatalf("invalid tasks must not reach the sheet")
	}
}

func TestProcessSkipsHandledTask(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{}
	worker := NewSheetsWorker(db, sheets, nil, Options{}, nil)
	ctx := context.Background()

	id, err := worker.EnqueueResync(ctx, 1)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	task, _ := worker.tryLocalQueue()
	worker.processTask(ctx, &task)
	worker.processTask(ctx, &task)

	if sheets.syncCalls != 1 {
		t.Fatalf("expected a single resync for task %d, got %d", id, sheets.syncCalls)
	}
}

func TestStartProcessesQueuedTasks(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{}
	worker := NewSheetsWorker(db, sheets, nil, Options{PollInterval: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()

	id, err := worker.EnqueueResync(context.Background(), 3)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for loadTask(t, db, id).Status != models.SyncStatusCompleted {
		if time.Now().After(deadline) {
			t.Fatalf("task %d was not processed", id)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop")
	}
}

func TestStartPollsDatabase(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{}
	worker := NewSheetsWorker(db, sheets, nil, Options{PollInterval: 10 * time.Millisecond}, nil)

	// persisted by an earlier process, never queued in memory
	task := models.SyncTask{TaskType: TaskResync, Payload: `{"job_id":5}`}
	if err := db.CreateSyncTask(context.Background(), &task); err != nil {
		t.Fatalf("create: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for loadTask(t, db, task.ID).Status != models.SyncStatusCompleted {
		if time.Now().After(deadline) {
			t.Fatalf("persisted task was not picked up")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSubscribeJobEvents(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{}
	worker := NewSheetsWorker(db, sheets, nil, Options{}, nil)
	bus := events.NewEventBus(nil)
	logger := zerolog.Nop()
	SubscribeJobEvents(bus, worker, &logger)

	for _, ev := range []string{events.EventJobCreated, events.EventJobUpdated, events.EventJobDeleted} {
		if err := bus.PublishJSON(ev, events.JobEventPayload{JobID: 9, No: "2"}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	pending, err := db.GetPendingSyncTasks(context.Background(), 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 queued tasks, got %d", len(pending))
	}
	for _, task := range pending {
		if task.TaskType != TaskResync || task.JobID != 9 {
			t.Fatalf("unexpected task: %+v", task)
		}
	}

	for {
		task, ok := worker.tryLocalQueue()
		if !ok {
			break
		}
		worker.processTask(context.Background(), &task)
	}
	// the first task supersedes the other two
	if len(sheets.jobSyncs) != 1 || sheets.jobSyncs[0] != 9 {
		t.Fatalf("expected a single SyncJob for job 9, got %v", sheets.jobSyncs)
	}
}

// Helpers

type fakeSheets struct {
	mu           sync.Mutex
	syncResult   google.Result
	deleteResult google.Result
	headerCalls  int
	syncCalls    int
	jobSyncs     []int64
	deleted      []string
}

func (f *fakeSheets) EnsureHeaders(ctx context.Context) google.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headerCalls++
	return google.Result{}
}

func (f *fakeSheets) SyncAllJobs(ctx context.Context) google.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncCalls++
	return f.syncResult
}

// SyncJob counts as a resync; the triggering job id is recorded.
func (f *fakeSheets) SyncJob(ctx context.Context, job *models.Job) google.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncCalls++
	f.jobSyncs = append(f.jobSyncs, job.ID)
	return f.syncResult
}

func (f *fakeSheets) DeleteJob(ctx context.Context, no string) google.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, no)
	return f.deleteResult
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.db")
	logger := zerolog.Nop()
	db, err := database.NewDB(path, &logger)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func loadTask(t *testing.T, db *database.DB, id int64) models.SyncTask {
	t.Helper()
	task, err := db.GetSyncTask(context.Background(), id)
	if err != nil {
		t.Fatalf("load task %d: %v", id, err)
	}
	return task
}
