package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"kassa/internal/domain/connection"
	"kassa/internal/domain/importer"
	syncdomain "kassa/internal/domain/sync"
	"kassa/internal/infrastructure/providers"
)

type fakeJob struct {
	executed *atomic.Int64
	err      error
}

func (j *fakeJob) Execute(ctx context.Context) error {
	j.executed.Add(1)
	return j.err
}

func (j *fakeJob) UserID() string      { return "1" }
func (j *fakeJob) Description() string { return "fake job" }

func TestWorkerPool_ExecutesSubmittedJobs(t *testing.T) {
	pool := NewWorkerPool(2, 0, 10)
	pool.Start()

	var executed atomic.Int64
	for i := 0; i < 5; i++ {
		if err := pool.Submit(&fakeJob{executed: &executed}); err != nil {
			t.Fatalf("Submit() failed: %v", err)
		}
	}

	pool.Shutdown()

	if got := executed.Load(); got != 5 {
		t.Errorf("executed = %d, want 5", got)
	}
}

func TestWorkerPool_FailingJobDoesNotStopWorkers(t *testing.T) {
	pool := NewWorkerPool(1, 0, 10)
	pool.Start()

	var executed atomic.Int64
	pool.Submit(&fakeJob{executed: &executed, err: errors.New("boom")})
	pool.Submit(&fakeJob{executed: &executed})

	pool.Shutdown()

	if got := executed.Load(); got != 2 {
		t.Errorf("executed = %d, want 2 (failure must not stop the worker)", got)
	}
}

func TestWorkerPool_FullQueueDropsJob(t *testing.T) {
	// No workers started, so the queue never drains.
	pool := NewWorkerPool(1, 0, 1)

	var executed atomic.Int64
	if err := pool.Submit(&fakeJob{executed: &executed}); err != nil {
		t.Fatalf("first Submit() failed: %v", err)
	}
	if err := pool.Submit(&fakeJob{executed: &executed}); err == nil {
		t.Error("Submit() to a full queue should return an error")
	}
}

type fakeLister struct {
	conns []*connection.Connection
	err   error
}

func (f *fakeLister) ListSyncable(ctx context.Context) ([]*connection.Connection, error) {
	return f.conns, f.err
}

type fakeGateway struct {
	synced atomic.Int64
}

func (f *fakeGateway) GetConnection(ctx context.Context, id string, userID int64) (*connection.Connection, error) {
	return nil, connection.ErrConnectionNotFound
}

func (f *fakeGateway) ListSyncable(ctx context.Context) ([]*connection.Connection, error) {
	return nil, nil
}

func (f *fakeGateway) AccountsForConnection(ctx context.Context, conn *connection.Connection) ([]providers.Account, error) {
	f.synced.Add(1)
	return nil, nil
}

func (f *fakeGateway) TransactionsForConnection(ctx context.Context, conn *connection.Connection, accountID string, from, to time.Time) ([]providers.Transaction, error) {
	return nil, nil
}

func (f *fakeGateway) MarkSynced(ctx context.Context, conn *connection.Connection, syncedAt time.Time) error {
	return nil
}

func (f *fakeGateway) MarkSyncError(ctx context.Context, conn *connection.Connection, cause error) error {
	return nil
}

type fakeImporter struct{}

func (fakeImporter) Import(ctx context.Context, params importer.ImportParams) (*importer.Result, error) {
	return &importer.Result{Status: importer.StatusCompleted}, nil
}

func TestScheduler_TickFansOutSyncableConnections(t *testing.T) {
	// Errored connections come through ListSyncable too: a transient provider
	// failure must be retried on the next tick, not strand the connection.
	conns := []*connection.Connection{
		{ID: "conn-1", UserID: 1, BankName: "swedbank", Status: connection.StatusActive},
		{ID: "conn-2", UserID: 2, BankName: "seb", Status: connection.StatusActive},
		{ID: "conn-3", UserID: 3, BankName: "avanza", Status: connection.StatusError},
	}

	syncService := syncdomain.NewService(&fakeGateway{}, fakeImporter{}, 90)
	pool := NewWorkerPool(1, 0, 10) // not started: jobs stay queued

	s := New(time.Hour, false, &fakeLister{conns: conns}, syncService, pool, nil)
	s.tick()

	if got := len(pool.jobs); got != 3 {
		t.Errorf("queued jobs = %d, want one per syncable connection (3)", got)
	}
}

func TestScheduler_RunOnStartupSyncsImmediately(t *testing.T) {
	conn := &connection.Connection{ID: "conn-1", UserID: 1, BankName: "swedbank", Status: connection.StatusActive}

	gateway := &fakeGateway{}
	syncService := syncdomain.NewService(gateway, fakeImporter{}, 90)
	pool := NewWorkerPool(1, 0, 10)
	pool.Start()
	defer pool.Shutdown()

	s := New(time.Hour, true, &fakeLister{conns: []*connection.Connection{conn}}, syncService, pool, nil)
	s.Start()
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for gateway.synced.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("startup sync never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestScheduler_StopReturns(t *testing.T) {
	pool := NewWorkerPool(1, 0, 1)
	syncService := syncdomain.NewService(&fakeGateway{}, fakeImporter{}, 90)

	s := New(time.Hour, false, &fakeLister{}, syncService, pool, nil)
	s.Start()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return")
	}
}
