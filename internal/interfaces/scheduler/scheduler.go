package scheduler

import (
	"context"
	"log"
	"time"

	"kassa/internal/domain/connection"
	syncdomain "kassa/internal/domain/sync"
)

// syncableLister returns the connections eligible for background sync,
// including errored ones awaiting retry. Satisfied by *connection.Service.
type syncableLister interface {
	ListSyncable(ctx context.Context) ([]*connection.Connection, error)
}

// Scheduler ticks at a fixed interval and fans the syncable connections out
// to the worker pool, one job per connection.
type Scheduler struct {
	interval     time.Duration
	runOnStartup bool
	connections  syncableLister
	syncService  *syncdomain.Service
	pool         *WorkerPool
	stateStore   purger
	stop         chan struct{}
	done         chan struct{}
}

func New(interval time.Duration, runOnStartup bool, connections syncableLister, syncService *syncdomain.Service, pool *WorkerPool, stateStore purger) *Scheduler {
	return &Scheduler{
		interval:     interval,
		runOnStartup: runOnStartup,
		connections:  connections,
		syncService:  syncService,
		pool:         pool,
		stateStore:   stateStore,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start launches the tick loop in its own goroutine. Call Stop to end it.
func (s *Scheduler) Start() {
	log.Printf("Scheduler started (interval=%v, run_on_startup=%v)", s.interval, s.runOnStartup)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		if s.runOnStartup {
			s.tick()
		}

		for {
			select {
			case <-s.stop:
				log.Println("Scheduler stopping")
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

// Stop signals the loop to end and waits for the current tick to finish.
// Jobs already queued keep running on the pool.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
	log.Println("Scheduler stopped")
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.stateStore != nil {
		if err := s.pool.Submit(NewStatePurgeJob(s.stateStore)); err != nil {
			log.Printf("Failed to submit state purge job: %v", err)
		}
	}

	conns, err := s.connections.ListSyncable(ctx)
	if err != nil {
		log.Printf("Scheduler: failed to list syncable connections: %v", err)
		return
	}
	if len(conns) == 0 {
		return
	}

	jobs := make([]Job, 0, len(conns))
	for _, conn := range conns {
		jobs = append(jobs, NewConnectionSyncJob(conn, s.syncService))
	}
	s.pool.SubmitBatch(jobs)
}
