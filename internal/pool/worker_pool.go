package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/treehealth/ndvi-monitor/internal/logger"
)

// Task is a unit of work executed by the pool
type Task func(ctx context.Context) error

// Job is a named task; the name shows up in logs
type Job struct {
	Name string
	Run  Task
}

// WorkerPool runs jobs on a fixed number of goroutines. A failing or
// panicking job is logged and never takes its worker down.
type WorkerPool struct {
	workerCount int
	jobQueue    chan Job
	stopChan    chan struct{}
	wg          sync.WaitGroup
	mu          sync.RWMutex
	stopped     bool

	completed atomic.Int64
	failed    atomic.Int64
}

// NewWorkerPool creates a pool with workerCount workers and a buffered queue
func NewWorkerPool(workerCount int, queueSize int) *WorkerPool {
	if workerCount <= 0 {
		workerCount = 1
	}
	if queueSize <= 0 {
		queueSize = 16
	}

	return &WorkerPool{
		workerCount: workerCount,
		jobQueue:    make(chan Job, queueSize),
		stopChan:    make(chan struct{}),
	}
}

// Start launches the workers
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()

	for {
		select {
		case job, ok := <-wp.jobQueue:
			if !ok {
				return
			}
			wp.execute(ctx, id, job)

		case <-wp.stopChan:
			return

		case <-ctx.Done():
			return
		}
	}
}

func (wp *WorkerPool) execute(ctx context.Context, workerID int, job Job) {
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return job.Run(ctx)
	}()

	if err != nil {
		wp.failed.Add(1)
		logger.Error().
			Err(err).
			Str("job", job.Name).
			Int("worker", workerID).
			Dur("duration", time.Since(start)).
			Msg("Job failed")
		return
	}

	wp.completed.Add(1)
	logger.Debug().
		Str("job", job.Name).
		Int("worker", workerID).
		Dur("duration", time.Since(start)).
		Msg("Job completed")
}

// Submit queues a job without blocking. Fails when the pool is stopped or the queue is full.
func (wp *WorkerPool) Submit(job Job) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return fmt.Errorf("worker pool is stopped")
	}

	select {
	case wp.jobQueue <- job:
		return nil
	default:
		return fmt.Errorf("job queue is full")
	}
}

// SubmitWithContext is Submit with an early exit for cancelled contexts
func (wp *WorkerPool) SubmitWithContext(ctx context.Context, job Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	return wp.Submit(job)
}

// Stop signals the workers and waits for in-flight jobs. Queued jobs are dropped.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	wp.mu.Unlock()

	close(wp.stopChan)
	wp.wg.Wait()

	if dropped := len(wp.jobQueue); dropped > 0 {
		logger.Warn().Int("dropped", dropped).Msg("Worker pool stopped with queued jobs")
	}
}

// StopWithTimeout stops the pool, giving up waiting when ctx expires
func (wp *WorkerPool) StopWithTimeout(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		wp.Stop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker pool shutdown timeout exceeded")
	}
}

// Stats reports completed and failed job counts
func (wp *WorkerPool) Stats() (completed, failed int64) {
	return wp.completed.Load(), wp.failed.Load()
}

func (wp *WorkerPool) GetWorkerCount() int {
	return wp.workerCount
}

func (wp *WorkerPool) GetQueueSize() int {
	return len(wp.jobQueue)
}

func (wp *WorkerPool) IsStopped() bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.stopped
}
