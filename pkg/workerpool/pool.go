// Package workerpool provides the bounded worker pool shared by the
// scheduler's fan-out and the agent dispatcher's cross-filing parallelism.
// Submitted tasks run on a fixed number of goroutines; a graceful Stop
// waits for in-flight tasks to finish before returning.
package workerpool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/medxprts/spacmon/pkg/config"
)

// Task is a unit of work submitted to the pool. ctx carries the pool's
// per-task timeout.
type Task func(ctx context.Context)

// Pool runs submitted tasks on a fixed number of worker goroutines.
type Pool struct {
	cfg    *config.WorkerPoolConfig
	tasks  chan Task
	wg     sync.WaitGroup
	log    *slog.Logger
	cancel context.CancelFunc
}

// New creates a Pool. Start must be called before Submit.
func New(cfg *config.WorkerPoolConfig) *Pool {
	return &Pool{
		cfg:   cfg,
		tasks: make(chan Task, cfg.WorkerCount*4),
		log:   slog.With("component", "workerpool"),
	}
}

// Start spawns the worker goroutines. Safe to call once.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.cfg.WorkerCount; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, i)
	}
	p.log.Info("worker pool started", "worker_count", p.cfg.WorkerCount)
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.runTask(ctx, task)
		}
	}
}

func (p *Pool) runTask(ctx context.Context, task Task) {
	taskCtx, cancel := context.WithTimeout(ctx, p.cfg.TaskTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.log.Error("worker pool task panicked", "recovered", r)
		}
	}()
	task(taskCtx)
}

// Submit enqueues task for execution. Blocks if the pool's internal queue
// is full; callers that need a non-blocking submit should size their own
// backlog accordingly.
func (p *Pool) Submit(task Task) {
	p.tasks <- task
}

// Stop closes the task queue and waits up to GracefulShutdownTimeout for
// in-flight tasks to finish, then cancels any that are still running.
func (p *Pool) Stop() {
	close(p.tasks)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.cfg.GracefulShutdownTimeout):
		p.log.Warn("worker pool graceful shutdown timed out, cancelling in-flight tasks")
		if p.cancel != nil {
			p.cancel()
		}
		<-done
	}
}
