// Package workerpool runs detached background work, such as address cache
// refreshes, on a bounded set of goroutines so callers never block on it.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task represents a unit of background work
type Task struct {
	ID string
	Fn func(context.Context) error
}

// Config holds worker pool configuration
type Config struct {
	Name       string
	MaxWorkers int
	QueueSize  int

	// TaskTimeout bounds each task; zero means no bound
	TaskTimeout time.Duration
	Logger      *zap.Logger

	// OnQueueChange is called with the queue length after every enqueue and dequeue
	OnQueueChange func(queued int)
}

// Pool manages a bounded pool of goroutines for executing tasks
type Pool struct {
	name          string
	taskTimeout   time.Duration
	tasks         chan Task
	logger        *zap.Logger
	onQueueChange func(int)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	idle     *sync.Cond
	inFlight int
	stopped  bool

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
}

// New creates a worker pool and starts its workers
func New(cfg Config) *Pool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:          cfg.Name,
		taskTimeout:   cfg.TaskTimeout,
		tasks:         make(chan Task, cfg.QueueSize),
		logger:        cfg.Logger,
		onQueueChange: cfg.OnQueueChange,
		ctx:           ctx,
		cancel:        cancel,
	}
	p.idle = sync.NewCond(&p.mu)

	for i := 0; i < cfg.MaxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.logger.Debug("Worker pool started",
		zap.String("name", p.name),
		zap.Int("max_workers", cfg.MaxWorkers),
		zap.Int("queue_size", cfg.QueueSize))

	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.tasks:
			p.notifyQueue()
			p.run(id, task)
			p.finish()
		}
	}
}

// run executes one task with panic recovery
func (p *Pool) run(workerID int, task Task) {
	ctx := p.ctx
	if p.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.taskTimeout)
		defer cancel()
	}

	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		return task.Fn(ctx)
	}()

	if err != nil {
		p.failed.Add(1)
		p.logger.Warn("Background task failed",
			zap.String("pool", p.name),
			zap.Int("worker_id", workerID),
			zap.String("task_id", task.ID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}
	p.completed.Add(1)
}

func (p *Pool) finish() {
	p.mu.Lock()
	p.inFlight--
	if p.inFlight == 0 {
		p.idle.Broadcast()
	}
	p.mu.Unlock()
}

func (p *Pool) notifyQueue() {
	if p.onQueueChange != nil {
		p.onQueueChange(len(p.tasks))
	}
}

// TrySubmit enqueues a task without blocking. It returns false when the
// queue is full or the pool is stopped; the task is then dropped.
func (p *Pool) TrySubmit(task Task) bool {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		p.rejected.Add(1)
		return false
	}
	p.inFlight++
	p.mu.Unlock()

	select {
	case p.tasks <- task:
		p.submitted.Add(1)
		p.notifyQueue()
		return true
	default:
		p.rejected.Add(1)
		p.finish()
		p.logger.Debug("Background task rejected, queue full",
			zap.String("pool", p.name),
			zap.String("task_id", task.ID))
		return false
	}
}

// Wait blocks until every accepted task has finished or ctx is done
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.mu.Lock()
		for p.inFlight > 0 {
			p.idle.Wait()
		}
		p.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop rejects new tasks, lets queued ones drain until ctx is done, then
// cancels whatever is still running
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	err := p.Wait(ctx)
	p.cancel()
	p.wg.Wait()

	if err != nil {
		return fmt.Errorf("worker pool '%s' stop: %w", p.name, err)
	}
	p.logger.Debug("Worker pool stopped", zap.String("name", p.name))
	return nil
}

// Stats returns current worker pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Name:      p.name,
		Queued:    len(p.tasks),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// Stats represents worker pool statistics
type Stats struct {
	Name      string
	Queued    int
	Submitted uint64
	Completed uint64
	Failed    uint64
	Rejected  uint64
}
