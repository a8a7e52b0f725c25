package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/onurcolak/messaging-bridge/internal/domain"
	"github.com/onurcolak/messaging-bridge/pkg/logger"
)

var ErrPoolStopped = errors.New("worker pool is stopped")

// Task is one unit of work. It receives the pool's context.
type Task func(ctx context.Context)

// Pool runs tasks on a fixed number of goroutines fed by a bounded queue.
type Pool struct {
	name     string
	size     int
	tasks    chan Task
	quit     chan struct{}
	quitOnce sync.Once
	wg       sync.WaitGroup

	running bool
	stopped bool
	mu      sync.RWMutex

	active    atomic.Int64
	completed atomic.Int64
	panicked  atomic.Int64
}

func NewPool(name string, size, capacity int) *Pool {
	if size <= 0 {
		size = 1
	}
	if capacity < 0 {
		capacity = 0
	}

	return &Pool{
		name:  name,
		size:  size,
		tasks: make(chan Task, capacity),
		quit:  make(chan struct{}),
	}
}

func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPoolStopped
	}
	if p.running {
		logger.Warnf("Worker pool %s is already running", p.name)
		return nil
	}

	p.running = true
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.work(ctx)
	}

	logger.Infof("Worker pool %s started with %d workers, queue capacity %d", p.name, p.size, cap(p.tasks))

	return nil
}

func (p *Pool) work(ctx context.Context) {
	defer p.wg.Done()

	for task := range p.tasks {
		p.run(ctx, task)
	}
}

func (p *Pool) run(ctx context.Context, task Task) {
	p.active.Add(1)
	defer func() {
		p.active.Add(-1)
		p.completed.Add(1)
		if r := recover(); r != nil {
			p.panicked.Add(1)
			logger.Errorf("Worker pool %s task panicked: %v\n%s", p.name, r, debug.Stack())
		}
	}()

	task(ctx)
}

// Submit queues task, waiting while the queue is full until ctx is done.
// A full queue at ctx expiry yields domain.ErrQueueFull; the task is not queued.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.tasks <- task:
		return nil
	default:
	}

	select {
	case p.tasks <- task:
		return nil
	case <-p.quit:
		return ErrPoolStopped
	case <-ctx.Done():
		return fmt.Errorf("%s pool: %w", p.name, domain.ErrQueueFull)
	}
}

// TrySubmit queues task only if there is room right now.
func (p *Pool) TrySubmit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.tasks <- task:
		return nil
	default:
		return fmt.Errorf("%s pool: %w", p.name, domain.ErrQueueFull)
	}
}

// Stop refuses new work, lets queued tasks finish and waits for the workers.
func (p *Pool) Stop() error {
	p.quitOnce.Do(func() { close(p.quit) })

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.running = false
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()

	logger.Infof("Worker pool %s stopped after %d tasks", p.name, p.completed.Load())
	return nil
}

type Stats struct {
	Name      string `json:"name"`
	Workers   int    `json:"workers"`
	Queued    int    `json:"queued"`
	Capacity  int    `json:"capacity"`
	Active    int64  `json:"active"`
	Completed int64  `json:"completed"`
	Panicked  int64  `json:"panicked"`
}

func (p *Pool) Stats() Stats {
	return Stats{
		Name:      p.name,
		Workers:   p.size,
		Queued:    len(p.tasks),
		Capacity:  cap(p.tasks),
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
	}
}
