package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Job is one unit of work run by the pool
type Job interface {
	Execute(ctx context.Context) Result
}

// Result is what a Job produces
type Result interface {
	GetError() error
}

// Recoverable jobs turn a panic during Execute into a failed Result.
// Panics in other jobs are logged and their result is dropped.
type Recoverable interface {
	Fail(err error) Result
}

// ErrJobPanicked wraps the value recovered from a panicking job
var ErrJobPanicked = eris.New("worker: job panicked")

// Option configures a Pool
type Option func(*Pool)

// WithResultHook calls fn for every result as it arrives, from a single
// goroutine, before Wait returns
func WithResultHook(fn func(Result)) Option {
	return func(p *Pool) {
		p.onResult = fn
	}
}

// Pool runs jobs on a fixed number of workers. Results are drained as they
// arrive so Submit never blocks on an unread result.
type Pool struct {
	workers  int
	jobs     chan Job
	results  chan Result
	onResult func(Result)

	mu        sync.Mutex
	collected []Result
	drained   chan struct{}

	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewPool creates a pool whose jobs observe ctx; cancelling ctx stops the pool.
// workers below 1 means one worker.
func NewPool(ctx context.Context, workers int, opts ...Option) *Pool {
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(ctx)

	p := &Pool{
		workers: workers,
		jobs:    make(chan Job, workers*2),
		results: make(chan Result, workers*2),
		drained: make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers
func (p *Pool) Start() {
	go p.drain()
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) drain() {
	defer close(p.drained)
	for result := range p.results {
		p.mu.Lock()
		p.collected = append(p.collected, result)
		p.mu.Unlock()

		if p.onResult != nil {
			p.onResult(result)
		}
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			result := p.run(job)
			if result == nil {
				continue
			}
			select {
			case p.results <- result:
			case <-p.ctx.Done():
				return
			}
		}
	}
}

// run executes one job, converting a panic into a failed result when the job allows it
func (p *Pool) run(job Job) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			err := eris.Wrap(ErrJobPanicked, fmt.Sprint(r))
			zap.L().Error("worker: job panicked", zap.Any("panic", r))
			result = nil
			if rec, ok := job.(Recoverable); ok {
				result = rec.Fail(err)
			}
		}
	}()
	return job.Execute(p.ctx)
}

// Submit queues a job; it returns false when the pool was cancelled first
func (p *Pool) Submit(job Job) bool {
	if p.ctx.Err() != nil {
		return false
	}
	select {
	case <-p.ctx.Done():
		return false
	case p.jobs <- job:
		return true
	}
}

// Wait closes the queue, waits for queued jobs and returns their results in
// completion order. Submit must not be called after Wait.
func (p *Pool) Wait() []Result {
	close(p.jobs)
	p.wg.Wait()
	p.closeResults()
	<-p.drained
	p.cancel()
	return p.Results()
}

// Shutdown cancels running jobs and stops the workers without waiting for the queue
func (p *Pool) Shutdown() {
	p.cancel()
	p.wg.Wait()
	p.closeResults()
}

// Results returns a copy of the results collected so far
func (p *Pool) Results() []Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Result, len(p.collected))
	copy(out, p.collected)
	return out
}

func (p *Pool) closeResults() {
	p.closeOnce.Do(func() {
		close(p.results)
	})
}
