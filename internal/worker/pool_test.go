package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type stubResult struct {
	id  int
	err error
}

func (r *stubResult) GetError() error { return r.err }

// stubJob sleeps for delay (or until cancelled) and reports its id
type stubJob struct {
	id      int
	delay   time.Duration
	fail    bool
	panics  bool
	started *int32
}

func (j *stubJob) Execute(ctx context.Context) Result {
	if j.started != nil {
		atomic.AddInt32(j.started, 1)
	}
	if j.panics {
		panic("boom")
	}
	if j.delay > 0 {
		select {
		case <-time.After(j.delay):
		case <-ctx.Done():
			return &stubResult{id: j.id, err: ctx.Err()}
		}
	}
	if j.fail {
		return &stubResult{id: j.id, err: errors.New("stub failure")}
	}
	return &stubResult{id: j.id}
}

// recoverableJob is a stubJob that reports panics as results
type recoverableJob struct{ stubJob }

func (j *recoverableJob) Fail(err error) Result {
	return &stubResult{id: j.id, err: err}
}

func TestNewPool_WorkerCount(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{4, 4},
		{1, 1},
		{0, 1},
		{-3, 1},
	}
	for _, tt := range tests {
		if p := NewPool(context.Background(), tt.in); p.workers != tt.want {
			t.Errorf("NewPool(%d): expected %d workers, got %d", tt.in, tt.want, p.workers)
		}
	}
}

func TestPool_RunsEveryJob(t *testing.T) {
	var started int32
	pool := NewPool(context.Background(), 3)
	pool.Start()

	const n = 25
	for i := 0; i < n; i++ {
		if !pool.Submit(&stubJob{id: i, fail: i%5 == 0, started: &started}) {
			t.Fatalf("submit %d rejected", i)
		}
	}

	results := pool.Wait()
	if len(results) != n {
		t.Fatalf("expected %d results, got %d", n, len(results))
	}
	if got := atomic.LoadInt32(&started); got != n {
		t.Errorf("expected %d executions, got %d", n, got)
	}

	ids := make(map[int]bool)
	failures := 0
	for _, r := range results {
		ids[r.(*stubResult).id] = true
		if r.GetError() != nil {
			failures++
		}
	}
	if len(ids) != n {
		t.Errorf("expected %d distinct results, got %d", n, len(ids))
	}
	if failures != 5 {
		t.Errorf("expected 5 failures, got %d", failures)
	}
}

func TestPool_RunsConcurrently(t *testing.T) {
	pool := NewPool(context.Background(), 4)
	pool.Start()

	start := time.Now()
	for i := 0; i < 4; i++ {
		pool.Submit(&stubJob{id: i, delay: 100 * time.Millisecond})
	}
	pool.Wait()

	if elapsed := time.Since(start); elapsed > 350*time.Millisecond {
		t.Errorf("4 jobs on 4 workers took %v, expected them to overlap", elapsed)
	}
}

func TestPool_ResultHook(t *testing.T) {
	var mu sync.Mutex
	var hooked []int

	pool := NewPool(context.Background(), 2, WithResultHook(func(r Result) {
		mu.Lock()
		hooked = append(hooked, r.(*stubResult).id)
		mu.Unlock()
	}))
	pool.Start()
	for i := 0; i < 6; i++ {
		pool.Submit(&stubJob{id: i})
	}
	results := pool.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(hooked) != len(results) {
		t.Fatalf("hook saw %d results, Wait returned %d", len(hooked), len(results))
	}
	for i, r := range results {
		if hooked[i] != r.(*stubResult).id {
			t.Errorf("hook order differs from result order at %d", i)
		}
	}
}

func TestPool_RecoversPanics(t *testing.T) {
	pool := NewPool(context.Background(), 2)
	pool.Start()

	pool.Submit(&stubJob{id: 1})
	pool.Submit(&recoverableJob{stubJob{id: 2, panics: true}})
	pool.Submit(&stubJob{id: 3, panics: true})
	pool.Submit(&stubJob{id: 4})

	results := pool.Wait()

	// The non-recoverable panic is dropped; the pool keeps serving jobs
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for _, r := range results {
		sr := r.(*stubResult)
		if sr.id == 2 && !errors.Is(sr.err, ErrJobPanicked) {
			t.Errorf("expected ErrJobPanicked for job 2, got %v", sr.err)
		}
		if sr.id == 3 {
			t.Error("non-recoverable panicking job should not produce a result")
		}
	}
}

func TestPool_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(ctx, 1)
	pool.Start()

	pool.Submit(&stubJob{id: 1, delay: 5 * time.Second})
	cancel()

	if pool.Submit(&stubJob{id: 2}) {
		t.Error("submit after cancellation should be rejected")
	}

	done := make(chan []Result)
	go func() { done <- pool.Wait() }()

	select {
	case results := <-done:
		for _, r := range results {
			if r.(*stubResult).id == 1 && !errors.Is(r.GetError(), context.Canceled) {
				t.Errorf("expected context.Canceled for the running job, got %v", r.GetError())
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after cancellation")
	}
}

func TestPool_ShutdownStopsWorkers(t *testing.T) {
	pool := NewPool(context.Background(), 2)
	pool.Start()

	for i := 0; i < 2; i++ {
		pool.Submit(&stubJob{id: i, delay: 5 * time.Second})
	}

	done := make(chan struct{})
	go func() {
		pool.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown timed out")
	}

	if pool.Submit(&stubJob{id: 9}) {
		t.Error("submit after shutdown should be rejected")
	}
}
