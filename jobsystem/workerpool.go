package jobsystem

import (
	"context"
	"sync"
)

// WorkerPoolJobSystem is a concrete JobSystem backed by a fixed-size pool
// of goroutines pulling from a shared channel. It mirrors the worker-pool
// pattern the workflow engine itself uses for concurrent node dispatch:
// a buffered channel of tasks, N long-lived worker goroutines, and
// mutex/WaitGroup bookkeeping rather than per-task goroutines.
type WorkerPoolJobSystem struct {
	tasks  chan func()
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorkerPoolJobSystem starts workers long-lived goroutines draining a
// task queue of depth queueDepth. Call Close to stop the pool once no
// further work will be dispatched.
func NewWorkerPoolJobSystem(workers, queueDepth int) *WorkerPoolJobSystem {
	if workers <= 0 {
		workers = 1
	}
	if queueDepth <= 0 {
		queueDepth = 1024
	}

	ctx, cancel := context.WithCancel(context.Background())
	ws := &WorkerPoolJobSystem{
		tasks:  make(chan func(), queueDepth),
		ctx:    ctx,
		cancel: cancel,
	}

	for i := 0; i < workers; i++ {
		ws.wg.Add(1)
		go ws.worker()
	}
	return ws
}

func (w *WorkerPoolJobSystem) worker() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case fn, ok := <-w.tasks:
			if !ok {
				return
			}
			fn()
		}
	}
}

// Dispatch implements JobSystem.
func (w *WorkerPoolJobSystem) Dispatch(t Task) {
	w.tasks <- func() { t(w.ctx) }
}

// NewJob implements JobSystem. The returned Job tracks its own inflight
// task count with a mutex-guarded counter; the completion callback fires
// from whichever goroutine observes the count at zero after Detach (the
// detaching goroutine itself, if no task is inflight at that moment).
func (w *WorkerPoolJobSystem) NewJob(onComplete func()) Job {
	return &poolJob{pool: w, onComplete: onComplete}
}

// Close stops accepting new work and waits for in-flight tasks to drain.
// It does not wait for tasks still queued but not yet started; callers
// that need a full drain should track their own Job completion first.
func (w *WorkerPoolJobSystem) Close() {
	w.cancel()
	w.wg.Wait()
}

// poolJob implements Job for WorkerPoolJobSystem. inflight counts tasks
// dispatched-but-not-finished; detached records whether the creator will
// dispatch any more. The completion callback fires exactly once, the
// first time inflight reaches zero at or after detachment.
type poolJob struct {
	pool       *WorkerPoolJobSystem
	onComplete func()

	mu       sync.Mutex
	inflight int
	detached bool
	fired    bool
}

func (j *poolJob) Dispatch(t Task) {
	j.mu.Lock()
	j.inflight++
	j.mu.Unlock()

	j.pool.Dispatch(func(ctx context.Context) {
		defer j.taskDone()
		t(ctx)
	})
}

func (j *poolJob) taskDone() {
	j.mu.Lock()
	j.inflight--
	fire := j.detached && j.inflight == 0 && !j.fired
	if fire {
		j.fired = true
	}
	j.mu.Unlock()

	if fire && j.onComplete != nil {
		j.onComplete()
	}
}

func (j *poolJob) Detach() {
	j.mu.Lock()
	j.detached = true
	fire := j.inflight == 0 && !j.fired
	if fire {
		j.fired = true
	}
	j.mu.Unlock()

	if fire && j.onComplete != nil {
		j.onComplete()
	}
}

// inflightCount reports the current inflight task count, for tests.
func (j *poolJob) inflightCount() int32 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return int32(j.inflight)
}
