package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hyperjump/bami/internal/assistant"
	"github.com/hyperjump/bami/internal/cases"
	"github.com/hyperjump/bami/internal/models"
	"go.uber.org/zap"
)

// ErrStopped is returned by Start after Stop.
var ErrStopped = errors.New("pipeline stopped")

// DefaultMaxConcurrent caps simultaneous runs across all cases.
const DefaultMaxConcurrent = 4

type job struct {
	caseID string
	files  []models.File
}

// lane holds the queued runs of one case. Its goroutine exits when the queue drains.
type lane struct {
	queue []job
}

// Runner schedules background runs. With per-case serialization on, runs for the
// same case execute one at a time in submission order; a weighted semaphore caps
// parallelism across cases.
type Runner struct {
	store     *cases.Store
	ai        assistant.Collaborator
	publisher Publisher
	logger    *zap.Logger

	sem       *semaphore.Weighted
	serialize bool
	pending   atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	lanes    map[string]*lane
	stopped  bool
	onResult []func(Result)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(l *zap.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithMaxConcurrent caps concurrent runs; values below 1 are ignored.
func WithMaxConcurrent(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithSerializePerCase toggles per-case queuing.
func WithSerializePerCase(on bool) RunnerOption {
	return func(r *Runner) { r.serialize = on }
}

// NewRunner creates a Runner. Call Stop to cancel in-flight runs on shutdown.
func NewRunner(store *cases.Store, ai assistant.Collaborator, publisher Publisher, opts ...RunnerOption) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		store:     store,
		ai:        ai,
		publisher: publisher,
		logger:    zap.NewNop(),
		sem:       semaphore.NewWeighted(DefaultMaxConcurrent),
		serialize: true,
		ctx:       ctx,
		cancel:    cancel,
		lanes:     make(map[string]*lane),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnResult registers fn to receive every run result.
func (r *Runner) OnResult(fn func(Result)) {
	r.mu.Lock()
	r.onResult = append(r.onResult, fn)
	r.mu.Unlock()
}

// Start schedules a run for caseID and returns immediately.
func (r *Runner) Start(caseID string, files []models.File) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrStopped
	}
	r.pending.Add(1)
	j := job{caseID: caseID, files: files}

	if !r.serialize {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.execute(j)
		}()
		return nil
	}

	if l, ok := r.lanes[caseID]; ok {
		l.queue = append(l.queue, j)
		r.logger.Debug("run queued behind active run", zap.String("case_id", caseID), zap.Int("queued", len(l.queue)))
		return nil
	}
	l := &lane{queue: []job{j}}
	r.lanes[caseID] = l
	r.wg.Add(1)
	go r.drain(caseID, l)
	return nil
}

func (r *Runner) drain(caseID string, l *lane) {
	defer r.wg.Done()
	for {
		r.mu.Lock()
		if len(l.queue) == 0 {
			delete(r.lanes, caseID)
			r.mu.Unlock()
			return
		}
		j := l.queue[0]
		l.queue = l.queue[1:]
		r.mu.Unlock()
		r.execute(j)
	}
}

func (r *Runner) execute(j job) {
	defer r.pending.Add(-1)
	if err := r.sem.Acquire(r.ctx, 1); err != nil {
		r.record(Result{CaseID: j.caseID, Status: StatusSkipped, Err: err})
		return
	}
	defer r.sem.Release(1)
	r.Run(r.ctx, j.caseID, j.files)
}

// Pending returns the number of queued and running runs.
func (r *Runner) Pending() int {
	return int(r.pending.Load())
}

// WaitIdle blocks until no runs are queued or running, or the timeout
// expires. Returns true if idle, false if timed out.
func (r *Runner) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if r.pending.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Stop cancels in-flight runs, drops queued ones and waits for workers to exit.
func (r *Runner) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()
}
