/**
 * PreemptiveExecutor - cancellation-safe single-flight launcher.
 *
 * Each pipeline stage owns one executor. Launching new work cancels the
 * in-flight job and installs the new one atomically under the executor
 * mutex, so no window exists where two jobs are both "current". Work is
 * tagged with a monotonically increasing generation; merges into shared
 * state run through IfCurrent so results from a cancelled generation are
 * discarded even when cancellation races near completion.
 */

package pipeline

import (
	"context"
	"sync"
)

// Handle identifies one launched job.
type Handle struct {
	Gen  uint64
	Done <-chan struct{}
}

// Executor runs at most one job at a time, preempting the previous one.
type Executor struct {
	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
}

func NewExecutor() *Executor {
	return &Executor{}
}

// Launch cancels the in-flight job, if any, and starts work on its own
// goroutine with a context derived from parent. Work must observe ctx at its
// suspension points and unwind without side effects once cancelled.
func (e *Executor) Launch(parent context.Context, work func(ctx context.Context, gen uint64)) Handle {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.generation++
	gen := e.generation
	ctx, cancel := context.WithCancel(parent)
	e.cancel = cancel
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		work(ctx, gen)
	}()
	return Handle{Gen: gen, Done: done}
}

// IfCurrent runs fn only when gen is still the current generation, holding
// the executor mutex so a concurrent Launch cannot interleave with fn.
// Reports whether fn ran.
func (e *Executor) IfCurrent(gen uint64, fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.generation {
		return false
	}
	fn()
	return true
}

// Cancel preempts the in-flight job without installing a new one.
func (e *Executor) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.generation++
}
