package timeline

import (
	"context"
	"sync"

	appLog "github.com/aizatto/ical-debugger/internal/log"
	"github.com/aizatto/ical-debugger/internal/model"
)

// Runner re-runs the pipeline on demand and keeps only the newest result.
// Every Trigger bumps a generation counter and cancels the run it
// supersedes; a run that finishes after a newer Trigger is discarded.
type Runner struct {
	pipeline *Pipeline

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	latest *Result
	notify func(Result)

	wg sync.WaitGroup
}

// NewRunner creates a Runner. notify, if non-nil, is called with every
// result that becomes the latest one, while the runner's lock is held, so
// it must not call back into the Runner.
func NewRunner(p *Pipeline, notify func(Result)) *Runner {
	return &Runner{pipeline: p, notify: notify}
}

// Trigger starts a fresh aggregation of subs over win and returns its
// generation. It does not wait for the run to finish.
func (r *Runner) Trigger(ctx context.Context, subs []model.Subscription, win Window) uint64 {
	snapshot := append([]model.Subscription(nil), subs...)

	r.mu.Lock()
	r.gen++
	gen := r.gen
	if r.cancel != nil {
		r.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	appLog.Debug("aggregation triggered", "generation", gen)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()

		res := r.pipeline.Run(runCtx, snapshot, win)
		res.Generation = gen
		r.apply(res)
	}()
	return gen
}

func (r *Runner) apply(res Result) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res.Generation != r.gen {
		appLog.Info("discarding superseded aggregation", "generation", res.Generation, "current", r.gen)
		return false
	}
	r.latest = &res
	if r.notify != nil {
		r.notify(res)
	}
	return true
}

// Latest returns the newest applied result, if any run has completed.
func (r *Runner) Latest() (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latest == nil {
		return Result{}, false
	}
	return *r.latest, true
}

// Generation returns the most recently issued generation.
func (r *Runner) Generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen
}

// Wait blocks until every triggered run has settled.
func (r *Runner) Wait() {
	r.wg.Wait()
}
