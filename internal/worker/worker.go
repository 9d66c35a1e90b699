// Package worker bounds the goroutines internal/chargepoint spawns for
// long-running collaborator calls - firmware download/install, diagnostics
// and log upload, CSR generation - so a CSMS that fires off several of
// these in quick succession can never balloon the process's goroutine
// count. Grounded on sourcegraph/conc's pool, which is carried in the
// teacher's go.mod as an indirect dependency of its HTTP stack but never
// exercised directly; this is its first direct use in the module.
package worker

import (
	"log/slog"

	"github.com/sourcegraph/conc/pool"
)

// Pool runs background tasks with a fixed ceiling on concurrency and turns
// a panicking task into a logged error instead of a crashed process.
type Pool struct {
	logger *slog.Logger
	p      *pool.Pool
}

// New creates a Pool that runs at most maxConcurrent tasks at once.
func New(logger *slog.Logger, maxConcurrent int) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Pool{
		logger: logger,
		p:      pool.New().WithMaxGoroutines(maxConcurrent),
	}
}

// Submit schedules fn to run on the pool under label, used only for log
// correlation if fn panics.
func (p *Pool) Submit(label string, fn func()) {
	p.p.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("worker task panicked", "task", label, "panic", r)
			}
		}()
		fn()
	})
}

// Wait blocks until every submitted task has returned. Used at shutdown to
// give in-flight uploads a chance to finish before the process exits.
func (p *Pool) Wait() {
	p.p.Wait()
}
