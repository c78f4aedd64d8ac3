package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// Runner executes pipeline runs as fire-and-forget background tasks. Its
// contract: nothing submitted ever panics or errors past this boundary. A
// panic is logged and handed to the task's fail callback, which maps it to a
// terminal failed status. The upload-accept HTTP response never waits on a
// run.
type Runner struct {
	wg sync.WaitGroup
}

func NewRunner() *Runner {
	return &Runner{}
}

// Submit schedules fn on its own goroutine. fail is invoked with a
// best-effort message when fn panics or returns an error; it may be nil.
func (r *Runner) Submit(name string, fn func(ctx context.Context) error, fail func(msg string)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				msg := fmt.Sprintf("panic in background task %s: %v", name, rec)
				slog.Error("Background task panicked.", "task", name, "panic", rec, "stack", string(debug.Stack()))
				if fail != nil {
					fail(msg)
				}
			}
		}()

		if err := fn(context.Background()); err != nil {
			// The task has already logged specifics and updated the upload
			// record where it could; this is the boundary's last word.
			slog.Error("Background task failed.", "task", name, "error", err)
		}
	}()
}

// Wait blocks until all submitted tasks finish. Used by tests and by
// entrypoints that want a drain on shutdown.
func (r *Runner) Wait() {
	r.wg.Wait()
}
