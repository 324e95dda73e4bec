package background

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"lead-assistant/internal/metrics"
)

const defaultTimeout = 30 * time.Second

// Group runs best-effort tasks detached from the request that started them.
// Task failures are logged and counted, never returned.
type Group struct {
	wg      sync.WaitGroup
	timeout time.Duration
	log     zerolog.Logger
}

// New creates a Group whose tasks are bounded by timeout.
func New(timeout time.Duration, log zerolog.Logger) *Group {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Group{
		timeout: timeout,
		log:     log.With().Str("component", "background").Logger(),
	}
}

// Go starts fn in its own goroutine. The context passed to fn keeps the
// values of ctx but not its cancellation.
func (g *Group) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer cancel()

		start := time.Now()
		err := run(taskCtx, fn)
		metrics.BackgroundTasksTotal.WithLabelValues(name, metrics.Outcome(err == nil)).Inc()
		if err != nil {
			g.log.Error().Err(err).Str("task", name).Dur("elapsed", time.Since(start)).Msg("background task failed")
			return
		}
		g.log.Debug().Str("task", name).Dur("elapsed", time.Since(start)).Msg("background task done")
	}()
}

func run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// Wait blocks until every started task has finished or ctx is done.
func (g *Group) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		g.log.Warn().Msg("background tasks still running at shutdown")
		return ctx.Err()
	}
}
