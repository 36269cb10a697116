package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrNoHandler is returned when no handler is registered for a job's kind.
var ErrNoHandler = errors.New("queue: no handler registered")

// Handler executes one job.
type Handler func(ctx context.Context, job Job) error

// Handlers maps each kind to its handler.
type Handlers map[Kind]Handler

// Submitter enqueues a job for asynchronous execution.
type Submitter interface {
	Submit(ctx context.Context, job Job) error
}

// Runner executes jobs synchronously against a handler registry.
type Runner struct {
	handlers Handlers
	logger   *zap.Logger
}

// NewRunner returns a Runner over handlers.
func NewRunner(handlers Handlers, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{handlers: handlers, logger: logger.Named("runner")}
}

// Run validates job and executes it now, in the caller's goroutine.
func (r *Runner) Run(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	h, ok := r.handlers[job.Kind]
	if !ok {
		return fmt.Errorf("%w for %s", ErrNoHandler, job.Kind)
	}

	start := time.Now()
	err := h(ctx, job)
	status := "success"
	if err != nil {
		status = "failure"
		r.logger.Error("Job failed",
			zap.String("job", job.ID),
			zap.String("kind", string(job.Kind)),
			zap.Int("priority", int(job.Priority)),
			zap.Error(err))
	}
	jobDuration.WithLabelValues(string(job.Kind), status).Observe(time.Since(start).Seconds())
	return err
}
