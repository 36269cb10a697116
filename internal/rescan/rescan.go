// Package rescan periodically re-submits pending messages so that users who
// were outside their delivery window are retried.
package rescan

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/queue"
	"go.uber.org/zap"
)

// DefaultSchedule runs a tick at the top of every hour.
const DefaultSchedule = "0 * * * *"

// DefaultChunkSize caps the number of messages in one rescan job.
const DefaultChunkSize = 1000

// Parser accepts standard 5-field cron expressions (minute, hour, dom, month, dow).
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

var partitionSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "signalbox_rescan_pending_messages",
	Help: "Pending messages found by the last rescan tick, by priority class.",
}, []string{"class"})

// Finder lists pending message ids of one priority class.
type Finder interface {
	FindPendingByPriority(ctx context.Context, p models.MessagePriority) ([]string, error)
}

// Options configures a Scheduler.
type Options struct {
	Store     Finder
	Queue     queue.Submitter
	Logger    *zap.Logger
	ChunkSize int
}

// Scheduler partitions pending messages by class and submits one rescan job
// per partition chunk at that class's priority.
type Scheduler struct {
	store     Finder
	queue     queue.Submitter
	logger    *zap.Logger
	chunkSize int
}

// Report summarizes one tick.
type Report struct {
	Messages map[models.MessagePriority]int
	Jobs     int
}

// New returns a Scheduler.
func New(opts Options) (*Scheduler, error) {
	if opts.Store == nil {
		return nil, errors.New("rescan: store is required")
	}
	if opts.Queue == nil {
		return nil, errors.New("rescan: queue is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &Scheduler{
		store:     opts.Store,
		queue:     opts.Queue,
		logger:    opts.Logger.Named("rescan"),
		chunkSize: opts.ChunkSize,
	}, nil
}

// Tick submits every pending message for another delivery attempt. A failed
// partition does not stop the others; all failures are returned joined.
func (s *Scheduler) Tick(ctx context.Context) (Report, error) {
	rep := Report{Messages: make(map[models.MessagePriority]int)}
	var errs []error
	for _, class := range models.PendingPriorities {
		ids, err := s.store.FindPendingByPriority(ctx, class)
		if err != nil {
			errs = append(errs, fmt.Errorf("rescan: find %s: %w", class, err))
			continue
		}
		rep.Messages[class] = len(ids)
		partitionSize.WithLabelValues(class.String()).Set(float64(len(ids)))

		for start := 0; start < len(ids); start += s.chunkSize {
			end := min(start+s.chunkSize, len(ids))
			job, err := queue.NewRescanJob(ids[start:end], class)
			if err != nil {
				errs = append(errs, err)
				break
			}
			if err := s.queue.Submit(ctx, job); err != nil {
				errs = append(errs, fmt.Errorf("rescan: submit %s: %w", class, err))
				break
			}
			rep.Jobs++
		}
	}

	s.logger.Info("Rescan tick finished",
		zap.Int("single_user", rep.Messages[models.PriorityPendingSingleUser]),
		zap.Int("filtered_group", rep.Messages[models.PriorityPendingFilteredGroup]),
		zap.Int("all_users", rep.Messages[models.PriorityPendingAllUsers]),
		zap.Int("jobs", rep.Jobs))
	return rep, errors.Join(errs...)
}

// Start runs Tick on the cron schedule spec until ctx is done. It returns
// once the schedule is installed.
func (s *Scheduler) Start(ctx context.Context, spec string) error {
	if spec == "" {
		spec = DefaultSchedule
	}
	c := cron.New(cron.WithParser(Parser))
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.Tick(ctx); err != nil {
			s.logger.Error("Rescan tick failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("rescan: schedule %q: %w", spec, err)
	}
	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	s.logger.Info("Rescan scheduler started", zap.String("schedule", spec))
	return nil
}
