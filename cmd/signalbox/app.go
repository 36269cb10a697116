package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/signalbox/internal/availability"
	"github.com/zulandar/signalbox/internal/campaign"
	"github.com/zulandar/signalbox/internal/channel"
	"github.com/zulandar/signalbox/internal/channel/email"
	"github.com/zulandar/signalbox/internal/channel/im"
	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/dispatch"
	"github.com/zulandar/signalbox/internal/identity"
	"github.com/zulandar/signalbox/internal/logging"
	"github.com/zulandar/signalbox/internal/placeholder"
	"github.com/zulandar/signalbox/internal/queue"
	"github.com/zulandar/signalbox/internal/rescan"
	"github.com/zulandar/signalbox/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app holds every wired component of a running process.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *gorm.DB
	store     *store.Store
	identity  *identity.Store
	notifier  *dispatch.Notificator
	runner    *queue.Runner
	pool      *queue.Pool
	submitter queue.Submitter
	scheduler *rescan.Scheduler
	campaigns *campaign.Service
}

// syncSubmitter runs submitted jobs at once. One-shot commands use it in
// place of the worker pool.
type syncSubmitter struct {
	runner *queue.Runner
}

func (s syncSubmitter) Submit(ctx context.Context, job queue.Job) error {
	return s.runner.Run(ctx, job)
}

func loadConfig(path string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// buildApp connects to the databases and wires the engine. With pooled,
// jobs go through a worker pool the caller must start; otherwise every
// submitted job runs inline.
func buildApp(cfg *config.Config, logger *zap.Logger, pooled bool) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.db, err = db.Open(cfg.Database); err != nil {
		return nil, err
	}
	a.store = store.New(a.db)
	if a.identity, err = identity.Open(cfg.Identity); err != nil {
		return nil, err
	}

	gate, err := availability.New(cfg.Notify.AvailableHours)
	if err != nil {
		return nil, err
	}
	emailSender, err := email.NewFromConfig(cfg.SMTP, cfg.Notify.EmailSubject, logger)
	if err != nil {
		return nil, err
	}
	imSender, err := im.NewFromConfig(cfg.IM, logger)
	if err != nil {
		return nil, err
	}

	a.notifier, err = dispatch.New(dispatch.Options{
		Store:    a.store,
		Resolver: placeholder.NewResolver(a.identity),
		Gate:     gate,
		Email:    emailSender,
		IM:       imSender,
		InApp:    channel.NewInApp(a.store, logger),
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	a.runner = queue.NewRunner(dispatch.Handlers(a.notifier, a.rescanAll), logger)
	if pooled {
		a.pool = queue.NewPool(a.runner, queue.PoolOptions{
			Workers:    cfg.Queue.Workers,
			Size:       cfg.Queue.Size,
			JobTimeout: cfg.Queue.JobTimeout,
			Logger:     logger,
		})
		a.submitter = a.pool
	} else {
		a.submitter = syncSubmitter{runner: a.runner}
	}

	if a.scheduler, err = rescan.New(rescan.Options{Store: a.store, Queue: a.submitter, Logger: logger}); err != nil {
		return nil, err
	}
	if a.campaigns, err = campaign.New(campaign.Options{Store: a.store, Queue: a.submitter, Logger: logger}); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) rescanAll(ctx context.Context) error {
	_, err := a.scheduler.Tick(ctx)
	return err
}

func (a *app) Close() error {
	var errs []error
	if a.identity != nil {
		errs = append(errs, a.identity.Close())
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	a.logger.Sync()
	return errors.Join(errs...)
}
