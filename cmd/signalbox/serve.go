package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/api"
	"github.com/zulandar/signalbox/internal/db"
	"go.uber.org/zap"
)

const drainTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
		migrate    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API, worker pool, rescan scheduler and campaigns",
		Long:  "Starts the HTTP intake, the job workers, the pending-message rescan schedule and all enabled campaigns. Stops on SIGINT or SIGTERM after draining queued jobs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port, migrate)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Signalbox config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides api.port)")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "run schema migrations before starting")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int, migrate bool) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.API.Port = port
	}

	a, err := buildApp(cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	if migrate {
		if err := db.AutoMigrate(a.db); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	// Workers outlive the signal so Stop can drain what is queued.
	a.pool.Start(context.WithoutCancel(ctx))
	defer func() {
		drainCtx, done := context.WithTimeout(context.Background(), drainTimeout)
		defer done()
		a.pool.Stop(drainCtx)
	}()

	if err := a.scheduler.Start(ctx, cfg.Notify.RescanSchedule); err != nil {
		return err
	}
	if err := a.campaigns.Start(ctx); err != nil {
		logger.Error("Campaigns not started", zap.Error(err))
	}

	return api.Start(ctx, api.Options{
		Store:     a.store,
		Queue:     a.submitter,
		Runner:    a.runner,
		Campaigns: a.campaigns,
		Logger:    logger,
		Port:      cfg.API.Port,
		Out:       cmd.OutOrStdout(),
	})
}
