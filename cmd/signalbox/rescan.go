package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/models"
)

func newRescanCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "rescan",
		Short: "Run one pending-message rescan now",
		Long:  "Finds every pending message and retries delivery in this process, then prints how many messages were found per priority class.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRescan(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Signalbox config file")
	return cmd
}

func runRescan(cmd *cobra.Command, configPath string) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	a, err := buildApp(cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := a.scheduler.Tick(context.Background())
	out := cmd.OutOrStdout()
	for _, class := range models.PendingPriorities {
		fmt.Fprintf(out, "%-24s %d\n", class, rep.Messages[class])
	}
	fmt.Fprintf(out, "jobs run: %d\n", rep.Jobs)
	return err
}
