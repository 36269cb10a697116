package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/db"
)

func newMigrateCmd() *cobra.Command {
	var (
		configPath string
		createDB   bool
		reset      bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the message store schema",
		Long:  "Runs schema migrations for users, messages and campaigns. With --create-db the MySQL database is created first; --reset drops it beforehand.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, configPath, createDB, reset)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Signalbox config file")
	cmd.Flags().BoolVar(&createDB, "create-db", false, "create the MySQL database if missing")
	cmd.Flags().BoolVar(&reset, "reset", false, "drop and recreate the MySQL database (destroys all data)")
	return cmd
}

func runMigrate(cmd *cobra.Command, configPath string, createDB, reset bool) error {
	out := cmd.OutOrStdout()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if (createDB || reset) && cfg.Database.Driver == "mysql" {
		adminDB, err := db.ConnectAdmin(cfg.Database)
		if err != nil {
			return err
		}
		if reset {
			if err := db.DropDatabase(adminDB, cfg.Database.Name); err != nil {
				return err
			}
			fmt.Fprintf(out, "Dropped database %s\n", cfg.Database.Name)
		}
		if err := db.CreateDatabase(adminDB, cfg.Database.Name); err != nil {
			return err
		}
		if sqlDB, err := adminDB.DB(); err == nil {
			sqlDB.Close()
		}
	}

	gdb, err := db.Open(cfg.Database)
	if err != nil {
		return err
	}
	if sqlDB, err := gdb.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := db.AutoMigrate(gdb); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables in %s\n", len(db.AllModels()), cfg.Database.Name)
	return nil
}
