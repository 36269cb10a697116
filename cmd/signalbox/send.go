package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/queue"
)

type sendFlags struct {
	configPath string
	kind       string
	to         string
	user       string
	users      []string
	text       string
}

func newSendCmd() *cobra.Command {
	var f sendFlags

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a notification from the command line",
		Long: `Builds a notification job and runs it in this process.

Kinds:
  email      --to ADDRESS       mail an address directly
  immediate  --user UUID        deliver now, ignoring delivery hours
  pending    --user UUID        deliver now or at the next rescan
  users      --users A,B,...    pending message for each listed user
  all                           pending message for every user`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, f)
		},
	}

	cmd.Flags().StringVarP(&f.configPath, "config", "c", defaultConfigPath, "path to Signalbox config file")
	cmd.Flags().StringVarP(&f.kind, "kind", "k", "pending", "email, immediate, pending, users or all")
	cmd.Flags().StringVar(&f.to, "to", "", "email address (kind email)")
	cmd.Flags().StringVarP(&f.user, "user", "u", "", "recipient user UUID")
	cmd.Flags().StringSliceVar(&f.users, "users", nil, "comma-separated recipient UUIDs (kind users)")
	cmd.Flags().StringVarP(&f.text, "text", "t", "", "message text, may contain %user_name%")
	cmd.MarkFlagRequired("text")
	return cmd
}

// payloadFor maps the CLI kind to a job payload.
func payloadFor(f sendFlags) (queue.Payload, error) {
	switch strings.ToLower(f.kind) {
	case "email":
		return queue.EmailPayload{To: f.to, Text: f.text}, nil
	case "immediate":
		return queue.ImmediatePayload{UserUUID: f.user, Text: f.text}, nil
	case "pending":
		return queue.PendingPayload{UserUUID: f.user, Text: f.text}, nil
	case "users":
		return queue.UserListPayload{UserUUIDs: f.users, Text: f.text}, nil
	case "all":
		return queue.AllUsersPayload{Text: f.text}, nil
	}
	return nil, fmt.Errorf("send: unknown kind %q", f.kind)
}

func runSend(cmd *cobra.Command, f sendFlags) error {
	p, err := payloadFor(f)
	if err != nil {
		return err
	}
	job, err := queue.NewJob(p)
	if err != nil {
		return err
	}

	cfg, logger, err := loadConfig(f.configPath)
	if err != nil {
		return err
	}
	a, err := buildApp(cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.runner.Run(context.Background(), job); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent %s job %s\n", job.Kind, job.ID)
	return nil
}
