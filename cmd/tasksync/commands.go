package main

import (
	"errors"
	"fmt"
	"time"

	"tasksync/internal/syncer"

	"github.com/spf13/cobra"
)

func newSyncCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync of the local queue against the remote",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, configPath())
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.runner.Run(ctx)
			if errors.Is(err, syncer.ErrOffline) {
				return fmt.Errorf("remote unreachable at %s", a.cfg.Remote.BaseURL)
			}
			if result != nil {
				if perr := printJSON(cmd, result); perr != nil {
					return perr
				}
			}
			if err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("sync finished with %d failed items", result.FailedItems)
			}
			return nil
		},
	}
}

type statusOutput struct {
	Pending      int        `json:"pending"`
	Failed       int        `json:"failed"`
	LastSyncedAt *time.Time `json:"last_sync"`
	Online       bool       `json:"online"`
}

func newStatusCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue depth, permanently failed items and connectivity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, configPath())
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.tasks.QueueStats(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, statusOutput{
				Pending:      stats.Pending,
				Failed:       stats.Failed,
				LastSyncedAt: stats.LastSyncedAt,
				Online:       a.runner.Online(ctx),
			})
		},
	}
}

func newRequeueCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <task-id>",
		Short: "Reset the retry budget of a failed task so the next sync retries it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, configPath())
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.tasks.RequeueTask(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %d item(s) for task %s\n", n, args[0])
			return nil
		},
	}
}

func newProbeCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Check whether the remote is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, configPath())
			if err != nil {
				return err
			}
			defer a.Close()

			if !a.probe.CheckConnectivity(ctx) {
				fmt.Fprintln(cmd.OutOrStdout(), "offline")
				return fmt.Errorf("remote unreachable at %s", a.cfg.Remote.BaseURL)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "online")
			return nil
		},
	}
}
