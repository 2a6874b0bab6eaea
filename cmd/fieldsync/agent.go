// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/daniella307307/true-realm-sub001/agent"
	"github.com/daniella307307/true-realm-sub001/config"
	"github.com/daniella307307/true-realm-sub001/orchestrator"
	"github.com/daniella307307/true-realm-sub001/refdata"
)

func openApp(ctx context.Context) (*agent.App, error) {
	return agent.NewApp(ctx, *cfg, logger)
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the device agent: background sync, reference data and draft cleanup",
	Long: `Run the device agent until interrupted.

Sync passes are triggered when the backend becomes reachable, on SIGUSR1
(app foregrounded), on the periodic interval and on SIGUSR2 (manual sync).
When --config is given, edits to sync.enabled and sync.interval apply
without a restart.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		if cfgFile != "" {
			config.Watch(cfgViper, logger, app.ApplyConfig)
		}

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGUSR2)
		defer signal.Stop(sigs)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case s := <-sigs:
					if s == syscall.SIGUSR1 {
						app.Orchestrator.AppForegrounded()
					} else {
						app.Orchestrator.TriggerManualSync()
					}
				}
			}
		}()

		return app.Run(ctx)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		res, err := app.Orchestrator.SyncNow(ctx, orchestrator.TriggerManual)
		if err != nil {
			return err
		}
		if res.Noop {
			fmt.Println("Nothing to sync")
			return nil
		}
		fmt.Printf("Pushed: %d synced, %d failed\n", res.Push.Synced, res.Push.Failed)
		for _, e := range res.Push.Errors {
			fmt.Printf("  %v\n", e)
		}
		fmt.Printf("Pulled: %d new, %d updated, %d kept local\n", res.Pull.Created, res.Pull.Updated, res.Pull.Kept)
		fmt.Printf("Pending: %d\n", app.Orchestrator.Status().PendingChanges.Total)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending changes and per-family progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		pending, err := app.Engine.GetPendingChangesCount(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Pending: %d (%d new, %d modified)\n", pending.Total, pending.NewSubmissions, pending.ModifiedSubmissions)

		stats, err := app.Stats(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FAMILY\tSUBMISSIONS\tVISITS\tMODULES\tPROGRESS\tPENDING")
		for _, s := range stats {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d%%\t%d\n", s.Family, s.Submissions, s.CompletedVisits, s.ModulesCovered, s.Progress, s.Pending)
		}
		return w.Flush()
	},
}

var refdataCmd = &cobra.Command{
	Use:   "refdata",
	Short: "Refresh cached projects, modules, forms, locations and notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		force, _ := cmd.Flags().GetBool("force")
		if force {
			for _, k := range refdata.AllKinds {
				app.Refdata.Invalidate(k)
			}
		}
		return app.Refdata.RefreshAll(ctx)
	},
}

func init() {
	refdataCmd.Flags().Bool("force", false, "refresh tables that already hold data")
	agentCmd.Flags().Duration("interval", 0, "sync interval")
}
