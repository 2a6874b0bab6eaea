// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/daniella307307/true-realm-sub001/drafts"
)

var draftsCmd = &cobra.Command{
	Use:   "drafts",
	Short: "Inspect and clean up saved drafts",
}

var draftsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the signed-in user's drafts",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		user := app.Session.UserID()
		if user == "" {
			return fmt.Errorf("no user configured, set --user")
		}
		list, err := app.Drafts.GetAllUserDrafts(ctx, user)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FORM\tNAME\tPAGE\tPROGRESS\tSAVED")
		for _, d := range list {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d%%\t%s\n", d.FormID, d.Metadata.FormName, d.LastPage+1, d.ProgressPercentage, d.LastSavedAt.Local().Format(time.DateTime))
		}
		return w.Flush()
	},
}

var draftsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete drafts not touched within the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close()

		days, _ := cmd.Flags().GetInt("days")
		if days <= 0 {
			days = cfg.Drafts.RetentionDays
		}
		n := app.Drafts.CleanupOldDrafts(ctx, days)
		fmt.Printf("Deleted %d drafts older than %d days\n", n, days)
		return nil
	},
}

func init() {
	draftsCleanupCmd.Flags().Int("days", 0, fmt.Sprintf("retention in days (default from config, %d)", drafts.DefaultRetentionDays))
	draftsCmd.AddCommand(draftsListCmd, draftsCleanupCmd)
}
