package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ecobici-cdmx/dockarchive/internal/storage/retention"
)

var (
	retentionDryRun bool
	retentionUsage  bool
)

var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "Delete sealed partitions older than the retention window",
	RunE:  runRetention,
}

func init() {
	retentionCmd.Flags().BoolVar(&retentionDryRun, "dry-run", false, "list what would be deleted")
	retentionCmd.Flags().BoolVar(&retentionUsage, "usage", false, "print disk usage and exit")
	rootCmd.AddCommand(retentionCmd)
}

func runRetention(cmd *cobra.Command, args []string) error {
	store, err := openStore(nil)
	if err != nil {
		return err
	}
	defer store.Close()

	m := retention.New(store, cfg.Storage.Retention.KeepDays)
	out := cmd.OutOrStdout()

	if retentionUsage {
		fmt.Fprintln(out, m.FormatDiskUsage())
		return nil
	}
	if !m.Enabled() {
		fmt.Fprintln(out, "Retention disabled (keep_days <= 0)")
		return nil
	}

	var res retention.CleanupResult
	verb := "Deleted"
	if retentionDryRun {
		res = m.DryRun(cmd.Context())
		verb = "Would delete"
	} else {
		res = m.RunCleanup(cmd.Context())
	}

	fmt.Fprintf(out, "Cutoff %s: %s %d partitions (%d bytes)\n", res.Cutoff, verb, len(res.Deleted), res.BytesFreed)
	for _, d := range res.Deleted {
		fmt.Fprintf(out, "  %s\n", d)
	}
	for _, e := range res.Errors {
		fmt.Fprintf(out, "  error: %v\n", e)
	}
	if len(res.Errors) > 0 {
		return fmt.Errorf("retention: %d errors", len(res.Errors))
	}
	return nil
}
