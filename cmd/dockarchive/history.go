package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var historyDate string

var historyCmd = &cobra.Command{
	Use:   "history <station>",
	Short: "Print a station's day series",
	Long: `Prints the ten-minute series of one local date for a station. The station may
be given by id or public code. Absent buckets print as "-".`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyDate, "date", "today", "local date: today, yesterday or YYYY-MM-DD")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	svc, store, err := openService(nil)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	id, err := svc.ResolveStation(ctx, args[0])
	if err != nil {
		return err
	}
	d, err := parseDate(historyDate, svc.Today())
	if err != nil {
		return err
	}

	series, err := svc.DayHistory(ctx, id, d)
	if err != nil {
		return fmt.Errorf("history %s %s: %w", id, d, err)
	}

	loc := store.Calendar().Location()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Station %s on %s (sealed: %v, %d snapshots, %d/%d buckets)\n",
		series.StationID, series.Date, series.Sealed, series.Snapshots, series.PresentCount(), len(series.Buckets))
	fmt.Fprintln(out, "----------------------------------------------------------")
	fmt.Fprintf(out, "%-6s  %6s  %6s  %8s  %-19s\n", "Time", "Bikes", "Docks", "Capacity", "Captured")
	fmt.Fprintln(out, "----------------------------------------------------------")
	for _, b := range series.Buckets {
		if !b.Present {
			fmt.Fprintf(out, "%-6s  %6s  %6s  %8s  %-19s\n", b.TimeOfDay, "-", "-", "-", "-")
			continue
		}
		fmt.Fprintf(out, "%-6s  %6d  %6d  %8d  %-19s\n",
			b.TimeOfDay, b.BikesAvailable, b.DocksAvailable, b.Capacity, formatTime(b.CapturedAt, loc))
	}
	return nil
}
