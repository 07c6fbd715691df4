package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ecobici-cdmx/dockarchive/internal/storage/query"
)

var (
	reportFrom         string
	reportTo           string
	reportRequirements bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize sealed partitions per station and date",
	Long: `Summarizes sealed partitions per station and date with DuckDB.
--requirements prints the memory and disk estimate for the configured scale
instead.`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportFrom, "from", "yesterday", "first date")
	reportCmd.Flags().StringVar(&reportTo, "to", "yesterday", "last date, inclusive")
	reportCmd.Flags().BoolVar(&reportRequirements, "requirements", false, "print the resource estimate and exit")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	if reportRequirements {
		req := cfg.Storage.CalculateRequirements()
		fmt.Fprint(cmd.OutOrStdout(), req.FormatRequirements())
		return nil
	}

	store, err := openStore(nil)
	if err != nil {
		return err
	}
	cal := store.Calendar()
	today := cal.Today(store.Clock().Now())
	loc := cal.Location()
	// DuckDB reads the sealed files directly
	store.Close()

	from, err := parseDate(reportFrom, today)
	if err != nil {
		return err
	}
	to, err := parseDate(reportTo, today)
	if err != nil {
		return err
	}

	q, err := query.New(cfg.Storage)
	if err != nil {
		return err
	}
	defer q.Close()

	rows, err := q.DailySummary(cmd.Context(), from, to)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-10s  %-10s  %6s  %5s  %7s  %5s  %5s  %5s  %-5s  %-5s\n",
		"Date", "Station", "N", "Min", "Avg", "Max", "Zero", "Down", "First", "Last")
	fmt.Fprintln(out, "-------------------------------------------------------------------------------")
	for _, r := range rows {
		fmt.Fprintf(out, "%-10s  %-10s  %6d  %5d  %7.2f  %5d  %5d  %5d  %-5s  %-5s\n",
			r.Date, r.StationID, r.Snapshots, r.MinBikes, r.AvgBikes, r.MaxBikes, r.ZeroBikes, r.NotRenting,
			clockTime(r.FirstMs, loc), clockTime(r.LastMs, loc))
	}
	fmt.Fprintf(out, "%d rows\n", len(rows))
	return nil
}

func clockTime(ms int64, loc *time.Location) string {
	return time.UnixMilli(ms).In(loc).Format("15:04")
}
