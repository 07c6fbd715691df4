package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ecobici-cdmx/dockarchive/internal/history"
)

var (
	profileAsOf   string
	profileWindow int
	profileFilter string
	profileWeekly bool
)

var profileCmd = &cobra.Command{
	Use:   "profile <station>",
	Short: "Print a station's rolling daily profile",
	Long: `Prints per-bucket statistics over the days before --as-of. --filter restricts
the window to weekdays, weekends or a single day of the week. --weekly prints
the weekday and weekend profiles side by side.`,
	Args: cobra.ExactArgs(1),
	RunE: runProfile,
}

func init() {
	profileCmd.Flags().StringVar(&profileAsOf, "as-of", "today", "profile date; the window ends the day before")
	profileCmd.Flags().IntVar(&profileWindow, "window", 0, "window in days (0 uses the configured default)")
	profileCmd.Flags().StringVar(&profileFilter, "filter", "all", "day filter: all, weekday, weekend or a day name")
	profileCmd.Flags().BoolVar(&profileWeekly, "weekly", false, "print weekday and weekend profiles")
	rootCmd.AddCommand(profileCmd)
}

func runProfile(cmd *cobra.Command, args []string) error {
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
	asOf, err := parseDate(profileAsOf, svc.Today())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if profileWeekly {
		wp, err := svc.WeeklyProfile(ctx, id, asOf, profileWindow)
		if err != nil {
			return fmt.Errorf("weekly profile %s: %w", id, err)
		}
		printWeekly(out, wp)
		return nil
	}

	filter, err := history.ParseFilter(profileFilter)
	if err != nil {
		return err
	}
	p, err := svc.RollingProfile(ctx, id, asOf, profileWindow, filter)
	if err != nil {
		return fmt.Errorf("profile %s: %w", id, err)
	}
	printProfile(out, p)
	return nil
}

func printProfile(out io.Writer, p *history.Profile) {
	fmt.Fprintf(out, "Station %s as of %s, %d days (%s): %d matched, %d with data\n",
		p.StationID, p.AsOf, p.WindowDays, p.Filter, p.DaysMatched, p.DaysWithData)
	if n := p.LowConfidenceCount(); n > 0 {
		fmt.Fprintf(out, "%d buckets have fewer than %d samples (marked *)\n", n, p.MinDays)
	}
	fmt.Fprintln(out, "----------------------------------------------------------------")
	fmt.Fprintf(out, "%-6s  %4s  %7s  %7s  %5s  %5s  %5s  %5s\n", "Time", "N", "Mean", "StdDev", "Min", "Max", "P50", "P90")
	fmt.Fprintln(out, "----------------------------------------------------------------")
	for i := range p.Buckets {
		b := &p.Buckets[i]
		mark := " "
		if b.LowConfidence(p.MinDays) {
			mark = "*"
		}
		if b.SampleCount == 0 {
			fmt.Fprintf(out, "%-6s%s %4d  %7s  %7s  %5s  %5s  %5s  %5s\n", b.TimeOfDay, mark, 0, "-", "-", "-", "-", "-", "-")
			continue
		}
		fmt.Fprintf(out, "%-6s%s %4d  %7.2f  %7.2f  %5.0f  %5.0f  %5s  %5s\n",
			b.TimeOfDay, mark, b.SampleCount, b.Mean, b.StdDev, b.Min, b.Max, optFloat(b.P50), optFloat(b.P90))
	}
}

func printWeekly(out io.Writer, wp *history.WeeklyProfile) {
	wd, we := wp.Weekday, wp.Weekend
	fmt.Fprintf(out, "Station %s as of %s, %d days: %d weekdays with data, %d weekend days with data\n",
		wd.StationID, wd.AsOf, wd.WindowDays, wd.DaysWithData, we.DaysWithData)
	fmt.Fprintln(out, "--------------------------------------------")
	fmt.Fprintf(out, "%-6s  %7s  %4s  %7s  %4s\n", "Time", "Weekday", "N", "Weekend", "N")
	fmt.Fprintln(out, "--------------------------------------------")
	for i := range wd.Buckets {
		a, b := &wd.Buckets[i], &we.Buckets[i]
		fmt.Fprintf(out, "%-6s  %7s  %4d  %7s  %4d\n",
			a.TimeOfDay, optMean(a), a.SampleCount, optMean(b), b.SampleCount)
	}
}

func optMean(b *history.ProfileBucket) string {
	if b.SampleCount == 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f", b.Mean)
}

func optFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.0f", *v)
}
