package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ecobici-cdmx/dockarchive/config"
	"github.com/ecobici-cdmx/dockarchive/internal/lags"
)

var (
	lagsAt      string
	lagsOffsets string
)

var lagsCmd = &cobra.Command{
	Use:   "lags <station>",
	Short: "Resolve lag features for a station",
	Long: `Resolves the station's bikes available at each offset before --at. A lag with
no snapshot inside the lookback falls back to the most recent one and is
flagged.`,
	Args: cobra.ExactArgs(1),
	RunE: runLags,
}

func init() {
	lagsCmd.Flags().StringVar(&lagsAt, "at", "", "target instant, RFC3339 (default now)")
	lagsCmd.Flags().StringVar(&lagsOffsets, "offsets", "", "comma separated offsets in minutes (default from config)")
	rootCmd.AddCommand(lagsCmd)
}

func runLags(cmd *cobra.Command, args []string) error {
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

	target := store.Clock().Now()
	if lagsAt != "" {
		target, err = time.Parse(time.RFC3339, lagsAt)
		if err != nil {
			return fmt.Errorf("parse --at: %w", err)
		}
	}

	var offsets []int
	if lagsOffsets != "" {
		offsets, err = config.ParseOffsets(lagsOffsets)
		if err != nil {
			return err
		}
	}

	res, err := svc.ResolveLags(ctx, id, target, offsets)
	if err != nil {
		return fmt.Errorf("lags %s: %w", id, err)
	}

	loc := store.Calendar().Location()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Station %s at %s (%d fallbacks)\n", res.StationID, formatTime(res.Target, loc), res.FallbackCount())
	fmt.Fprintln(out, "------------------------------------------------------------------------------")
	fmt.Fprintf(out, "%-28s  %5s  %8s  %-19s  %9s  %s\n", "Feature", "Bikes", "Capacity", "Captured", "Staleness", "Fallback")
	fmt.Fprintln(out, "------------------------------------------------------------------------------")
	for _, o := range res.Offsets() {
		l := res.Lags[o]
		fallback := ""
		if l.IsFallback {
			fallback = "yes"
		}
		fmt.Fprintf(out, "%-28s  %5d  %8d  %-19s  %9s  %s\n",
			lags.FeatureName(o), l.Value, l.Capacity, formatTime(l.CapturedAt, loc), l.Staleness().Truncate(time.Second), fallback)
	}
	return nil
}
