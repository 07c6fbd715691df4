package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/ecobici-cdmx/dockarchive/config"
	"github.com/ecobici-cdmx/dockarchive/internal/archive"
	"github.com/ecobici-cdmx/dockarchive/internal/logging"
	"github.com/ecobici-cdmx/dockarchive/internal/storage"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/types"
)

var (
	cfgFile  string
	envFiles []string
	logLevel string
	logJSON  bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "dockarchive",
	Short: "Per-minute bikeshare station snapshot archive",
	Long: `dockarchive keeps an append-only archive of station snapshots partitioned by
local date and answers lag, day history and rolling profile queries over it.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults and environment only when empty)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files loaded before the environment is read")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log as JSON (overrides config)")
}

// setup loads configuration and initializes logging for every command.
func setup(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return err
	}

	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return err
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Logging.JSON = logJSON
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	// Command output goes to stdout, logs stay out of its way
	logging.InitWriter(os.Stderr, level, cfg.Logging.JSON)
	return nil
}

// openStore opens the archive. reg may be nil.
func openStore(reg prometheus.Registerer) (*storage.Store, error) {
	store, err := storage.Open(cfg.Storage, storage.Options{Registerer: reg})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}

// openService opens the archive and the service over it.
func openService(reg prometheus.Registerer) (*archive.Service, *storage.Store, error) {
	store, err := openStore(reg)
	if err != nil {
		return nil, nil, err
	}
	svc, err := archive.New(store, cfg, archive.Options{Registerer: reg})
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return svc, store, nil
}

// parseDate accepts "today", "yesterday" or YYYY-MM-DD relative to today.
func parseDate(s string, today types.LocalDate) (types.LocalDate, error) {
	switch strings.ToLower(s) {
	case "", "today", "hoy":
		return today, nil
	case "yesterday", "ayer":
		return today.AddDays(-1), nil
	}
	return types.ParseDate(s)
}

// formatTime renders t in the archive's timezone.
func formatTime(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(loc).Format("2006-01-02 15:04:05")
}
