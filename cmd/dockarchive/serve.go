package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ecobici-cdmx/dockarchive/internal/logging"
	"github.com/ecobici-cdmx/dockarchive/internal/scheduler"
	"github.com/ecobici-cdmx/dockarchive/internal/storage/retention"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the archive daemon",
	Long: `Opens the archive, runs the sealer, warmup and retention jobs in the archive's
timezone and exposes Prometheus metrics until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logging.Component("serve")
	log.Info("dockarchive starting", "version", Version, "data_dir", cfg.Storage.DataDir)

	req := cfg.Storage.CalculateRequirements()
	log.Info("resource estimate",
		"stations", cfg.Storage.Scale.Stations,
		"snapshots_per_day", req.SnapshotsPerDay,
		"ram_bytes", req.TotalRAMBytes,
		"parquet_bytes_per_day", req.ParquetBytesPerDay,
		"retained_bytes", req.RetainedBytes)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc, store, err := openService(reg)
	if err != nil {
		return err
	}
	defer store.Close()

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		cleaner := retention.New(store, cfg.Storage.Retention.KeepDays)
		sched, err = scheduler.New(scheduler.BuildJobs(cfg, store, svc, cleaner), scheduler.Options{
			Location:     store.Calendar().Location(),
			DrainTimeout: cfg.Server.DrainTimeout(),
			Registerer:   reg,
		})
		if err != nil {
			return err
		}
		if err := sched.Start(); err != nil {
			return err
		}
	} else {
		log.Info("scheduler disabled")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	srv := &http.Server{
		Addr:              cfg.Server.MetricsListen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("metrics listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case err = <-errc:
		log.Error("metrics server failed", "error", err)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.DrainTimeout())
	defer cancel()

	if sched != nil {
		sched.StopWithContext(drainCtx)
	}
	if shutdownErr := srv.Shutdown(drainCtx); shutdownErr != nil {
		log.Warn("metrics server shutdown", "error", shutdownErr)
	}

	st := svc.Stats()
	log.Info("dockarchive stopped",
		"appended", st.Store.Appended,
		"open_partitions", st.Store.OpenPartitions,
		"cache_entries", st.Cache.Entries)
	return err
}
