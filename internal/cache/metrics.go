package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	hits         *prometheus.CounterVec
	misses       *prometheus.CounterVec
	computations *prometheus.CounterVec
	failures     *prometheus.CounterVec
	evictions    prometheus.Counter
	expirations  *prometheus.CounterVec
	entries      prometheus.GaugeFunc
}

func newMetrics(reg prometheus.Registerer, entries func() float64) (*metrics, error) {
	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dockarchive",
			Subsystem: "cache",
			Name:      name,
			Help:      help,
		}, []string{"tier"})
	}

	m := &metrics{
		hits:         counter("hits_total", "Lookups answered from the cache."),
		misses:       counter("misses_total", "Lookups that had to wait for a computation."),
		computations: counter("computations_total", "Computations started."),
		failures:     counter("failures_total", "Computations that returned an error."),
		expirations:  counter("expirations_total", "Entries dropped because their TTL passed."),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dockarchive",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Entries evicted to respect the size bound.",
		}),
		entries: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "dockarchive",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Entries currently cached.",
		}, entries),
	}

	if reg == nil {
		return m, nil
	}

	for _, c := range []prometheus.Collector{m.hits, m.misses, m.computations, m.failures, m.evictions, m.expirations, m.entries} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
