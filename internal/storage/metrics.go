package storage

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Append results, used as the "result" label.
const (
	resultAccepted   = "accepted"
	resultDuplicate  = "duplicate"
	resultOutOfOrder = "out_of_order"
	resultSealed     = "sealed"
	resultInvalid    = "invalid"
	resultError      = "error"
)

type metrics struct {
	appends       *prometheus.CounterVec
	seals         prometheus.Counter
	sealedLoads   *prometheus.CounterVec
	walCorrupt    prometheus.Counter
	openSnapshots prometheus.GaugeFunc
}

func newMetrics(reg prometheus.Registerer, openSnapshots func() float64) (*metrics, error) {
	m := &metrics{
		appends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dockarchive",
			Subsystem: "store",
			Name:      "appends_total",
			Help:      "Snapshot appends by result.",
		}, []string{"result"}),
		seals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dockarchive",
			Subsystem: "store",
			Name:      "partitions_sealed_total",
			Help:      "Partitions converted from WAL to Parquet.",
		}),
		sealedLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dockarchive",
			Subsystem: "store",
			Name:      "sealed_partition_lookups_total",
			Help:      "Sealed partition lookups by cache outcome.",
		}, []string{"outcome"}),
		walCorrupt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dockarchive",
			Subsystem: "store",
			Name:      "wal_corrupt_records_total",
			Help:      "WAL records skipped during recovery.",
		}),
		openSnapshots: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "dockarchive",
			Subsystem: "store",
			Name:      "open_snapshots",
			Help:      "Snapshots held in open partitions.",
		}, openSnapshots),
	}

	if reg == nil {
		return m, nil
	}

	for _, c := range []prometheus.Collector{m.appends, m.seals, m.sealedLoads, m.walCorrupt, m.openSnapshots} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
