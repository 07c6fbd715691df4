package archive

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	warmRuns     *prometheus.CounterVec
	warmStations *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		warmRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dockarchive",
			Subsystem: "warmup",
			Name:      "runs_total",
			Help:      "Warmup runs by job and outcome.",
		}, []string{"job", "outcome"}),
		warmStations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dockarchive",
			Subsystem: "warmup",
			Name:      "stations_total",
			Help:      "Stations processed by warmup jobs.",
		}, []string{"job", "result"}),
	}

	if reg == nil {
		return m, nil
	}

	for _, c := range []prometheus.Collector{m.warmRuns, m.warmStations} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
