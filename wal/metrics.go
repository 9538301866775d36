package wal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "walcore",
		Subsystem: "wal",
		Name:      "records_total",
		Help:      "Records decoded, by resource manager.",
	}, []string{"rmgr"})
	pageCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "walcore",
		Subsystem: "wal",
		Name:      "pages_total",
		Help:      "WAL pages read from segment files.",
	})
)
