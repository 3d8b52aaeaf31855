// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package driver

import (
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	unitsAdded        prometheus.Counter
	equivocations     prometheus.Counter
	finalizedBlocks   prometheus.Counter
	finalizedHeight   prometheus.Gauge
	pendingVertices   prometheus.Gauge
	currentRoundExp   prometheus.Gauge
}

func newMetrics(log log.Logger, registerer prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		unitsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "highway_units_added",
			Help: "Number of units added to the DAG",
		}),
		equivocations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "highway_equivocations_detected",
			Help: "Number of equivocations detected",
		}),
		finalizedBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "highway_finalized_blocks",
			Help: "Number of blocks finalized",
		}),
		finalizedHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "highway_finalized_height",
			Help: "Height of the most recently finalized block",
		}),
		pendingVertices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "highway_pending_vertices",
			Help: "Number of vertices buffered in the synchronizer",
		}),
		currentRoundExp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "highway_round_exp",
			Help: "Current round exponent of this validator's own schedule",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.unitsAdded, m.equivocations, m.finalizedBlocks,
		m.finalizedHeight, m.pendingVertices, m.currentRoundExp,
	} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
