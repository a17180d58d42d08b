// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metrics provides Prometheus instrumentation for pool
// occupancy, rollback counts, and tool latencies, per spec.md A4.
// Metrics are package-level singletons registered once at import time
// via promauto, mirroring the teacher's observability package.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "agentcore"

var (
	// PoolActive tracks how many pool instances are currently checked
	// out. It carries no labels; occupancy is read as a ratio against
	// PoolSize.
	PoolActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "active_instances",
		Help:      "Number of orchestrator instances currently acquired from the pool",
	})

	// PoolSize is the fixed pool capacity, set once at startup.
	PoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "size",
		Help:      "Configured pool size",
	})

	// RollbacksTotal counts rollbacks by the reason the orchestrator
	// passes to its rollback step (parse_error, format_error, refusal,
	// duplicate_query, tool_error).
	RollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "rollbacks_total",
			Help:      "Total rollbacks by reason",
		},
		[]string{"reason"},
	)

	// ToolCallDurationSeconds measures tool invocation latency by
	// server and tool name.
	ToolCallDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tools",
			Name:      "call_duration_seconds",
			Help:      "Tool invocation latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"server", "tool"},
	)

	// ToolCallsTotal counts tool invocations by server, tool, and
	// outcome (ok, error).
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tools",
			Name:      "calls_total",
			Help:      "Total tool invocations by outcome",
		},
		[]string{"server", "tool", "outcome"},
	)
)
