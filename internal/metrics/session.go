// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.


package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PairingsCreated tracks pairing proposals settled or rejected.
	PairingsCreated = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pairings",
			Name:      "settled_total",
			Help:      "Total number of pairings settled or rejected",
		},
		[]string{"status"}, // settled, rejected
	)

	// PairingsActive tracks currently settled pairings.
	PairingsActive = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pairings",
			Name:      "active",
			Help:      "Number of currently settled pairings",
		},
	)

	// PairingsDeleted tracks pairing deletions, including expiry sweeps.
	PairingsDeleted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pairings",
			Name:      "deleted_total",
			Help:      "Total number of pairings deleted",
		},
		[]string{"reason"}, // user, peer, expired
	)

	// SessionsCreated tracks sessions settled or rejected.
	SessionsCreated = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "settled_total",
			Help:      "Total number of sessions settled or rejected",
		},
		[]string{"status"}, // settled, rejected
	)

	// SessionsActive tracks currently settled sessions
	SessionsActive = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Number of currently settled sessions",
		},
	)

	// SessionsExpired tracks sessions reclaimed by the expiry sweeper
	SessionsExpired = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "expired_total",
			Help:      "Total number of sessions reclaimed by the expiry sweeper",
		},
	)

	// SessionsDeleted tracks session deletions, including expiry sweeps.
	SessionsDeleted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "deleted_total",
			Help:      "Total number of sessions deleted",
		},
		[]string{"reason"}, // user, peer, expired
	)

	// SessionRequestDuration tracks session_payload round-trip duration.
	SessionRequestDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "request_duration_seconds",
			Help:      "session_payload request/response round-trip duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15), // 0.1ms to 1.6s
		},
		[]string{"method"},
	)
)
