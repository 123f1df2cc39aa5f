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
	// RelayPublishes tracks waku_publish calls issued to the relay.
	RelayPublishes = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "publishes_total",
			Help:      "Total number of messages published to the relay",
		},
		[]string{"status"}, // success, failure
	)

	// RelaySubscriptions tracks waku_subscribe/waku_unsubscribe calls.
	RelaySubscriptions = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "subscriptions_total",
			Help:      "Total number of subscribe/unsubscribe calls issued to the relay",
		},
		[]string{"action", "status"}, // subscribe/unsubscribe, success/failure
	)

	// RelayPublishLatency tracks round-trip latency of relay publish calls.
	RelayPublishLatency = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "publish_latency_seconds",
			Help:      "Relay publish round-trip latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to 8s
		},
	)

	// RelaySubscribeLatency tracks round-trip latency of relay subscribe calls.
	RelaySubscribeLatency = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "subscribe_latency_seconds",
			Help:      "Relay subscribe round-trip latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to 8s
		},
	)

	// ReconnectEvents tracks transport reconnect-supervisor state changes.
	ReconnectEvents = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "connection_events_total",
			Help:      "Total number of connection lifecycle events observed by the transport",
		},
		[]string{"event"}, // connected, disconnected, reconnected
	)

	// InboundMessages classifies every inbound payload the façade's
	// three-way decode attempt resolves it to.
	InboundMessages = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "inbound_messages_total",
			Help:      "Total number of inbound messages classified by the relay façade",
		},
		[]string{"kind"}, // request, response, error, dropped
	)
)
