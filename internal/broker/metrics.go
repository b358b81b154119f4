// Copyright 2026 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package broker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	invocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "turret_invocations_total",
		Help: "Invoke envelopes processed by the broker, by outcome.",
	}, []string{"result"})

	replayRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "turret_replay_rejections_total",
		Help: "Envelopes rejected by the replay cache, either as replays or outside the window.",
	})

	activeRepeaters = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "turret_active_repeaters",
		Help: "Repeaters currently holding a live registered session.",
	})

	pendingRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "turret_pending_requests",
		Help: "Invoke requests forwarded to a repeater awaiting a reply.",
	})
)
