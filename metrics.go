package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics with bounded cardinality — no per-player labels
var (
	metricPlayersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arena_players_connected",
		Help: "Currently connected players",
	})

	metricConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arena_ws_connections_active",
		Help: "Currently active WebSocket connections",
	})

	metricConnectionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_connections_rejected_total",
		Help: "Connections rejected before upgrade",
	}, []string{"reason"}) // bounded: "ip_limit", "total_limit", "rate_limit"

	metricMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_messages_total",
		Help: "Client messages processed by the game loop",
	})

	metricMovesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_moves_rejected_total",
		Help: "Move proposals rejected by map validation",
	})

	metricShotsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_shots_total",
		Help: "Valid fire attempts processed",
	})

	metricHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_hits_total",
		Help: "Shots that damaged a target",
	})

	metricShotDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arena_shot_resolution_seconds",
		Help:    "Time spent resolving one shot against all candidates",
		Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1},
	})

	metricPickupsSpawned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_pickups_spawned_total",
		Help: "Ammo pickups spawned by the maintenance loop",
	})

	metricPickupsCollected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_pickups_collected_total",
		Help: "Ammo pickups collected by players",
	})

	metricPickupsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_pickups_expired_total",
		Help: "Ammo pickups removed after exceeding their TTL",
	})
)
