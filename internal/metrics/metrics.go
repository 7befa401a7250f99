// Package metrics provides Prometheus instrumentation for the duel service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "duelyard"

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// DuelsTotal counts duels that reached a terminal state, by outcome.
	DuelsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duels_total",
			Help:      "Total duels ended by outcome (death, forfeit, disconnect, cancelled, denied, no_arena, shutdown).",
		},
		[]string{"outcome"},
	)

	// ActiveDuels tracks duels currently in the registry.
	ActiveDuels = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_duels",
		Help:      "Number of duels currently registered.",
	})

	// ArenasInUse tracks leased arenas.
	ArenasInUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "arenas_in_use",
		Help:      "Number of arenas currently leased.",
	})

	// ArenaLeaseDuration observes time between lease and release.
	ArenaLeaseDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "arena_lease_duration_seconds",
		Help:      "Time an arena stayed leased.",
		Buckets:   []float64{10, 30, 60, 120, 300, 600, 1800},
	})

	// SnapshotFailuresTotal counts capture/restore failures.
	SnapshotFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "arena_snapshot_failures_total",
			Help:      "Arena snapshot failures by operation.",
		},
		[]string{"op"},
	)

	// EscrowFinalizedTotal counts betting escrows that committed.
	EscrowFinalizedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "escrow_finalized_total",
		Help:      "Betting escrows finalized after the commit countdown.",
	})

	// EscrowTimeoutsTotal counts betting escrows that timed out.
	EscrowTimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "escrow_timeouts_total",
		Help:      "Betting escrows that hit the bet-menu timeout.",
	})

	// EscrowCommitAbortsTotal counts commit countdowns cancelled by a change.
	EscrowCommitAbortsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "escrow_commit_aborts_total",
		Help:      "Commit countdowns aborted by an item change or unconfirm.",
	})

	// PrizesCreditedTotal counts prize batches by source.
	PrizesCreditedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prizes_credited_total",
			Help:      "Prize batches credited by source.",
		},
		[]string{"source"},
	)

	// PrizesPurgedTotal counts expired prize batches removed.
	PrizesPurgedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "prizes_purged_total",
		Help:      "Expired prize batches purged.",
	})

	// PrizeReconcileFailuresTotal counts rejected withdrawals.
	PrizeReconcileFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "prize_reconcile_failures_total",
		Help:      "Prize withdrawals rejected because the ledger could not account for them.",
	})

	// TimerCallbacksTotal counts tick callbacks executed.
	TimerCallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "timer_callbacks_total",
		Help:      "Tick loop callbacks executed.",
	})

	// TimerPanicsTotal counts recovered tick callback panics.
	TimerPanicsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "timer_panics_total",
		Help:      "Tick loop callbacks that panicked and were recovered.",
	})

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_websocket_clients",
		Help:      "Number of currently connected WebSocket clients.",
	})

	// StoreSaveFailuresTotal counts best-effort persistence failures.
	StoreSaveFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_save_failures_total",
			Help:      "ConfigStore save failures after retries, by record kind.",
		},
		[]string{"kind"},
	)

	// RateLimitedTotal counts requests rejected by the per-player limiter.
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Requests rejected with 429.",
	})

	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_open_connections",
		Help:      "Number of open database connections.",
	})

	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_in_use_connections",
		Help:      "Number of database connections in use.",
	})

	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "goroutines",
		Help:      "Number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		DuelsTotal,
		ActiveDuels,
		ArenasInUse,
		ArenaLeaseDuration,
		SnapshotFailuresTotal,
		EscrowFinalizedTotal,
		EscrowTimeoutsTotal,
		EscrowCommitAbortsTotal,
		PrizesCreditedTotal,
		PrizesPurgedTotal,
		PrizeReconcileFailuresTotal,
		TimerCallbacksTotal,
		TimerPanicsTotal,
		ActiveWebSocketClients,
		StoreSaveFailuresTotal,
		RateLimitedTotal,
		DBOpenConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and the goroutine
// count. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // route pattern keeps cardinality bounded
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus handler for /metrics.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
