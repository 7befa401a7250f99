package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/duelyard/internal/arena"
	"github.com/mbd888/duelyard/internal/auth"
	"github.com/mbd888/duelyard/internal/configstore"
	"github.com/mbd888/duelyard/internal/duel"
	"github.com/mbd888/duelyard/internal/logging"
	"github.com/mbd888/duelyard/internal/metrics"
	"github.com/mbd888/duelyard/internal/prize"
	"github.com/mbd888/duelyard/internal/ratelimit"
	"github.com/mbd888/duelyard/internal/security"
	"github.com/mbd888/duelyard/internal/stats"
	"github.com/mbd888/duelyard/internal/validation"
)

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware([]string{"*"}))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Debug("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// Player identity comes first so the limiter can bucket per player.
	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
		BurstSize:         s.cfg.RateLimitBurst,
		CleanupInterval:   ratelimit.DefaultConfig().CleanupInterval,
	})
	v1 := s.router.Group("/v1")
	v1.Use(auth.Middleware())
	if s.cfg.RateLimitRPM > 0 {
		v1.Use(s.rateLimiter.Middleware())
	}

	duelHandler := duel.NewHandler(s.duels)
	arenaHandler := arena.NewHandler(s.pool)
	statsHandler := stats.NewHandler(s.stats)
	prizeHandler := prize.NewHandler(s.prizes, s.duels.Views())

	// Public
	arenaHandler.RegisterRoutes(v1)
	statsHandler.RegisterRoutes(v1)

	// Acting as a player
	protected := v1.Group("")
	protected.Use(auth.RequirePlayer())
	duelHandler.RegisterProtectedRoutes(protected)
	prizeHandler.RegisterProtectedRoutes(protected)
	if s.sandbox != nil {
		newSandboxHandler(s.sandbox, s.duels).RegisterRoutes(protected.Group("/sandbox"))
	}

	// Admin
	admin := v1.Group("/admin")
	admin.Use(auth.RequireAdmin(s.cfg.AdminSecret))
	arenaHandler.RegisterAdminRoutes(admin)
	duelHandler.RegisterAdminRoutes(admin)
	admin.GET("/status", s.statusHandler)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.health.CheckAll(c.Request.Context())

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		if st.Healthy {
			checks[st.Name] = "healthy"
		} else {
			checks[st.Name] = "unhealthy"
		}
	}

	status, httpStatus := "healthy", http.StatusOK
	if !healthy {
		status, httpStatus = "degraded", http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() || s.duels.Draining() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	healthy, statuses := s.health.CheckAll(c.Request.Context())
	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": statuses})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": statuses})
}

// statusHandler handles GET /v1/admin/status
func (s *Server) statusHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	active, err := s.duels.ListActive(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "unavailable",
			"message": "Duel registry is busy",
		})
		return
	}

	resp := gin.H{
		"version":      Version,
		"store":        s.cfg.StoreBackend(),
		"sandbox":      s.sandbox != nil,
		"tick":         s.loop.Now(),
		"tickRate":     s.loop.Rate(),
		"pendingTasks": s.loop.Pending(),
		"activeDuels":  len(active),
		"closingDuels": s.duels.Closing(),
		"arenas":       len(s.pool.List()),
		"arenasInUse":  s.pool.InUseCount(),
		"bettingBooks": s.escrow.Len(),
		"rateBuckets":  s.rateLimiter.Len(),
		"realtime":     s.realtimeHub.Stats(),
		"janitor":      s.janitor.Running(),
	}
	if g, ok := s.store.(*configstore.Guarded); ok {
		resp["storeCircuits"] = g.Circuits()
	}
	c.JSON(http.StatusOK, resp)
}

func logError(c *gin.Context, msg string, err error) {
	logging.L(c.Request.Context()).Error(msg, "error", err)
}
