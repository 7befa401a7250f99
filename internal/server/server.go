// Package server wires the duel service together and serves its HTTP API.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/mbd888/duelyard/internal/arena"
	"github.com/mbd888/duelyard/internal/arena/blocksnap"
	"github.com/mbd888/duelyard/internal/circuitbreaker"
	"github.com/mbd888/duelyard/internal/config"
	"github.com/mbd888/duelyard/internal/configstore"
	"github.com/mbd888/duelyard/internal/duel"
	"github.com/mbd888/duelyard/internal/escrow"
	"github.com/mbd888/duelyard/internal/health"
	"github.com/mbd888/duelyard/internal/logging"
	"github.com/mbd888/duelyard/internal/metrics"
	"github.com/mbd888/duelyard/internal/notify"
	"github.com/mbd888/duelyard/internal/prize"
	"github.com/mbd888/duelyard/internal/ratelimit"
	"github.com/mbd888/duelyard/internal/realtime"
	"github.com/mbd888/duelyard/internal/session"
	"github.com/mbd888/duelyard/internal/stats"
	"github.com/mbd888/duelyard/internal/syncutil"
	"github.com/mbd888/duelyard/internal/tick"
	"github.com/mbd888/duelyard/internal/traces"
)

// Version is reported by /health.
const Version = "0.1.0"

// drainTimeout bounds how long shutdown waits for duels to settle.
const drainTimeout = 15 * time.Second

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	store     configstore.Store
	players   session.Players
	sandbox   *session.MemoryPlayers // nil unless the sandbox backs players
	snapshots arena.SnapshotService

	loop        *tick.Loop
	pool        *arena.Pool
	stats       *stats.Service
	prizes      *prize.Ledger
	janitor     *prize.Janitor
	escrow      *escrow.Service
	duels       *duel.Service
	realtimeHub *realtime.Hub
	health      *health.Registry
	rateLimiter *ratelimit.Limiter

	db            *sql.DB // nil unless DATABASE_URL is set
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	traceShutdown func(context.Context) error
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithPlayers connects a game server bridge in place of the sandbox.
func WithPlayers(p session.Players) Option {
	return func(s *Server) {
		s.players = p
	}
}

// WithSnapshots sets how arena regions are captured and restored.
func WithSnapshots(snap arena.SnapshotService) Option {
	return func(s *Server) {
		s.snapshots = snap
	}
}

// WithStore overrides the store selected by configuration.
func WithStore(store configstore.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	if s.store == nil {
		store, err := s.openStore(ctx)
		if err != nil {
			return nil, err
		}
		s.store = store
	}

	// Players and world: a bridge if one was injected, otherwise the sandbox.
	if s.players == nil {
		if !cfg.Sandbox {
			return nil, errors.New("no player bridge configured and SANDBOX is off")
		}
		s.sandbox = session.NewMemoryPlayers()
		s.players = s.sandbox
		s.logger.Info("sandbox players enabled")
	}
	if s.snapshots == nil {
		s.snapshots = blocksnap.New(blocksnap.NewMemoryWorld())
	}

	// Notifications go to websocket subscribers and the debug log.
	s.realtimeHub = realtime.NewHub(s.logger)
	notifier := notify.Multi{s.realtimeHub, notify.Logger{L: s.logger}}

	s.loop = tick.New(cfg.TickRate, syncutil.NewKeyedMutex(), s.logger)

	s.pool = arena.NewPool(s.snapshots, s.store).WithLogger(s.logger)
	if err := s.pool.Load(ctx); err != nil {
		return nil, fmt.Errorf("load arenas: %w", err)
	}

	s.stats = stats.NewService(s.store).WithLogger(s.logger)
	if err := s.stats.Load(ctx); err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}

	s.prizes = prize.NewLedger(prize.NewMemoryStore(), cfg.PrizeExpiration).
		WithPresence(s.players).
		WithNotifier(notifier).
		WithLogger(s.logger)
	s.janitor = prize.NewJanitor(s.prizes, cfg.PrizePurgeInterval, cfg.PrizeReminderInterval, s.logger)

	delivery := escrow.NewDelivery(s.players, s.prizes, s.logger)
	s.escrow = escrow.NewService(s.loop, escrow.Config{
		Timeout:          cfg.BetMenuDuration,
		ReminderInterval: cfg.BetReminderInterval,
	}, delivery, s.prizes).
		WithNotifier(notifier).
		WithLogger(s.logger)

	s.duels = duel.NewService(duel.Deps{
		Loop:     s.loop,
		Pool:     s.pool,
		Escrow:   s.escrow,
		Prizes:   s.prizes,
		Stats:    s.stats,
		Players:  s.players,
		Returns:  session.NewReturnQueue(s.players, s.logger),
		Notifier: notifier,
		Logger:   s.logger,
	}, duel.Config{
		Countdown:           cfg.CountdownDuration,
		PvPGrace:            cfg.PvPGrace,
		TeleportBackDelay:   cfg.TeleportBackDelay,
		ArenaReleaseTicks:   uint64(cfg.ArenaReleaseTicks),
		RejoinTeleportTicks: duel.DefaultConfig().RejoinTeleportTicks,
	})

	s.health = health.NewRegistry()
	s.health.Register("tick_loop", health.Running("tick_loop", s.loop.Running))
	s.health.Register("realtime", health.Running("realtime", s.realtimeHub.Running))
	if pinger, ok := s.store.(interface{ Ping(context.Context) error }); ok {
		s.health.Register("store", health.Ping("store", pinger.Ping))
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	s.logger.Info("duel service configured",
		"store", cfg.StoreBackend(),
		"tick_rate", cfg.TickRate,
		"arenas", len(s.pool.List()),
		"admin", cfg.AdminSecret != "",
	)

	return s, nil
}

// openStore selects the persistence backend: Postgres when DATABASE_URL is
// set, YAML files under DATA_DIR, otherwise memory.
func (s *Server) openStore(ctx context.Context) (configstore.Store, error) {
	switch s.cfg.StoreBackend() {
	case "postgres":
		db, err := sql.Open("postgres", s.cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		store := configstore.NewPostgresStore(db)
		if err := store.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate duel store", "error", err)
		}
		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(s.cfg.DatabaseURL))
		return configstore.NewGuarded(store, circuitbreaker.New(5, 30*time.Second), s.logger), nil

	case "file":
		store, err := configstore.NewFileStore(s.cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open data dir: %w", err)
		}
		s.logger.Info("using file storage", "dir", store.Dir())
		return store, nil

	default:
		s.logger.Info("using in-memory storage (arenas and stats will not persist)")
		return configstore.NewMemoryStore(), nil
	}
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Start launches the background workers: the tick loop, the notification hub
// and the prize janitor. Run calls it; tests call it directly.
func (s *Server) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("tracing disabled", "error", err)
	} else {
		s.traceShutdown = shutdown
	}

	go s.loop.Run(runCtx)
	go s.realtimeHub.Run(runCtx)

	if err := s.janitor.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("start prize janitor: %w", err)
	}

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}
	return nil
}

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "version", Version)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.ready.Store(true)
	s.logger.Info("server ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown stops taking requests, ends every duel, then stops the workers.
// In-flight fights end without a winner and every stake is refunded.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	var errs []error

	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("http shutdown error", "error", err)
			errs = append(errs, err)
		}
		cancel()
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	if err := s.duels.Drain(drainCtx); err != nil {
		s.logger.Error("duel drain incomplete", "error", err)
		errs = append(errs, err)
	}
	cancel()

	s.janitor.Stop()
	s.loop.Stop()
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.traceShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.traceShutdown(ctx); err != nil {
			s.logger.Warn("trace exporter shutdown error", "error", err)
		}
		cancel()
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
			errs = append(errs, err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.healthy.Store(false)
	s.logger.Info("server stopped")
	return errors.Join(errs...)
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Duels returns the duel service.
func (s *Server) Duels() *duel.Service {
	return s.duels
}

// Loop returns the tick loop.
func (s *Server) Loop() *tick.Loop {
	return s.loop
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
