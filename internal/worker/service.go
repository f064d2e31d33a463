// Package worker provides the HTTP worker service for parley.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/parleybot/parley/internal/config"
	"github.com/parleybot/parley/internal/db/gorm"
	"github.com/parleybot/parley/internal/watcher"
)

const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// MaxRequestBody caps statement payloads. Statements are short
	// utterances; a megabyte is already generous.
	MaxRequestBody = 1 << 20
)

// Service is the worker service orchestrator: it owns the database
// store, the chi router and the HTTP server lifecycle.
type Service struct {
	version string
	config  *config.Config

	store      *gorm.Store
	statements *gorm.StatementStore

	router    *chi.Mux
	server    *http.Server
	startTime time.Time

	// statsFlight collapses concurrent stats aggregations into one query.
	statsFlight singleflight.Group

	// File watchers for auto-recovery
	dbWatcher     *watcher.Watcher
	configWatcher *watcher.Watcher

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
	wg     sync.WaitGroup
}

// NewService creates a worker service: it ensures the data directory,
// opens the database and wires up routes.
func NewService(version string) (*Service, error) {
	cfg := config.Get()

	if err := config.EnsureAll(); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	svc := &Service{
		version:    version,
		config:     cfg,
		store:      store,
		statements: gorm.NewStatementStore(store),
		router:     chi.NewRouter(),
		ctx:        ctx,
		cancel:     cancel,
		startTime:  time.Now(),
	}

	svc.setupMiddleware()
	svc.setupRoutes()

	return svc, nil
}

// openStore opens the configured database backend.
func openStore(cfg *config.Config) (*gorm.Store, error) {
	return gorm.NewStore(gorm.Config{
		Driver:   cfg.DBDriver,
		Path:     cfg.DBPath,
		DSN:      cfg.DatabaseURL,
		MaxConns: cfg.MaxConns,
	})
}

// setupMiddleware configures HTTP middleware.
func (s *Service) setupMiddleware() {
	s.router.Use(RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(DefaultHTTPTimeout))
	s.router.Use(middleware.RealIP)
	s.router.Use(SecurityHeaders)
	s.router.Use(MaxBodySize(MaxRequestBody))
}

// setupRoutes configures HTTP routes.
func (s *Service) setupRoutes() {
	// Health check (both root and API-prefixed for compatibility)
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/version", s.handleVersion)

	s.router.Route("/api/statements", func(r chi.Router) {
		r.Get("/", s.handleListStatements)
		r.Post("/", s.handleCreateStatement)
		r.Put("/", s.handleUpdateStatement)
		r.Delete("/", s.handleRemoveStatement)
		r.Delete("/all", s.handleDrop)
		r.Get("/count", s.handleCount)
		r.Get("/random", s.handleRandomStatement)
		r.Get("/responses", s.handleResponseStatements)
	})

	s.router.Get("/api/stats", s.handleStats)
}

// Statements returns the statement store (used by tests and embedders).
func (s *Service) Statements() *gorm.StatementStore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statements
}

// Start starts the HTTP server and the file watchers.
func (s *Service) Start() error {
	port := s.config.WorkerPort

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	s.startWatchers()

	log.Info().
		Int("port", port).
		Str("driver", s.config.DBDriver).
		Msg("Worker HTTP server started")

	return nil
}

// startWatchers initializes file watchers for the database and settings.
func (s *Service) startWatchers() {
	// Watch the SQLite database file: recreate it if deleted.
	if s.config.DBDriver == config.DriverSQLite {
		dbWatcher, err := watcher.New(s.config.DBPath, func() {
			if _, err := s.statements.Count(s.ctx); err == nil {
				return // file rewritten but still usable
			}
			log.Warn().Str("path", s.config.DBPath).Msg("Database file lost, reinitializing...")
			s.reinitializeDatabase()
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to create database watcher")
		} else if err := dbWatcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start database watcher")
		} else {
			s.dbWatcher = dbWatcher
			log.Info().Str("path", s.config.DBPath).Msg("Database file watcher started")
		}
	}

	// Watch the settings file: reload config on change.
	configPath := config.SettingsPath()
	configWatcher, err := watcher.New(configPath, func() {
		log.Warn().Str("path", configPath).Msg("Settings file changed, reloading...")
		s.reloadConfig()
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create config watcher")
	} else if err := configWatcher.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start config watcher")
	} else {
		s.configWatcher = configWatcher
		log.Info().Str("path", configPath).Msg("Settings file watcher started")
	}
}

// reinitializeDatabase recreates the database after its file vanished.
func (s *Service) reinitializeDatabase() {
	s.mu.Lock()
	oldStore := s.store
	s.mu.Unlock()

	if oldStore != nil {
		if err := oldStore.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing old database")
		}
	}

	if err := config.EnsureAll(); err != nil {
		log.Error().Err(err).Msg("Ensure data dir on reinit failed")
		return
	}

	store, err := openStore(s.config)
	if err != nil {
		log.Error().Err(err).Msg("Database reinitialization failed")
		return
	}

	s.mu.Lock()
	s.store = store
	s.statements = gorm.NewStatementStore(store)
	s.mu.Unlock()

	log.Info().Msg("Database reinitialized")
}

// reloadConfig re-reads the settings file. Changes to the port or
// database backend need a restart; log level applies immediately.
func (s *Service) reloadConfig() {
	cfg, err := config.Reload()
	if err != nil {
		log.Warn().Err(err).Msg("Settings reload failed, keeping previous configuration")
		return
	}

	applyLogLevel(cfg.LogLevel)

	if cfg.WorkerPort != s.config.WorkerPort || cfg.DBDriver != s.config.DBDriver {
		log.Warn().Msg("Port or database changes require a worker restart")
	}

	s.mu.Lock()
	s.config = cfg
	s.mu.Unlock()
}

// applyLogLevel sets the global zerolog level from a config string.
func applyLogLevel(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}

// Shutdown gracefully stops the service.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()

	if s.dbWatcher != nil {
		_ = s.dbWatcher.Stop()
	}
	if s.configWatcher != nil {
		_ = s.configWatcher.Stop()
	}

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}

	if err := s.store.Close(); err != nil {
		log.Error().Err(err).Msg("Database close error")
	}

	s.wg.Wait()

	log.Info().Msg("Worker service shutdown complete")
	return nil
}
