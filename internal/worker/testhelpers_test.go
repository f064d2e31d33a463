package worker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/parleybot/parley/internal/config"
	"github.com/parleybot/parley/internal/db/gorm"
)

// testService creates a Service backed by a temporary SQLite database.
// Routes are registered without the middleware stack so handlers can be
// exercised in isolation.
func testService(t *testing.T) *Service {
	t.Helper()

	store, err := gorm.NewStore(gorm.Config{
		Driver:   config.DriverSQLite,
		Path:     filepath.Join(t.TempDir(), "test.db"),
		MaxConns: 1,
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	svc := &Service{
		version:    "test-version",
		config:     config.Default(),
		store:      store,
		statements: gorm.NewStatementStore(store),
		router:     chi.NewRouter(),
		ctx:        ctx,
		cancel:     cancel,
		startTime:  time.Now(),
	}
	svc.setupRoutes()

	t.Cleanup(func() {
		cancel()
		_ = store.Close()
	})

	return svc
}

// createTestStatement persists a statement for handler tests.
func createTestStatement(t *testing.T, svc *Service, text, inResponseTo string, tags ...string) {
	t.Helper()

	_, err := svc.Statements().Create(context.Background(), gorm.CreateParams{
		Text:         text,
		InResponseTo: inResponseTo,
		Tags:         tags,
	})
	require.NoError(t, err)
}
