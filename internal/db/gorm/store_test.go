// Package gorm provides GORM-based database operations for parley.
package gorm

import (
	"context"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/parleybot/parley/internal/config"
)

func TestNewStore_SQLite(t *testing.T) {
	cfg := Config{
		Driver:   config.DriverSQLite,
		Path:     filepath.Join(t.TempDir(), "store.db"),
		LogLevel: logger.Silent,
	}

	store, err := NewStore(cfg)
	require.NoError(t, err)
	defer store.Close()

	assert.NoError(t, store.Ping())
	assert.Equal(t, config.DriverSQLite, store.Driver())

	// Migrations created the statements table.
	assert.True(t, store.DB.Migrator().HasTable("statements"))
}

func TestNewStore_MissingPath(t *testing.T) {
	_, err := NewStore(Config{Driver: config.DriverSQLite})
	assert.Error(t, err)
}

func TestNewStore_PostgresRequiresDSN(t *testing.T) {
	_, err := NewStore(Config{Driver: config.DriverPostgres})
	assert.Error(t, err)
}

func TestNewStore_UnknownDriver(t *testing.T) {
	_, err := NewStore(Config{Driver: "oracle", Path: "x.db"})
	assert.Error(t, err)
}

func TestNewStore_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	cfg := Config{Driver: config.DriverSQLite, Path: path, LogLevel: logger.Silent}

	store, err := NewStore(cfg)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Reopening the same file replays no migrations and succeeds.
	store, err = NewStore(cfg)
	require.NoError(t, err)
	defer store.Close()

	assert.True(t, store.DB.Migrator().HasTable("statements"))
}

func TestStore_HealthCheck(t *testing.T) {
	store, err := NewStore(Config{
		Driver:   config.DriverSQLite,
		Path:     filepath.Join(t.TempDir(), "health.db"),
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)
	defer store.Close()

	info := store.HealthCheck(context.Background())
	require.NotNil(t, info)
	assert.Contains(t, []string{"healthy", "degraded"}, info.Status)
	assert.Equal(t, config.DriverSQLite, info.Driver)
	assert.Empty(t, info.Error)
	assert.Greater(t, info.QueryLatency.Nanoseconds(), int64(0))
}

func TestStore_WithTimeout(t *testing.T) {
	store, err := NewStore(Config{
		Driver:   config.DriverSQLite,
		Path:     filepath.Join(t.TempDir(), "timeout.db"),
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)
	defer store.Close()

	ctx, done := store.WithTimeout(context.Background(), DefaultQueryTimeout, "test operation")
	defer done()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(DefaultQueryTimeout), deadline, time.Second)
}

func TestStore_TransactionRollsBackOnError(t *testing.T) {
	store, err := NewStore(Config{
		Driver:   config.DriverSQLite,
		Path:     filepath.Join(t.TempDir(), "tx.db"),
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)
	defer store.Close()

	err = store.Transaction(context.Background(), DefaultQueryTimeout, func(tx *gorm.DB) error {
		if err := tx.Create(&Statement{Text: "inside"}).Error; err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.Error(t, err)

	// The write inside the failed transaction never landed.
	var count int64
	require.NoError(t, store.DB.Model(&Statement{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestStore_TransactionCommits(t *testing.T) {
	store, err := NewStore(Config{
		Driver:   config.DriverSQLite,
		Path:     filepath.Join(t.TempDir(), "tx.db"),
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)
	defer store.Close()

	err = store.Transaction(context.Background(), DefaultQueryTimeout, func(tx *gorm.DB) error {
		return tx.Create(&Statement{Text: "inside"}).Error
	})
	require.NoError(t, err)

	var count int64
	require.NoError(t, store.DB.Model(&Statement{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestParseLimitParam(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/statements?limit=25", nil)
	assert.Equal(t, 25, ParseLimitParam(r, 100))

	r = httptest.NewRequest("GET", "/api/statements", nil)
	assert.Equal(t, 100, ParseLimitParam(r, 100))

	r = httptest.NewRequest("GET", "/api/statements?limit=bogus", nil)
	assert.Equal(t, 100, ParseLimitParam(r, 100))

	r = httptest.NewRequest("GET", "/api/statements?limit=99999", nil)
	assert.Equal(t, MaxPaginationLimit, ParseLimitParam(r, 100))
}

func TestParseOffsetParam(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/statements?offset=10", nil)
	assert.Equal(t, 10, ParseOffsetParam(r))

	r = httptest.NewRequest("GET", "/api/statements?offset=-3", nil)
	assert.Equal(t, 0, ParseOffsetParam(r))

	r = httptest.NewRequest("GET", "/api/statements", nil)
	assert.Equal(t, 0, ParseOffsetParam(r))
}

func TestParsePaginationParams(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/statements?limit=5&offset=2", nil)
	params := ParsePaginationParams(r, 50)
	assert.Equal(t, 5, params.Limit)
	assert.Equal(t, 2, params.Offset)
}
