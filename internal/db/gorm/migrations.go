// Package gorm provides GORM-based database operations for parley.
package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: statements table with text/response/tag columns.
		{
			ID: "001_statements_table",
			Migrate: func(tx *gorm.DB) error {
				// AutoMigrate creates the table with all indexes from struct tags.
				return tx.AutoMigrate(&Statement{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("statements")
			},
		},

		// Migration 002: backfill conversation labels on rows predating
		// the conversation column default.
		{
			ID: "002_backfill_conversation",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec(
					"UPDATE statements SET conversation = 'default' WHERE conversation IS NULL OR conversation = ''",
				).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return nil
			},
		},

		// Migration 003: composite index for response lookups
		// (text of responders joined against in_response_to).
		{
			ID: "003_response_lookup_index",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec(
					"CREATE INDEX IF NOT EXISTS idx_statements_response_lookup ON statements (in_response_to, text)",
				).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec("DROP INDEX IF EXISTS idx_statements_response_lookup").Error
			},
		},
	})

	return m.Migrate()
}
