// Package gorm provides GORM-based database operations for parley.
package gorm

import (
	"time"

	"gorm.io/gorm"

	"github.com/parleybot/parley/pkg/models"
)

// Statement is the GORM model for a stored statement.
//
// There is deliberately no confidence column: confidence is a runtime
// annotation on the domain model and is excluded from the persisted
// projection.
type Statement struct {
	ExtraData      models.JSONMap  `gorm:"type:text"`
	Text           string          `gorm:"type:text;index:idx_statements_text;not null"`
	Conversation   string          `gorm:"type:text;default:'default';index:idx_statements_conversation;not null"`
	CreatedAt      string          `gorm:"not null"`
	Tags           models.TagList  `gorm:"type:text"`
	InResponseTo   models.NullText `gorm:"type:text;index:idx_statements_in_response_to"`
	ID             int64           `gorm:"primaryKey;autoIncrement"`
	CreatedAtEpoch int64           `gorm:"index:idx_statements_created,sort:desc;not null"`
}

func (Statement) TableName() string { return "statements" }

// BeforeSave hook deduplicates tags and stamps timestamps.
// Runs on both create and update so a tag list can never persist duplicates.
func (s *Statement) BeforeSave(tx *gorm.DB) error {
	s.Tags = s.Tags.Dedup()
	if s.Conversation == "" {
		s.Conversation = models.DefaultConversation
	}
	if s.CreatedAtEpoch == 0 {
		s.CreatedAtEpoch = time.Now().UnixMilli()
	}
	if s.CreatedAt == "" {
		s.CreatedAt = time.Now().Format(time.RFC3339)
	}
	return nil
}

// toModelStatement converts a GORM row to the domain model.
// Confidence is intentionally left at zero.
func toModelStatement(s *Statement) *models.Statement {
	return &models.Statement{
		ID:             s.ID,
		Text:           s.Text,
		InResponseTo:   s.InResponseTo,
		Conversation:   s.Conversation,
		Tags:           s.Tags,
		ExtraData:      s.ExtraData,
		CreatedAt:      s.CreatedAt,
		CreatedAtEpoch: s.CreatedAtEpoch,
	}
}

// toModelStatements converts a slice of GORM rows to domain models.
func toModelStatements(rows []Statement) []*models.Statement {
	out := make([]*models.Statement, len(rows))
	for i := range rows {
		out[i] = toModelStatement(&rows[i])
	}
	return out
}
