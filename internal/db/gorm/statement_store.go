// Package gorm provides GORM-based database operations for parley.
package gorm

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/parleybot/parley/pkg/models"
)

// StatementStore provides statement persistence using GORM.
// It is the storage adapter consumed by the chatbot logic and the
// worker HTTP handlers.
type StatementStore struct {
	store *Store
}

// NewStatementStore creates a new statement store.
func NewStatementStore(store *Store) *StatementStore {
	return &StatementStore{store: store}
}

// CreateParams holds the fields for creating a statement.
type CreateParams struct {
	ExtraData    models.JSONMap
	Text         string
	InResponseTo string
	Conversation string
	Tags         []string
}

// Create persists a new statement and returns it with its assigned ID.
// Duplicate tags are collapsed before the row is written.
func (s *StatementStore) Create(ctx context.Context, params CreateParams) (*models.Statement, error) {
	if params.Text == "" {
		return nil, fmt.Errorf("statement text must not be empty")
	}

	row := &Statement{
		Text:         params.Text,
		InResponseTo: models.NullString(params.InResponseTo),
		Conversation: params.Conversation,
		Tags:         models.TagList(params.Tags),
		ExtraData:    params.ExtraData,
	}

	if err := s.store.DB.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("create statement: %w", err)
	}

	return toModelStatement(row), nil
}

// Update writes statement back to the store.
//
// When the statement has an ID it is saved in place. Otherwise the
// first row with matching text is updated and a new row is created
// when no match exists. On the text-match path tags merge with the
// stored row and fields the caller left empty keep their stored
// values. Confidence is never persisted.
func (s *StatementStore) Update(ctx context.Context, st *models.Statement) (*models.Statement, error) {
	if st == nil || st.Text == "" {
		return nil, fmt.Errorf("statement text must not be empty")
	}

	if st.ID != 0 {
		return s.updateByID(ctx, st)
	}

	// The read-merge-write runs in one transaction so a concurrent
	// writer cannot slip between the text match and the save.
	var row Statement
	err := s.store.Transaction(ctx, DefaultQueryTimeout, func(tx *gorm.DB) error {
		err := tx.Where("text = ?", st.Text).First(&row).Error
		if err == gorm.ErrRecordNotFound {
			row = Statement{
				Text:         st.Text,
				InResponseTo: st.InResponseTo,
				Conversation: st.Conversation,
				Tags:         st.Tags,
				ExtraData:    st.ExtraData,
			}
			return tx.Create(&row).Error
		}
		if err != nil {
			return err
		}

		// Sparse updates leave the stored supplemental fields alone;
		// only values the caller actually set overwrite the row.
		if st.InResponseTo.Valid {
			row.InResponseTo = st.InResponseTo
		}
		if st.Conversation != "" {
			row.Conversation = st.Conversation
		}
		if st.ExtraData != nil {
			row.ExtraData = st.ExtraData
		}

		// Tags merge: existing tags survive, new ones append.
		merged := append(models.TagList{}, row.Tags...)
		merged = append(merged, st.Tags...)
		row.Tags = merged.Dedup()

		return tx.Save(&row).Error
	})
	if err != nil {
		return nil, fmt.Errorf("upsert statement: %w", err)
	}

	return toModelStatement(&row), nil
}

// updateByID saves the statement row identified by st.ID.
func (s *StatementStore) updateByID(ctx context.Context, st *models.Statement) (*models.Statement, error) {
	row := &Statement{
		ID:             st.ID,
		Text:           st.Text,
		InResponseTo:   st.InResponseTo,
		Conversation:   st.Conversation,
		Tags:           st.Tags,
		ExtraData:      st.ExtraData,
		CreatedAt:      st.CreatedAt,
		CreatedAtEpoch: st.CreatedAtEpoch,
	}

	// Save runs the BeforeSave hook, so tags are deduplicated here too.
	if err := s.store.DB.WithContext(ctx).Save(row).Error; err != nil {
		return nil, fmt.Errorf("update statement %d: %w", st.ID, err)
	}

	return toModelStatement(row), nil
}

// GetByID retrieves a statement by primary key. Returns nil, nil when absent.
func (s *StatementStore) GetByID(ctx context.Context, id int64) (*models.Statement, error) {
	var row Statement
	err := s.store.DB.WithContext(ctx).First(&row, id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toModelStatement(&row), nil
}

// Filter returns a lazy, chainable query over all statements.
// Nothing touches the database until a terminal method runs.
func (s *StatementStore) Filter(ctx context.Context) *StatementQuery {
	return newStatementQuery(s.store.DB.WithContext(ctx))
}

// Remove deletes every statement with exactly the given text and
// returns the number of rows removed.
func (s *StatementStore) Remove(ctx context.Context, text string) (int64, error) {
	ctx, done := s.store.WithTimeout(ctx, SlowQueryTimeout, "remove statements")
	defer done()

	result := s.store.DB.WithContext(ctx).
		Where("text = ?", text).
		Delete(&Statement{})
	if result.Error != nil {
		return 0, fmt.Errorf("remove statement: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Count returns the total number of stored statements.
func (s *StatementStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.store.DB.WithContext(ctx).Model(&Statement{}).Count(&count).Error
	return count, err
}

// GetRandom returns one arbitrarily selected statement, or nil, nil
// when the store is empty. RANDOM() is understood by both backends.
func (s *StatementStore) GetRandom(ctx context.Context) (*models.Statement, error) {
	var rows []Statement
	err := s.store.DB.WithContext(ctx).
		Order("RANDOM()").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get random statement: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return toModelStatement(&rows[0]), nil
}

// ResponseStatements returns a query over statements whose text appears
// as the in_response_to target of some other statement.
func (s *StatementStore) ResponseStatements(ctx context.Context) *StatementQuery {
	q := newStatementQuery(s.store.DB.WithContext(ctx))
	return q.clone(q.tx.Where(
		"text IN (SELECT DISTINCT in_response_to FROM statements WHERE in_response_to IS NOT NULL)",
	))
}

// Conversations returns the distinct conversation labels in use,
// alphabetically ordered.
func (s *StatementStore) Conversations(ctx context.Context) ([]string, error) {
	var names []string
	err := s.store.DB.WithContext(ctx).
		Model(&Statement{}).
		Distinct("conversation").
		Order("conversation").
		Pluck("conversation", &names).Error
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return names, nil
}

// Drop wipes all persisted statements. The schema stays in place.
func (s *StatementStore) Drop(ctx context.Context) error {
	ctx, done := s.store.WithTimeout(ctx, SlowQueryTimeout, "drop statements")
	defer done()

	if err := s.store.DB.WithContext(ctx).Exec("DELETE FROM statements").Error; err != nil {
		return fmt.Errorf("drop statements: %w", err)
	}
	return nil
}
