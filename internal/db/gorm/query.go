// Package gorm provides GORM-based database operations for parley.
package gorm

import (
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/parleybot/parley/pkg/models"
)

// orderableColumns is the whitelist of columns accepted by OrderBy.
// Keeps caller-supplied field names out of raw SQL.
var orderableColumns = map[string]bool{
	"id":               true,
	"text":             true,
	"in_response_to":   true,
	"conversation":     true,
	"created_at":       true,
	"created_at_epoch": true,
}

// StatementQuery is a lazily evaluated, chainable query over statements.
//
// Builder methods return a new query and never touch the database;
// evaluation happens in the terminal methods (Count, First, At, All,
// Exists). A builder error (for example an unknown order column) is
// carried along and surfaced by whichever terminal runs first.
type StatementQuery struct {
	tx  *gorm.DB
	err error
}

// newStatementQuery builds a query rooted at the statements table.
// The Session call makes every chained call clone-safe.
func newStatementQuery(db *gorm.DB) *StatementQuery {
	return &StatementQuery{tx: db.Model(&Statement{}).Session(&gorm.Session{})}
}

// clone wraps tx in a fresh chain-safe query.
func (q *StatementQuery) clone(tx *gorm.DB) *StatementQuery {
	return &StatementQuery{tx: tx.Session(&gorm.Session{}), err: q.err}
}

// fail returns a copy of the query poisoned with err.
func (q *StatementQuery) fail(err error) *StatementQuery {
	return &StatementQuery{tx: q.tx, err: err}
}

// WithText narrows the query to statements with exactly the given text.
func (q *StatementQuery) WithText(text string) *StatementQuery {
	return q.clone(q.tx.Where("text = ?", text))
}

// WithInResponseTo narrows the query to statements responding to the
// given text.
func (q *StatementQuery) WithInResponseTo(text string) *StatementQuery {
	return q.clone(q.tx.Where("in_response_to = ?", text))
}

// WithoutResponse narrows the query to statements that are not a
// response to anything (in_response_to IS NULL).
func (q *StatementQuery) WithoutResponse() *StatementQuery {
	return q.clone(q.tx.Where("in_response_to IS NULL"))
}

// WithConversation narrows the query to one conversation label.
func (q *StatementQuery) WithConversation(conversation string) *StatementQuery {
	return q.clone(q.tx.Where("conversation = ?", conversation))
}

// WithTag narrows the query to statements carrying the given tag.
// Tags are stored as a JSON array, so this matches the quoted element.
func (q *StatementQuery) WithTag(tag string) *StatementQuery {
	pattern := "%" + `"` + strings.ReplaceAll(tag, `"`, `""`) + `"` + "%"
	return q.clone(q.tx.Where("tags LIKE ?", pattern))
}

// OrderBy applies ordering by the named columns. A leading "-" selects
// descending order, mirroring the order_by convention of the HTTP API.
func (q *StatementQuery) OrderBy(fields ...string) *StatementQuery {
	tx := q.tx
	for _, field := range fields {
		column := field
		desc := false
		if strings.HasPrefix(field, "-") {
			column = field[1:]
			desc = true
		}
		if !orderableColumns[column] {
			return q.fail(fmt.Errorf("cannot order by %q", field))
		}
		if desc {
			column += " DESC"
		}
		tx = tx.Order(column)
	}
	return q.clone(tx)
}

// Limit caps the number of rows the query returns.
func (q *StatementQuery) Limit(n int) *StatementQuery {
	return q.clone(q.tx.Limit(n))
}

// Offset skips the first n rows.
func (q *StatementQuery) Offset(n int) *StatementQuery {
	return q.clone(q.tx.Offset(n))
}

// Count evaluates the query and returns the number of matching rows.
func (q *StatementQuery) Count() (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	var count int64
	if err := q.tx.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count statements: %w", err)
	}
	return count, nil
}

// First evaluates the query and returns the first matching statement
// under the current ordering, or nil, nil when nothing matches.
func (q *StatementQuery) First() (*models.Statement, error) {
	return q.At(0)
}

// At evaluates the query and returns the i-th matching statement, or
// nil, nil when the index is out of range.
func (q *StatementQuery) At(i int) (*models.Statement, error) {
	if q.err != nil {
		return nil, q.err
	}
	if i < 0 {
		return nil, fmt.Errorf("negative statement index %d", i)
	}
	var rows []Statement
	if err := q.tx.Offset(i).Limit(1).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("fetch statement: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return toModelStatement(&rows[0]), nil
}

// All evaluates the query and returns every matching statement.
func (q *StatementQuery) All() ([]*models.Statement, error) {
	if q.err != nil {
		return nil, q.err
	}
	var rows []Statement
	if err := q.tx.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("fetch statements: %w", err)
	}
	return toModelStatements(rows), nil
}

// Exists evaluates the query and reports whether any row matches.
func (q *StatementQuery) Exists() (bool, error) {
	if q.err != nil {
		return false, q.err
	}
	var rows []Statement
	if err := q.tx.Select("id").Limit(1).Find(&rows).Error; err != nil {
		return false, fmt.Errorf("check statement exists: %w", err)
	}
	return len(rows) > 0, nil
}
