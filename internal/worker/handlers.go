// Package worker provides the HTTP worker service for parley.
package worker

import (
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/parleybot/parley/internal/db/gorm"
	"github.com/parleybot/parley/pkg/models"
)

// DefaultStatementsLimit is the default page size for statement listings.
const DefaultStatementsLimit = 100

// statementRequest is the JSON payload for create and update calls.
// Confidence is accepted for wire compatibility but never persisted.
type statementRequest struct {
	ExtraData    models.JSONMap `json:"extra_data,omitempty"`
	Text         string         `json:"text"`
	InResponseTo string         `json:"in_response_to,omitempty"`
	Conversation string         `json:"conversation,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	ID           int64          `json:"id,omitempty"`
	Confidence   float64        `json:"confidence,omitempty"`
}

// writeJSON writes a JSON response with proper error handling.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth reports service and database health.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()

	info := store.HealthCheck(r.Context())
	status := http.StatusOK
	if info.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]interface{}{
		"status":   info.Status,
		"version":  s.version,
		"database": info,
	})
}

// handleVersion returns the worker version.
func (s *Service) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// buildFilterQuery translates list query parameters into a statement query.
// Pagination and ordering are left to the caller.
func (s *Service) buildFilterQuery(r *http.Request) *gorm.StatementQuery {
	q := s.Statements().Filter(r.Context())
	params := r.URL.Query()

	if text := params.Get("text"); text != "" {
		q = q.WithText(text)
	}
	if target := params.Get("in_response_to"); target != "" {
		q = q.WithInResponseTo(target)
	}
	if params.Get("no_response") == "true" {
		q = q.WithoutResponse()
	}
	if conversation := params.Get("conversation"); conversation != "" {
		q = q.WithConversation(conversation)
	}
	if tag := params.Get("tag"); tag != "" {
		q = q.WithTag(tag)
	}

	return q
}

// handleListStatements returns statements matching the query parameters.
func (s *Service) handleListStatements(w http.ResponseWriter, r *http.Request) {
	q := s.buildFilterQuery(r)

	total, err := q.Count()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if orderBy := r.URL.Query().Get("order_by"); orderBy != "" {
		q = q.OrderBy(strings.Split(orderBy, ",")...)
	}

	page := gorm.ParsePaginationParams(r, DefaultStatementsLimit)
	results, err := q.Limit(page.Limit).Offset(page.Offset).All()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"statements": results,
		"total":      total,
		"limit":      page.Limit,
		"offset":     page.Offset,
	})
}

// handleCreateStatement persists a new statement.
func (s *Service) handleCreateStatement(w http.ResponseWriter, r *http.Request) {
	var req statementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	conversation := req.Conversation
	if conversation == "" {
		conversation = s.config.DefaultConversation
	}

	created, err := s.Statements().Create(r.Context(), gorm.CreateParams{
		Text:         req.Text,
		InResponseTo: req.InResponseTo,
		Conversation: conversation,
		Tags:         req.Tags,
		ExtraData:    req.ExtraData,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// handleUpdateStatement upserts a statement (by ID when given, by text otherwise).
func (s *Service) handleUpdateStatement(w http.ResponseWriter, r *http.Request) {
	var req statementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	updated, err := s.Statements().Update(r.Context(), &models.Statement{
		ID:           req.ID,
		Text:         req.Text,
		InResponseTo: models.NullString(req.InResponseTo),
		Conversation: req.Conversation,
		Tags:         models.TagList(req.Tags),
		ExtraData:    req.ExtraData,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// handleRemoveStatement deletes statements matching exact text.
func (s *Service) handleRemoveStatement(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("text")
	if text == "" {
		writeError(w, http.StatusBadRequest, "text query parameter is required")
		return
	}

	removed, err := s.Statements().Remove(r.Context(), text)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if removed == 0 {
		writeError(w, http.StatusNotFound, "no statement with that text")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

// handleDrop wipes the whole statement store.
func (s *Service) handleDrop(w http.ResponseWriter, r *http.Request) {
	if err := s.Statements().Drop(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Warn().Str("request_id", GetRequestID(r.Context())).Msg("Statement store dropped")
	writeJSON(w, http.StatusOK, map[string]string{"status": "dropped"})
}

// handleCount returns the total number of stored statements.
func (s *Service) handleCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.Statements().Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

// handleRandomStatement returns one arbitrarily selected statement.
func (s *Service) handleRandomStatement(w http.ResponseWriter, r *http.Request) {
	statement, err := s.Statements().GetRandom(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if statement == nil {
		writeError(w, http.StatusNotFound, "statement store is empty")
		return
	}
	writeJSON(w, http.StatusOK, statement)
}

// handleResponseStatements lists statements that other statements
// respond to, with optional pagination.
func (s *Service) handleResponseStatements(w http.ResponseWriter, r *http.Request) {
	q := s.Statements().ResponseStatements(r.Context())

	total, err := q.Count()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	page := gorm.ParsePaginationParams(r, DefaultStatementsLimit)
	results, err := q.OrderBy("id").Limit(page.Limit).Offset(page.Offset).All()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"statements": results,
		"total":      total,
	})
}

// storeStats is the aggregate served by /api/stats.
type storeStats struct {
	Conversations []string `json:"conversations"`
	Driver        string   `json:"driver"`
	Statements    int64    `json:"statements"`
	Responses     int64    `json:"responses"`
	UptimeSeconds int64    `json:"uptime_seconds"`
}

// handleStats aggregates store-wide statistics. Concurrent requests are
// collapsed into a single set of queries via singleflight.
func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	value, err, _ := s.statsFlight.Do("stats", func() (interface{}, error) {
		// Followers share the leader's result, so the queries run on
		// the service context rather than the leader's request context.
		ctx := s.ctx
		statements := s.Statements()

		total, err := statements.Count(ctx)
		if err != nil {
			return nil, err
		}
		responses, err := statements.ResponseStatements(ctx).Count()
		if err != nil {
			return nil, err
		}
		conversations, err := statements.Conversations(ctx)
		if err != nil {
			return nil, err
		}

		s.mu.RLock()
		driver := s.store.Driver()
		s.mu.RUnlock()

		return &storeStats{
			Statements:    total,
			Responses:     responses,
			Conversations: conversations,
			Driver:        driver,
			UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		}, nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, value)
}
