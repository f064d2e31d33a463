// Package models contains domain models for parley.
package models

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// DefaultConversation is the conversation label assigned to statements
// that were not created as part of a named conversation.
const DefaultConversation = "default"

// Statement is a recorded utterance. It may reference the text of the
// statement it was said in response to and may carry free-form tags.
type Statement struct {
	ExtraData      JSONMap  `json:"extra_data,omitempty"`
	Text           string   `json:"text"`
	Conversation   string   `json:"conversation"`
	CreatedAt      string   `json:"created_at"`
	InResponseTo   NullText `json:"in_response_to"`
	Tags           TagList  `json:"tags"`
	ID             int64    `json:"id"`
	CreatedAtEpoch int64    `json:"created_at_epoch"`

	// Confidence is a runtime-only annotation set when this statement is
	// selected as a response. It is never persisted and always reads back
	// as zero after a reload.
	Confidence float64 `json:"confidence,omitempty"`
}

// AddTags appends tags, skipping values already present.
func (s *Statement) AddTags(tags ...string) {
	for _, tag := range tags {
		if !s.HasTag(tag) {
			s.Tags = append(s.Tags, tag)
		}
	}
}

// HasTag reports whether the statement carries the given tag.
func (s *Statement) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// GetTags returns the statement's tags as a plain string slice.
func (s *Statement) GetTags() []string {
	return []string(s.Tags)
}

// ResponseText returns the in_response_to text, or "" when the
// statement is not a response.
func (s *Statement) ResponseText() string {
	if s.InResponseTo.Valid {
		return s.InResponseTo.String
	}
	return ""
}

// TagList is a custom type for handling JSON string arrays in a text column.
type TagList []string

// Dedup returns a copy with duplicate entries removed, preserving the
// order of first occurrence.
func (t TagList) Dedup() TagList {
	if len(t) < 2 {
		return t
	}
	seen := make(map[string]struct{}, len(t))
	out := make(TagList, 0, len(t))
	for _, tag := range t {
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// Scan implements sql.Scanner for TagList.
func (t *TagList) Scan(src interface{}) error {
	if src == nil {
		*t = nil
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("TagList: unsupported type %T", src)
	}

	if len(data) == 0 {
		*t = nil
		return nil
	}

	return json.Unmarshal(data, t)
}

// Value implements driver.Valuer for TagList.
func (t TagList) Value() (driver.Value, error) {
	if t == nil {
		return nil, nil
	}
	return json.Marshal(t)
}

// JSONMap is a custom type for handling free-form JSON objects in a text column.
type JSONMap map[string]interface{}

// Scan implements sql.Scanner for JSONMap.
func (j *JSONMap) Scan(src interface{}) error {
	if src == nil {
		*j = nil
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("JSONMap: unsupported type %T", src)
	}

	if len(data) == 0 {
		*j = nil
		return nil
	}

	return json.Unmarshal(data, j)
}

// Value implements driver.Valuer for JSONMap.
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// NullText is a nullable text column that serializes to JSON as a
// plain string, or null when absent. Scanning and valuing come from
// the embedded sql.NullString.
type NullText struct {
	sql.NullString
}

// MarshalJSON implements json.Marshaler.
func (n NullText) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.String)
}

// UnmarshalJSON implements json.Unmarshaler. Both null and the empty
// string map to the absent value.
func (n *NullText) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == nil || *s == "" {
		*n = NullText{}
		return nil
	}
	*n = NullText{sql.NullString{String: *s, Valid: true}}
	return nil
}

// NullString creates a NullText that is NULL for the empty string.
func NullString(s string) NullText {
	if s == "" {
		return NullText{}
	}
	return NullText{sql.NullString{String: s, Valid: true}}
}
