// Package vector defines the nearest-neighbor store consumed by the
// retrieval assembler and the ingestion queue, plus a SQLite-backed
// implementation for single-process deployments.
package vector

import (
	"context"
	"fmt"
)

// Metadata describes a stored chunk. Conversational chunks carry Role
// and RoomID; document chunks carry DocID/DocType and either Page or
// Columns depending on the document shape.
type Metadata struct {
	Text         string   `json:"text"`
	Role         string   `json:"role,omitempty"`
	RoomID       string   `json:"room_id,omitempty"`
	IsProfile    bool     `json:"is_profile,omitempty"`
	IsPreference bool     `json:"is_preference,omitempty"`
	DocID        string   `json:"doc_id,omitempty"`
	DocType      string   `json:"doc_type,omitempty"` // "tabular" or "pages"
	Page         int      `json:"page,omitempty"`
	Columns      []string `json:"columns,omitempty"`
}

// Item is an upsert unit: one embedded chunk with its metadata.
type Item struct {
	ID       string
	Vector   []float32
	Metadata Metadata
}

// Match is a query result.
type Match struct {
	ID       string
	Score    float32
	Metadata Metadata
}

// Filter narrows a query. A nil filter matches everything.
type Filter struct {
	IsProfile *bool
	DocIDs    []string
}

// Store is the vector store interface. Upserting an existing id
// overwrites it (idempotent by id).
type Store interface {
	Upsert(ctx context.Context, namespace string, items []Item) error
	Query(ctx context.Context, namespace string, vec []float32, topK int, filter *Filter) ([]Match, error)
	DeleteByIDs(ctx context.Context, namespace string, ids []string) error
}

// UserNamespace returns the per-user namespace for conversational facts.
func UserNamespace(userID string) string {
	return fmt.Sprintf("user_%s", userID)
}

// DocsNamespace returns the derived per-user namespace for document chunks.
func DocsNamespace(userID string) string {
	return fmt.Sprintf("user_%s_docs", userID)
}
