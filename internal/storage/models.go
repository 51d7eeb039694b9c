package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// List limits applied by the List* methods.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Product is an item observed by the extraction tool. Rows are append-only.
type Product struct {
	ID        string    `json:"id"`
	SKU       string    `json:"sku,omitempty"`
	Name      string    `json:"name"`
	Price     string    `json:"price,omitempty"`
	URL       string    `json:"url"`
	Image     string    `json:"image,omitempty"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Query logs one chat turn. Results is a snapshot of the products shown, or
// nil when there were none. Error is empty for successful turns.
type Query struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id,omitempty"`
	Query     string          `json:"query"`
	Results   json.RawMessage `json:"results"`
	LatencyMS int64           `json:"latency_ms"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type Lead struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// ClampLimit applies the default and maximum list limits.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// Records is an append-only destination for chat records that can also list
// the most recent rows. Both the SQLite Store and the Postgres sink implement
// it.
type Records interface {
	SaveQuery(ctx context.Context, q Query) error
	SaveProducts(ctx context.Context, products []Product) error
	SaveLead(ctx context.Context, l Lead) error
	ListQueries(ctx context.Context, limit int) ([]Query, error)
	ListProducts(ctx context.Context, limit int) ([]Product, error)
	ListLeads(ctx context.Context, limit int) ([]Lead, error)
}
