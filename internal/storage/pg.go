package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS products (
	id TEXT PRIMARY KEY,
	sku TEXT,
	name TEXT NOT NULL,
	price TEXT,
	url TEXT NOT NULL,
	image TEXT,
	source TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS queries (
	id TEXT PRIMARY KEY,
	user_id TEXT,
	query TEXT NOT NULL,
	results JSONB,
	latency_ms BIGINT NOT NULL DEFAULT 0,
	error TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS leads (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	phone TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_queries_created_at ON queries(created_at);
CREATE INDEX IF NOT EXISTS idx_products_created_at ON products(created_at);
CREATE INDEX IF NOT EXISTS idx_leads_created_at ON leads(created_at);
`

// PG writes chat records to Postgres (e.g. Supabase).
type PG struct {
	pool *pgxpool.Pool
}

var _ Records = (*PG)(nil)

// OpenPG connects to dsn, verifies the connection and creates the record
// tables if needed.
func OpenPG(ctx context.Context, dsn string) (*PG, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	if cfg.MaxConns < 2 {
		cfg.MaxConns = 2
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating postgres schema: %w", err)
	}
	return &PG{pool: pool}, nil
}

func (p *PG) Close() {
	p.pool.Close()
}

func pgTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func pgText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (p *PG) SaveQuery(ctx context.Context, q Query) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	var results *string
	if len(q.Results) > 0 && string(q.Results) != "null" {
		r := string(q.Results)
		results = &r
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO queries (id, user_id, query, results, latency_ms, error, created_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7)`,
		q.ID, pgText(q.UserID), q.Query, results, q.LatencyMS, pgText(q.Error), pgTime(q.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting query: %w", err)
	}
	return nil
}

// SaveProducts queues one insert per product and sends them as a batch.
func (p *PG) SaveProducts(ctx context.Context, products []Product) error {
	if len(products) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, pr := range products {
		if pr.ID == "" {
			pr.ID = uuid.NewString()
		}
		b.Queue(`
			INSERT INTO products (id, sku, name, price, url, image, source, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING`,
			pr.ID, pgText(pr.SKU), pr.Name, pgText(pr.Price), pr.URL,
			pgText(pr.Image), pgText(pr.Source), pgTime(pr.CreatedAt),
		)
	}
	br := p.pool.SendBatch(ctx, b)
	for range products {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("inserting products: %w", err)
		}
	}
	return br.Close()
}

func (p *PG) SaveLead(ctx context.Context, l Lead) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	_, err := p.pool.Exec(ctx, `INSERT INTO leads (id, name, phone, created_at) VALUES ($1, $2, $3, $4)`,
		l.ID, l.Name, l.Phone, pgTime(l.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting lead: %w", err)
	}
	return nil
}

func (p *PG) ListQueries(ctx context.Context, limit int) ([]Query, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, query, results::text, latency_ms, error, created_at
		FROM queries ORDER BY created_at DESC LIMIT $1`, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Query
	for rows.Next() {
		var q Query
		var userID, results, errText *string
		if err := rows.Scan(&q.ID, &userID, &q.Query, &results, &q.LatencyMS, &errText, &q.CreatedAt); err != nil {
			return nil, err
		}
		if userID != nil {
			q.UserID = *userID
		}
		if errText != nil {
			q.Error = *errText
		}
		if results != nil {
			q.Results = json.RawMessage(*results)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (p *PG) ListProducts(ctx context.Context, limit int) ([]Product, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, COALESCE(sku, ''), name, COALESCE(price, ''), url,
			COALESCE(image, ''), COALESCE(source, ''), created_at
		FROM products ORDER BY created_at DESC LIMIT $1`, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var pr Product
		if err := rows.Scan(&pr.ID, &pr.SKU, &pr.Name, &pr.Price, &pr.URL, &pr.Image, &pr.Source, &pr.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

func (p *PG) ListLeads(ctx context.Context, limit int) ([]Lead, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, name, phone, created_at
		FROM leads ORDER BY created_at DESC LIMIT $1`, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Lead
	for rows.Next() {
		var l Lead
		if err := rows.Scan(&l.ID, &l.Name, &l.Phone, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
