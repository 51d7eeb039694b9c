package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ Records = (*Store)(nil)

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func stamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339)
}

func parseStamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return t, nil
}

func (s *Store) SaveQuery(ctx context.Context, q Query) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	var results sql.NullString
	if len(q.Results) > 0 && string(q.Results) != "null" {
		results = sql.NullString{String: string(q.Results), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queries (id, user_id, query, results, latency_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		q.ID, nullString(q.UserID), q.Query, results, q.LatencyMS, nullString(q.Error), stamp(q.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting query: %w", err)
	}
	return nil
}

// SaveProducts inserts all products in one transaction.
func (s *Store) SaveProducts(ctx context.Context, products []Product) error {
	if len(products) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning products transaction: %w", err)
	}
	defer tx.Rollback()

	for _, p := range products {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO products (id, sku, name, price, url, image, source, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, nullString(p.SKU), p.Name, nullString(p.Price), p.URL,
			nullString(p.Image), nullString(p.Source), stamp(p.CreatedAt),
		); err != nil {
			return fmt.Errorf("inserting product %q: %w", p.Name, err)
		}
	}
	return tx.Commit()
}

func (s *Store) SaveLead(ctx context.Context, l Lead) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO leads (id, name, phone, created_at) VALUES (?, ?, ?, ?)`,
		l.ID, l.Name, l.Phone, stamp(l.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting lead: %w", err)
	}
	return nil
}

func (s *Store) ListQueries(ctx context.Context, limit int) ([]Query, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, query, results, latency_ms, error, created_at
		FROM queries ORDER BY created_at DESC, rowid DESC LIMIT ?`, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Query
	for rows.Next() {
		var q Query
		var userID, results, errText sql.NullString
		var createdAt string
		if err := rows.Scan(&q.ID, &userID, &q.Query, &results, &q.LatencyMS, &errText, &createdAt); err != nil {
			return nil, err
		}
		q.UserID = userID.String
		q.Error = errText.String
		if results.Valid {
			q.Results = json.RawMessage(results.String)
		}
		if q.CreatedAt, err = parseStamp(createdAt); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *Store) ListProducts(ctx context.Context, limit int) ([]Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, name, price, url, image, source, created_at
		FROM products ORDER BY created_at DESC, rowid DESC LIMIT ?`, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		var sku, price, image, source sql.NullString
		var createdAt string
		if err := rows.Scan(&p.ID, &sku, &p.Name, &price, &p.URL, &image, &source, &createdAt); err != nil {
			return nil, err
		}
		p.SKU, p.Price, p.Image, p.Source = sku.String, price.String, image.String, source.String
		if p.CreatedAt, err = parseStamp(createdAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ListLeads(ctx context.Context, limit int) ([]Lead, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, created_at
		FROM leads ORDER BY created_at DESC, rowid DESC LIMIT ?`, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Lead
	for rows.Next() {
		var l Lead
		var createdAt string
		if err := rows.Scan(&l.ID, &l.Name, &l.Phone, &createdAt); err != nil {
			return nil, err
		}
		if l.CreatedAt, err = parseStamp(createdAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
