// Package postgres provides a Postgres-backed catalog store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for catalog rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// Store reads and writes catalog entries.
type Store struct {
	pool  pool
	table string
	ids   crawler.IDGenerator
}

// New creates a pooled Store using the provided config.
func New(ctx context.Context, cfg Config, ids crawler.IDGenerator) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(p, cfg.Table, ids)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string, ids crawler.IDGenerator) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if table == "" {
		table = "catalog_entries"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: p, table: table, ids: ids}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the catalog table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	source_url TEXT NOT NULL UNIQUE,
	vendor TEXT NOT NULL,
	status TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	price TEXT NOT NULL DEFAULT '',
	currency TEXT NOT NULL DEFAULT '',
	attributes JSONB NOT NULL DEFAULT '{}'::jsonb,
	last_scraped_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// GetBySourceURL loads one entry or returns crawler.ErrNotFound.
func (s *Store) GetBySourceURL(ctx context.Context, url string) (crawler.Entry, error) {
	query := fmt.Sprintf(`
SELECT id, source_url, vendor, status, title, price, currency, attributes, last_scraped_at
FROM %s
WHERE source_url = $1`, s.table)

	var (
		entry crawler.Entry
		attrs []byte
	)
	err := s.pool.QueryRow(ctx, query, url).Scan(
		&entry.ID,
		&entry.SourceURL,
		&entry.Vendor,
		&entry.Status,
		&entry.Title,
		&entry.Price,
		&entry.Currency,
		&attrs,
		&entry.LastScrapedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Entry{}, crawler.ErrNotFound
		}
		return crawler.Entry{}, fmt.Errorf("get catalog entry: %w", err)
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &entry.Attributes); err != nil {
			return crawler.Entry{}, fmt.Errorf("unmarshal attributes: %w", err)
		}
	}
	return entry, nil
}

// Create inserts a new entry.
func (s *Store) Create(ctx context.Context, data crawler.ItemData) (crawler.Entry, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return crawler.Entry{}, fmt.Errorf("generate entry id: %w", err)
	}
	attrs, err := marshalAttributes(data.Attributes)
	if err != nil {
		return crawler.Entry{}, err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	source_url,
	vendor,
	status,
	title,
	price,
	currency,
	attributes,
	last_scraped_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`, s.table)
	if _, err := s.pool.Exec(ctx, query,
		id,
		data.SourceURL,
		data.Vendor,
		string(data.Status),
		data.Title,
		data.Price,
		data.Currency,
		attrs,
		data.ScrapedAt,
	); err != nil {
		return crawler.Entry{}, fmt.Errorf("insert catalog entry: %w", err)
	}
	return toEntry(id, data), nil
}

// Update overwrites the scraped fields of an existing entry.
func (s *Store) Update(ctx context.Context, entry crawler.Entry, data crawler.ItemData) (crawler.Entry, error) {
	attrs, err := marshalAttributes(data.Attributes)
	if err != nil {
		return crawler.Entry{}, err
	}
	query := fmt.Sprintf(`
UPDATE %s
SET vendor = $2, status = $3, title = $4, price = $5, currency = $6,
	attributes = $7, last_scraped_at = $8, updated_at = now()
WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		entry.ID,
		data.Vendor,
		string(data.Status),
		data.Title,
		data.Price,
		data.Currency,
		attrs,
		data.ScrapedAt,
	)
	if err != nil {
		return crawler.Entry{}, fmt.Errorf("update catalog entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.Entry{}, crawler.ErrNotFound
	}
	data.SourceURL = entry.SourceURL
	return toEntry(entry.ID, data), nil
}

// Disable marks the entry as no longer available.
func (s *Store) Disable(ctx context.Context, entry crawler.Entry) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $2, updated_at = now() WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, entry.ID, string(crawler.StatusDisabled))
	if err != nil {
		return fmt.Errorf("disable catalog entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

func marshalAttributes(attrs map[string]string) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]string{}
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("marshal attributes: %w", err)
	}
	return data, nil
}

func toEntry(id string, data crawler.ItemData) crawler.Entry {
	return crawler.Entry{
		ID:            id,
		SourceURL:     data.SourceURL,
		Vendor:        data.Vendor,
		Status:        data.Status,
		Title:         data.Title,
		Price:         data.Price,
		Currency:      data.Currency,
		Attributes:    data.Attributes,
		LastScrapedAt: data.ScrapedAt,
	}
}
