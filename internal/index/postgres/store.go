// Package postgres implements the index store on a Postgres table keyed by
// (catalog_key, reference).
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

	"github.com/JakeFAU/realtime-job-indexer/internal/crawler"
	"github.com/JakeFAU/realtime-job-indexer/internal/index"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	EnsureSchema    bool
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store persists indexed jobs in Postgres.
type Store struct {
	pool  pool
	table string
	now   func() time.Time
}

// New connects to Postgres using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("index.postgres.dsn is required")
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
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store, err := NewWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	if cfg.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			p.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Store, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = "indexed_jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: p, table: table, now: func() time.Time { return time.Now().UTC() }}, nil
}

// EnsureSchema creates the table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	catalog_key TEXT NOT NULL,
	reference   TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	document    JSONB NOT NULL,
	indexed_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (catalog_key, reference)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Get implements crawler.IndexStore.
func (s *Store) Get(ctx context.Context, catalogKey, reference string) (crawler.IndexedJob, bool, error) {
	query := fmt.Sprintf(`SELECT document FROM %s WHERE catalog_key = $1 AND reference = $2`, s.table)
	var raw []byte
	if err := s.pool.QueryRow(ctx, query, catalogKey, reference).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.IndexedJob{}, false, nil
		}
		return crawler.IndexedJob{}, false, fmt.Errorf("select indexed job: %w", err)
	}
	var doc index.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return crawler.IndexedJob{}, false, fmt.Errorf("decode indexed job: %w", err)
	}
	var fields map[string]any
	_ = json.Unmarshal(raw, &fields)
	return doc.Indexed(fields), true, nil
}

// Add implements crawler.IndexStore. A second add for the same reference fails
// with the unique violation from Postgres.
func (s *Store) Add(ctx context.Context, catalogKey string, record crawler.JobRecord) error {
	args, err := s.insertArgs(catalogKey, record)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, s.insertQuery(""), args...); err != nil {
		return fmt.Errorf("insert indexed job: %w", err)
	}
	return nil
}

// AddIfAbsent implements crawler.AtomicAdder.
func (s *Store) AddIfAbsent(ctx context.Context, catalogKey string, record crawler.JobRecord) (bool, error) {
	args, err := s.insertArgs(catalogKey, record)
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, s.insertQuery("ON CONFLICT (catalog_key, reference) DO NOTHING"), args...)
	if err != nil {
		return false, fmt.Errorf("insert indexed job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) insertQuery(suffix string) string {
	return fmt.Sprintf(`
INSERT INTO %s (
	catalog_key,
	reference,
	title,
	document,
	indexed_at
) VALUES (
	$1,$2,$3,$4,$5
) %s`, s.table, suffix)
}

func (s *Store) insertArgs(catalogKey string, record crawler.JobRecord) ([]any, error) {
	if record.Reference == "" {
		return nil, errors.New("reference is required")
	}
	doc := index.NewDocument(catalogKey, record, s.now())
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return []any{catalogKey, record.Reference, doc.Title, body, doc.IndexedAt}, nil
}
