// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/wrc-harvester/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	CasesTable      string        `mapstructure:"cases_table"`
	NormalizedTable string        `mapstructure:"normalized_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// EnsureSchema creates the tables when they are missing.
	EnsureSchema bool `mapstructure:"ensure_schema"`
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// CaseStore implements crawler.CaseStore and crawler.NormalizedStore on
// Postgres.
type CaseStore struct {
	pool            pool
	casesTable      string
	normalizedTable string
}

// New creates a Postgres-backed CaseStore using the provided config.
func New(ctx context.Context, cfg Config) (*CaseStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("metadata.postgres.dsn is required")
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
	store, err := NewWithPool(p, cfg.CasesTable, cfg.NormalizedTable)
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
func NewWithPool(p pool, casesTable, normalizedTable string) (*CaseStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if casesTable == "" {
		casesTable = "cases"
	}
	if normalizedTable == "" {
		normalizedTable = "cases_normalized"
	}
	for _, table := range []string{casesTable, normalizedTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &CaseStore{pool: p, casesTable: casesTable, normalizedTable: normalizedTable}, nil
}

// Close releases the underlying pool resources.
func (s *CaseStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates both tables if they do not exist.
func (s *CaseStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	natural_key      TEXT PRIMARY KEY,
	ref_number       TEXT,
	url              TEXT NOT NULL,
	published_date   TEXT NOT NULL DEFAULT '',
	partition_date   TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	storage_location TEXT,
	content_hash     TEXT,
	attachment_urls  TEXT[] NOT NULL DEFAULT '{}',
	category_filters TEXT[] NOT NULL DEFAULT '{}',
	harvested_at     TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS %[2]s (
	ref_number       TEXT PRIMARY KEY,
	url              TEXT NOT NULL,
	published_date   TEXT NOT NULL,
	partition_date   TEXT NOT NULL,
	description      TEXT NOT NULL,
	category_filters TEXT[] NOT NULL,
	storage_location TEXT NOT NULL,
	content_hash     TEXT NOT NULL,
	attachments      TEXT[] NOT NULL,
	harvested_at     TIMESTAMPTZ NOT NULL,
	processed_at     TIMESTAMPTZ NOT NULL
);`, s.casesTable, s.normalizedTable)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// UpsertCase inserts rec or merges it into the row sharing its natural key.
// Scalars are overwritten, category filters unioned, and empty storage
// fields never clear a stored value.
func (s *CaseStore) UpsertCase(ctx context.Context, rec crawler.CaseRecord) error {
	query := fmt.Sprintf(`
INSERT INTO %[1]s (
	natural_key,
	ref_number,
	url,
	published_date,
	partition_date,
	description,
	storage_location,
	content_hash,
	attachment_urls,
	category_filters,
	harvested_at
) VALUES (
	$1, NULLIF($2, ''), $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11
)
ON CONFLICT (natural_key) DO UPDATE SET
	ref_number = COALESCE(EXCLUDED.ref_number, %[1]s.ref_number),
	url = EXCLUDED.url,
	published_date = EXCLUDED.published_date,
	partition_date = EXCLUDED.partition_date,
	description = EXCLUDED.description,
	storage_location = COALESCE(EXCLUDED.storage_location, %[1]s.storage_location),
	content_hash = COALESCE(EXCLUDED.content_hash, %[1]s.content_hash),
	attachment_urls = CASE
		WHEN cardinality(EXCLUDED.attachment_urls) > 0 THEN EXCLUDED.attachment_urls
		ELSE %[1]s.attachment_urls
	END,
	category_filters = ARRAY(
		SELECT DISTINCT unnest(%[1]s.category_filters || EXCLUDED.category_filters) ORDER BY 1
	),
	harvested_at = EXCLUDED.harvested_at`, s.casesTable)

	field, value := rec.NaturalKey()
	args := []any{
		naturalKey(field, value),
		strings.TrimSpace(rec.RefNumber),
		rec.URL,
		rec.PublishedDate,
		rec.PartitionDate,
		rec.Description,
		rec.StorageLocation,
		rec.ContentHash,
		rec.AttachmentURLs.Sorted(),
		rec.CategoryFilters.Sorted(),
		rec.HarvestedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return crawler.StorageBackend("upsert case", err)
	}
	return nil
}

// CasesByPublishedDate returns stored records that have a storage location
// and whose published date parses inside window.
func (s *CaseStore) CasesByPublishedDate(ctx context.Context, window crawler.DateRange) ([]crawler.CaseRecord, error) {
	query := fmt.Sprintf(`
SELECT
	COALESCE(ref_number, ''),
	url,
	published_date,
	partition_date,
	description,
	storage_location,
	COALESCE(content_hash, ''),
	attachment_urls,
	category_filters,
	harvested_at
FROM %s
WHERE storage_location IS NOT NULL
ORDER BY natural_key`, s.casesTable)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, crawler.StorageBackend("query cases", err)
	}
	defer rows.Close()

	var out []crawler.CaseRecord
	for rows.Next() {
		var (
			rec         crawler.CaseRecord
			attachments []string
			categories  []string
		)
		if err := rows.Scan(
			&rec.RefNumber,
			&rec.URL,
			&rec.PublishedDate,
			&rec.PartitionDate,
			&rec.Description,
			&rec.StorageLocation,
			&rec.ContentHash,
			&attachments,
			&categories,
			&rec.HarvestedAt,
		); err != nil {
			return nil, crawler.StorageBackend("scan case", err)
		}
		published, ok := crawler.ParsePublishedDate(rec.PublishedDate)
		if !ok || !window.Contains(published) {
			continue
		}
		rec.AttachmentURLs = crawler.NewStringSet(attachments...)
		rec.CategoryFilters = crawler.NewStringSet(categories...)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, crawler.StorageBackend("iterate cases", err)
	}
	return out, nil
}

// UpsertNormalized overwrites the normalized row for rec.RefNumber.
func (s *CaseStore) UpsertNormalized(ctx context.Context, rec crawler.NormalizedRecord) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	ref_number,
	url,
	published_date,
	partition_date,
	description,
	category_filters,
	storage_location,
	content_hash,
	attachments,
	harvested_at,
	processed_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
)
ON CONFLICT (ref_number) DO UPDATE SET
	url = EXCLUDED.url,
	published_date = EXCLUDED.published_date,
	partition_date = EXCLUDED.partition_date,
	description = EXCLUDED.description,
	category_filters = EXCLUDED.category_filters,
	storage_location = EXCLUDED.storage_location,
	content_hash = EXCLUDED.content_hash,
	attachments = EXCLUDED.attachments,
	harvested_at = EXCLUDED.harvested_at,
	processed_at = EXCLUDED.processed_at`, s.normalizedTable)

	args := []any{
		rec.RefNumber,
		rec.URL,
		rec.PublishedDate,
		rec.PartitionDate,
		rec.Description,
		nonNil(rec.CategoryFilters),
		rec.StorageLocation,
		rec.ContentHash,
		nonNil(rec.Attachments),
		rec.HarvestedAt,
		rec.ProcessedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return crawler.StorageBackend("upsert normalized", err)
	}
	return nil
}

func naturalKey(field, value string) string {
	return field + ":" + value
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
