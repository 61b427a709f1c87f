// Package postgres provides the Postgres-backed record store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/film-ratings-crawler/internal/ratings"
)

const uniqueViolation = "23505"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for rating records.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

var _ ratings.Store = (*RecordStore)(nil)

// RecordStore persists rating records in a single Postgres table.
type RecordStore struct {
	pool  pool
	table string
}

// NewRecordStore connects to Postgres using cfg.
func NewRecordStore(ctx context.Context, cfg Config) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
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
	return &RecordStore{pool: p, table: table}, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(p pool, table string) (*RecordStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RecordStore{pool: p, table: table}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "ratings"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates the table and its indexes when missing.
func (s *RecordStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.schema() {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.table, err)
		}
	}
	return nil
}

func (s *RecordStore) schema() []string {
	t := s.table
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	cert_number TEXT,
	film_title TEXT NOT NULL,
	year INTEGER,
	rating TEXT,
	descriptors TEXT,
	alternate_titles TEXT,
	other_notes TEXT,
	distributor TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, t),
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS distributor TEXT`, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_year ON %[1]s (year)`, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_rating ON %[1]s (rating)`, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_title ON %[1]s (film_title)`, t),
		fmt.Sprintf(`DROP INDEX IF EXISTS idx_%s_cert`, t),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS idx_%[1]s_cert_usable ON %[1]s (cert_number)
	WHERE cert_number IS NOT NULL AND btrim(cert_number) <> '' AND upper(btrim(cert_number)) <> '%[2]s'`,
			t, strings.ToUpper(ratings.CertificateUnknown)),
	}
}

const selectColumns = `id, COALESCE(cert_number, ''), film_title, COALESCE(year, 0), COALESCE(rating, ''),
	COALESCE(descriptors, ''), COALESCE(alternate_titles, ''), COALESCE(other_notes, ''),
	COALESCE(distributor, ''), created_at`

// Exists reports whether a row already carries certNumber.
func (s *RecordStore) Exists(ctx context.Context, certNumber string) (bool, error) {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE cert_number = $1)`, s.table)
	if err := s.pool.QueryRow(ctx, query, certNumber).Scan(&exists); err != nil {
		return false, fmt.Errorf("check certificate %s: %w", certNumber, err)
	}
	return exists, nil
}

// Insert writes rec and returns its id. A certificate owned by another row
// yields ratings.ErrDuplicate.
func (s *RecordStore) Insert(ctx context.Context, rec ratings.Record) (int64, error) {
	if rec.Title == "" {
		return 0, fmt.Errorf("insert record: film title is required")
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	cert_number,
	film_title,
	year,
	rating,
	descriptors,
	alternate_titles,
	other_notes,
	distributor,
	created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
) RETURNING id`, s.table)

	var id int64
	err := s.pool.QueryRow(ctx, query,
		rec.CertNumber,
		rec.Title,
		rec.Year,
		rec.Rating,
		rec.Descriptors,
		rec.AlternateTitles,
		rec.OtherNotes,
		rec.Distributor,
		createdAt,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, fmt.Errorf("insert certificate %s: %w", rec.CertNumber, ratings.ErrDuplicate)
		}
		return 0, fmt.Errorf("insert record: %w", err)
	}
	return id, nil
}

// MaxYear returns the latest stored year; ok is false for an empty table.
func (s *RecordStore) MaxYear(ctx context.Context) (int, bool, error) {
	var year int
	query := fmt.Sprintf(`SELECT COALESCE(MAX(year), 0) FROM %s`, s.table)
	if err := s.pool.QueryRow(ctx, query).Scan(&year); err != nil {
		return 0, false, fmt.Errorf("query max year: %w", err)
	}
	return year, year > 0, nil
}

// ListRepairCandidates returns rows with a blank rating and non-blank descriptors.
func (s *RecordStore) ListRepairCandidates(ctx context.Context) ([]ratings.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
WHERE (rating IS NULL OR rating = '') AND descriptors IS NOT NULL AND descriptors <> ''
ORDER BY id`, selectColumns, s.table)
	return s.queryRecords(ctx, query)
}

// ListUnrated returns every row with a blank rating.
func (s *RecordStore) ListUnrated(ctx context.Context) ([]ratings.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE rating IS NULL OR rating = '' ORDER BY id`, selectColumns, s.table)
	return s.queryRecords(ctx, query)
}

// UpdateRating sets the rating of row id.
func (s *RecordStore) UpdateRating(ctx context.Context, id int64, rating string) error {
	query := fmt.Sprintf(`UPDATE %s SET rating = $1 WHERE id = $2`, s.table)
	tag, err := s.pool.Exec(ctx, query, rating, id)
	if err != nil {
		return fmt.Errorf("update rating for %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update rating for %d: %w", id, ratings.ErrNotFound)
	}
	return nil
}

// List returns one page of rows matching f and the total match count.
func (s *RecordStore) List(ctx context.Context, f ratings.Filter) ([]ratings.Record, int64, error) {
	where, args := whereClause(f)

	var total int64
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s%s`, s.table, where)
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count records: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY year DESC, film_title`, selectColumns, s.table, where)
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	recs, err := s.queryRecords(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return recs, total, nil
}

func whereClause(f ratings.Filter) (string, []any) {
	var conds []string
	var args []any
	if f.Search != "" {
		args = append(args, f.LikePattern())
		conds = append(conds, fmt.Sprintf(`film_title ILIKE $%d ESCAPE '\'`, len(args)))
	}
	if f.Year > 0 {
		args = append(args, f.Year)
		conds = append(conds, fmt.Sprintf("year = $%d", len(args)))
	}
	if f.Rating != "" {
		args = append(args, f.Rating)
		conds = append(conds, fmt.Sprintf("rating = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Count returns the number of stored rows.
func (s *RecordStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Stats returns the row count, distinct years and distinct non-blank ratings.
func (s *RecordStore) Stats(ctx context.Context) (ratings.Stats, error) {
	total, err := s.Count(ctx)
	if err != nil {
		return ratings.Stats{}, err
	}
	stats := ratings.Stats{Total: total, Years: []int{}, Ratings: []string{}}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT DISTINCT year FROM %s WHERE year IS NOT NULL ORDER BY year`, s.table))
	if err != nil {
		return ratings.Stats{}, fmt.Errorf("query years: %w", err)
	}
	for rows.Next() {
		var y int
		if err := rows.Scan(&y); err != nil {
			rows.Close()
			return ratings.Stats{}, fmt.Errorf("scan year: %w", err)
		}
		stats.Years = append(stats.Years, y)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return ratings.Stats{}, fmt.Errorf("iterate years: %w", err)
	}

	rows, err = s.pool.Query(ctx, fmt.Sprintf(`SELECT DISTINCT rating FROM %s WHERE rating IS NOT NULL AND rating <> '' ORDER BY rating`, s.table))
	if err != nil {
		return ratings.Stats{}, fmt.Errorf("query ratings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return ratings.Stats{}, fmt.Errorf("scan rating: %w", err)
		}
		stats.Ratings = append(stats.Ratings, r)
	}
	if err := rows.Err(); err != nil {
		return ratings.Stats{}, fmt.Errorf("iterate ratings: %w", err)
	}
	return stats, nil
}

// Ping checks connectivity.
func (s *RecordStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func (s *RecordStore) queryRecords(ctx context.Context, query string, args ...any) ([]ratings.Record, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	out := []ratings.Record{}
	for rows.Next() {
		var rec ratings.Record
		if err := rows.Scan(
			&rec.ID,
			&rec.CertNumber,
			&rec.Title,
			&rec.Year,
			&rec.Rating,
			&rec.Descriptors,
			&rec.AlternateTitles,
			&rec.OtherNotes,
			&rec.Distributor,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}
