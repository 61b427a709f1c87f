// Package sqlite provides the single-file SQLite record store used by
// default for local runs.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JakeFAU/film-ratings-crawler/internal/ratings"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const selectColumns = `id, COALESCE(cert_number, ''), film_title, COALESCE(year, 0), COALESCE(rating, ''),
	COALESCE(descriptors, ''), COALESCE(alternate_titles, ''), COALESCE(other_notes, ''),
	COALESCE(distributor, ''), created_at`

var _ ratings.Store = (*RecordStore)(nil)

// RecordStore persists rating records in one SQLite table.
type RecordStore struct {
	db    *sql.DB
	table string
}

// Open opens (creating if needed) the database at dsn. ":memory:" yields a
// private in-memory database.
func Open(dsn, table string) (*RecordStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	if table == "" {
		table = "ratings"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	// One writer at a time; an in-memory database also lives on a single
	// connection.
	db.SetMaxOpenConns(1)
	return &RecordStore{db: db, table: table}, nil
}

// Close releases the database handle.
func (s *RecordStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

// Migrate creates the table and its indexes when missing. A table created
// by an older schema gains the columns it lacks.
func (s *RecordStore) Migrate(ctx context.Context) error {
	t := s.table
	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	cert_number TEXT,
	film_title TEXT NOT NULL,
	year INTEGER,
	rating TEXT,
	descriptors TEXT,
	alternate_titles TEXT,
	other_notes TEXT,
	distributor TEXT,
	created_at TEXT NOT NULL DEFAULT (strftime('%%Y-%%m-%%dT%%H:%%M:%%fZ', 'now'))
)`, t)
	if _, err := s.db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("migrate %s: %w", t, err)
	}
	if err := s.addMissingColumns(ctx); err != nil {
		return err
	}
	stmts := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_year ON %[1]s (year)`, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_rating ON %[1]s (rating)`, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_title ON %[1]s (film_title)`, t),
		fmt.Sprintf(`DROP INDEX IF EXISTS idx_%s_cert`, t),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS idx_%[1]s_cert_usable ON %[1]s (cert_number)
	WHERE cert_number IS NOT NULL AND trim(cert_number) <> '' AND upper(trim(cert_number)) <> '%[2]s'`,
			t, strings.ToUpper(ratings.CertificateUnknown)),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", t, err)
		}
	}
	return nil
}

// addedColumns are columns introduced after the first schema, with the
// declaration used to add them.
var addedColumns = []struct{ name, decl string }{
	{"distributor", "TEXT"},
}

func (s *RecordStore) addMissingColumns(ctx context.Context) error {
	existing, err := s.columns(ctx)
	if err != nil {
		return err
	}
	for _, c := range addedColumns {
		if existing[c.name] {
			continue
		}
		stmt := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, s.table, c.name, c.decl)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s.%s: %w", s.table, c.name, err)
		}
	}
	return nil
}

func (s *RecordStore) columns(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, s.table))
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", s.table, err)
	}
	defer rows.Close()

	cols := map[string]bool{}
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, ctype      string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("inspect %s: %w", s.table, err)
		}
		cols[strings.ToLower(name)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("inspect %s: %w", s.table, err)
	}
	return cols, nil
}

// Exists reports whether a row already carries certNumber.
func (s *RecordStore) Exists(ctx context.Context, certNumber string) (bool, error) {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE cert_number = ?)`, s.table)
	if err := s.db.QueryRowContext(ctx, query, certNumber).Scan(&exists); err != nil {
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
		createdAt = time.Now()
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
) VALUES (?,?,?,?,?,?,?,?,?)`, s.table)

	res, err := s.db.ExecContext(ctx, query,
		rec.CertNumber,
		rec.Title,
		rec.Year,
		rec.Rating,
		rec.Descriptors,
		rec.AlternateTitles,
		rec.OtherNotes,
		rec.Distributor,
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("insert certificate %s: %w", rec.CertNumber, ratings.ErrDuplicate)
		}
		return 0, fmt.Errorf("insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read inserted id: %w", err)
	}
	return id, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// MaxYear returns the latest stored year; ok is false for an empty table.
func (s *RecordStore) MaxYear(ctx context.Context) (int, bool, error) {
	var year int
	query := fmt.Sprintf(`SELECT COALESCE(MAX(year), 0) FROM %s`, s.table)
	if err := s.db.QueryRowContext(ctx, query).Scan(&year); err != nil {
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
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET rating = ? WHERE id = ?`, s.table), rating, id)
	if err != nil {
		return fmt.Errorf("update rating for %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update rating for %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("update rating for %d: %w", id, ratings.ErrNotFound)
	}
	return nil
}

// List returns one page of rows matching f and the total match count.
func (s *RecordStore) List(ctx context.Context, f ratings.Filter) ([]ratings.Record, int64, error) {
	var conds []string
	var args []any
	if f.Search != "" {
		conds = append(conds, `film_title LIKE ? ESCAPE '\'`)
		args = append(args, f.LikePattern())
	}
	if f.Year > 0 {
		conds = append(conds, "year = ?")
		args = append(args, f.Year)
	}
	if f.Rating != "" {
		conds = append(conds, "rating = ?")
		args = append(args, f.Rating)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s%s`, s.table, where), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count records: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY year DESC, film_title`, selectColumns, s.table, where)
	switch {
	case f.Limit > 0:
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	case f.Offset > 0:
		query += " LIMIT -1 OFFSET ?"
		args = append(args, f.Offset)
	}
	recs, err := s.queryRecords(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return recs, total, nil
}

// Count returns the number of stored rows.
func (s *RecordStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)).Scan(&n); err != nil {
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

	yearRows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT DISTINCT year FROM %s WHERE year IS NOT NULL ORDER BY year`, s.table))
	if err != nil {
		return ratings.Stats{}, fmt.Errorf("query years: %w", err)
	}
	defer yearRows.Close()
	for yearRows.Next() {
		var y int
		if err := yearRows.Scan(&y); err != nil {
			return ratings.Stats{}, fmt.Errorf("scan year: %w", err)
		}
		stats.Years = append(stats.Years, y)
	}
	if err := yearRows.Err(); err != nil {
		return ratings.Stats{}, fmt.Errorf("iterate years: %w", err)
	}
	_ = yearRows.Close()

	ratingRows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT DISTINCT rating FROM %s WHERE rating IS NOT NULL AND rating <> '' ORDER BY rating`, s.table))
	if err != nil {
		return ratings.Stats{}, fmt.Errorf("query ratings: %w", err)
	}
	defer ratingRows.Close()
	for ratingRows.Next() {
		var r string
		if err := ratingRows.Scan(&r); err != nil {
			return ratings.Stats{}, fmt.Errorf("scan rating: %w", err)
		}
		stats.Ratings = append(stats.Ratings, r)
	}
	if err := ratingRows.Err(); err != nil {
		return ratings.Stats{}, fmt.Errorf("iterate ratings: %w", err)
	}
	return stats, nil
}

// Ping checks the database handle.
func (s *RecordStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

func (s *RecordStore) queryRecords(ctx context.Context, query string, args ...any) ([]ratings.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	out := []ratings.Record{}
	for rows.Next() {
		var rec ratings.Record
		var createdAt sql.NullString
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
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.CreatedAt, err = parseTimestamp(createdAt.String)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// timestampLayouts covers values written by Insert and by sqlite's own
// CURRENT_TIMESTAMP in databases created elsewhere. A NULL or blank value
// parses as the zero time.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse created_at %q", v)
}
