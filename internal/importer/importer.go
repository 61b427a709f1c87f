// Package importer seeds an empty record store from a seven-column CSV dump
// (cert_number, film_title, year, rating, descriptors, alternate_titles,
// other_notes).
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/film-ratings-crawler/internal/metrics"
	"github.com/JakeFAU/film-ratings-crawler/internal/ratings"
)

// Columns is the seed and export column order.
var Columns = []string{"cert_number", "film_title", "year", "rating", "descriptors", "alternate_titles", "other_notes"}

// Reasons Seed may decline to import.
const (
	SkipStoreNotEmpty = "store not empty"
	SkipFileMissing   = "file missing"
	SkipNoPath        = "no path configured"
)

// Store is the slice of the record store the importer needs.
type Store interface {
	Count(ctx context.Context) (int64, error)
	Insert(ctx context.Context, rec ratings.Record) (int64, error)
}

// Result reports one import.
type Result struct {
	Skipped    string `json:"skipped,omitempty"`
	Inserted   int    `json:"inserted"`
	Duplicates int    `json:"duplicates"`
	Rejected   int    `json:"rejected"`
}

// Importer loads CSV rows into a store.
type Importer struct {
	store  Store
	clock  ratings.Clock
	logger *zap.Logger
}

// New constructs an Importer.
func New(store Store, clock ratings.Clock, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{store: store, clock: clock, logger: logger.Named("importer")}
}

// Seed imports path only when the store is empty and the file exists.
// Otherwise it returns a Result whose Skipped field names the reason.
func (im *Importer) Seed(ctx context.Context, path string) (Result, error) {
	if strings.TrimSpace(path) == "" {
		return Result{Skipped: SkipNoPath}, nil
	}
	count, err := im.store.Count(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("count records: %w", err)
	}
	if count > 0 {
		im.logger.Info("store already contains data, skipping import", zap.Int64("records", count))
		return Result{Skipped: SkipStoreNotEmpty}, nil
	}

	// #nosec G304 -- the seed path comes from operator configuration.
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		im.logger.Info("seed file not found, skipping import", zap.String("path", path))
		return Result{Skipped: SkipFileMissing}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("open seed file: %w", err)
	}
	defer func() { _ = f.Close() }()

	res, err := im.Load(ctx, f)
	if err != nil {
		return res, err
	}
	im.logger.Info("import finished",
		zap.String("path", path),
		zap.Int("inserted", res.Inserted),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("rejected", res.Rejected),
	)
	return res, nil
}

// Load inserts every usable row from r. Rows with fewer than seven columns
// or a non-numeric year are rejected; a leading header row is skipped.
func (im *Importer) Load(ctx context.Context, r io.Reader) (Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var res Result
	now := im.clock.Now()
	for line := 1; ; line++ {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("import interrupted: %w", err)
		}
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			im.reject(&res, line, parseErr)
			continue
		}
		if err != nil {
			return res, fmt.Errorf("read csv line %d: %w", line, err)
		}
		if line == 1 && isHeader(row) {
			continue
		}

		rec, err := toRecord(row, now)
		if err != nil {
			im.reject(&res, line, err)
			continue
		}
		if _, err := im.store.Insert(ctx, rec); err != nil {
			if errors.Is(err, ratings.ErrDuplicate) {
				res.Duplicates++
				metrics.ObserveImportRow(metrics.ImportDuplicate)
				continue
			}
			im.reject(&res, line, err)
			continue
		}
		res.Inserted++
		metrics.ObserveImportRow(metrics.ImportInserted)
	}
}

func (im *Importer) reject(res *Result, line int, err error) {
	res.Rejected++
	metrics.ObserveImportRow(metrics.ImportRejected)
	im.logger.Debug("row rejected", zap.Int("line", line), zap.Error(err))
}

func isHeader(row []string) bool {
	return len(row) > 0 && strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(row[0], "\ufeff")), Columns[0])
}

func toRecord(row []string, createdAt time.Time) (ratings.Record, error) {
	if len(row) < len(Columns) {
		return ratings.Record{}, fmt.Errorf("want %d columns, got %d", len(Columns), len(row))
	}
	year, err := strconv.Atoi(strings.TrimSpace(row[2]))
	if err != nil || year <= 0 {
		return ratings.Record{}, fmt.Errorf("invalid year %q", row[2])
	}
	return ratings.Record{
		CertNumber:      strings.TrimSpace(row[0]),
		Title:           strings.TrimSpace(row[1]),
		Year:            year,
		Rating:          strings.TrimSpace(row[3]),
		Descriptors:     row[4],
		AlternateTitles: row[5],
		OtherNotes:      row[6],
		CreatedAt:       createdAt,
	}, nil
}
