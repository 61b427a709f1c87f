// Package export renders filtered records as CSV for the download endpoint
// and the export command.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/JakeFAU/film-ratings-crawler/internal/importer"
	"github.com/JakeFAU/film-ratings-crawler/internal/metrics"
	"github.com/JakeFAU/film-ratings-crawler/internal/ratings"
)

// Filename is the suggested download name.
const Filename = "mpaa_ratings_export.csv"

// Lister is the query needed to export.
type Lister interface {
	List(ctx context.Context, f ratings.Filter) ([]ratings.Record, int64, error)
}

// Write exports every record matching f to w, ignoring any Limit or Offset,
// and returns the number of data rows written. The output uses the same
// column order the importer reads, so an export can seed a fresh store.
func Write(ctx context.Context, w io.Writer, store Lister, f ratings.Filter) (int, error) {
	f.Limit, f.Offset = 0, 0
	recs, _, err := store.List(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("list records: %w", err)
	}
	if err := WriteRecords(w, recs); err != nil {
		return 0, err
	}
	metrics.AddExportRows(len(recs))
	return len(recs), nil
}

// WriteRecords writes a header row followed by recs.
func WriteRecords(w io.Writer, recs []ratings.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(importer.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, rec := range recs {
		row := []string{
			rec.CertNumber,
			rec.Title,
			strconv.Itoa(rec.Year),
			rec.Rating,
			rec.Descriptors,
			rec.AlternateTitles,
			rec.OtherNotes,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write record %d: %w", rec.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
