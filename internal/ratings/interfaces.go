package ratings

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// CrawlStore is the slice of the record store the crawler needs. There is
// no upsert: callers check Exists before Insert.
type CrawlStore interface {
	Exists(ctx context.Context, certNumber string) (bool, error)
	Insert(ctx context.Context, rec Record) (int64, error)
	MaxYear(ctx context.Context) (year int, ok bool, err error)
}

// RepairStore is the slice of the record store the repair pass needs.
// UpdateRating is the only mutation path for stored records.
type RepairStore interface {
	ListRepairCandidates(ctx context.Context) ([]Record, error)
	ListUnrated(ctx context.Context) ([]Record, error)
	UpdateRating(ctx context.Context, id int64, rating string) error
}

// QueryStore backs the read API and the exporters.
type QueryStore interface {
	List(ctx context.Context, f Filter) ([]Record, int64, error)
	Stats(ctx context.Context) (Stats, error)
	Count(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

// Store is the full record store contract implemented by every backend.
type Store interface {
	CrawlStore
	RepairStore
	QueryStore
	Close()
}

// PageFetcher returns the raw markup of one registry search page.
type PageFetcher interface {
	Fetch(ctx context.Context, year, page int) ([]byte, error)
}

// PageParser splits a page into listings. It returns one result per listing
// found; an empty slice means the page had no listings.
type PageParser interface {
	ParsePage(markup []byte) ([]ParseResult, error)
}

// ParseResult is the outcome of parsing one listing. Err is a *ParseError
// when the listing was malformed.
type ParseResult struct {
	Film RawFilm
	Err  error
}

// Throttle spaces out successive page fetches.
type Throttle interface {
	Wait(ctx context.Context) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}
