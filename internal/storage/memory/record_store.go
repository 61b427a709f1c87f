package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/film-ratings-crawler/internal/ratings"
)

var _ ratings.Store = (*RecordStore)(nil)

// RecordStore keeps rating records in process. It enforces the same
// certificate uniqueness as the SQL stores.
type RecordStore struct {
	mu      sync.RWMutex
	nextID  int64
	records []ratings.Record
	byCert  map[string]int
}

// NewRecordStore constructs an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{byCert: make(map[string]int)}
}

// Exists reports whether a record already carries certNumber.
func (s *RecordStore) Exists(_ context.Context, certNumber string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ratings.UsableCertificate(certNumber) {
		_, ok := s.byCert[certNumber]
		return ok, nil
	}
	for _, rec := range s.records {
		if rec.CertNumber == certNumber {
			return true, nil
		}
	}
	return false, nil
}

// Insert stores rec and returns its id.
func (s *RecordStore) Insert(_ context.Context, rec ratings.Record) (int64, error) {
	if rec.Title == "" {
		return 0, fmt.Errorf("insert record: film title is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	usable := ratings.UsableCertificate(rec.CertNumber)
	if usable {
		if _, ok := s.byCert[rec.CertNumber]; ok {
			return 0, fmt.Errorf("insert certificate %s: %w", rec.CertNumber, ratings.ErrDuplicate)
		}
	}
	s.nextID++
	rec.ID = s.nextID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.records = append(s.records, rec)
	if usable {
		s.byCert[rec.CertNumber] = len(s.records) - 1
	}
	return rec.ID, nil
}

// MaxYear returns the latest stored year.
func (s *RecordStore) MaxYear(_ context.Context) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	maxYear := 0
	for _, rec := range s.records {
		maxYear = max(maxYear, rec.Year)
	}
	return maxYear, maxYear > 0, nil
}

// ListRepairCandidates returns records with a blank rating and non-blank descriptors.
func (s *RecordStore) ListRepairCandidates(_ context.Context) ([]ratings.Record, error) {
	return s.filter(func(r ratings.Record) bool { return r.Rating == "" && r.Descriptors != "" }), nil
}

// ListUnrated returns every record with a blank rating.
func (s *RecordStore) ListUnrated(_ context.Context) ([]ratings.Record, error) {
	return s.filter(func(r ratings.Record) bool { return r.Rating == "" }), nil
}

// UpdateRating sets the rating of record id.
func (s *RecordStore) UpdateRating(_ context.Context, id int64, rating string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == id {
			s.records[i].Rating = rating
			return nil
		}
	}
	return fmt.Errorf("update rating for %d: %w", id, ratings.ErrNotFound)
}

// List returns one page of matching records ordered by year descending, then title.
func (s *RecordStore) List(_ context.Context, f ratings.Filter) ([]ratings.Record, int64, error) {
	matched := s.filter(func(r ratings.Record) bool {
		return f.MatchesTitle(r.Title) &&
			(f.Year == 0 || r.Year == f.Year) &&
			(f.Rating == "" || r.Rating == f.Rating)
	})
	slices.SortStableFunc(matched, func(a, b ratings.Record) int {
		if c := cmp.Compare(b.Year, a.Year); c != 0 {
			return c
		}
		return cmp.Compare(a.Title, b.Title)
	})
	total := int64(len(matched))
	start := min(max(f.Offset, 0), len(matched))
	end := len(matched)
	if f.Limit > 0 && f.Limit < end-start {
		end = start + f.Limit
	}
	return matched[start:end], total, nil
}

// Count returns the number of stored records.
func (s *RecordStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}

// Stats returns the record count, distinct years and distinct non-blank ratings.
func (s *RecordStore) Stats(_ context.Context) (ratings.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := ratings.Stats{Total: int64(len(s.records)), Years: []int{}, Ratings: []string{}}
	for _, rec := range s.records {
		if !slices.Contains(stats.Years, rec.Year) {
			stats.Years = append(stats.Years, rec.Year)
		}
		if rec.Rating != "" && !slices.Contains(stats.Ratings, rec.Rating) {
			stats.Ratings = append(stats.Ratings, rec.Rating)
		}
	}
	slices.Sort(stats.Years)
	slices.Sort(stats.Ratings)
	return stats, nil
}

// Ping always succeeds.
func (s *RecordStore) Ping(context.Context) error {
	return nil
}

// Close implements ratings.Store; it performs no action.
func (s *RecordStore) Close() {}

func (s *RecordStore) filter(keep func(ratings.Record) bool) []ratings.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []ratings.Record{}
	for _, rec := range s.records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	return out
}
