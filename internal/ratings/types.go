// Package ratings defines the core types shared across the ingestion pipeline,
// the stores, and the query API.
package ratings

import (
	"fmt"
	"strings"
	"time"
)

// CertificateUnknown is the placeholder legacy rows carry when the registry
// never assigned a certificate number.
const CertificateUnknown = "NA"

// KnownRatings lists the rating letters the registry has issued over time.
var KnownRatings = []string{"G", "PG", "PG-13", "R", "NC-17", "X", "GP", "M", "M/PG"}

// Record is one stored observation of a rated film release.
type Record struct {
	ID              int64     `json:"id"`
	CertNumber      string    `json:"cert_number"`
	Title           string    `json:"film_title"`
	Year            int       `json:"year"`
	Rating          string    `json:"rating"`
	Descriptors     string    `json:"descriptors"`
	AlternateTitles string    `json:"alternate_titles"`
	OtherNotes      string    `json:"other_notes"`
	Distributor     string    `json:"distributor"`
	CreatedAt       time.Time `json:"created_at"`
}

// RawFilm is what the parser extracts from a single registry listing.
type RawFilm struct {
	Title           string
	Distributor     string
	Rating          string
	CertNumber      string
	Descriptors     string
	AlternateTitles string
	OtherNotes      string
}

// HasCertificate reports whether the listing carries a certificate usable
// for deduplication.
func (f RawFilm) HasCertificate() bool {
	return UsableCertificate(f.CertNumber)
}

// Validate reports whether the listing can be stored. A listing without a
// usable certificate yields ErrMissingCertificate.
func (f RawFilm) Validate() error {
	if strings.TrimSpace(f.Title) == "" {
		return ErrMissingTitle
	}
	if !f.HasCertificate() {
		return fmt.Errorf("%q: %w", f.Title, ErrMissingCertificate)
	}
	return nil
}

// ToRecord stamps the listing with its crawl year and ingestion time.
func (f RawFilm) ToRecord(year int, createdAt time.Time) Record {
	return Record{
		CertNumber:      strings.TrimSpace(f.CertNumber),
		Title:           f.Title,
		Year:            year,
		Rating:          f.Rating,
		Descriptors:     f.Descriptors,
		AlternateTitles: f.AlternateTitles,
		OtherNotes:      f.OtherNotes,
		Distributor:     f.Distributor,
		CreatedAt:       createdAt,
	}
}

// UsableCertificate reports whether cert identifies a registry submission.
// Blank values and the legacy "NA" placeholder do not.
func UsableCertificate(cert string) bool {
	cert = strings.TrimSpace(cert)
	return cert != "" && !strings.EqualFold(cert, CertificateUnknown)
}

// IsKnownRating reports whether r is one of KnownRatings.
func IsKnownRating(r string) bool {
	for _, known := range KnownRatings {
		if r == known {
			return true
		}
	}
	return false
}

// Filter narrows List queries. Zero values mean "no constraint"; a zero Limit
// returns every matching row.
type Filter struct {
	Search string
	Year   int
	Rating string
	Limit  int
	Offset int
}

// Stats summarizes the table for the /stats endpoint.
type Stats struct {
	Total   int64    `json:"total"`
	Years   []int    `json:"years"`
	Ratings []string `json:"ratings"`
}

// LikePattern returns Search as a SQL LIKE pattern matching any title that
// contains it, with LIKE metacharacters escaped by a backslash.
func (f Filter) LikePattern() string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(f.Search) + "%"
}

// MatchesTitle reports whether title contains Search, ignoring case. It is
// the in-process equivalent of LikePattern.
func (f Filter) MatchesTitle(title string) bool {
	return f.Search == "" || strings.Contains(strings.ToLower(title), strings.ToLower(f.Search))
}
