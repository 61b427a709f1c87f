// Package system provides the wall clock used to stamp ingested records and
// to decide which calendar year a crawl runs up to.
package system

import (
	"time"

	"github.com/JakeFAU/film-ratings-crawler/internal/ratings"
)

var _ ratings.Clock = Clock{}

// Clock implements ratings.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
