package ratings

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record id does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned by Insert when another row already owns the
	// certificate number.
	ErrDuplicate = errors.New("duplicate certificate number")
	// ErrMissingCertificate is returned by RawFilm.Validate for listings
	// without a usable certificate. The crawler excludes such listings rather
	// than counting them as failures.
	ErrMissingCertificate = errors.New("listing has no certificate number")
	// ErrMissingTitle is returned by RawFilm.Validate for listings without a title.
	ErrMissingTitle = errors.New("listing has no title")
)

// FetchError reports a failed page request. It ends pagination for Year only.
type FetchError struct {
	Year       int
	Page       int
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch year %d page %d: status %d: %v", e.Year, e.Page, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch year %d page %d: %v", e.Year, e.Page, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports a listing that could not be read. Index is the item's
// position on its page.
type ParseError struct {
	Index int
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse item %d: %v", e.Index, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
