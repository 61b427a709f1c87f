// Package parser turns registry search pages into RawFilm listings. All
// knowledge of the registry's markup lives here, behind CSS selectors that can
// be changed from configuration when the upstream layout moves.
package parser

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/film-ratings-crawler/internal/ratings"
)

// Selectors names the elements of one listing.
type Selectors struct {
	Item        string
	Title       string
	Studio      string
	RatingBadge string
	Detail      string
	Label       string
	Value       string
}

// DefaultSelectors matches the registry layout the crawler was written against.
func DefaultSelectors() Selectors {
	return Selectors{
		Item:        "div.result-item",
		Title:       ".film-title",
		Studio:      ".film-studio",
		RatingBadge: ".rating-badge img",
		Detail:      ".result-body .detail",
		Label:       ".detail-label",
		Value:       ".detail-value",
	}
}

// field identifies which RawFilm attribute a detail label feeds.
type field int

const (
	fieldNone field = iota
	fieldCertificate
	fieldDescriptors
	fieldAlternateTitles
	fieldOtherNotes
)

// labelMarkers is checked in order; the first marker contained in the
// lower-cased label wins.
var labelMarkers = []struct {
	marker string
	field  field
}{
	{"certificate", fieldCertificate},
	{"reason", fieldDescriptors},
	{"alternate", fieldAlternateTitles},
	{"other", fieldOtherNotes},
}

var _ ratings.PageParser = (*Parser)(nil)

// Parser implements ratings.PageParser with goquery.
type Parser struct {
	sel Selectors
}

// New builds a Parser. Empty selectors fall back to DefaultSelectors.
func New(sel Selectors) *Parser {
	def := DefaultSelectors()
	fill := func(v *string, d string) {
		if strings.TrimSpace(*v) == "" {
			*v = d
		}
	}
	fill(&sel.Item, def.Item)
	fill(&sel.Title, def.Title)
	fill(&sel.Studio, def.Studio)
	fill(&sel.RatingBadge, def.RatingBadge)
	fill(&sel.Detail, def.Detail)
	fill(&sel.Label, def.Label)
	fill(&sel.Value, def.Value)
	return &Parser{sel: sel}
}

// ParsePage returns one result per listing on the page. An error is returned
// only when the document itself cannot be read; malformed listings are
// reported through ParseResult.Err.
func (p *Parser) ParsePage(markup []byte) ([]ratings.ParseResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("read page document: %w", err)
	}
	items := doc.Find(p.sel.Item)
	results := make([]ratings.ParseResult, 0, items.Length())
	items.Each(func(i int, item *goquery.Selection) {
		film, err := p.ParseItem(item)
		if err != nil {
			results = append(results, ratings.ParseResult{Err: &ratings.ParseError{Index: i, Err: err}})
			return
		}
		results = append(results, ratings.ParseResult{Film: film})
	})
	return results, nil
}

// ParseItem extracts a single listing. Only the title is required; every
// other missing element yields an empty string.
func (p *Parser) ParseItem(item *goquery.Selection) (ratings.RawFilm, error) {
	var film ratings.RawFilm

	film.Title = cleanText(item.Find(p.sel.Title).First().Text())
	if film.Title == "" {
		return ratings.RawFilm{}, ratings.ErrMissingTitle
	}
	film.Distributor = cleanText(item.Find(p.sel.Studio).First().Text())
	if alt, ok := item.Find(p.sel.RatingBadge).First().Attr("alt"); ok {
		film.Rating = normalizeRating(alt)
	}

	item.Find(p.sel.Detail).Each(func(_ int, detail *goquery.Selection) {
		label := strings.ToLower(cleanText(detail.Find(p.sel.Label).First().Text()))
		value := cleanText(detail.Find(p.sel.Value).First().Text())
		switch classifyLabel(label) {
		case fieldCertificate:
			film.CertNumber = value
		case fieldDescriptors:
			film.Descriptors = value
		case fieldAlternateTitles:
			film.AlternateTitles = value
		case fieldOtherNotes:
			film.OtherNotes = value
		case fieldNone:
		}
	})
	return film, nil
}

func classifyLabel(label string) field {
	for _, m := range labelMarkers {
		if strings.Contains(label, m.marker) {
			return m.field
		}
	}
	return fieldNone
}

// cleanText decodes entities the registry double-escapes and collapses
// whitespace.
func cleanText(s string) string {
	return strings.Join(strings.Fields(html.UnescapeString(s)), " ")
}

// normalizeRating maps badge alt text to a known rating letter. Anything
// else becomes blank so the repair pass can derive it from the descriptors.
func normalizeRating(alt string) string {
	alt = strings.ToUpper(cleanText(alt))
	if trimmed, ok := strings.CutPrefix(alt, "RATED "); ok {
		alt = strings.TrimSpace(trimmed)
	}
	if !ratings.IsKnownRating(alt) {
		return ""
	}
	return alt
}
