package crawler

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/film-ratings-crawler/internal/ratings"
)

const pageContentType = "text/html; charset=utf-8"

// Archiver keeps a copy of every fetched registry page so a parser change can
// be replayed against the exact markup that was crawled.
type Archiver struct {
	blobs  ratings.BlobStore
	hasher ratings.Hasher
	prefix string
}

// NewArchiver builds an Archiver writing under prefix.
func NewArchiver(blobs ratings.BlobStore, hasher ratings.Hasher, prefix string) *Archiver {
	return &Archiver{blobs: blobs, hasher: hasher, prefix: strings.Trim(prefix, "/")}
}

// Path returns {prefix}/{year}/{page}-{digest}.html.
func (a *Archiver) Path(year, page int, markup []byte) (string, error) {
	digest, err := a.hasher.Hash(markup)
	if err != nil {
		return "", fmt.Errorf("hash page: %w", err)
	}
	name := fmt.Sprintf("%d/%d-%s.html", year, page, digest)
	if a.prefix == "" {
		return name, nil
	}
	return a.prefix + "/" + name, nil
}

// Archive stores markup and returns the blob URI.
func (a *Archiver) Archive(ctx context.Context, year, page int, markup []byte) (string, error) {
	path, err := a.Path(year, page, markup)
	if err != nil {
		return "", err
	}
	uri, err := a.blobs.PutObject(ctx, path, pageContentType, bytes.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("archive year %d page %d: %w", year, page, err)
	}
	return uri, nil
}
