package crawler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	sha256hash "github.com/JakeFAU/film-ratings-crawler/internal/hash/sha256"
	idgen "github.com/JakeFAU/film-ratings-crawler/internal/id/uuid"
	"github.com/JakeFAU/film-ratings-crawler/internal/progress"
	"github.com/JakeFAU/film-ratings-crawler/internal/ratings"
	"github.com/JakeFAU/film-ratings-crawler/internal/storage/memory"
)

type pageKey struct{ year, page int }

// fakeFetcher serves markup keyed by year and page. Unknown pages come back
// empty, which fakeParser maps to zero listings.
type fakeFetcher struct {
	mu    sync.Mutex
	pages map[pageKey]string
	errs  map[pageKey]error
	calls []pageKey
}

func (f *fakeFetcher) Fetch(_ context.Context, year, page int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pageKey{year, page}
	f.calls = append(f.calls, key)
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	return []byte(f.pages[key]), nil
}

type fakeParser struct {
	results map[string][]ratings.ParseResult
}

func (p fakeParser) ParsePage(markup []byte) ([]ratings.ParseResult, error) {
	if string(markup) == "broken" {
		return nil, errors.New("unreadable document")
	}
	return p.results[string(markup)], nil
}

type countingThrottle struct {
	waits  int
	cancel context.CancelFunc
	after  int
}

func (t *countingThrottle) Wait(ctx context.Context) error {
	t.waits++
	if t.cancel != nil && t.waits > t.after {
		t.cancel()
	}
	return ctx.Err()
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Stage)
	}
	return out
}

func film(title, cert string) ratings.ParseResult {
	return ratings.ParseResult{Film: ratings.RawFilm{
		Title:       title,
		Rating:      "PG",
		CertNumber:  cert,
		Descriptors: "Rated PG for mild language",
	}}
}

// registryFixture models two years: 1994 has two full pages, 1995 has one.
func registryFixture() (*fakeFetcher, fakeParser) {
	fetcher := &fakeFetcher{
		pages: map[pageKey]string{
			{1994, 1}: "1994-1",
			{1994, 2}: "1994-2",
			{1995, 1}: "1995-1",
		},
		errs: map[pageKey]error{},
	}
	parser := fakeParser{results: map[string][]ratings.ParseResult{
		"1994-1": {film("Speed", "33587"), film("Clerks", "33588")},
		"1994-2": {film("Ed Wood", "33600")},
		"1995-1": {film("Heat", "34411")},
	}}
	return fetcher, parser
}

type harness struct {
	store    *memory.RecordStore
	fetcher  *fakeFetcher
	throttle *countingThrottle
	emitter  *recordingEmitter
	clock    fixedClock
}

func newHarness(fetcher *fakeFetcher) *harness {
	return &harness{
		store:    memory.NewRecordStore(),
		fetcher:  fetcher,
		throttle: &countingThrottle{},
		emitter:  &recordingEmitter{},
		clock:    fixedClock{now: time.Date(1995, time.June, 1, 12, 0, 0, 0, time.UTC)},
	}
}

func (h *harness) crawler(store ratings.CrawlStore, parser ratings.PageParser, archiver *Archiver, cfg Config, logger *zap.Logger) *Crawler {
	return New(store, h.fetcher, parser, h.throttle, h.clock, idgen.New(), archiver, h.emitter, cfg, logger)
}

func TestRunStoresNewRecordsAndIsIdempotent(t *testing.T) {
	t.Parallel()

	fetcher, parser := registryFixture()
	h := newHarness(fetcher)
	c := h.crawler(h.store, parser, nil, Config{StartYear: 1994}, nil)

	first, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, first.New)
	assert.Equal(t, 0, first.Skipped)
	require.Len(t, first.Years, 2)
	assert.Equal(t, YearTally{Year: 1994, Pages: 2, New: 3}, first.Years[0])
	assert.Equal(t, YearTally{Year: 1995, Pages: 1, New: 1}, first.Years[1])

	count, err := h.store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	second, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.New)
	assert.Equal(t, first.New, second.Skipped)
	assert.NotEqual(t, first.RunID, second.RunID)

	count, err = h.store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	recs, _, err := h.store.List(context.Background(), ratings.Filter{Year: 1995})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Heat", recs[0].Title)
	assert.Equal(t, h.clock.now, recs[0].CreatedAt)
}

func TestRunStopsYearOnEmptyPage(t *testing.T) {
	t.Parallel()

	fetcher, parser := registryFixture()
	h := newHarness(fetcher)
	_, err := h.crawler(h.store, parser, nil, Config{StartYear: 1994}, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []pageKey{{1994, 1}, {1994, 2}, {1994, 3}, {1995, 1}, {1995, 2}}, fetcher.calls)
	assert.Equal(t, len(fetcher.calls), h.throttle.waits, "every fetch is throttled")
}

func TestRunDerivesStartYear(t *testing.T) {
	t.Parallel()

	t.Run("FromLatestStoredYear", func(t *testing.T) {
		t.Parallel()
		fetcher, parser := registryFixture()
		h := newHarness(fetcher)
		_, err := h.store.Insert(context.Background(), ratings.Record{CertNumber: "34000", Title: "Old", Year: 1995})
		require.NoError(t, err)

		summary, err := h.crawler(h.store, parser, nil, Config{}, nil).Run(context.Background())
		require.NoError(t, err)
		require.Len(t, summary.Years, 1)
		assert.Equal(t, 1995, summary.Years[0].Year)
		assert.Equal(t, 1, summary.New)
	})

	t.Run("FromClockWhenEmpty", func(t *testing.T) {
		t.Parallel()
		fetcher, parser := registryFixture()
		h := newHarness(fetcher)
		h.clock = fixedClock{now: time.Date(1994, time.March, 1, 0, 0, 0, 0, time.UTC)}

		summary, err := h.crawler(h.store, parser, nil, Config{}, nil).Run(context.Background())
		require.NoError(t, err)
		require.Len(t, summary.Years, 1)
		assert.Equal(t, 1994, summary.Years[0].Year)
	})

	t.Run("StoreFailure", func(t *testing.T) {
		t.Parallel()
		fetcher, parser := registryFixture()
		h := newHarness(fetcher)
		store := &flakyStore{RecordStore: h.store, maxYearErr: errors.New("db down")}

		_, err := h.crawler(store, parser, nil, Config{}, nil).Run(context.Background())
		require.Error(t, err)
		assert.Empty(t, fetcher.calls)
	})
}

func TestRunExcludesListingsWithoutCertificate(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[pageKey]string{{1995, 1}: "p"}}
	parser := fakeParser{results: map[string][]ratings.ParseResult{
		"p": {
			film("Untitled", ""),
			film("Legacy", "NA"),
			film("Legacy lower", " na "),
			film("", "35000"),
			film("Heat", "34411"),
		},
	}}
	h := newHarness(fetcher)

	summary, err := h.crawler(h.store, parser, nil, Config{StartYear: 1995}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.New)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 3, summary.Years[0].Excluded)
	assert.Equal(t, 1, summary.Years[0].ParseErrors)

	count, err := h.store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRunFetchErrorEndsOnlyThatYear(t *testing.T) {
	t.Parallel()

	fetcher, parser := registryFixture()
	fetcher.errs[pageKey{1994, 2}] = &ratings.FetchError{Year: 1994, Page: 2, StatusCode: http.StatusBadGateway, Err: errors.New("bad gateway")}
	h := newHarness(fetcher)

	core, logs := observer.New(zapcore.WarnLevel)
	summary, err := h.crawler(h.store, parser, nil, Config{StartYear: 1994}, zap.New(core)).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Years, 2)
	assert.Equal(t, 2, summary.Years[0].New)
	assert.Contains(t, summary.Years[0].FetchError, "status 502")
	assert.Equal(t, 1, summary.Years[1].New)
	assert.NotContains(t, fetcher.calls, pageKey{1994, 3})

	entries := logs.FilterMessage("fetch failed, moving to next year").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1994), entries[0].ContextMap()["year"])
	assert.Contains(t, h.emitter.stages(), progress.StageFetchError)
}

func TestRunUnreadablePageEndsYear(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[pageKey]string{{1995, 1}: "broken"}}
	h := newHarness(fetcher)

	summary, err := h.crawler(h.store, fakeParser{}, nil, Config{StartYear: 1995}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Years[0].Pages)
	assert.Equal(t, []pageKey{{1995, 1}}, fetcher.calls)
}

func TestRunCountsItemParseErrors(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[pageKey]string{{1995, 1}: "p"}}
	parser := fakeParser{results: map[string][]ratings.ParseResult{
		"p": {
			{Err: &ratings.ParseError{Index: 0, Err: errors.New("missing title")}},
			film("Heat", "34411"),
		},
	}}
	h := newHarness(fetcher)

	summary, err := h.crawler(h.store, parser, nil, Config{StartYear: 1995}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Years[0].ParseErrors)
	assert.Equal(t, 1, summary.New)
}

// flakyStore wraps the memory store to simulate races and write failures.
type flakyStore struct {
	*memory.RecordStore
	alwaysMissing bool
	insertErr     error
	maxYearErr    error
}

func (s *flakyStore) Exists(ctx context.Context, cert string) (bool, error) {
	if s.alwaysMissing {
		return false, nil
	}
	return s.RecordStore.Exists(ctx, cert)
}

func (s *flakyStore) Insert(ctx context.Context, rec ratings.Record) (int64, error) {
	if s.insertErr != nil {
		return 0, s.insertErr
	}
	return s.RecordStore.Insert(ctx, rec)
}

func (s *flakyStore) MaxYear(ctx context.Context) (int, bool, error) {
	if s.maxYearErr != nil {
		return 0, false, s.maxYearErr
	}
	return s.RecordStore.MaxYear(ctx)
}

func TestRunCountsInsertRaceAsSkipped(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[pageKey]string{{1995, 1}: "p"}}
	parser := fakeParser{results: map[string][]ratings.ParseResult{
		"p": {film("Heat", "34411"), film("Heat (re-release)", "34411")},
	}}
	h := newHarness(fetcher)
	store := &flakyStore{RecordStore: h.store, alwaysMissing: true}

	summary, err := h.crawler(store, parser, nil, Config{StartYear: 1995}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.New)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)
}

func TestRunContinuesAfterStoreFailure(t *testing.T) {
	t.Parallel()

	fetcher, parser := registryFixture()
	h := newHarness(fetcher)
	store := &flakyStore{RecordStore: h.store, insertErr: errors.New("disk full")}

	summary, err := h.crawler(store, parser, nil, Config{StartYear: 1994}, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Failed)
	assert.Equal(t, 0, summary.New)
	assert.Len(t, fetcher.calls, 5, "failures do not stop pagination")
	assert.Contains(t, h.emitter.stages(), progress.StageStoreError)
}

func TestRunArchivesPages(t *testing.T) {
	t.Parallel()

	fetcher, parser := registryFixture()
	h := newHarness(fetcher)
	blobs := memory.NewBlobStore()
	archiver := NewArchiver(blobs, sha256hash.New(), "/pages/")

	_, err := h.crawler(h.store, parser, archiver, Config{StartYear: 1995}, nil).Run(context.Background())
	require.NoError(t, err)

	sum := sha256.Sum256([]byte("1995-1"))
	path := fmt.Sprintf("pages/1995/1-%s.html", hex.EncodeToString(sum[:]))
	data, contentType, ok := blobs.Get(path)
	require.True(t, ok, "stored paths: %v", blobs.Paths())
	assert.Equal(t, "1995-1", string(data))
	assert.Equal(t, pageContentType, contentType)
}

type failingBlobs struct{}

func (failingBlobs) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket gone")
}

func TestRunArchiveFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	fetcher, parser := registryFixture()
	h := newHarness(fetcher)
	archiver := NewArchiver(failingBlobs{}, sha256hash.New(), "")

	core, logs := observer.New(zapcore.WarnLevel)
	summary, err := h.crawler(h.store, parser, archiver, Config{StartYear: 1995}, zap.New(core)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.New)
	assert.NotEmpty(t, logs.FilterMessage("page archive failed").All())
}

func TestRunHonorsPageCap(t *testing.T) {
	t.Parallel()

	fetcher, parser := registryFixture()
	h := newHarness(fetcher)

	summary, err := h.crawler(h.store, parser, nil, Config{StartYear: 1994, EndYear: 1994, MaxPagesPerYear: 1}, nil).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Years, 1)
	assert.True(t, summary.Years[0].Capped)
	assert.Equal(t, 2, summary.New)
	assert.Equal(t, []pageKey{{1994, 1}}, fetcher.calls)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	fetcher, parser := registryFixture()
	h := newHarness(fetcher)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.throttle.cancel = cancel
	h.throttle.after = 1

	summary, err := h.crawler(h.store, parser, nil, Config{StartYear: 1994}, nil).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, summary.Interrupted)
	assert.Equal(t, 2, summary.New, "first page is kept")
	assert.Len(t, summary.Years, 1)
	assert.Equal(t, []pageKey{{1994, 1}}, fetcher.calls)
}

func TestRunEmitsValidEvents(t *testing.T) {
	t.Parallel()

	fetcher, parser := registryFixture()
	h := newHarness(fetcher)
	summary, err := h.crawler(h.store, parser, nil, Config{StartYear: 1994}, nil).Run(context.Background())
	require.NoError(t, err)

	events := h.emitter.events
	require.NotEmpty(t, events)
	for _, evt := range events {
		require.NoError(t, evt.Validate(), "stage %s", evt.Stage)
		assert.Equal(t, summary.RunID, evt.RunID)
	}
	assert.Equal(t, progress.StageRunStart, events[0].Stage)
	last := events[len(events)-1]
	assert.Equal(t, progress.StageRunDone, last.Stage)
	assert.Equal(t, progress.KindCrawl, last.Kind)
	assert.Equal(t, int64(4), last.Totals["new"])
	assert.Equal(t, int64(3), last.Totals["pages"])

	stages := h.emitter.stages()
	assert.Equal(t, 4, countStage(stages, progress.StageRecordNew))
	assert.Equal(t, 3, countStage(stages, progress.StagePageDone))
	assert.Equal(t, 2, countStage(stages, progress.StageYearDone))
}

func countStage(stages []progress.Stage, want progress.Stage) int {
	n := 0
	for _, s := range stages {
		if s == want {
			n++
		}
	}
	return n
}

func TestArchiverPath(t *testing.T) {
	t.Parallel()

	a := NewArchiver(memory.NewBlobStore(), sha256hash.New(), "")
	path, err := a.Path(2001, 7, []byte("x"))
	require.NoError(t, err)
	sum := sha256.Sum256([]byte("x"))
	assert.Equal(t, "2001/7-"+hex.EncodeToString(sum[:])+".html", path)
}
