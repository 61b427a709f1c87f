// Package crawler walks the ratings registry year by year and page by page,
// storing every listing whose certificate number is not already known.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/film-ratings-crawler/internal/progress"
	"github.com/JakeFAU/film-ratings-crawler/internal/ratings"
)

// Config controls Crawler behavior.
type Config struct {
	// StartYear overrides the store-derived starting year when > 0.
	StartYear int
	// EndYear defaults to the clock's current year.
	EndYear int
	// MaxPagesPerYear bounds pagination when the registry never returns an
	// empty page.
	MaxPagesPerYear int
}

// YearTally counts what one year of crawling produced. Listings without a
// certificate are counted in Excluded only.
type YearTally struct {
	Year        int    `json:"year"`
	Pages       int    `json:"pages"`
	New         int    `json:"new"`
	Skipped     int    `json:"skipped"`
	Failed      int    `json:"failed"`
	Excluded    int    `json:"excluded"`
	ParseErrors int    `json:"parse_errors"`
	FetchError  string `json:"fetch_error,omitempty"`
	Capped      bool   `json:"capped,omitempty"`
}

// Summary reports a whole run.
type Summary struct {
	RunID       uuid.UUID   `json:"run_id"`
	StartedAt   time.Time   `json:"started_at"`
	FinishedAt  time.Time   `json:"finished_at"`
	Years       []YearTally `json:"years"`
	New         int         `json:"new"`
	Skipped     int         `json:"skipped"`
	Failed      int         `json:"failed"`
	Interrupted bool        `json:"interrupted,omitempty"`
}

// Totals flattens the summary for run-summary events.
func (s Summary) Totals() map[string]int64 {
	totals := map[string]int64{
		"new":     int64(s.New),
		"skipped": int64(s.Skipped),
		"failed":  int64(s.Failed),
		"years":   int64(len(s.Years)),
	}
	for _, y := range s.Years {
		totals["pages"] += int64(y.Pages)
		totals["excluded"] += int64(y.Excluded)
		totals["parse_errors"] += int64(y.ParseErrors)
	}
	return totals
}

// Crawler drives the fetch, parse, dedupe and insert loop.
type Crawler struct {
	store    ratings.CrawlStore
	fetcher  ratings.PageFetcher
	parser   ratings.PageParser
	throttle ratings.Throttle
	clock    ratings.Clock
	ids      ratings.IDGenerator
	archiver *Archiver
	emitter  progress.Emitter
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Crawler. archiver and emitter may be nil.
func New(
	store ratings.CrawlStore,
	fetcher ratings.PageFetcher,
	parser ratings.PageParser,
	throttle ratings.Throttle,
	clock ratings.Clock,
	ids ratings.IDGenerator,
	archiver *Archiver,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = progress.Nop{}
	}
	if cfg.MaxPagesPerYear <= 0 {
		cfg.MaxPagesPerYear = 500
	}
	return &Crawler{
		store:    store,
		fetcher:  fetcher,
		parser:   parser,
		throttle: throttle,
		clock:    clock,
		ids:      ids,
		archiver: archiver,
		emitter:  emitter,
		cfg:      cfg,
		logger:   logger.Named("crawler"),
	}
}

// Run crawls from the start year through the end year. A canceled ctx stops
// the run between pages; the partial Summary is returned with the error.
func (c *Crawler) Run(ctx context.Context) (Summary, error) {
	runID, err := c.ids.NewRawID()
	if err != nil {
		return Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	start, err := c.startYear(ctx)
	if err != nil {
		return Summary{}, err
	}
	end := c.cfg.EndYear
	if end <= 0 {
		end = c.clock.Now().Year()
	}

	summary := Summary{RunID: runID, StartedAt: c.clock.Now(), Years: []YearTally{}}
	c.emit(progress.Event{RunID: runID, Stage: progress.StageRunStart, Kind: progress.KindCrawl})
	c.logger.Info("crawl started",
		zap.Stringer("run_id", runID),
		zap.Int("start_year", start),
		zap.Int("end_year", end),
	)

	for year := start; year <= end; year++ {
		if ctx.Err() != nil {
			break
		}
		tally := c.crawlYear(ctx, runID, year)
		summary.Years = append(summary.Years, tally)
		summary.New += tally.New
		summary.Skipped += tally.Skipped
		summary.Failed += tally.Failed
	}

	summary.FinishedAt = c.clock.Now()
	summary.Interrupted = ctx.Err() != nil
	c.emit(progress.Event{
		RunID:  runID,
		Stage:  progress.StageRunDone,
		Kind:   progress.KindCrawl,
		Count:  int64(summary.New),
		Dur:    max(summary.FinishedAt.Sub(summary.StartedAt), 0),
		Totals: summary.Totals(),
	})
	c.logger.Info("crawl finished",
		zap.Stringer("run_id", runID),
		zap.Int("new", summary.New),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Bool("interrupted", summary.Interrupted),
	)
	if summary.Interrupted {
		return summary, fmt.Errorf("crawl interrupted: %w", ctx.Err())
	}
	return summary, nil
}

func (c *Crawler) startYear(ctx context.Context) (int, error) {
	if c.cfg.StartYear > 0 {
		return c.cfg.StartYear, nil
	}
	year, ok, err := c.store.MaxYear(ctx)
	if err != nil {
		return 0, fmt.Errorf("derive start year: %w", err)
	}
	if !ok {
		return c.clock.Now().Year(), nil
	}
	return year, nil
}

func (c *Crawler) crawlYear(ctx context.Context, runID uuid.UUID, year int) YearTally {
	tally := YearTally{Year: year}
	log := c.logger.With(zap.Int("year", year))
	c.emit(progress.Event{RunID: runID, Stage: progress.StageYearStart, Year: year})

	page := 1
	for ; page <= c.cfg.MaxPagesPerYear; page++ {
		if err := c.throttle.Wait(ctx); err != nil {
			return tally
		}
		markup, err := c.fetcher.Fetch(ctx, year, page)
		if err != nil {
			if ctx.Err() != nil {
				return tally
			}
			log.Warn("fetch failed, moving to next year", zap.Int("page", page), zap.Error(err))
			tally.FetchError = err.Error()
			c.emit(progress.Event{RunID: runID, Stage: progress.StageFetchError, Year: year, Page: page, Note: err.Error()})
			break
		}
		c.archive(ctx, log, year, page, markup)

		results, err := c.parser.ParsePage(markup)
		if err != nil {
			log.Warn("page unreadable, moving to next year", zap.Int("page", page), zap.Error(err))
			tally.FetchError = err.Error()
			c.emit(progress.Event{RunID: runID, Stage: progress.StageParseError, Year: year, Page: page, Note: err.Error()})
			break
		}
		if len(results) == 0 {
			log.Debug("empty page, year exhausted", zap.Int("page", page))
			break
		}

		tally.Pages++
		for _, res := range results {
			if ctx.Err() != nil {
				return tally
			}
			c.processItem(ctx, runID, year, page, res, &tally)
		}
		c.emit(progress.Event{
			RunID: runID,
			Stage: progress.StagePageDone,
			Year:  year,
			Page:  page,
			Count: int64(len(results)),
			Bytes: int64(len(markup)),
		})
	}
	if page > c.cfg.MaxPagesPerYear {
		tally.Capped = true
		log.Warn("page cap reached", zap.Int("max_pages_per_year", c.cfg.MaxPagesPerYear))
	}

	c.emit(progress.Event{RunID: runID, Stage: progress.StageYearDone, Year: year, Count: int64(tally.New)})
	log.Info("year done",
		zap.Int("pages", tally.Pages),
		zap.Int("new", tally.New),
		zap.Int("skipped", tally.Skipped),
		zap.Int("failed", tally.Failed),
	)
	return tally
}

func (c *Crawler) processItem(
	ctx context.Context,
	runID uuid.UUID,
	year, page int,
	res ratings.ParseResult,
	tally *YearTally,
) {
	if res.Err != nil {
		tally.ParseErrors++
		c.logger.Warn("listing skipped", zap.Int("year", year), zap.Int("page", page), zap.Error(res.Err))
		c.emit(progress.Event{RunID: runID, Stage: progress.StageParseError, Year: year, Page: page, Note: res.Err.Error()})
		return
	}
	film := res.Film
	if err := film.Validate(); err != nil {
		if errors.Is(err, ratings.ErrMissingCertificate) {
			tally.Excluded++
			c.logger.Debug("listing excluded", zap.Int("year", year), zap.Error(err))
			return
		}
		tally.ParseErrors++
		c.logger.Warn("listing skipped", zap.Int("year", year), zap.Int("page", page), zap.Error(err))
		c.emit(progress.Event{RunID: runID, Stage: progress.StageParseError, Year: year, Page: page, Note: err.Error()})
		return
	}
	cert := strings.TrimSpace(film.CertNumber)

	exists, err := c.store.Exists(ctx, cert)
	if err != nil {
		c.storeFailed(runID, year, cert, err, tally)
		return
	}
	if exists {
		tally.Skipped++
		c.emit(progress.Event{RunID: runID, Stage: progress.StageRecordSkipped, Year: year, Cert: cert})
		return
	}

	if _, err := c.store.Insert(ctx, film.ToRecord(year, c.clock.Now())); err != nil {
		if errors.Is(err, ratings.ErrDuplicate) {
			tally.Skipped++
			c.emit(progress.Event{RunID: runID, Stage: progress.StageRecordSkipped, Year: year, Cert: cert})
			return
		}
		c.storeFailed(runID, year, cert, err, tally)
		return
	}
	tally.New++
	c.emit(progress.Event{RunID: runID, Stage: progress.StageRecordNew, Year: year, Cert: cert})
}

func (c *Crawler) storeFailed(runID uuid.UUID, year int, cert string, err error, tally *YearTally) {
	tally.Failed++
	c.logger.Error("store write failed", zap.Int("year", year), zap.String("cert_number", cert), zap.Error(err))
	c.emit(progress.Event{RunID: runID, Stage: progress.StageStoreError, Year: year, Cert: cert, Note: err.Error()})
}

func (c *Crawler) archive(ctx context.Context, log *zap.Logger, year, page int, markup []byte) {
	if c.archiver == nil {
		return
	}
	uri, err := c.archiver.Archive(ctx, year, page, markup)
	if err != nil {
		log.Warn("page archive failed", zap.Int("page", page), zap.Error(err))
		return
	}
	log.Debug("page archived", zap.Int("page", page), zap.String("uri", uri))
}

func (c *Crawler) emit(evt progress.Event) {
	evt.TS = c.clock.Now()
	c.emitter.Emit(evt)
}
