// Package repair backfills missing ratings from the rating prefix that most
// descriptor strings start with, and reports the rows that stay unrated.
package repair

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/film-ratings-crawler/internal/progress"
	"github.com/JakeFAU/film-ratings-crawler/internal/ratings"
)

// Patterns are tried in order and anchored at the start of the descriptor.
var ratingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(?:Rated\s+)+([A-Z]+(?:-\d+)?(?:/[A-Z-]+)?)\s+for`),
	regexp.MustCompile(`^([A-Z]+(?:-\d+)?(?:/[A-Z-]+)?)\s+for`),
}

// ExtractRating pulls the rating token out of a descriptor such as
// "Rated PG-13 for violence" or "NC-17 for explicit content".
func ExtractRating(descriptors string) (string, bool) {
	desc := strings.TrimSpace(descriptors)
	for _, re := range ratingPatterns {
		if m := re.FindStringSubmatch(desc); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// Result reports one repair pass.
type Result struct {
	RunID      uuid.UUID        `json:"run_id"`
	Candidates int              `json:"candidates"`
	Fixed      int              `json:"fixed"`
	Failed     int              `json:"failed"`
	Unresolved []ratings.Record `json:"unresolved"`
}

// AuditEntry is one unrated row in the audit preview.
type AuditEntry struct {
	ID          int64  `json:"id"`
	Title       string `json:"film_title"`
	Year        int    `json:"year"`
	Descriptors string `json:"descriptors"`
}

// AuditReport counts rows without a rating and previews the first few.
type AuditReport struct {
	Count   int          `json:"count"`
	Preview []AuditEntry `json:"preview"`
}

// Remaining is the number of unrated rows not shown in Preview.
func (r AuditReport) Remaining() int {
	return max(r.Count-len(r.Preview), 0)
}

// Config shapes the audit preview.
type Config struct {
	PreviewLimit int
	PreviewChars int
}

// Repairer runs repair and audit passes against a store.
type Repairer struct {
	store   ratings.RepairStore
	clock   ratings.Clock
	ids     ratings.IDGenerator
	emitter progress.Emitter
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Repairer. emitter and logger may be nil.
func New(
	store ratings.RepairStore,
	clock ratings.Clock,
	ids ratings.IDGenerator,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Repairer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = progress.Nop{}
	}
	if cfg.PreviewLimit <= 0 {
		cfg.PreviewLimit = 10
	}
	if cfg.PreviewChars <= 0 {
		cfg.PreviewChars = 80
	}
	return &Repairer{
		store:   store,
		clock:   clock,
		ids:     ids,
		emitter: emitter,
		cfg:     cfg,
		logger:  logger.Named("repair"),
	}
}

// Run fills the rating of every unrated record whose descriptor yields one.
// Records that already have a rating are never touched, so a second run over
// the same data writes nothing.
func (r *Repairer) Run(ctx context.Context) (Result, error) {
	runID, err := r.ids.NewRawID()
	if err != nil {
		return Result{}, fmt.Errorf("generate run id: %w", err)
	}
	candidates, err := r.store.ListRepairCandidates(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list repair candidates: %w", err)
	}

	started := r.clock.Now()
	res := Result{RunID: runID, Candidates: len(candidates), Unresolved: []ratings.Record{}}
	r.emit(progress.Event{RunID: runID, Stage: progress.StageRunStart, Kind: progress.KindRepair, Count: int64(len(candidates))})

	for _, rec := range candidates {
		if err := ctx.Err(); err != nil {
			r.finish(runID, started, res)
			return res, fmt.Errorf("repair interrupted: %w", err)
		}
		rating, ok := ExtractRating(rec.Descriptors)
		if !ok {
			res.Unresolved = append(res.Unresolved, rec)
			r.emit(progress.Event{RunID: runID, Stage: progress.StageRatingUnresolved, Year: rec.Year, Cert: rec.CertNumber})
			continue
		}
		if err := r.store.UpdateRating(ctx, rec.ID, rating); err != nil {
			res.Failed++
			r.logger.Error("rating update failed", zap.Int64("id", rec.ID), zap.Error(err))
			continue
		}
		res.Fixed++
		r.logger.Debug("rating fixed",
			zap.Int64("id", rec.ID),
			zap.String("title", rec.Title),
			zap.String("rating", rating),
		)
		r.emit(progress.Event{RunID: runID, Stage: progress.StageRatingFixed, Year: rec.Year, Cert: rec.CertNumber, Note: rating})
	}

	r.finish(runID, started, res)
	return res, nil
}

func (r *Repairer) finish(runID uuid.UUID, started time.Time, res Result) {
	r.emit(progress.Event{
		RunID: runID,
		Stage: progress.StageRunDone,
		Kind:  progress.KindRepair,
		Count: int64(res.Fixed),
		Dur:   max(r.clock.Now().Sub(started), 0),
		Totals: map[string]int64{
			"candidates": int64(res.Candidates),
			"fixed":      int64(res.Fixed),
			"failed":     int64(res.Failed),
			"unresolved": int64(len(res.Unresolved)),
		},
	})
	r.logger.Info("repair finished",
		zap.Stringer("run_id", runID),
		zap.Int("candidates", res.Candidates),
		zap.Int("fixed", res.Fixed),
		zap.Int("unresolved", len(res.Unresolved)),
	)
}

// Audit reports every record still lacking a rating.
func (r *Repairer) Audit(ctx context.Context) (AuditReport, error) {
	recs, err := r.store.ListUnrated(ctx)
	if err != nil {
		return AuditReport{}, fmt.Errorf("list unrated: %w", err)
	}
	report := AuditReport{Count: len(recs), Preview: []AuditEntry{}}
	for _, rec := range recs[:min(len(recs), r.cfg.PreviewLimit)] {
		report.Preview = append(report.Preview, AuditEntry{
			ID:          rec.ID,
			Title:       rec.Title,
			Year:        rec.Year,
			Descriptors: truncate(rec.Descriptors, r.cfg.PreviewChars),
		})
	}
	return report, nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func (r *Repairer) emit(evt progress.Event) {
	evt.TS = r.clock.Now()
	r.emitter.Emit(evt)
}
