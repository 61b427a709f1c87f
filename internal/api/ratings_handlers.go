package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/film-ratings-crawler/internal/export"
	"github.com/JakeFAU/film-ratings-crawler/internal/ratings"
)

const queryTimeout = 10 * time.Second

// RatingsHandler serves the read-only ratings endpoints.
type RatingsHandler struct {
	store          ratings.QueryStore
	defaultPerPage int
	maxPerPage     int
	timeout        time.Duration
	logger         *zap.Logger
}

// NewRatingsHandler wires the store and pagination bounds.
func NewRatingsHandler(store ratings.QueryStore, cfg Config, logger *zap.Logger) *RatingsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &RatingsHandler{
		store:          store,
		defaultPerPage: cfg.DefaultPerPage,
		maxPerPage:     cfg.MaxPerPage,
		timeout:        queryTimeout,
		logger:         logger,
	}
	if h.maxPerPage <= 0 {
		h.maxPerPage = maxPerPage
	}
	if h.defaultPerPage <= 0 {
		h.defaultPerPage = defaultPerPage
	}
	h.defaultPerPage = min(h.defaultPerPage, h.maxPerPage)
	return h
}

type listResponse struct {
	Data       []ratings.Record `json:"data"`
	Total      int64            `json:"total"`
	Page       int              `json:"page"`
	PerPage    int              `json:"per_page"`
	TotalPages int64            `json:"total_pages"`
}

// List handles GET /api/ratings?page=&per_page=&search=&year=&rating=. Rows
// are ordered by year descending, then title. per_page is capped at the
// configured maximum; malformed numbers yield 400.
func (h *RatingsHandler) List(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := parsePositive(r, "page", 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	perPage, err := parsePositive(r, "per_page", h.defaultPerPage)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	perPage = min(perPage, h.maxPerPage)
	if page > math.MaxInt/perPage {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("page must be at most %d", math.MaxInt/perPage))
		return
	}
	f.Limit = perPage
	f.Offset = (page - 1) * perPage

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	recs, total, err := h.store.List(ctx, f)
	if err != nil {
		h.logger.Error("list ratings failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list ratings")
		return
	}
	if recs == nil {
		recs = []ratings.Record{}
	}
	writeJSON(w, http.StatusOK, listResponse{
		Data:       recs,
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: (total + int64(perPage) - 1) / int64(perPage),
	})
}

// Export handles GET /api/export?search=&year=&rating= and returns every
// matching row as a CSV attachment.
func (h *RatingsHandler) Export(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var buf bytes.Buffer
	n, err := export.Write(ctx, &buf, h.store, f)
	if err != nil {
		h.logger.Error("export failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to export ratings")
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Warn("export write failed", zap.Int("rows", n), zap.Error(err))
	}
}

// Stats handles GET /api/stats.
func (h *RatingsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	stats, err := h.store.Stats(ctx)
	if err != nil {
		h.logger.Error("stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func parseFilter(r *http.Request) (ratings.Filter, error) {
	q := r.URL.Query()
	f := ratings.Filter{
		Search: strings.TrimSpace(q.Get("search")),
		Rating: strings.TrimSpace(q.Get("rating")),
	}
	if raw := strings.TrimSpace(q.Get("year")); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil || year <= 0 {
			return ratings.Filter{}, errors.New("year must be a positive integer")
		}
		f.Year = year
	}
	return f, nil
}

func parsePositive(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return v, nil
}
