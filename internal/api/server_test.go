package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/film-ratings-crawler/internal/ratings"
	"github.com/JakeFAU/film-ratings-crawler/internal/storage/memory"
)

func seededStore(t *testing.T) *memory.RecordStore {
	t.Helper()
	store := memory.NewRecordStore()
	for _, rec := range []ratings.Record{
		{CertNumber: "33587", Title: "Speed", Year: 1994, Rating: "R", Descriptors: "Rated R for violence"},
		{CertNumber: "33600", Title: "Ed Wood", Year: 1994, Rating: "R"},
		{CertNumber: "33650", Title: "The Lion King", Year: 1994, Rating: "G"},
		{CertNumber: "34411", Title: "Heat", Year: 1995, Rating: "R"},
		{CertNumber: "34500", Title: "Babe", Year: 1995, Rating: "G"},
		{CertNumber: "NA", Title: "100% Pure", Year: 1970},
	} {
		_, err := store.Insert(context.Background(), rec)
		require.NoError(t, err)
	}
	return store
}

func newTestServer(t *testing.T, store ratings.QueryStore) *Server {
	t.Helper()
	return NewServer(store, Config{DefaultPerPage: 2, MaxPerPage: 3}, zap.NewNop())
}

func do(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeList(t *testing.T, rec *httptest.ResponseRecorder) listResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func titles(recs []ratings.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Title)
	}
	return out
}

func TestListRatingsPaginates(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, seededStore(t))

	first := decodeList(t, do(t, s, "/api/ratings"))
	assert.Equal(t, int64(6), first.Total)
	assert.Equal(t, 1, first.Page)
	assert.Equal(t, 2, first.PerPage)
	assert.Equal(t, int64(3), first.TotalPages)
	assert.Equal(t, []string{"Babe", "Heat"}, titles(first.Data))

	second := decodeList(t, do(t, s, "/api/ratings?page=2"))
	assert.Equal(t, []string{"Ed Wood", "Speed"}, titles(second.Data))

	beyond := decodeList(t, do(t, s, "/api/ratings?page=9"))
	assert.Empty(t, beyond.Data)
	assert.NotNil(t, beyond.Data)
}

func TestListRatingsCapsPerPage(t *testing.T) {
	t.Parallel()

	body := decodeList(t, do(t, newTestServer(t, seededStore(t)), "/api/ratings?per_page=1000"))
	assert.Equal(t, 3, body.PerPage)
	assert.Len(t, body.Data, 3)
	assert.Equal(t, int64(2), body.TotalPages)
}

func TestListRatingsFilters(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, seededStore(t))
	tests := []struct {
		query string
		want  []string
	}{
		{"/api/ratings?year=1994&per_page=3", []string{"Ed Wood", "Speed", "The Lion King"}},
		{"/api/ratings?rating=G", []string{"Babe", "The Lion King"}},
		{"/api/ratings?search=LION", []string{"The Lion King"}},
		{"/api/ratings?search=%25", []string{"100% Pure"}},
		{"/api/ratings?year=1995&rating=R", []string{"Heat"}},
	}
	for _, tt := range tests {
		body := decodeList(t, do(t, s, tt.query))
		assert.Equal(t, tt.want, titles(body.Data), tt.query)
		assert.Equal(t, int64(len(tt.want)), body.Total, tt.query)
	}
}

func TestListRatingsRejectsBadParams(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, seededStore(t))
	for _, q := range []string{
		"page=0",
		"page=abc",
		"per_page=-1",
		"year=nineteen",
		"page=9223372036854775807&per_page=50",
		"page=9223372036854775807&per_page=1000",
	} {
		rec := do(t, s, "/api/ratings?"+q)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		assert.Contains(t, rec.Body.String(), "error", q)
	}
}

func TestExportReturnsCSVAttachment(t *testing.T) {
	t.Parallel()

	rec := do(t, newTestServer(t, seededStore(t)), "/api/export?rating=G&page=2&per_page=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="mpaa_ratings_export.csv"`, rec.Header().Get("Content-Disposition"))

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 3, "pagination does not apply to exports")
	assert.Equal(t, "cert_number,film_title,year,rating,descriptors,alternate_titles,other_notes", lines[0])
	assert.Equal(t, "34500,Babe,1995,G,,,", lines[1])
	assert.Equal(t, "33650,The Lion King,1994,G,,,", lines[2])
}

func TestStats(t *testing.T) {
	t.Parallel()

	rec := do(t, newTestServer(t, seededStore(t)), "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats ratings.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(6), stats.Total)
	assert.Equal(t, []int{1970, 1994, 1995}, stats.Years)
	assert.Equal(t, []string{"G", "R"}, stats.Ratings)
}

type brokenStore struct{ *memory.RecordStore }

func (brokenStore) List(context.Context, ratings.Filter) ([]ratings.Record, int64, error) {
	return nil, 0, errors.New("db down")
}

func (brokenStore) Stats(context.Context) (ratings.Stats, error) {
	return ratings.Stats{}, errors.New("db down")
}

func (brokenStore) Ping(context.Context) error { return errors.New("db down") }

func TestStoreFailures(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.ErrorLevel)
	s := NewServer(brokenStore{memory.NewRecordStore()}, Config{}, zap.New(core))

	for _, target := range []string{"/api/ratings", "/api/export", "/api/stats"} {
		rec := do(t, s, target)
		assert.Equal(t, http.StatusInternalServerError, rec.Code, target)
	}
	assert.Equal(t, 3, logs.Len())

	assert.Equal(t, http.StatusServiceUnavailable, do(t, s, "/readyz").Code)
}

func TestProbesAndMetrics(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, seededStore(t))
	assert.Equal(t, http.StatusOK, do(t, s, "/healthz").Code)
	assert.Equal(t, http.StatusOK, do(t, s, "/readyz").Code)

	rec := do(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, seededStore(t))
	rec := do(t, s, "/healthz")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.ErrorLevel)
	h := recoverMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}
