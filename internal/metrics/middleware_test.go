package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareCountsByStatus(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/ratings", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("[]"))
	})
	r.Get("/api/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	ok := httpRequestsTotal.WithLabelValues(http.MethodGet, "200")
	unavailable := httpRequestsTotal.WithLabelValues(http.MethodGet, "503")
	beforeOK, beforeUnavailable := testutil.ToFloat64(ok), testutil.ToFloat64(unavailable)

	for _, path := range []string{"/api/ratings", "/api/ratings", "/api/stats"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.InDelta(t, 2, testutil.ToFloat64(ok)-beforeOK, 0)
	assert.InDelta(t, 1, testutil.ToFloat64(unavailable)-beforeUnavailable, 0)
	assert.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}

func TestMiddlewareUnknownRoute(t *testing.T) {
	Init()
	notFound := httpRequestsTotal.WithLabelValues(http.MethodGet, "404")
	before := testutil.ToFloat64(notFound)

	h := Middleware(http.NotFoundHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.InDelta(t, 1, testutil.ToFloat64(notFound)-before, 0)
}

func TestResponseWriterFlush(t *testing.T) {
	rec := httptest.NewRecorder()
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("cert_number\n"))
		f, ok := w.(http.Flusher)
		require.True(t, ok)
		f.Flush()
	}))
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/export", nil))
	assert.True(t, rec.Flushed)
}
