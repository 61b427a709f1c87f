package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/film-ratings-crawler/internal/progress"
)

// PrometheusSink turns run events into Prometheus collectors.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	pages       *prometheus.CounterVec
	pageBytes   prometheus.Counter
	parseErrors prometheus.Counter
	records     *prometheus.CounterVec
	repairs     *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filmratings_runs_started_total",
			Help: "Crawl and repair runs started, by kind.",
		}, []string{"kind"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filmratings_runs_completed_total",
			Help: "Crawl and repair runs completed, by kind.",
		}, []string{"kind"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "filmratings_runs_running",
			Help: "Runs currently in progress.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "filmratings_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"kind"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filmratings_pages_total",
			Help: "Registry pages processed, by result.",
		}, []string{"result"}),
		pageBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filmratings_page_bytes_total",
			Help: "Bytes of registry markup downloaded.",
		}),
		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filmratings_parse_errors_total",
			Help: "Listings that could not be parsed.",
		}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filmratings_records_total",
			Help: "Crawled listings by outcome.",
		}, []string{"outcome"}),
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filmratings_rating_repairs_total",
			Help: "Repair pass results by outcome.",
		}, []string{"outcome"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.pages,
		s.pageBytes,
		s.parseErrors,
		s.records,
		s.repairs,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.WithLabelValues(evt.Kind).Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues(evt.Kind).Inc()
		if evt.Dur > 0 {
			s.runDuration.WithLabelValues(evt.Kind).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.RunID) {
			s.runsRunning.Dec()
		}
	case progress.StagePageDone:
		s.pages.WithLabelValues("ok").Inc()
		if evt.Bytes > 0 {
			s.pageBytes.Add(float64(evt.Bytes))
		}
	case progress.StageFetchError:
		s.pages.WithLabelValues("fetch_error").Inc()
	case progress.StageParseError:
		s.parseErrors.Inc()
	case progress.StageRecordNew:
		s.records.WithLabelValues("new").Inc()
	case progress.StageRecordSkipped:
		s.records.WithLabelValues("skipped").Inc()
	case progress.StageStoreError:
		s.records.WithLabelValues("failed").Inc()
	case progress.StageRatingFixed:
		s.repairs.WithLabelValues("fixed").Inc()
	case progress.StageRatingUnresolved:
		s.repairs.WithLabelValues("unresolved").Inc()
	case progress.StageYearStart, progress.StageYearDone:
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[uuid.UUID]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[uuid.UUID]struct{})}
}

func (t *runTracker) start(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
