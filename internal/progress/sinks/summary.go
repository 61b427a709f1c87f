package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/film-ratings-crawler/internal/progress"
)

// Publisher delivers a JSON-encodable payload to a named topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunSummary is the message published when a crawl or repair run finishes.
type RunSummary struct {
	RunID      string           `json:"run_id"`
	Kind       string           `json:"kind"`
	FinishedAt time.Time        `json:"finished_at"`
	DurationMs int64            `json:"duration_ms"`
	Totals     map[string]int64 `json:"totals"`
}

// SummarySink publishes one RunSummary per RUN_DONE event and ignores the
// rest of the stream.
type SummarySink struct {
	pub    Publisher
	topic  string
	logger *zap.Logger
}

// NewSummarySink builds a SummarySink publishing to topic.
func NewSummarySink(pub Publisher, topic string, logger *zap.Logger) *SummarySink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SummarySink{pub: pub, topic: topic, logger: logger}
}

// Consume publishes summaries for finished runs.
func (s *SummarySink) Consume(ctx context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		if evt.Stage != progress.StageRunDone {
			continue
		}
		msg := RunSummary{
			RunID:      evt.RunID.String(),
			Kind:       evt.Kind,
			FinishedAt: evt.TS.UTC(),
			DurationMs: evt.Dur.Milliseconds(),
			Totals:     evt.Totals,
		}
		if msg.Totals == nil {
			msg.Totals = map[string]int64{}
		}
		id, err := s.pub.Publish(ctx, s.topic, msg)
		if err != nil {
			return fmt.Errorf("publish run summary %s: %w", msg.RunID, err)
		}
		s.logger.Info("run summary published",
			zap.String("run_id", msg.RunID),
			zap.String("topic", s.topic),
			zap.String("message_id", id),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *SummarySink) Close(context.Context) error {
	return nil
}
