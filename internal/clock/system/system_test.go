package system

import (
	"testing"
	"time"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

// TestClockYearMatchesWallClock guards the crawl upper bound.
func TestClockYearMatchesWallClock(t *testing.T) {
	t.Parallel()

	if got, want := New().Now().Year(), time.Now().UTC().Year(); got != want {
		t.Fatalf("expected year %d, got %d", want, got)
	}
}
