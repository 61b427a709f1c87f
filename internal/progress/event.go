package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart         Stage = "RUN_START"
	StageRunDone          Stage = "RUN_DONE"
	StageYearStart        Stage = "YEAR_START"
	StageYearDone         Stage = "YEAR_DONE"
	StagePageDone         Stage = "PAGE_DONE"
	StageFetchError       Stage = "FETCH_ERROR"
	StageParseError       Stage = "PARSE_ERROR"
	StageRecordNew        Stage = "RECORD_NEW"
	StageRecordSkipped    Stage = "RECORD_SKIPPED"
	StageStoreError       Stage = "STORE_ERROR"
	StageRatingFixed      Stage = "RATING_FIXED"
	StageRatingUnresolved Stage = "RATING_UNRESOLVED"
)

// Run kinds carried on RUN_START and RUN_DONE events.
const (
	KindCrawl  = "crawl"
	KindRepair = "repair"
)

// Event captures a single step of a crawl or repair run.
type Event struct {
	// RunID groups every event of one run.
	RunID uuid.UUID
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	Stage Stage
	// Kind is set on run-level events.
	Kind string
	Year int
	Page int
	// Cert is the certificate number for record-level events.
	Cert string
	// Count carries an item total: listings on a page, records in a year, or
	// fixes in a run.
	Count int64
	Bytes int64
	Dur   time.Duration
	// Note lets emitters attach low-volume context such as error text.
	Note string
	// Totals summarizes a finished run on RUN_DONE events.
	Totals map[string]int64
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
		if e.Kind == "" {
			return errors.New("run events require kind")
		}
	case StageYearStart, StageYearDone:
		if e.Year <= 0 {
			return errors.New("year events require year")
		}
	case StagePageDone, StageFetchError, StageParseError:
		if e.Year <= 0 || e.Page <= 0 {
			return errors.New("page events require year and page")
		}
	case StageRecordNew, StageRecordSkipped, StageStoreError:
		if e.Cert == "" {
			return errors.New("record events require cert")
		}
	case StageRatingFixed, StageRatingUnresolved:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
