package worker

import (
	"fmt"
	"time"

	"sjsage522/noticewatcher/internal/adapter"
)

// Status is the per-source result of a run
type Status string

const (
	StatusUnchanged Status = "unchanged"
	StatusNotified  Status = "notified"
	StatusError     Status = "error"
)

// Stage is the terminal step a source reached in a run
type Stage string

const (
	StageFetchFailed  Stage = "fetch_failed"
	StageExcluded     Stage = "excluded"
	StageUnchanged    Stage = "unchanged"
	StageSeeded       Stage = "seeded"
	StageNotifyFailed Stage = "notify_failed"
	StageCommitted    Stage = "committed"
	// StageCommitFailed means the notification went out but saving the
	// fingerprint did not; the record stays in memory for the final flush.
	StageCommitFailed Stage = "commit_failed"
)

// Outcome is what happened to one source
type Outcome struct {
	SourceID   string
	SourceName string
	Status     Status
	Stage      Stage
	// Item is the selected candidate, if any
	Item *adapter.ObservedItem
	// Seeded is set when a first observation was recorded without notifying
	Seeded bool
	// Skipped counts excluded rows above the selected one
	Skipped  int
	Attempts int
	Err      error
	Duration time.Duration
}

// Summary is the one-line result shown to the user
func (o Outcome) Summary() string {
	switch o.Status {
	case StatusNotified:
		if o.Err != nil {
			return fmt.Sprintf("[%s] Notified: %s (state not saved: %v)", o.SourceID, o.Item.Title, o.Err)
		}
		return fmt.Sprintf("[%s] Notified: %s", o.SourceID, o.Item.Title)
	case StatusError:
		return fmt.Sprintf("[%s] Error: %v", o.SourceID, o.Err)
	default:
		if o.Seeded && o.Item != nil {
			return fmt.Sprintf("[%s] Unchanged (first seen: %s)", o.SourceID, o.Item.Title)
		}
		return fmt.Sprintf("[%s] Unchanged", o.SourceID)
	}
}

// RunReport lists the outcome of every source in configuration order
type RunReport struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcomes   []Outcome
	// FlushErr is the error of the final store save, if any
	FlushErr error
}

// Get returns the outcome of a source
func (r *RunReport) Get(sourceID string) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.SourceID == sourceID {
			return o, true
		}
	}
	return Outcome{}, false
}

// Errors returns the outcomes that carry an error
func (r *RunReport) Errors() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// Count returns how many sources ended with status
func (r *RunReport) Count(status Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Summary returns one line per source
func (r *RunReport) Summary() []string {
	lines := make([]string, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		lines = append(lines, o.Summary())
	}
	return lines
}
