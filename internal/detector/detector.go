// Package detector decides whether the latest item of a source is new.
package detector

import (
	"strings"

	"sjsage522/noticewatcher/helpers"
	"sjsage522/noticewatcher/internal/adapter"
	"sjsage522/noticewatcher/internal/state"
)

// Verdict is the outcome of a comparison
type Verdict int

const (
	// Unchanged means nothing to report
	Unchanged Verdict = iota
	// NewItem means a notification is warranted
	NewItem
)

func (v Verdict) String() string {
	switch v {
	case NewItem:
		return "new_item"
	default:
		return "unchanged"
	}
}

// Policy is the per-source comparison policy.
type Policy struct {
	Strategy state.Strategy
	// NotifyOnFirstSeen makes the first observation of a source notify.
	// When false the first observation is only remembered.
	NotifyOnFirstSeen bool
}

// Decision is the classification of one candidate.
type Decision struct {
	Verdict Verdict
	// Key is the comparison key of the candidate; empty when there was none
	Key string
	// FirstSeen is set when the source had no fingerprint yet. Together with
	// Verdict Unchanged it asks the caller to seed the fingerprint silently.
	FirstSeen bool
}

// Seed reports whether the caller should record Key without notifying.
func (d Decision) Seed() bool {
	return d.FirstSeen && d.Verdict == Unchanged && d.Key != ""
}

// ComparisonKey returns the identity when the adapter supplied one, else the
// whitespace-normalized title.
func ComparisonKey(item adapter.ObservedItem) string {
	if id := strings.TrimSpace(item.Identity); id != "" {
		return id
	}
	return helpers.NormalizeText(item.Title)
}

// Classify compares candidate against the stored fingerprint. A nil
// candidate or fingerprint means "none".
func Classify(candidate *adapter.ObservedItem, fp *state.Fingerprint, p Policy) Decision {
	if candidate == nil {
		return Decision{Verdict: Unchanged}
	}

	key := ComparisonKey(*candidate)
	if key == "" {
		return Decision{Verdict: Unchanged}
	}

	if fp == nil || fp.IsZero() {
		if p.NotifyOnFirstSeen {
			return Decision{Verdict: NewItem, Key: key, FirstSeen: true}
		}
		return Decision{Verdict: Unchanged, Key: key, FirstSeen: true}
	}

	if p.Strategy == state.StrategyHistory {
		if fp.Contains(key) {
			return Decision{Verdict: Unchanged, Key: key}
		}
		return Decision{Verdict: NewItem, Key: key}
	}

	if fp.Latest() == key {
		return Decision{Verdict: Unchanged, Key: key}
	}
	return Decision{Verdict: NewItem, Key: key}
}
