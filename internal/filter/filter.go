// Package filter discards candidate items that must never trigger a
// notification.
package filter

import (
	"strings"
	"unicode"

	"sjsage522/noticewatcher/internal/adapter"
)

// Rules are the exclusion rules of one source.
type Rules struct {
	// Keywords are matched as case-sensitive substrings of the title.
	Keywords []string
	// SkipPinned drops pinned/notice rows before keyword matching.
	SkipPinned bool
}

// IsPinned reports whether item is a pinned row: either the adapter flagged
// it, or its ordinal marker is present but not a number.
func IsPinned(item adapter.ObservedItem) bool {
	if item.Pinned {
		return true
	}
	ordinal := strings.TrimSpace(item.Ordinal)
	if ordinal == "" {
		return false
	}
	for _, r := range ordinal {
		if !unicode.IsDigit(r) && r != ',' {
			return true
		}
	}
	return false
}

// IsExcluded reports whether item must be treated as absent.
func IsExcluded(item adapter.ObservedItem, rules Rules) bool {
	if rules.SkipPinned && IsPinned(item) {
		return true
	}
	for _, kw := range rules.Keywords {
		if kw != "" && strings.Contains(item.Title, kw) {
			return true
		}
	}
	return false
}

// SelectLatest returns the first non-excluded item in document order, or nil
// when every candidate was excluded. skipped counts the excluded items that
// preceded the selection.
func SelectLatest(items []adapter.ObservedItem, rules Rules) (latest *adapter.ObservedItem, skipped int) {
	for i := range items {
		if IsExcluded(items[i], rules) {
			skipped++
			continue
		}
		return &items[i], skipped
	}
	return nil, skipped
}
