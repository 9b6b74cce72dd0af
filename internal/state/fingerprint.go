// Package state persists, per monitored source, the identities that were
// already notified about.
package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Strategy selects how much history a fingerprint keeps.
type Strategy string

const (
	// StrategySingle keeps only the last notified key.
	StrategySingle Strategy = "single"
	// StrategyHistory keeps a bounded ring of recent keys, newest first.
	StrategyHistory Strategy = "history"
)

// DefaultHistorySize is used when a history strategy has no explicit size.
const DefaultHistorySize = 20

// Retention is the per-source fingerprint policy.
type Retention struct {
	Strategy    Strategy `yaml:"strategy"`
	HistorySize int      `yaml:"history_size"`
}

// Size returns how many keys the retention keeps.
func (r Retention) Size() int {
	if r.Strategy != StrategyHistory {
		return 1
	}
	if r.HistorySize <= 0 {
		return DefaultHistorySize
	}
	return r.HistorySize
}

// Fingerprint is the persisted state of one source. Keys are ordered newest
// first. On disk a single key is written as a plain string so files produced
// by older single-value versions stay byte-compatible.
type Fingerprint struct {
	Keys []string
}

// IsZero reports whether nothing has been recorded.
func (f Fingerprint) IsZero() bool {
	return len(f.Keys) == 0
}

// Latest returns the most recently recorded key.
func (f Fingerprint) Latest() string {
	if len(f.Keys) == 0 {
		return ""
	}
	return f.Keys[0]
}

// Contains reports whether key is anywhere in the recorded history.
func (f Fingerprint) Contains(key string) bool {
	return slices.Contains(f.Keys, key)
}

// Record returns the fingerprint after remembering key under r.
func (f Fingerprint) Record(key string, r Retention) Fingerprint {
	if r.Strategy != StrategyHistory {
		return Fingerprint{Keys: []string{key}}
	}

	keys := make([]string, 0, r.Size())
	keys = append(keys, key)
	for _, k := range f.Keys {
		if len(keys) == r.Size() {
			break
		}
		if k != key {
			keys = append(keys, k)
		}
	}
	return Fingerprint{Keys: keys}
}

// MarshalJSON writes one key as a string and several as a list.
func (f Fingerprint) MarshalJSON() ([]byte, error) {
	switch len(f.Keys) {
	case 0:
		return []byte("null"), nil
	case 1:
		return json.Marshal(f.Keys[0])
	default:
		return json.Marshal(f.Keys)
	}
}

// UnmarshalJSON accepts a string, a list of strings, or null.
func (f *Fingerprint) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		f.Keys = nil
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var key string
		if err := json.Unmarshal(data, &key); err != nil {
			return err
		}
		if key == "" {
			f.Keys = nil
			return nil
		}
		f.Keys = []string{key}
		return nil
	}

	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return fmt.Errorf("fingerprint must be a string or a list of strings: %w", err)
	}
	f.Keys = slices.DeleteFunc(keys, func(k string) bool { return k == "" })
	return nil
}
