package state

import (
	"context"
	"maps"
	"sync"

	"sjsage522/noticewatcher/logger"
	werrors "sjsage522/noticewatcher/pkg/errors"
)

// Backend reads and writes the whole source-to-fingerprint mapping.
type Backend interface {
	// Load returns an empty mapping when nothing has been stored yet and an
	// error when stored state exists but cannot be decoded.
	Load(ctx context.Context) (map[string]Fingerprint, error)
	// Save replaces the stored mapping atomically.
	Save(ctx context.Context, entries map[string]Fingerprint) error
	Close() error
}

// Store is the in-memory fingerprint mapping for one run. All methods are
// safe for concurrent use; writes are serialized.
type Store struct {
	backend Backend
	mu      sync.Mutex
	entries map[string]Fingerprint
}

// NewStore creates a store on top of backend. Call Load before use.
func NewStore(backend Backend) *Store {
	return &Store{
		backend: backend,
		entries: make(map[string]Fingerprint),
	}
}

// Load reads the persisted mapping. Unreadable state is a store error and
// must stop the run: resetting to empty would re-notify every source.
func (s *Store) Load(ctx context.Context) error {
	entries, err := s.backend.Load(ctx)
	if err != nil {
		return werrors.NewStore("fingerprint state unreadable", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]Fingerprint, len(entries))
	for id, fp := range entries {
		if !fp.IsZero() {
			s.entries[id] = fp
		}
	}

	logger.ForStore().Debug().Int("sources", len(s.entries)).Msg("Fingerprints loaded")
	return nil
}

// Get returns the fingerprint of a source. An absent source reports false.
func (s *Store) Get(sourceID string) (Fingerprint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fp, ok := s.entries[sourceID]
	return fp, ok
}

// Record remembers key for sourceID in memory and returns the new fingerprint.
func (s *Store) Record(sourceID, key string, r Retention) Fingerprint {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.recordLocked(sourceID, key, r)
}

func (s *Store) recordLocked(sourceID, key string, r Retention) Fingerprint {
	fp := s.entries[sourceID].Record(key, r)
	s.entries[sourceID] = fp
	return fp
}

// Save writes the full mapping through the backend.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveLocked(ctx)
}

func (s *Store) saveLocked(ctx context.Context) error {
	if err := s.backend.Save(ctx, maps.Clone(s.entries)); err != nil {
		return werrors.NewStore("fingerprint state not saved", err)
	}
	return nil
}

// Commit records key and immediately persists the mapping, so a crash right
// after a notification cannot lose it. On a save failure the in-memory record
// is kept and will be written by the next successful Save.
func (s *Store) Commit(ctx context.Context, sourceID, key string, r Retention) (Fingerprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fp := s.recordLocked(sourceID, key, r)
	return fp, s.saveLocked(ctx)
}

// Snapshot returns a copy of the current mapping.
func (s *Store) Snapshot() map[string]Fingerprint {
	s.mu.Lock()
	defer s.mu.Unlock()

	return maps.Clone(s.entries)
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
