// Package cache implements the content-keyed artifact store: a JSON index of
// identity-to-artifact records plus the audio files it references, persisted
// in one cache directory.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/audioutil"
	"github.com/book-expert/narration-service/internal/core"
)

// IndexFilename is the name of the cache index document inside the cache
// directory.
const IndexFilename = "cache.json"

const indexFilePermissions = 0o640

// ErrCorruptCache indicates an index file that exists but is not a
// well-formed list. The store makes no attempt at partial recovery.
var ErrCorruptCache = errors.New("corrupt cache index")

// Store is a single-process, single-writer artifact cache. Concurrent
// processes writing the same index file are out of scope.
type Store struct {
	dir string
	log *logger.Logger
}

// New creates a store rooted at dir, creating the directory if needed.
func New(dir string, log *logger.Logger) (*Store, error) {
	err := audioutil.EnsureDir(dir)
	if err != nil {
		return nil, err
	}

	return &Store{dir: dir, log: log}, nil
}

// Dir returns the cache directory holding the index and the audio artifacts.
func (s *Store) Dir() string {
	return s.dir
}

// IndexPath returns the path of the persisted index document.
func (s *Store) IndexPath() string {
	return filepath.Join(s.dir, IndexFilename)
}

// Load reads the full ordered record list. A missing index file yields an
// empty list; an index that is not a well-formed list fails with
// ErrCorruptCache.
func (s *Store) Load() ([]core.CacheRecord, error) {
	data, err := os.ReadFile(s.IndexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read cache index %s: %w", s.IndexPath(), err)
	}

	var records []core.CacheRecord

	err = json.Unmarshal(data, &records)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptCache, s.IndexPath(), err)
	}

	return records, nil
}

// Lookup decides whether a previously produced artifact can be reused. With a
// valid slot only that record's identity is compared; otherwise the whole
// list is scanned for the first identity match. A miss returns false, never
// an error.
func (s *Store) Lookup(identity core.Identity, slot int) (core.CacheRecord, bool, error) {
	records, err := s.Load()
	if err != nil {
		return core.CacheRecord{}, false, err
	}

	if slot >= 0 && slot < len(records) {
		if records[slot].InputData.Equal(identity) {
			return records[slot], true, nil
		}

		return core.CacheRecord{}, false, nil
	}

	for _, record := range records {
		if record.InputData.Equal(identity) {
			return record, true, nil
		}
	}

	return core.CacheRecord{}, false, nil
}

// Upsert records an identity-to-artifact mapping. A valid slot whose stored
// identity already equals the new one is a no-op; a valid slot with a
// different identity is replaced whole, deleting the superseded original
// audio file when it is a distinct file that still exists. An absent or
// out-of-range slot appends. The index is rewritten atomically.
func (s *Store) Upsert(record core.CacheRecord, slot int) error {
	records, err := s.Load()
	if err != nil {
		return err
	}

	if slot >= 0 && slot < len(records) {
		stored := records[slot]

		if stored.InputData.Equal(record.InputData) {
			return nil
		}

		s.removeSupersededAudio(stored, record)

		records[slot] = record
	} else {
		records = append(records, record)
	}

	return s.persist(records)
}

// removeSupersededAudio deletes the replaced record's original artifact when
// it differs from the new one.
func (s *Store) removeSupersededAudio(stored, replacement core.CacheRecord) {
	if stored.OriginalAudio == "" || stored.OriginalAudio == replacement.OriginalAudio {
		return
	}

	staleFile := filepath.Join(s.dir, stored.OriginalAudio)

	_, statErr := os.Stat(staleFile)
	if statErr != nil {
		return
	}

	removeErr := os.Remove(staleFile)
	if removeErr != nil {
		s.log.Warn("Failed to remove superseded audio file %s: %v", staleFile, removeErr)

		return
	}

	s.log.Info("Removed superseded audio file %s", staleFile)
}

// persist rewrites the whole index via a temp file and rename, so a crash
// never leaves a truncated index behind.
func (s *Store) persist(records []core.CacheRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache index: %w", err)
	}

	tmpPath := s.IndexPath() + ".tmp"

	err = os.WriteFile(tmpPath, data, indexFilePermissions)
	if err != nil {
		return fmt.Errorf("failed to write cache index temp file %s: %w", tmpPath, err)
	}

	err = os.Rename(tmpPath, s.IndexPath())
	if err != nil {
		_ = os.Remove(tmpPath)

		return fmt.Errorf("failed to replace cache index %s: %w", s.IndexPath(), err)
	}

	return nil
}
