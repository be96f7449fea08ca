// Package cache is a content-addressed store for computed aggregates.
// Entries are append-only JSON files keyed by input fingerprint, expire by
// TTL checked at read time, and are committed with a temp-then-rename
// write so a concurrent reader never observes a torn value. Garbage
// collection of expired entries is left to an external maintenance task.
package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// fingerprintPrefixLen is how much of the fingerprint appears in entry
// filenames; the full fingerprint is stored inside the entry.
const fingerprintPrefixLen = 16

// IOError reports a cache write failure. Read failures are absorbed as
// misses; write failures abort the mission's computation so no partial
// state is left behind.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("cache io error on %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Entry is the persisted form of one computed aggregate.
type Entry struct {
	Key       string          `json:"key"`
	MissionID string          `json:"mission_id"`
	Kind      Kind            `json:"kind"`
	CreatedAt time.Time       `json:"created_at"`
	TTL       time.Duration   `json:"ttl"`
	Value     json.RawMessage `json:"value"`
}

// Expired reports whether the entry is past its TTL at the given time.
func (e *Entry) Expired(now time.Time) bool {
	return e.TTL > 0 && now.After(e.CreatedAt.Add(e.TTL))
}

// Store reads and writes cache entries under a single directory.
// Safe for concurrent use: reads never see partial writes because commits
// go through a rename, and distinct fingerprints map to distinct files.
type Store struct {
	dir    string
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewStore opens (creating if needed) a cache directory.
func NewStore(dir string, ttl time.Duration, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &IOError{Path: dir, Err: err}
	}
	return &Store{dir: dir, ttl: ttl, logger: logger, now: time.Now}, nil
}

// Get returns the cached value for a fingerprint, or ok=false on a miss.
// Expired entries and unreadable files are both misses: the caller
// recomputes and a fresh entry supersedes the old one.
func (s *Store) Get(missionID string, kind Kind, key string) (json.RawMessage, bool) {
	path := s.entryPath(missionID, kind, key)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("cache read failed, treating as miss",
				slog.String("path", path), slog.String("error", err.Error()))
		}
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.logger.Warn("cache entry corrupt, treating as miss",
			slog.String("path", path), slog.String("error", err.Error()))
		return nil, false
	}
	if entry.Key != key || entry.Expired(s.now()) {
		return nil, false
	}
	return entry.Value, true
}

// Put commits a computed value under its fingerprint. The entry is
// written to a temp file in the same directory and renamed into place,
// making the commit atomic from any reader's perspective.
func (s *Store) Put(missionID string, kind Kind, key string, value json.RawMessage) error {
	entry := Entry{
		Key:       key,
		MissionID: missionID,
		Kind:      kind,
		CreatedAt: s.now().UTC(),
		TTL:       s.ttl,
		Value:     value,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	path := s.entryPath(missionID, kind, key)
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return &IOError{Path: s.dir, Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &IOError{Path: tmp.Name(), Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &IOError{Path: tmp.Name(), Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return &IOError{Path: path, Err: err}
	}
	return nil
}

func (s *Store) entryPath(missionID string, kind Kind, key string) string {
	prefix := key
	if len(prefix) > fingerprintPrefixLen {
		prefix = prefix[:fingerprintPrefixLen]
	}
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s_%s.json", missionID, kind, prefix))
}
