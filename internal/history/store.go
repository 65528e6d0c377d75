// Package history persists rolling usage snapshots to a JSON document.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/psurma/claudit/internal/api"
	"github.com/psurma/claudit/internal/metrics"
)

const (
	// FileName is the history document name inside the data directory.
	FileName = "usage_history.json"
	// MaxAge is the retention window.
	MaxAge = 7 * 24 * time.Hour
	// CurrentVersion is written on every save.
	CurrentVersion = 2
)

// Snapshot is one timestamped recording of bucket percentages.
type Snapshot struct {
	Timestamp int64              `json:"timestamp"`
	Buckets   map[string]float64 `json:"buckets"`
}

// History is the persisted document.
type History struct {
	Version   int        `json:"version"`
	Snapshots []Snapshot `json:"snapshots"`
}

// Store reads and writes the history document. SaveSnapshot calls are
// serialized; Load may run concurrently with a save since writes replace
// the file atomically.
type Store struct {
	path    string
	logger  *slog.Logger
	metrics *metrics.Collector

	mu     sync.Mutex
	now    func() time.Time
	rename func(oldpath, newpath string) error
}

// New creates a store for dir/usage_history.json.
func New(dir string, logger *slog.Logger, m *metrics.Collector) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:    filepath.Join(dir, FileName),
		logger:  logger,
		metrics: m,
		now:     time.Now,
		rename:  os.Rename,
	}
}

// Path returns the document path.
func (s *Store) Path() string {
	return s.path
}

// Load returns the migrated and pruned history. A missing or unreadable
// document yields an empty history.
func (s *Store) Load() History {
	h := s.read()
	s.metrics.HistoryLoaded(len(h.Snapshots))
	return h
}

func (s *Store) read() History {
	empty := History{Version: CurrentVersion, Snapshots: []Snapshot{}}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return empty
	}
	if err != nil {
		s.logger.Warn("history read failed", "path", s.path, "error", err)
		return empty
	}

	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		s.logger.Warn("history parse failed", "path", s.path, "error", err)
		return empty
	}
	if h.Version == 0 {
		h.Version = 1
	}

	migrated := 0
	for i := range h.Snapshots {
		if h.Snapshots[i].Buckets == nil {
			h.Snapshots[i].Buckets = map[string]float64{}
		}
		migrated += migrateLabels(h.Snapshots[i].Buckets)
	}
	if migrated > 0 {
		s.logger.Debug("history labels migrated", "keys", migrated, "version", h.Version)
	}

	h.Snapshots = s.prune(h.Snapshots)
	return h
}

func (s *Store) prune(snaps []Snapshot) []Snapshot {
	cutoff := s.now().Add(-MaxAge).Unix()
	return lo.Filter(snaps, func(snap Snapshot, _ int) bool {
		return snap.Timestamp >= cutoff
	})
}

// SaveSnapshot appends the current bucket percentages and rewrites the
// document. Errors are logged and returned; callers may ignore them.
func (s *Store) SaveSnapshot(usage *api.UsageData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.read()
	h.Snapshots = append(h.Snapshots, Snapshot{
		Timestamp: s.now().Unix(),
		Buckets:   usage.Buckets(),
	})
	h.Snapshots = s.prune(h.Snapshots)
	h.Version = CurrentVersion

	err := s.write(h)
	s.metrics.HistoryWrite(err)
	if err != nil {
		s.logger.Error("history save failed", "path", s.path, "error", err)
		return err
	}
	s.logger.Debug("history snapshot saved", "snapshots", len(h.Snapshots))
	return nil
}

// write replaces the document via a temp sibling and rename.
func (s *Store) write(h History) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("history: serialize: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("history: create dir: %w", err)
	}

	f, err := os.CreateTemp(dir, ".usage_history-*.tmp")
	if err != nil {
		return fmt.Errorf("history: create temp: %w", err)
	}
	tmp := f.Name()

	committed := false
	defer func() {
		if !committed {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("history: write temp: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("history: sync temp: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("history: close temp: %w", err)
	}
	if err := os.Chmod(tmp, 0o600); err != nil {
		return fmt.Errorf("history: chmod temp: %w", err)
	}
	if err := s.rename(tmp, s.path); err != nil {
		return fmt.Errorf("history: rename: %w", err)
	}

	committed = true
	return nil
}
