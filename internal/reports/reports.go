// Package reports writes run bundles and maintains the append-only
// index file the activation gate consults. Index mutations happen
// under an exclusive file lock: read, push entries, rewrite.
package reports

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/oddsline/matchcore/internal/canon"
)

// Index categories.
const (
	CategoryRuns              = "runs"
	CategoryActivationRuns    = "activation_runs"
	CategoryBurnInOpsRuns     = "burn_in_ops_runs"
	CategoryLiveShadowRuns    = "live_shadow_runs"
	CategoryLiveShadowAnalyze = "live_shadow_analyze_runs"
)

// IndexEntry is one run recorded in the index.
type IndexEntry struct {
	RunID         string `json:"run_id"`
	CreatedAtUTC  string `json:"created_at_utc"`
	ConnectorName string `json:"connector_name,omitempty"`
	MatchCount    int    `json:"match_count,omitempty"`
	Activated     bool   `json:"activated,omitempty"`
	AlertCount    int    `json:"alert_count,omitempty"`
	BundlePath    string `json:"bundle_path,omitempty"`
	Checksum      string `json:"checksum,omitempty"`
}

// Index is the full index file shape. Arrays only ever grow.
type Index struct {
	Runs                  []IndexEntry `json:"runs"`
	ActivationRuns        []IndexEntry `json:"activation_runs"`
	BurnInOpsRuns         []IndexEntry `json:"burn_in_ops_runs"`
	LiveShadowRuns        []IndexEntry `json:"live_shadow_runs"`
	LiveShadowAnalyzeRuns []IndexEntry `json:"live_shadow_analyze_runs"`
}

func (ix *Index) bucket(category string) (*[]IndexEntry, error) {
	switch category {
	case CategoryRuns:
		return &ix.Runs, nil
	case CategoryActivationRuns:
		return &ix.ActivationRuns, nil
	case CategoryBurnInOpsRuns:
		return &ix.BurnInOpsRuns, nil
	case CategoryLiveShadowRuns:
		return &ix.LiveShadowRuns, nil
	case CategoryLiveShadowAnalyze:
		return &ix.LiveShadowAnalyzeRuns, nil
	default:
		return nil, fmt.Errorf("unknown index category %q", category)
	}
}

// Store owns a reports directory: bundles plus index.json.
type Store struct {
	dir  string
	log  zerolog.Logger
	lock *flock.Flock
}

func NewStore(dir string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("reports: create dir: %w", err)
	}
	return &Store{
		dir:  dir,
		log:  log,
		lock: flock.New(filepath.Join(dir, "index.lock")),
	}, nil
}

// Dir returns the reports directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) indexPath() string { return filepath.Join(s.dir, "index.json") }

// WriteBundle writes one report bundle as indented JSON. Struct fields
// keep declaration order and map keys marshal sorted, so the bytes are
// stable for identical content.
func (s *Store) WriteBundle(name string, payload any) (string, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("reports: marshal bundle %s: %w", name, err)
	}
	path := filepath.Join(s.dir, name)
	if err := writeAtomic(path, data); err != nil {
		return "", fmt.Errorf("reports: write bundle %s: %w", name, err)
	}
	return path, nil
}

// BundleChecksum is the canonical digest of a bundle payload.
func BundleChecksum(payload any) (string, error) {
	return canon.Checksum(payload)
}

// AppendEntry pushes an entry onto one index array under the lock.
func (s *Store) AppendEntry(category string, entry IndexEntry) error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("reports: acquire index lock: %w", err)
	}
	defer s.lock.Unlock()

	ix, err := s.readIndexLocked()
	if err != nil {
		return err
	}
	bucket, err := ix.bucket(category)
	if err != nil {
		return err
	}
	*bucket = append(*bucket, entry)

	data, err := json.MarshalIndent(ix, "", "  ")
	if err != nil {
		return fmt.Errorf("reports: marshal index: %w", err)
	}
	if err := writeAtomic(s.indexPath(), data); err != nil {
		return fmt.Errorf("reports: write index: %w", err)
	}
	s.log.Debug().Str("category", category).Str("run_id", entry.RunID).Msg("index entry appended")
	return nil
}

// ReadIndex loads the index under a shared lock. A missing file is an
// empty index.
func (s *Store) ReadIndex() (Index, error) {
	if err := s.lock.RLock(); err != nil {
		return Index{}, fmt.Errorf("reports: acquire index read lock: %w", err)
	}
	defer s.lock.Unlock()
	return s.readIndexLocked()
}

func (s *Store) readIndexLocked() (Index, error) {
	var ix Index
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return ix, nil
		}
		return ix, fmt.Errorf("reports: read index: %w", err)
	}
	if err := json.Unmarshal(data, &ix); err != nil {
		return ix, fmt.Errorf("reports: parse index: %w", err)
	}
	return ix, nil
}

// CountActivatedOn counts entries activated on the given UTC date in
// activation_runs and burn_in_ops_runs. The daily cap reads this.
func (ix Index) CountActivatedOn(day time.Time) int {
	date := day.UTC().Format("2006-01-02")
	count := 0
	for _, bucket := range [][]IndexEntry{ix.ActivationRuns, ix.BurnInOpsRuns} {
		for _, e := range bucket {
			if !e.Activated {
				continue
			}
			ts, err := canon.ParseTimestamp(e.CreatedAtUTC)
			if err != nil {
				continue
			}
			if ts.UTC().Format("2006-01-02") == date {
				count++
			}
		}
	}
	return count
}

// OfflineEvalRuns is the count of plain offline runs on record.
func (ix Index) OfflineEvalRuns() int { return len(ix.Runs) }

// HasActivationHistory reports whether any activation run exists.
func (ix Index) HasActivationHistory() bool { return len(ix.ActivationRuns) > 0 }

// NewEntry builds an entry stamped with the canonical timestamp form.
func NewEntry(runID string, createdAt time.Time) IndexEntry {
	return IndexEntry{
		RunID:        runID,
		CreatedAtUTC: createdAt.UTC().Format(canon.TimestampLayout),
	}
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
