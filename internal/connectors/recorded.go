package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Recorded loads fixtures from a directory of JSON files, one match per
// file. Files are read in sorted path order so enumeration is stable.
type Recorded struct {
	name string
	dir  string
}

func NewRecorded(name, dir string) *Recorded {
	return &Recorded{name: name, dir: dir}
}

func (r *Recorded) Name() string     { return r.name }
func (r *Recorded) Category() string { return CategoryRecorded }

func (r *Recorded) fixtureFiles() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("recorded connector %s: read dir: %w", r.name, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(r.dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func (r *Recorded) load(path string) (*IngestedMatchData, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("recorded connector %s: read %s: %w", r.name, path, err)
	}
	var d IngestedMatchData
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("recorded connector %s: parse %s: %w", r.name, path, err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *Recorded) FetchMatches(_ context.Context) ([]MatchIdentity, error) {
	paths, err := r.fixtureFiles()
	if err != nil {
		return nil, err
	}
	ids := make([]MatchIdentity, 0, len(paths))
	for _, p := range paths {
		d, err := r.load(p)
		if err != nil {
			return nil, err
		}
		ids = append(ids, MatchIdentity{
			MatchID:     d.MatchID,
			KickoffUTC:  d.KickoffUTC,
			Competition: d.Competition,
		})
	}
	SortIdentities(ids)
	return ids, nil
}

func (r *Recorded) FetchMatchData(_ context.Context, matchID string) (*IngestedMatchData, error) {
	paths, err := r.fixtureFiles()
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		d, err := r.load(p)
		if err != nil {
			return nil, err
		}
		if d.MatchID == matchID {
			return d, nil
		}
	}
	return nil, nil
}
