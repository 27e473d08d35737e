// Package policy holds the decision knobs the analyzer and activation
// gate consult: per-market confidence floors and per-reason dampening.
// Policies are read-only during a run; the tuner proposes replacements
// but never applies them.
package policy

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oddsline/matchcore/internal/canon"
)

// DampeningFloor is the lowest dampening factor a reason may carry.
const DampeningFloor = 0.5

// Meta identifies a policy version.
type Meta struct {
	Version      string `json:"version" yaml:"version"`
	CreatedAtUTC string `json:"created_at_utc" yaml:"created_at_utc"`
	Notes        string `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// MarketPolicy is the per-market decision configuration.
type MarketPolicy struct {
	MinConfidence   float64   `json:"min_confidence" yaml:"min_confidence"`
	ConfidenceBands []float64 `json:"confidence_bands,omitempty" yaml:"confidence_bands,omitempty"`
}

// ReasonPolicy dampens confidence for decisions carrying a reason code.
type ReasonPolicy struct {
	DampeningFactor float64 `json:"dampening_factor" yaml:"dampening_factor"`
}

// Policy is the active configuration for one run.
type Policy struct {
	Meta    Meta                    `json:"meta" yaml:"meta"`
	Markets map[string]MarketPolicy `json:"markets" yaml:"markets"`
	Reasons map[string]ReasonPolicy `json:"reasons,omitempty" yaml:"reasons,omitempty"`
}

// Default returns the bootstrap policy.
func Default() Policy {
	return Policy{
		Meta: Meta{
			Version:      "policy-v1",
			CreatedAtUTC: canon.Timestamp(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
			Notes:        "bootstrap defaults",
		},
		Markets: map[string]MarketPolicy{
			"1X2":    {MinConfidence: 0.60, ConfidenceBands: []float64{0.6, 0.7, 0.8, 0.9}},
			"OU_2.5": {MinConfidence: 0.60, ConfidenceBands: []float64{0.6, 0.7, 0.8, 0.9}},
			"BTTS":   {MinConfidence: 0.62, ConfidenceBands: []float64{0.6, 0.7, 0.8, 0.9}},
		},
		Reasons: map[string]ReasonPolicy{
			"CONSENSUS_WEAK": {DampeningFactor: 0.85},
			"STALE_DATA":     {DampeningFactor: 0.9},
		},
	}
}

// MinConfidence returns the floor for a market, falling back to the
// strictest configured floor for unknown markets.
func (p Policy) MinConfidence(market string) float64 {
	if mp, ok := p.Markets[market]; ok {
		return mp.MinConfidence
	}
	max := 0.0
	for _, mp := range p.Markets {
		if mp.MinConfidence > max {
			max = mp.MinConfidence
		}
	}
	return max
}

// Validate checks structural invariants.
func (p Policy) Validate() error {
	if p.Meta.Version == "" {
		return fmt.Errorf("policy: meta.version is required")
	}
	if len(p.Markets) == 0 {
		return fmt.Errorf("policy: at least one market is required")
	}
	for _, market := range sortedKeys(p.Markets) {
		mp := p.Markets[market]
		if mp.MinConfidence < 0 || mp.MinConfidence > 1 {
			return fmt.Errorf("policy: market %s min_confidence %.3f out of [0,1]", market, mp.MinConfidence)
		}
		for i := 1; i < len(mp.ConfidenceBands); i++ {
			if mp.ConfidenceBands[i] <= mp.ConfidenceBands[i-1] {
				return fmt.Errorf("policy: market %s confidence_bands not strictly increasing", market)
			}
		}
	}
	for _, code := range sortedKeys(p.Reasons) {
		rp := p.Reasons[code]
		if rp.DampeningFactor < DampeningFloor || rp.DampeningFactor > 1 {
			return fmt.Errorf("policy: reason %s dampening_factor %.3f out of [%.2f,1]", code, rp.DampeningFactor, DampeningFloor)
		}
	}
	return nil
}

// Checksum canonicalizes the policy including meta. ChecksumContent
// excludes the volatile meta block so proposals diff on substance.
func (p Policy) Checksum() (string, error) {
	return canon.Checksum(p)
}

// ChecksumContent hashes markets and reasons only.
func (p Policy) ChecksumContent() (string, error) {
	return canon.Checksum(map[string]any{
		"markets": p.Markets,
		"reasons": p.Reasons,
	})
}

// Load reads and validates a policy yaml file.
func Load(path string) (Policy, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("policy: read %s: %w", path, err)
	}
	var p Policy
	if err := yaml.Unmarshal(b, &p); err != nil {
		return Policy{}, fmt.Errorf("policy: parse %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// LoadActive loads the policy at path, or the bootstrap default when
// path is empty.
func LoadActive(path string) (Policy, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Save writes the policy as yaml.
func Save(p Policy, path string) error {
	if err := p.Validate(); err != nil {
		return err
	}
	b, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("policy: marshal: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("policy: write %s: %w", path, err)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
