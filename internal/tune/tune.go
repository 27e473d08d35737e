// Package tune proposes policy adjustments from evaluation evidence.
// It only ever suggests: the proposal is written into reports and is
// never applied to the active policy by anything in this repository.
package tune

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/oddsline/matchcore/internal/canon"
	"github.com/oddsline/matchcore/internal/evaluation"
	"github.com/oddsline/matchcore/internal/policy"
)

// Step sizes. A single proposal never moves a knob by more than
// MaxStep in either direction.
const (
	RaiseStep = 0.02
	LowerStep = 0.01
	MaxStep   = 0.05
)

// Diff is one proposed knob change.
type Diff struct {
	Market string  `json:"market"`
	Field  string  `json:"field"`
	From   float64 `json:"from"`
	To     float64 `json:"to"`
}

// GuardrailResult is one structural check over the proposed policy.
type GuardrailResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"pass"`
	Detail string `json:"detail,omitempty"`
}

// Proposal is the shadow tuner output.
type Proposal struct {
	BasePolicyVersion string            `json:"base_policy_version"`
	ProposedPolicy    policy.Policy     `json:"proposed_policy"`
	Diffs             []Diff            `json:"diffs"`
	Guardrails        []GuardrailResult `json:"guardrails_results"`
	CreatedAtUTC      string            `json:"created_at_utc"`
}

// Tuner derives proposals from per-market settlement tallies.
type Tuner struct {
	log zerolog.Logger
	now func() time.Time
}

func New(log zerolog.Logger) *Tuner {
	return &Tuner{log: log, now: time.Now}
}

// WithClock overrides the clock. Tests only.
func (t *Tuner) WithClock(now func() time.Time) *Tuner {
	t.now = now
	return t
}

// Propose nudges each market's min_confidence against its settlement
// record: more failures than successes raises the bar, a clean record
// relaxes it slightly. Markets with no settled outcomes are untouched.
func (t *Tuner) Propose(current policy.Policy, rep evaluation.Report) Proposal {
	proposed := clonePolicy(current)

	markets := make([]string, 0, len(rep.Markets))
	for m := range rep.Markets {
		markets = append(markets, m)
	}
	sort.Strings(markets)

	var diffs []Diff
	for _, market := range markets {
		stats := rep.Markets[market]
		if stats.Success == 0 && stats.Failure == 0 {
			continue
		}
		from := current.MinConfidence(market)
		to := from
		switch {
		case stats.Failure > stats.Success:
			to = from + RaiseStep
		case stats.Success > stats.Failure:
			to = from - LowerStep
		}
		to = clamp(to, 0, 1)
		if to == from {
			continue
		}
		mp := proposed.Markets[market]
		mp.MinConfidence = to
		proposed.Markets[market] = mp
		diffs = append(diffs, Diff{Market: market, Field: "min_confidence", From: from, To: to})
	}

	guardrails := checkGuardrails(proposed, diffs)
	for _, g := range guardrails {
		if !g.Passed {
			t.log.Warn().Str("guardrail", g.Name).Str("detail", g.Detail).Msg("policy proposal guardrail failed")
		}
	}

	return Proposal{
		BasePolicyVersion: current.Meta.Version,
		ProposedPolicy:    proposed,
		Diffs:             diffs,
		Guardrails:        guardrails,
		CreatedAtUTC:      t.now().UTC().Format(canon.TimestampLayout),
	}
}

func checkGuardrails(proposed policy.Policy, diffs []Diff) []GuardrailResult {
	results := []GuardrailResult{
		{Name: "BOUNDED_STEP", Passed: true},
		{Name: "CONFIDENCE_RANGE", Passed: true},
		{Name: "POLICY_VALID", Passed: true},
	}

	for _, d := range diffs {
		if math.Abs(d.To-d.From) > MaxStep+1e-9 {
			results[0].Passed = false
			results[0].Detail = fmt.Sprintf("%s moved by %.3f", d.Market, math.Abs(d.To-d.From))
		}
		if d.To < 0 || d.To > 1 {
			results[1].Passed = false
			results[1].Detail = fmt.Sprintf("%s target %.3f out of range", d.Market, d.To)
		}
	}
	if err := proposed.Validate(); err != nil {
		results[2].Passed = false
		results[2].Detail = err.Error()
	}
	return results
}

// Checksum digests the proposal excluding its volatile timestamp.
func (p Proposal) Checksum() (string, error) {
	content, err := p.ProposedPolicy.ChecksumContent()
	if err != nil {
		return "", fmt.Errorf("tune: proposed policy checksum: %w", err)
	}
	return canon.Checksum(map[string]any{
		"base_policy_version": p.BasePolicyVersion,
		"proposed_policy":     content,
		"diffs":               p.Diffs,
		"guardrails_results":  p.Guardrails,
	})
}

// ChangeCount is the per-market number of proposed changes.
func (p Proposal) ChangeCount() map[string]int {
	counts := make(map[string]int)
	for _, d := range p.Diffs {
		counts[d.Market]++
	}
	return counts
}

func clonePolicy(p policy.Policy) policy.Policy {
	out := p
	out.Markets = make(map[string]policy.MarketPolicy, len(p.Markets))
	for k, v := range p.Markets {
		out.Markets[k] = v
	}
	out.Reasons = make(map[string]policy.ReasonPolicy, len(p.Reasons))
	for k, v := range p.Reasons {
		out.Reasons[k] = v
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
