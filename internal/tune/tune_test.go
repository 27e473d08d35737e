package tune

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsline/matchcore/internal/evaluation"
	"github.com/oddsline/matchcore/internal/policy"
)

func fixedTuner() *Tuner {
	return New(zerolog.Nop()).WithClock(func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	})
}

func TestPropose_RaisesOnFailures(t *testing.T) {
	rep := evaluation.Report{Markets: map[string]evaluation.MarketStats{
		"1X2": {Success: 1, Failure: 3},
	}}

	prop := fixedTuner().Propose(policy.Default(), rep)
	require.Len(t, prop.Diffs, 1)
	d := prop.Diffs[0]
	assert.Equal(t, "1X2", d.Market)
	assert.Equal(t, "min_confidence", d.Field)
	assert.InDelta(t, 0.60, d.From, 1e-9)
	assert.InDelta(t, 0.62, d.To, 1e-9)
	assert.InDelta(t, 0.62, prop.ProposedPolicy.MinConfidence("1X2"), 1e-9)
}

func TestPropose_LowersOnCleanRecord(t *testing.T) {
	rep := evaluation.Report{Markets: map[string]evaluation.MarketStats{
		"OU_2.5": {Success: 4, Failure: 1},
	}}

	prop := fixedTuner().Propose(policy.Default(), rep)
	require.Len(t, prop.Diffs, 1)
	assert.InDelta(t, 0.59, prop.Diffs[0].To, 1e-9)
}

func TestPropose_IgnoresUnsettledAndTied(t *testing.T) {
	rep := evaluation.Report{Markets: map[string]evaluation.MarketStats{
		"1X2":  {Neutral: 5},
		"BTTS": {Success: 2, Failure: 2},
	}}

	prop := fixedTuner().Propose(policy.Default(), rep)
	assert.Empty(t, prop.Diffs)
}

func TestPropose_DoesNotMutateCurrent(t *testing.T) {
	current := policy.Default()
	rep := evaluation.Report{Markets: map[string]evaluation.MarketStats{
		"1X2": {Success: 0, Failure: 2},
	}}

	fixedTuner().Propose(current, rep)
	assert.InDelta(t, 0.60, current.MinConfidence("1X2"), 1e-9, "tuner is shadow-only")
}

func TestPropose_GuardrailsPass(t *testing.T) {
	rep := evaluation.Report{Markets: map[string]evaluation.MarketStats{
		"1X2": {Success: 1, Failure: 3},
	}}

	prop := fixedTuner().Propose(policy.Default(), rep)
	require.Len(t, prop.Guardrails, 3)
	for _, g := range prop.Guardrails {
		assert.True(t, g.Passed, g.Name)
	}
}

func TestProposal_ChecksumExcludesTimestamp(t *testing.T) {
	rep := evaluation.Report{Markets: map[string]evaluation.MarketStats{
		"1X2": {Success: 1, Failure: 3},
	}}

	early := New(zerolog.Nop()).WithClock(func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}).Propose(policy.Default(), rep)
	late := New(zerolog.Nop()).WithClock(func() time.Time {
		return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	}).Propose(policy.Default(), rep)

	sumEarly, err := early.Checksum()
	require.NoError(t, err)
	sumLate, err := late.Checksum()
	require.NoError(t, err)
	assert.Equal(t, sumEarly, sumLate)
	assert.NotEqual(t, early.CreatedAtUTC, late.CreatedAtUTC)
}

func TestProposal_ChangeCount(t *testing.T) {
	rep := evaluation.Report{Markets: map[string]evaluation.MarketStats{
		"1X2":    {Success: 1, Failure: 3},
		"OU_2.5": {Success: 3, Failure: 1},
	}}

	prop := fixedTuner().Propose(policy.Default(), rep)
	counts := prop.ChangeCount()
	assert.Equal(t, 1, counts["1X2"])
	assert.Equal(t, 1, counts["OU_2.5"])
}
