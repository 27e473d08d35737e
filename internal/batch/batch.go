// Package batch runs the shadow pipeline over many matches with a
// bounded worker pool. Aggregates are order-independent: the same
// sorted input yields the same report whether run sequentially or
// concurrently.
package batch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/oddsline/matchcore/internal/activation"
	"github.com/oddsline/matchcore/internal/analyzer"
	"github.com/oddsline/matchcore/internal/canon"
	"github.com/oddsline/matchcore/internal/connectors"
	"github.com/oddsline/matchcore/internal/metrics"
	"github.com/oddsline/matchcore/internal/pipeline"
)

// DefaultWorkers bounds concurrency so providers are not hammered.
const DefaultWorkers = 4

// Request is one batch invocation.
type Request struct {
	ConnectorName string
	MatchIDs      []string
	Activation    bool
	DryRun        bool
	Workers       int
}

// Failure records one match that could not complete.
type Failure struct {
	MatchID string `json:"match_id"`
	Error   string `json:"error"`
}

// Report is the aggregate over one batch.
type Report struct {
	BatchID         string            `json:"batch_id"`
	ConnectorName   string            `json:"connector_name"`
	CreatedAtUTC    string            `json:"created_at_utc"`
	MatchIDs        []string          `json:"match_ids"`
	EligibleIDs     []string          `json:"eligible_ids"`
	Counts          analyzer.Counts   `json:"counts"`
	ActivatedCount  int               `json:"activated_count"`
	DeniedReason    string            `json:"denied_reason,omitempty"`
	TopFlags        map[string]int    `json:"top_flags"`
	GateFailures    map[string]int    `json:"gate_failures"`
	LiveIO          *metrics.Snapshot `json:"live_io,omitempty"`
	GuardrailAlerts []string          `json:"guardrail_alerts,omitempty"`
	Failures        []Failure         `json:"failures"`
	Reports         []pipeline.Report `json:"reports"`
}

// Runner executes batches.
type Runner struct {
	pipeline *pipeline.Pipeline
	registry *connectors.Registry
	cfg      activation.Config
	liveio   *metrics.LiveIO
	index    func() (int, error) // remaining daily activation budget
	log      zerolog.Logger
	now      func() time.Time
}

func NewRunner(p *pipeline.Pipeline, registry *connectors.Registry, cfg activation.Config, liveio *metrics.LiveIO, dailyRemaining func() (int, error), log zerolog.Logger) *Runner {
	return &Runner{
		pipeline: p,
		registry: registry,
		cfg:      cfg,
		liveio:   liveio,
		index:    dailyRemaining,
		log:      log,
		now:      time.Now,
	}
}

// WithClock overrides the clock. Tests only.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// Run enumerates, sorts, applies rollout and daily cap, then fans the
// pipeline over the eligible set. No per-match error aborts the batch.
func (r *Runner) Run(ctx context.Context, req Request) (Report, error) {
	rep := Report{
		BatchID:       uuid.New().String(),
		ConnectorName: req.ConnectorName,
		CreatedAtUTC:  canon.Timestamp(r.now()),
		TopFlags:      map[string]int{},
		GateFailures:  map[string]int{},
		Failures:      []Failure{},
	}

	matchIDs := req.MatchIDs
	if len(matchIDs) == 0 {
		conn, err := r.registry.Resolve(req.ConnectorName, r.cfg.LiveIOAllowed)
		if err != nil {
			return rep, err
		}
		ids, err := conn.FetchMatches(ctx)
		if err != nil {
			return rep, err
		}
		for _, id := range ids {
			matchIDs = append(matchIDs, id.MatchID)
		}
	}
	sort.Strings(matchIDs)
	if len(matchIDs) > r.cfg.MaxMatches {
		matchIDs = matchIDs[:r.cfg.MaxMatches]
	}
	rep.MatchIDs = matchIDs

	eligible := matchIDs
	allowActivation := req.Activation
	if req.Activation {
		eligible = activation.EligibleSet(matchIDs, r.cfg.RolloutPct)
		if r.index != nil {
			remaining, err := r.index()
			if err != nil {
				allowActivation = false
				rep.DeniedReason = "index unavailable: " + err.Error()
			} else if remaining == 0 {
				allowActivation = false
				rep.DeniedReason = "daily activation cap reached"
			}
		}
	}
	rep.EligibleIDs = eligible

	eligibleSet := make(map[string]bool, len(eligible))
	for _, id := range eligible {
		eligibleSet[id] = true
	}

	results := r.fanOut(ctx, req, matchIDs, eligibleSet, allowActivation)

	// Aggregation follows sorted input order regardless of completion
	// order, so counts equal the sequential result.
	for _, id := range matchIDs {
		out := results[id]
		if out.err != nil {
			rep.Failures = append(rep.Failures, Failure{MatchID: id, Error: out.err.Error()})
			continue
		}
		pr := out.report
		rep.Reports = append(rep.Reports, pr)
		rep.Counts.Play += pr.Analysis.AnalysisRun.Counts.Play
		rep.Counts.NoBet += pr.Analysis.AnalysisRun.Counts.NoBet
		rep.Counts.NoPrediction += pr.Analysis.AnalysisRun.Counts.NoPrediction
		for _, fl := range pr.Analysis.AnalysisRun.Flags {
			rep.TopFlags[fl]++
		}
		for _, g := range pr.Analysis.AnalysisRun.GateResults {
			if !g.Passed {
				rep.GateFailures[g.Name]++
			}
		}
		if pr.Activation.Activated {
			rep.ActivatedCount++
		}
	}

	if r.liveio != nil {
		snap := r.liveio.Snapshot()
		rep.LiveIO = &snap
		rep.GuardrailAlerts = snap.Alerts(metrics.Thresholds{
			MaxTimeouts:    int64(r.cfg.LiveIOMaxTimeouts),
			MaxRateLimited: int64(r.cfg.LiveIOMaxRateLimited),
			MaxP95MS:       r.cfg.LiveIOMaxP95MS,
		})
	}

	r.log.Info().
		Str("batch_id", rep.BatchID).
		Int("matches", len(matchIDs)).
		Int("activated", rep.ActivatedCount).
		Int("failures", len(rep.Failures)).
		Msg("batch complete")
	return rep, nil
}

type matchOutcome struct {
	report pipeline.Report
	err    error
}

func (r *Runner) fanOut(ctx context.Context, req Request, matchIDs []string, eligible map[string]bool, allowActivation bool) map[string]matchOutcome {
	workers := req.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if workers > len(matchIDs) {
		workers = len(matchIDs)
	}

	var mu sync.Mutex
	results := make(map[string]matchOutcome, len(matchIDs))
	jobs := make(chan string)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				pr, err := r.pipeline.Run(ctx, pipeline.Request{
					ConnectorName:               req.ConnectorName,
					MatchID:                     id,
					DryRun:                      req.DryRun,
					Activation:                  req.Activation && allowActivation,
					AllowActivationForThisMatch: allowActivation && eligible[id],
					BatchSize:                   len(matchIDs),
				})
				mu.Lock()
				results[id] = matchOutcome{report: pr, err: err}
				mu.Unlock()
			}
		}()
	}
	for _, id := range matchIDs {
		jobs <- id
	}
	close(jobs)
	wg.Wait()
	return results
}
