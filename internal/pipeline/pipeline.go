// Package pipeline composes ingestion, analysis, settlement, shadow
// tuning and the activation gate for one match. The default posture is
// shadow: nothing is persisted unless activation is requested, the
// gate allows it and no blocking flag is set.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/oddsline/matchcore/internal/activation"
	"github.com/oddsline/matchcore/internal/analyzer"
	"github.com/oddsline/matchcore/internal/canon"
	"github.com/oddsline/matchcore/internal/connectors"
	"github.com/oddsline/matchcore/internal/envelope"
	"github.com/oddsline/matchcore/internal/evaluation"
	"github.com/oddsline/matchcore/internal/evidence"
	"github.com/oddsline/matchcore/internal/persistence"
	"github.com/oddsline/matchcore/internal/policy"
	"github.com/oddsline/matchcore/internal/resolve"
	"github.com/oddsline/matchcore/internal/tune"
)

// Request carries one pipeline invocation.
type Request struct {
	ConnectorName string
	MatchID       string
	FinalScore    *evaluation.FinalScore
	NowUTC        *time.Time

	DryRun                      bool
	HardBlockPersistence        bool
	Activation                  bool
	AllowActivationForThisMatch bool
	BatchSize                   int
}

// IngestionSection reports what was fetched and wrapped.
type IngestionSection struct {
	ConnectorName   string `json:"connector_name"`
	MatchID         string `json:"match_id"`
	SnapshotID      string `json:"snapshot_id"`
	PayloadChecksum string `json:"payload_checksum"`
	HomeTeam        string `json:"home_team"`
	AwayTeam        string `json:"away_team"`
}

// AuditSection is the never-applied change summary.
type AuditSection struct {
	SnapshotChecksum       string         `json:"snapshot_checksum"`
	CurrentPolicyChecksum  string         `json:"current_policy_checksum"`
	ProposedPolicyChecksum string         `json:"proposed_policy_checksum"`
	ChangeCountByMarket    map[string]int `json:"change_count_by_market"`
}

// ActivationSection aggregates the per-decision gate outcomes.
type ActivationSection struct {
	Activated bool               `json:"activated"`
	Reason    string             `json:"reason,omitempty"`
	Audits    []activation.Audit `json:"audits"`
}

// Report is the pipeline output for one match.
type Report struct {
	RunID                    string                 `json:"run_id"`
	Ingestion                IngestionSection       `json:"ingestion"`
	Analysis                 analyzer.Result        `json:"analysis"`
	Resolution               *evaluation.Resolution `json:"resolution,omitempty"`
	EvaluationReportChecksum string                 `json:"evaluation_report_checksum"`
	Proposal                 tune.Proposal          `json:"proposal"`
	ProposalChecksum         string                 `json:"proposal_checksum"`
	Audit                    AuditSection           `json:"audit"`
	Activation               ActivationSection      `json:"activation"`
	DryRun                   bool                   `json:"dry_run,omitempty"`
	Persisted                bool                   `json:"persisted"`
}

// Pipeline owns the collaborators for single-match runs.
type Pipeline struct {
	registry *connectors.Registry
	analyzer *analyzer.Analyzer
	policy   policy.Policy
	tuner    *tune.Tuner
	gate     *activation.Gate
	cfg      activation.Config
	repos    *persistence.Repository
	log      zerolog.Logger
	now      func() time.Time
}

func New(registry *connectors.Registry, an *analyzer.Analyzer, pol policy.Policy, tuner *tune.Tuner, gate *activation.Gate, cfg activation.Config, repos *persistence.Repository, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		registry: registry,
		analyzer: an,
		policy:   pol,
		tuner:    tuner,
		gate:     gate,
		cfg:      cfg,
		repos:    repos,
		log:      log,
		now:      time.Now,
	}
}

// WithClock overrides the clock. Tests only.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Run executes the shadow pipeline for one match.
func (p *Pipeline) Run(ctx context.Context, req Request) (Report, error) {
	now := p.now().UTC()
	if req.NowUTC != nil {
		now = req.NowUTC.UTC()
	}

	conn, err := p.registry.Resolve(req.ConnectorName, p.cfg.LiveIOAllowed)
	if err != nil {
		return Report{}, fmt.Errorf("pipeline: %w", err)
	}
	data, err := conn.FetchMatchData(ctx, req.MatchID)
	if err != nil {
		return Report{}, fmt.Errorf("pipeline: fetch %s: %w", req.MatchID, err)
	}
	if data == nil {
		return Report{}, fmt.Errorf("pipeline: connector %s has no data for match %s", req.ConnectorName, req.MatchID)
	}

	pack := SynthesizePack(*data, conn.Name(), now)

	// Volatility-stripped checksum: repeated runs over identical
	// payloads produce identical ids.
	payloadChecksum, err := envelope.PayloadChecksum(pack.StrippedForChecksum())
	if err != nil {
		return Report{}, fmt.Errorf("pipeline: payload checksum: %w", err)
	}
	snapshotID := envelope.NewSnapshotID(payloadChecksum, now)

	rep := Report{
		RunID:  uuid.New().String(),
		DryRun: req.DryRun,
		Ingestion: IngestionSection{
			ConnectorName:   req.ConnectorName,
			MatchID:         req.MatchID,
			SnapshotID:      snapshotID,
			PayloadChecksum: payloadChecksum,
			HomeTeam:        data.HomeTeam,
			AwayTeam:        data.AwayTeam,
		},
	}

	result, err := p.analyzer.Analyze(analyzer.Request{
		ResolverStatus: resolve.StatusResolved,
		Pack:           pack,
		Markets:        analyzer.SupportedMarkets,
		Policy:         p.policy,
	})
	if err != nil {
		return Report{}, fmt.Errorf("pipeline: analyze: %w", err)
	}
	rep.Analysis = result

	rep.Activation = p.gateDecisions(ctx, req, result)

	persistAllowed := req.Activation && !req.HardBlockPersistence && !req.DryRun &&
		rep.Activation.Activated && p.repos != nil

	runRecord := p.buildRunRecord(rep.RunID, req.MatchID, snapshotID, result)
	predictions := buildPredictions(rep.RunID, req.MatchID, result)

	if persistAllowed {
		if err := p.repos.Runs.InsertRun(ctx, runRecord, predictions); err != nil {
			return Report{}, fmt.Errorf("pipeline: persist run: %w", err)
		}
		rep.Persisted = true
	}

	var resolution *evaluation.Resolution
	if req.FinalScore != nil {
		res := evaluation.AttachResult(runRecord, predictions, *req.FinalScore, now)
		resolution = &res
		rep.Resolution = resolution
		if persistAllowed {
			if err := p.repos.Resolutions.Insert(ctx, res.ResolutionRow(snapshotID)); err != nil {
				return Report{}, fmt.Errorf("pipeline: persist resolution: %w", err)
			}
			for _, row := range res.OutcomeRows(*req.FinalScore) {
				if err := p.repos.Outcomes.Upsert(ctx, row); err != nil {
					return Report{}, fmt.Errorf("pipeline: persist outcome: %w", err)
				}
			}
		}
	}

	evalReport := evaluation.BuildReport(req.MatchID, result.Decisions, resolution)
	evalChecksum, err := evalReport.Checksum()
	if err != nil {
		return Report{}, fmt.Errorf("pipeline: evaluation checksum: %w", err)
	}
	rep.EvaluationReportChecksum = evalChecksum

	proposal := p.tuner.Propose(p.policy, evalReport)
	rep.Proposal = proposal
	proposalChecksum, err := proposal.Checksum()
	if err != nil {
		return Report{}, fmt.Errorf("pipeline: proposal checksum: %w", err)
	}
	rep.ProposalChecksum = proposalChecksum

	currentPolicyChecksum, err := p.policy.ChecksumContent()
	if err != nil {
		return Report{}, fmt.Errorf("pipeline: policy checksum: %w", err)
	}
	proposedPolicyChecksum, err := proposal.ProposedPolicy.ChecksumContent()
	if err != nil {
		return Report{}, fmt.Errorf("pipeline: proposed policy checksum: %w", err)
	}
	rep.Audit = AuditSection{
		SnapshotChecksum:       payloadChecksum,
		CurrentPolicyChecksum:  currentPolicyChecksum,
		ProposedPolicyChecksum: proposedPolicyChecksum,
		ChangeCountByMarket:    proposal.ChangeCount(),
	}

	p.log.Info().
		Str("run_id", rep.RunID).
		Str("match_id", req.MatchID).
		Str("status", string(result.Status)).
		Bool("activated", rep.Activation.Activated).
		Bool("persisted", rep.Persisted).
		Msg("pipeline run complete")
	return rep, nil
}

// gateDecisions audits every decision. The batch is "activated" when
// at least one decision passed the gate.
func (p *Pipeline) gateDecisions(ctx context.Context, req Request, result analyzer.Result) ActivationSection {
	section := ActivationSection{Audits: []activation.Audit{}}
	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}

	for _, d := range result.Decisions {
		cand := activation.Candidate{
			ConnectorName: req.ConnectorName,
			MatchID:       req.MatchID,
			Market:        d.Market,
			Decision:      d.Decision,
			Confidence:    d.Confidence,
			Reasons:       d.Reasons,
			BatchSize:     batchSize,
		}

		var allowed bool
		var reason string
		switch {
		case !req.Activation:
			reason = "shadow mode: activation not requested"
		case !req.AllowActivationForThisMatch:
			reason = "activation not allowed for this match"
		default:
			allowed, reason = p.gate.Allow(ctx, cand)
		}

		section.Audits = append(section.Audits, p.gate.NewAudit(cand, allowed, reason))
		if allowed {
			section.Activated = true
		} else if section.Reason == "" {
			section.Reason = reason
		}
	}
	if section.Activated {
		section.Reason = ""
	}
	return section
}

func (p *Pipeline) buildRunRecord(runID, matchID, snapshotID string, result analyzer.Result) persistence.AnalysisRunRecord {
	policyChecksum, err := p.policy.ChecksumContent()
	if err != nil {
		policyChecksum = ""
	}
	return persistence.AnalysisRunRecord{
		RunID:           runID,
		MatchID:         matchID,
		SnapshotID:      snapshotID,
		AnalyzerVersion: result.Version,
		PolicyVersion:   result.PolicyVersion,
		PolicyChecksum:  policyChecksum,
		Status:          string(result.Status),
		InputHash:       result.InputHash,
		OutputHash:      result.OutputHash,
		Flags:           result.AnalysisRun.Flags,
		Audit: map[string]any{
			"counts":           result.AnalysisRun.Counts,
			"conflict_summary": result.AnalysisRun.ConflictSummary,
		},
	}
}

func buildPredictions(runID, matchID string, result analyzer.Result) []persistence.Prediction {
	preds := make([]persistence.Prediction, 0, len(result.Decisions))
	for _, d := range result.Decisions {
		pred := persistence.Prediction{
			RunID:       runID,
			MatchID:     matchID,
			Market:      d.Market,
			Decision:    string(d.Decision),
			ReasonCodes: d.ReasonCodes,
		}
		if d.Selection != "" {
			sel := d.Selection
			pred.Selection = &sel
		}
		if d.Confidence != nil {
			conf := *d.Confidence
			pred.Confidence = &conf
		}
		preds = append(preds, pred)
	}
	return preds
}

// SynthesizePack converts one connector payload into the analyzer's
// evidence shape. Connector-backed flows are single-source: quality is
// completeness-driven and consensus flags never apply.
func SynthesizePack(data connectors.IngestedMatchData, source string, now time.Time) evidence.Pack {
	pack := evidence.Pack{
		MatchID:       data.MatchID,
		CapturedAtUTC: canon.Timestamp(now),
		Domains:       make(map[evidence.Domain]evidence.DomainData),
	}

	fixtures := &evidence.FixturesData{
		HomeTeam:    data.HomeTeam,
		AwayTeam:    data.AwayTeam,
		Competition: data.Competition,
		KickoffUTC:  data.KickoffUTC,
	}
	if data.Odds1X2 != nil {
		fixtures.Odds1X2 = &evidence.Odds1X2{
			Home: data.Odds1X2.Home,
			Draw: data.Odds1X2.Draw,
			Away: data.Odds1X2.Away,
		}
	}
	fixturesScore := 0.8
	if fixtures.Odds1X2 != nil {
		fixturesScore = 1.0
	}
	pack.Domains[evidence.DomainFixtures] = evidence.DomainData{
		Fixtures: fixtures,
		Quality:  evidence.Quality{Passed: true, Score: fixturesScore, Flags: []string{}},
		Sources:  []string{source},
	}

	if data.HomeForm != nil && data.AwayForm != nil {
		stats := &evidence.StatsData{
			Home: evidence.TeamStats{
				GoalsScored:   data.HomeForm.GoalsScored,
				GoalsConceded: data.HomeForm.GoalsConceded,
				MatchesPlayed: data.HomeForm.MatchesPlayed,
			},
			Away: evidence.TeamStats{
				GoalsScored:   data.AwayForm.GoalsScored,
				GoalsConceded: data.AwayForm.GoalsConceded,
				MatchesPlayed: data.AwayForm.MatchesPlayed,
			},
		}
		if data.H2H != nil {
			stats.H2H = &evidence.HeadToHead{
				Matches:  data.H2H.Matches,
				HomeWins: data.H2H.HomeWins,
				Draws:    data.H2H.Draws,
				AwayWins: data.H2H.AwayWins,
			}
		}
		pack.Domains[evidence.DomainStats] = evidence.DomainData{
			Stats:   stats,
			Quality: evidence.Quality{Passed: true, Score: 1.0, Flags: []string{}},
			Sources: []string{source},
		}
	}
	return pack
}
