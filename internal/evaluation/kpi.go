package evaluation

import (
	"context"
	"fmt"
	"time"

	"github.com/oddsline/matchcore/internal/persistence"
)

// Period identifiers for KPI aggregation, all UTC-bounded.
type Period string

const (
	PeriodDay   Period = "DAY"
	PeriodWeek  Period = "WEEK"
	PeriodMonth Period = "MONTH"
)

// PeriodBounds returns the UTC window containing ref. Weeks start on
// Monday; months on the first.
func PeriodBounds(ref time.Time, period Period) (time.Time, time.Time, error) {
	ref = ref.UTC()
	day := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, time.UTC)
	switch period {
	case PeriodDay:
		return day, day.AddDate(0, 0, 1), nil
	case PeriodWeek:
		offset := (int(day.Weekday()) + 6) % 7
		start := day.AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7), nil
	case PeriodMonth:
		start := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0), nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unknown KPI period %q", period)
	}
}

// KPIReport is the aggregate over a period. NEUTRAL settlements are
// excluded from the denominator; hit_rate + miss_rate = 1 whenever the
// denominator is non-zero.
type KPIReport struct {
	Period           Period    `json:"period"`
	FromUTC          time.Time `json:"from_utc"`
	ToUTC            time.Time `json:"to_utc"`
	TotalPredictions int       `json:"total_predictions"`
	Hits             int       `json:"hits"`
	Misses           int       `json:"misses"`
	Neutral          int       `json:"neutral"`
	HitRate          float64   `json:"hit_rate"`
	MissRate         float64   `json:"miss_rate"`
	ByMarket         map[string]MarketStats `json:"by_market"`
}

// Aggregate computes the KPI report over outcomes already filtered to
// the period window.
func Aggregate(period Period, from, to time.Time, outcomes []persistence.PredictionOutcome) KPIReport {
	rep := KPIReport{
		Period:   period,
		FromUTC:  from.UTC(),
		ToUTC:    to.UTC(),
		ByMarket: make(map[string]MarketStats),
	}
	for _, o := range outcomes {
		stats := rep.ByMarket[o.Market]
		switch o.Outcome {
		case OutcomeSuccess:
			rep.Hits++
			stats.Success++
		case OutcomeFailure:
			rep.Misses++
			stats.Failure++
		default:
			rep.Neutral++
			stats.Neutral++
		}
		rep.ByMarket[o.Market] = stats
	}
	rep.TotalPredictions = rep.Hits + rep.Misses
	if rep.TotalPredictions > 0 {
		rep.HitRate = float64(rep.Hits) / float64(rep.TotalPredictions)
		rep.MissRate = 1 - rep.HitRate
	}
	return rep
}

// AggregateRange loads the period window from the repo and aggregates.
func AggregateRange(ctx context.Context, repo persistence.OutcomesRepo, period Period, ref time.Time) (KPIReport, error) {
	from, to, err := PeriodBounds(ref, period)
	if err != nil {
		return KPIReport{}, err
	}
	outcomes, err := repo.ListRange(ctx, persistence.TimeRange{From: from, To: to})
	if err != nil {
		return KPIReport{}, fmt.Errorf("kpi: list outcomes: %w", err)
	}
	return Aggregate(period, from, to, outcomes), nil
}
