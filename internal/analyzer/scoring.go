package analyzer

import (
	"fmt"
	"math"
)

// Scoring constants. These are part of the observable contract: any
// change shifts output hashes for every stored run.
const (
	HomeAdvantage  = 0.15
	H2HShiftWeight = 0.1

	MinSep1X2  = 0.10
	MinSepOU25 = 0.08
	MinSepBTTS = 0.08

	OULine      = 2.5
	OUTanhScale = 0.5

	// BTTS scoring-probability clip bounds.
	bttsClipLo = 0.05
	bttsClipHi = 0.95
)

// marketScore is the raw outcome of one market scorer before soft
// gating.
type marketScore struct {
	selection   string
	separation  float64
	confidence  float64
	reasons     []string
	reasonCodes []string
	meta        map[string]any
	// belowSep marks NO_BET on the hard separation floor.
	belowSep bool
}

func confidenceFromSeparation(sep float64) float64 {
	return clamp(0.5+sep*2, 0, 1)
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

// score1X2 ranks home/draw/away via net-goal strength with home
// advantage and an optional head-to-head shift, then converts to
// pseudo-probabilities with a base-2 softmax.
func score1X2(f Features) marketScore {
	homeNet := f.HomeGoalsScored - f.AwayGoalsConceded
	awayNet := f.AwayGoalsScored - f.HomeGoalsConceded

	reasons := []string{"home advantage constant applied"}
	codes := []string{CodeHomeAdvantage}

	if f.H2HMatches >= 1 {
		n := float64(f.H2HMatches)
		homeShare := (float64(f.H2HHomeWins) + 0.5*float64(f.H2HDraws)) / n
		awayShare := (float64(f.H2HAwayWins) + 0.5*float64(f.H2HDraws)) / n
		homeNet += (homeShare - 0.5) * H2HShiftWeight
		awayNet += (awayShare - 0.5) * H2HShiftWeight
		reasons = append(reasons, fmt.Sprintf("h2h shift over %d matches", f.H2HMatches))
		codes = append(codes, CodeH2HUsed)
	}

	homeScore := homeNet + HomeAdvantage
	awayScore := awayNet - HomeAdvantage
	drawScore := 0.0

	pHome := math.Exp2(homeScore)
	pDraw := math.Exp2(drawScore)
	pAway := math.Exp2(awayScore)
	total := pHome + pDraw + pAway
	pHome /= total
	pDraw /= total
	pAway /= total

	type outcome struct {
		sel string
		p   float64
	}
	ranked := []outcome{{SelectionHome, pHome}, {SelectionDraw, pDraw}, {SelectionAway, pAway}}
	// Stable ordering: probability desc, then 1 < X < 2 on exact ties.
	if ranked[1].p > ranked[0].p {
		ranked[0], ranked[1] = ranked[1], ranked[0]
	}
	if ranked[2].p > ranked[1].p {
		ranked[1], ranked[2] = ranked[2], ranked[1]
		if ranked[1].p > ranked[0].p {
			ranked[0], ranked[1] = ranked[1], ranked[0]
		}
	}

	sep := ranked[0].p - ranked[1].p
	ms := marketScore{
		selection:  ranked[0].sel,
		separation: sep,
		confidence: confidenceFromSeparation(sep),
		meta: map[string]any{
			"p_home": round6(pHome),
			"p_draw": round6(pDraw),
			"p_away": round6(pAway),
		},
	}
	if sep < MinSep1X2 {
		ms.belowSep = true
		ms.reasons = append(reasons, fmt.Sprintf("top separation %.3f below floor %.2f", sep, MinSep1X2))
		ms.reasonCodes = append(codes, CodeLowSeparation)
		return ms
	}
	ms.reasons = append(reasons, fmt.Sprintf("top separation %.3f clears floor %.2f", sep, MinSep1X2))
	ms.reasonCodes = append(codes, CodeTopSep)
	return ms
}

// scoreOU25 derives an expected-goals proxy and a tanh-shaped over
// probability around the 2.5 line.
func scoreOU25(f Features) marketScore {
	xg := (f.HomeGoalsScored+f.AwayGoalsConceded)/2 + (f.AwayGoalsScored+f.HomeGoalsConceded)/2
	pOver := 0.5 + 0.5*math.Tanh((xg-OULine)*OUTanhScale)
	pUnder := 1 - pOver
	sep := math.Abs(pOver - pUnder)

	selection := SelectionOver
	trendCode := CodeExpectedGoalsAbove
	trendText := fmt.Sprintf("expected goals proxy %.2f above %.1f line", xg, OULine)
	if pUnder > pOver {
		selection = SelectionUnder
		trendCode = CodeExpectedGoalsBelow
		trendText = fmt.Sprintf("expected goals proxy %.2f below %.1f line", xg, OULine)
	}

	ms := marketScore{
		selection:  selection,
		separation: sep,
		confidence: confidenceFromSeparation(sep),
		reasons:    []string{"xg proxy from scoring and concession rates", trendText},
		meta: map[string]any{
			"xg_proxy": round6(xg),
			"p_over":   round6(pOver),
		},
	}
	ms.reasonCodes = []string{CodeXGProxy, trendCode}
	if sep < MinSepOU25 {
		ms.belowSep = true
		ms.reasons = append(ms.reasons, fmt.Sprintf("separation %.3f below floor %.2f", sep, MinSepOU25))
		ms.reasonCodes = append(ms.reasonCodes, CodeLowSeparation)
	}
	return ms
}

// scoreBTTS multiplies clipped per-side scoring probabilities.
func scoreBTTS(f Features) marketScore {
	homeAvg := (f.HomeGoalsScored + f.AwayGoalsConceded) / 2
	awayAvg := (f.AwayGoalsScored + f.HomeGoalsConceded) / 2
	pHomeScores := clamp(homeAvg/3, bttsClipLo, bttsClipHi)
	pAwayScores := clamp(awayAvg/3, bttsClipLo, bttsClipHi)
	pYes := pHomeScores * pAwayScores
	pNo := 1 - pYes
	sep := math.Abs(pYes - pNo)

	selection := SelectionGG
	trendCode := CodeBTTSBothLikely
	trendText := "both teams likely to score"
	if pNo > pYes {
		selection = SelectionNG
		trendCode = CodeBTTSCleanSheet
		trendText = "clean sheet likely on at least one side"
	}

	ms := marketScore{
		selection:  selection,
		separation: sep,
		confidence: confidenceFromSeparation(sep),
		reasons:    []string{trendText},
		meta: map[string]any{
			"p_home_scores": round6(pHomeScores),
			"p_away_scores": round6(pAwayScores),
			"p_yes":         round6(pYes),
		},
	}
	ms.reasonCodes = []string{trendCode}
	if sep < MinSepBTTS {
		ms.belowSep = true
		ms.reasons = append(ms.reasons, fmt.Sprintf("separation %.3f below floor %.2f", sep, MinSepBTTS))
		ms.reasonCodes = append(ms.reasonCodes, CodeLowSeparation)
	}
	return ms
}

// round6 keeps meta numerics stable across platforms.
func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func scoreMarket(market string, f Features) (marketScore, bool) {
	switch market {
	case Market1X2:
		return score1X2(f), true
	case MarketOU25:
		return scoreOU25(f), true
	case MarketBTTS:
		return scoreBTTS(f), true
	}
	return marketScore{}, false
}
