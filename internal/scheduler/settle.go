package scheduler

import (
	"candleduel/internal/elo"
	"candleduel/internal/store"
)

// clamp restricts v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// compositeScore derives spec.md §3's 0-100 MatchStats.CompositeScore from a
// player's return, the worst drawdown they took to get there, and a
// risk-adjusted ratio of the two — weighted 60/25/15 so return dominates
// but reckless drawdowns and inconsistent equity curves are punished.
// pctReturn and maxDrawdownPct are fractions (0.1 = 10%), not percentages.
func compositeScore(pctReturn, maxDrawdownPct float64) float64 {
	normReturn := clamp((pctReturn+1)/2, 0, 1)
	drawdownScore := 1 - clamp(maxDrawdownPct, 0, 1)

	sharpeLike := pctReturn / (maxDrawdownPct + 0.05)
	normSharpe := clamp((sharpeLike+1)/2, 0, 1)

	composite := 0.6*normReturn + 0.25*drawdownScore + 0.15*normSharpe
	return clamp(composite, 0, 1) * 100
}

// PlayerResult is one player's finished-match outcome, ready to persist and
// broadcast.
type PlayerResult struct {
	UserID         string
	FinalEquity    int64
	PeakEquity     int64
	MaxDrawdownPct float64
	TradeCount     int
	CompositeScore float64
	RatingDelta    int
}

// FinishResult is the full end-of-match outcome for both players.
type FinishResult struct {
	MatchID string
	WinnerID string // empty on a tie
	Players  [2]PlayerResult
}

// settle computes final stats and Elo deltas for both players (persist then
// writes them in one transaction), generalizing the teacher's
// `Match.Settle`/`rankParticipants` (internal/match/state.go) from an
// N-player P&L ranking to a head-to-head final-equity comparison plus
// the new internal/elo rating update spec.md's Elo section requires.
func settle(matchID string, startingBalance int64, a, b playerInput) (FinishResult, error) {
	scoreA := compositeScore(pctReturn(a.finalEquity, startingBalance), a.maxDrawdownPct)
	scoreB := compositeScore(pctReturn(b.finalEquity, startingBalance), b.maxDrawdownPct)

	// Winner is decided by final equity alone, not composite score:
	// composite folds in drawdown/consistency terms that are a per-player
	// stat, not the win criterion.
	tie := a.finalEquity == b.finalEquity
	winnerIsA := a.finalEquity > b.finalEquity

	deltaA, deltaB := elo.MatchDeltas(a.rating, b.rating, winnerIsA, tie)

	winnerID := ""
	switch {
	case tie:
		winnerID = ""
	case winnerIsA:
		winnerID = a.userID
	default:
		winnerID = b.userID
	}

	result := FinishResult{
		MatchID:  matchID,
		WinnerID: winnerID,
		Players: [2]PlayerResult{
			{UserID: a.userID, FinalEquity: a.finalEquity, PeakEquity: a.peakEquity, MaxDrawdownPct: a.maxDrawdownPct, TradeCount: a.tradeCount, CompositeScore: scoreA, RatingDelta: deltaA},
			{UserID: b.userID, FinalEquity: b.finalEquity, PeakEquity: b.peakEquity, MaxDrawdownPct: b.maxDrawdownPct, TradeCount: b.tradeCount, CompositeScore: scoreB, RatingDelta: deltaB},
		},
	}
	return result, nil
}

// persist writes the settlement result through the Match Store in one
// transaction (store.SettleMatch), the durable counterpart of the teacher's
// `Match.Settle`.
func persist(st *store.Store, result FinishResult) error {
	stats := make([]store.MatchStats, 0, len(result.Players))
	for _, p := range result.Players {
		stats = append(stats, store.MatchStats{
			MatchID:        result.MatchID,
			UserID:         p.UserID,
			FinalEquity:    p.FinalEquity,
			PeakEquity:     p.PeakEquity,
			MaxDrawdownPct: p.MaxDrawdownPct,
			TradeCount:     p.TradeCount,
			CompositeScore: p.CompositeScore,
			RatingDelta:    p.RatingDelta,
		})
	}
	return st.SettleMatch(result.MatchID, stats, result.WinnerID)
}

type playerInput struct {
	userID         string
	rating         int
	finalEquity    int64
	peakEquity     int64
	maxDrawdownPct float64
	tradeCount     int
}

func pctReturn(finalEquity, startingBalance int64) float64 {
	if startingBalance == 0 {
		return 0
	}
	return float64(finalEquity-startingBalance) / float64(startingBalance)
}
