package scheduler

import "sync"

// playerStats accumulates the running figures MatchStats needs at
// settlement (spec.md §3): peak equity seen so far, the worst drawdown from
// that peak, and trade counts. It is updated from two places — the trade
// path calls RecordTrade on every fill, the scheduler calls Observe on
// every tick — so it is guarded by its own mutex rather than folded into
// either caller's lock.
type playerStats struct {
	mu sync.Mutex

	peakEquity       int64
	maxDrawdownPct   float64
	tradeCount       int
	profitableTrades int
}

func newPlayerStats(startingEquity int64) *playerStats {
	return &playerStats{peakEquity: startingEquity}
}

// Observe folds a fresh equity reading (taken at the current candle close)
// into the running peak/drawdown trace.
func (s *playerStats) Observe(equity int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if equity > s.peakEquity {
		s.peakEquity = equity
	}
	if s.peakEquity > 0 {
		drawdown := float64(s.peakEquity-equity) / float64(s.peakEquity)
		if drawdown > s.maxDrawdownPct {
			s.maxDrawdownPct = drawdown
		}
	}
}

// RecordTrade is called by the trade path after every executed order.
func (s *playerStats) RecordTrade(profitable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tradeCount++
	if profitable {
		s.profitableTrades++
	}
}

func (s *playerStats) snapshot() (peakEquity int64, maxDrawdownPct float64, tradeCount, profitableTrades int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peakEquity, s.maxDrawdownPct, s.tradeCount, s.profitableTrades
}
