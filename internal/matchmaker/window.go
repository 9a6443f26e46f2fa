package matchmaker

import "time"

// windowFor returns the maximum acceptable rating gap for a ticket that has
// been waiting for wait, per the expansion schedule: ±100 for the first 20
// seconds, ±200 for the next 20, unbounded afterward. unbounded=true means
// any rating gap is acceptable.
func windowFor(wait time.Duration) (limit int, unbounded bool) {
	switch {
	case wait < 20*time.Second:
		return 100, false
	case wait < 40*time.Second:
		return 200, false
	default:
		return 0, true
	}
}

func withinWindow(ratingDelta int, wait time.Duration) bool {
	limit, unbounded := windowFor(wait)
	if unbounded {
		return true
	}
	if ratingDelta < 0 {
		ratingDelta = -ratingDelta
	}
	return ratingDelta <= limit
}
