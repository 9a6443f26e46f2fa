package candle

import "time"

// Candle is one OHLCV bar. Prices are in integer cents so running equity
// math never drifts on floating point.
type Candle struct {
	Timestamp time.Time
	Open      int64
	High      int64
	Low       int64
	Close     int64
	Volume    int64
}

// Series is a finite, restartable, zero-indexed sequence of candles for one
// symbol. It is immutable once built, so the same Series can back several
// concurrent matches.
type Series struct {
	Symbol string
	Date   time.Time
	Bars   []Candle
}

// Len returns the number of candles in the series.
func (s *Series) Len() int {
	return len(s.Bars)
}

// At returns the candle at index i. Callers keep i within [0, Len()).
func (s *Series) At(i int) Candle {
	return s.Bars[i]
}

// Open returns the series' opening price.
func (s *Series) Open() int64 {
	if len(s.Bars) == 0 {
		return 0
	}
	return s.Bars[0].Open
}

// Close returns the series' final close.
func (s *Series) Close() int64 {
	if len(s.Bars) == 0 {
		return 0
	}
	return s.Bars[len(s.Bars)-1].Close
}

// High returns the highest high across the series.
func (s *Series) High() int64 {
	if len(s.Bars) == 0 {
		return 0
	}
	high := s.Bars[0].High
	for _, bar := range s.Bars {
		if bar.High > high {
			high = bar.High
		}
	}
	return high
}

// Low returns the lowest low across the series.
func (s *Series) Low() int64 {
	if len(s.Bars) == 0 {
		return 0
	}
	low := s.Bars[0].Low
	for _, bar := range s.Bars {
		if bar.Low < low {
			low = bar.Low
		}
	}
	return low
}

// TotalVolume sums volume across the series.
func (s *Series) TotalVolume() int64 {
	var total int64
	for _, bar := range s.Bars {
		total += bar.Volume
	}
	return total
}

// Resample returns a new Series of exactly n bars, built by walking the
// receiver's bars and re-bucketing them. If the receiver has fewer bars than
// n, bars are repeated (with a small amount of synthetic noise left to the
// caller) to fill the match's candle budget; this only happens when a real
// data provider returns a shorter session than the match's configured
// duration requires.
func (s *Series) Resample(n int) *Series {
	if n <= 0 || len(s.Bars) == 0 {
		return &Series{Symbol: s.Symbol, Date: s.Date}
	}
	out := make([]Candle, n)
	for i := 0; i < n; i++ {
		srcIdx := i * len(s.Bars) / n
		out[i] = s.Bars[srcIdx]
	}
	return &Series{Symbol: s.Symbol, Date: s.Date, Bars: out}
}
