package candle

import (
	"testing"
)

func TestSyntheticGenerator(t *testing.T) {
	gen := NewSyntheticGenerator()

	for i := 0; i < 5; i++ {
		s := gen.GenerateRandomSeries("SPY", 48000, 240)

		open := s.Bars[0].Open
		close := s.Bars[len(s.Bars)-1].Close
		high := s.High()
		low := s.Low()

		pctChange := float64(close-open) / float64(open) * 100
		pctHigh := float64(high-open) / float64(open) * 100
		pctLow := float64(open-low) / float64(open) * 100

		t.Logf("Series %d: Open $%.2f -> Close $%.2f (%.2f%%), High +%.2f%%, Low -%.2f%%",
			i+1, float64(open)/100, float64(close)/100, pctChange, pctHigh, pctLow)

		if len(s.Bars) != 240 {
			t.Errorf("expected 240 bars, got %d", len(s.Bars))
		}

		for j, bar := range s.Bars {
			if bar.High < bar.Open || bar.High < bar.Close {
				t.Errorf("bar %d: High (%d) should be >= Open (%d) and Close (%d)", j, bar.High, bar.Open, bar.Close)
			}
			if bar.Low > bar.Open || bar.Low > bar.Close {
				t.Errorf("bar %d: Low (%d) should be <= Open (%d) and Close (%d)", j, bar.Low, bar.Open, bar.Close)
			}
		}
	}
}

func TestAllDayTypes(t *testing.T) {
	gen := NewSyntheticGeneratorWithSeed(42)

	dayTypes := []struct {
		name     string
		dayType  DayType
		returnTo bool
	}{
		{"Choppy", DayTypeChoppy, true},
		{"V-Bottom", DayTypeVBottom, true},
		{"Inverted-V", DayTypeInvertedV, true},
		{"Trend Up", DayTypeTrendUp, false},
		{"Trend Down", DayTypeTrendDown, false},
		{"Vol Explosion", DayTypeVolExplosion, true},
		{"Double Bottom", DayTypeDoubleBottom, true},
		{"Breakout", DayTypeBreakout, true},
	}

	for _, dt := range dayTypes {
		t.Run(dt.name, func(t *testing.T) {
			config := SyntheticConfig{
				Symbol:         "SPY",
				BasePrice:      48000,
				BarCount:       240,
				Volatility:     0.025,
				DayType:        dt.dayType,
				ReturnToOpen:   dt.returnTo,
				EventCount:     2,
				EventMagnitude: 0.008,
			}

			s := gen.GenerateSeries(config)

			open := s.Bars[0].Open
			close := s.Bars[len(s.Bars)-1].Close
			high := s.High()
			low := s.Low()

			pctChange := float64(close-open) / float64(open) * 100
			pctHigh := float64(high-open) / float64(open) * 100
			pctLow := float64(open-low) / float64(open) * 100

			t.Logf("%s: Change %.2f%%, High +%.2f%%, Low -%.2f%%", dt.name, pctChange, pctHigh, pctLow)

			if pctHigh < 0.5 && pctLow < 0.5 {
				t.Errorf("series has too little movement: high +%.2f%%, low -%.2f%%", pctHigh, pctLow)
			}
		})
	}
}

func TestGenerateSeriesBarCount(t *testing.T) {
	gen := NewSyntheticGeneratorWithSeed(123)

	config := DefaultSyntheticConfig(12) // one minute of 5-second candles
	s := gen.GenerateSeries(config)

	if s.Len() != 12 {
		t.Fatalf("expected 12 bars, got %d", s.Len())
	}
}
