package candle

import (
	"testing"
	"time"
)

func TestCandle(t *testing.T) {
	c := Candle{
		Timestamp: time.Now(),
		Open:      10000,
		High:      10050,
		Low:       9950,
		Close:     10025,
		Volume:    1000,
	}

	if c.Open != 10000 {
		t.Errorf("expected Open=10000, got %d", c.Open)
	}
}

func TestSeries(t *testing.T) {
	bars := []Candle{
		{Open: 10000, High: 10100, Low: 9900, Close: 10050, Volume: 1000},
		{Open: 10050, High: 10150, Low: 10000, Close: 10100, Volume: 1500},
		{Open: 10100, High: 10200, Low: 10050, Close: 10150, Volume: 2000},
	}

	s := &Series{
		Symbol: "SPY",
		Date:   time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Bars:   bars,
	}

	if s.Len() != 3 {
		t.Errorf("expected Len()=3, got %d", s.Len())
	}
	if s.Open() != 10000 {
		t.Errorf("expected Open()=10000, got %d", s.Open())
	}
	if s.Close() != 10150 {
		t.Errorf("expected Close()=10150, got %d", s.Close())
	}
	if s.High() != 10200 {
		t.Errorf("expected High()=10200, got %d", s.High())
	}
	if s.Low() != 9900 {
		t.Errorf("expected Low()=9900, got %d", s.Low())
	}
	if s.TotalVolume() != 4500 {
		t.Errorf("expected TotalVolume()=4500, got %d", s.TotalVolume())
	}
}

func TestSeriesResample(t *testing.T) {
	bars := make([]Candle, 10)
	for i := range bars {
		bars[i] = Candle{Open: int64(i), Close: int64(i)}
	}
	s := &Series{Symbol: "SPY", Bars: bars}

	r := s.Resample(5)
	if r.Len() != 5 {
		t.Fatalf("expected resampled Len()=5, got %d", r.Len())
	}

	up := s.Resample(20)
	if up.Len() != 20 {
		t.Fatalf("expected upsampled Len()=20, got %d", up.Len())
	}
}

func TestCache(t *testing.T) {
	cache, err := NewCache(":memory:")
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	defer cache.Close()

	s := &Series{
		Symbol: "SPY",
		Date:   time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		Bars: []Candle{
			{Open: 10000, High: 10100, Low: 9900, Close: 10050, Volume: 1000},
		},
	}

	if err := cache.Put(s); err != nil {
		t.Fatalf("failed to put series: %v", err)
	}

	retrieved, err := cache.Get("SPY", s.Date)
	if err != nil {
		t.Fatalf("failed to get series: %v", err)
	}
	if retrieved == nil {
		t.Fatal("expected series to be cached")
	}
	if retrieved.Open() != 10000 {
		t.Errorf("expected Open()=10000, got %d", retrieved.Open())
	}

	count, err := cache.CachedSeriesCount("SPY")
	if err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected count=1, got %d", count)
	}

	notFound, err := cache.Get("SPY", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if notFound != nil {
		t.Error("expected nil for non-existent series")
	}
}

func TestProviderWithoutAPIKey(t *testing.T) {
	p, err := NewProvider("", ":memory:", nil)
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	defer p.Close()

	// With no cache and no API key, GetRandomSeries still succeeds via the
	// synthetic fallback.
	s, err := p.GetRandomSeries("SPY", 120)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Len() != 120 {
		t.Errorf("expected 120 bars, got %d", s.Len())
	}
}
