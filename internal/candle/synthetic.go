package candle

import (
	"math"
	"math/rand"
	"time"
)

// DayType represents different synthetic price path patterns.
type DayType int

const (
	DayTypeChoppy       DayType = iota // Oscillates in range, ends near open
	DayTypeTrendUp                     // Steady grind higher with pullbacks
	DayTypeTrendDown                   // Steady grind lower with bounces
	DayTypeVBottom                     // Sells off hard, then recovers (V shape)
	DayTypeInvertedV                   // Rallies hard, then sells off (inverted V)
	DayTypeVolExplosion                // Quiet then sudden big moves
	DayTypeDoubleBottom                // Two selloffs with recovery
	DayTypeBreakout                    // Consolidation then explosive move
)

// SyntheticConfig configures synthetic series generation.
type SyntheticConfig struct {
	Symbol         string
	BasePrice      int64         // Starting price in cents
	BarCount       int           // Number of candles to generate
	BarInterval    time.Duration // Spacing between candles (5s for a live match)
	Volatility     float64       // Volatility over the whole series, as a decimal
	DayType        DayType
	ReturnToOpen   bool    // Whether to end near the open price
	EventCount     int     // Number of sudden "news" events
	EventMagnitude float64 // Size of events as a fraction of BasePrice
}

// DefaultSyntheticConfig returns a config tuned for an eventful match.
func DefaultSyntheticConfig(barCount int) SyntheticConfig {
	return SyntheticConfig{
		Symbol:         "SPY",
		BasePrice:      48000,
		BarCount:       barCount,
		BarInterval:    5 * time.Second,
		Volatility:     0.025,
		DayType:        DayTypeChoppy,
		ReturnToOpen:   true,
		EventCount:     3,
		EventMagnitude: 0.008,
	}
}

// SyntheticGenerator creates realistic synthetic candle series.
type SyntheticGenerator struct {
	rng *rand.Rand
}

// NewSyntheticGenerator creates a generator seeded from wall-clock time.
func NewSyntheticGenerator() *SyntheticGenerator {
	return &SyntheticGenerator{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// NewSyntheticGeneratorWithSeed creates a generator with a fixed seed, for tests.
func NewSyntheticGeneratorWithSeed(seed int64) *SyntheticGenerator {
	return &SyntheticGenerator{rng: rand.New(rand.NewSource(seed))}
}

// GenerateSeries creates a synthetic candle series with the given configuration.
func (g *SyntheticGenerator) GenerateSeries(config SyntheticConfig) *Series {
	n := config.BarCount
	if n <= 0 {
		n = 1
	}
	bars := make([]Candle, n)

	closes := g.generatePricePath(config)

	baseTime := time.Now().UTC()

	for i := 0; i < n; i++ {
		prevClose := config.BasePrice
		if i > 0 {
			prevClose = closes[i-1]
		}
		bars[i] = g.generateBar(baseTime.Add(time.Duration(i)*config.BarInterval), prevClose, closes[i], config)
	}

	return &Series{Symbol: config.Symbol, Date: baseTime, Bars: bars}
}

// GenerateRandomSeries creates a series with a randomly chosen pattern,
// weighted toward more exciting patterns for gameplay.
func (g *SyntheticGenerator) GenerateRandomSeries(symbol string, basePrice int64, barCount int) *Series {
	dayTypes := []DayType{
		DayTypeChoppy, DayTypeChoppy,
		DayTypeVBottom, DayTypeVBottom,
		DayTypeInvertedV, DayTypeInvertedV,
		DayTypeTrendUp, DayTypeTrendDown,
		DayTypeVolExplosion, DayTypeBreakout,
	}

	dayType := dayTypes[g.rng.Intn(len(dayTypes))]
	volatility := 0.02 + g.rng.Float64()*0.02

	config := SyntheticConfig{
		Symbol:         symbol,
		BasePrice:      basePrice,
		BarCount:       barCount,
		BarInterval:    5 * time.Second,
		Volatility:     volatility,
		DayType:        dayType,
		ReturnToOpen:   dayType != DayTypeTrendUp && dayType != DayTypeTrendDown,
		EventCount:     2 + g.rng.Intn(4),
		EventMagnitude: 0.005 + g.rng.Float64()*0.01,
	}

	return g.GenerateSeries(config)
}

func (g *SyntheticGenerator) generatePricePath(config SyntheticConfig) []int64 {
	var closes []int64

	switch config.DayType {
	case DayTypeVBottom:
		closes = g.generateVBottom(config)
	case DayTypeInvertedV:
		closes = g.generateInvertedV(config)
	case DayTypeTrendUp:
		closes = g.generateTrend(config, 1.0)
	case DayTypeTrendDown:
		closes = g.generateTrend(config, -1.0)
	case DayTypeVolExplosion:
		closes = g.generateVolExplosion(config)
	case DayTypeDoubleBottom:
		closes = g.generateDoubleBottom(config)
	case DayTypeBreakout:
		closes = g.generateBreakout(config)
	default:
		closes = g.generateChoppy(config)
	}

	g.addEvents(closes, config)
	g.applyIntradayPattern(closes, config)

	return closes
}

func (g *SyntheticGenerator) generateChoppy(config SyntheticConfig) []int64 {
	n := config.BarCount
	closes := make([]int64, n)
	price := float64(config.BasePrice)

	meanReversionStrength := 0.02
	target := float64(config.BasePrice)
	barVol := config.Volatility / math.Sqrt(float64(n))

	for i := 0; i < n; i++ {
		drift := meanReversionStrength * (target - price)
		noise := g.rng.NormFloat64() * barVol * price
		price += drift + noise
		closes[i] = int64(price)
	}

	if config.ReturnToOpen {
		g.pullToTarget(closes, config.BasePrice)
	}
	return closes
}

func (g *SyntheticGenerator) generateVBottom(config SyntheticConfig) []int64 {
	n := config.BarCount
	closes := make([]int64, n)
	price := float64(config.BasePrice)

	lowPoint := n/6 + g.rng.Intn(max(1, n/3))
	maxDrawdown := config.Volatility * 1.5
	barVol := config.Volatility / math.Sqrt(float64(n)) * 0.5

	for i := 0; i < n; i++ {
		var drift float64
		if i < lowPoint && lowPoint > 0 {
			progress := float64(i) / float64(lowPoint)
			targetPrice := float64(config.BasePrice) * (1 - maxDrawdown*progress)
			drift = (targetPrice - price) * 0.1
		} else {
			denom := float64(n - lowPoint)
			if denom <= 0 {
				denom = 1
			}
			progress := float64(i-lowPoint) / denom
			targetPrice := float64(config.BasePrice) * (1 - maxDrawdown*(1-progress))
			drift = (targetPrice - price) * 0.08
		}
		noise := g.rng.NormFloat64() * barVol * price
		price += drift + noise
		closes[i] = int64(price)
	}

	if config.ReturnToOpen {
		g.pullToTarget(closes, config.BasePrice)
	}
	return closes
}

func (g *SyntheticGenerator) generateInvertedV(config SyntheticConfig) []int64 {
	n := config.BarCount
	closes := make([]int64, n)
	price := float64(config.BasePrice)

	highPoint := n/6 + g.rng.Intn(max(1, n/3))
	maxRally := config.Volatility * 1.5
	barVol := config.Volatility / math.Sqrt(float64(n)) * 0.5

	for i := 0; i < n; i++ {
		var drift float64
		if i < highPoint && highPoint > 0 {
			progress := float64(i) / float64(highPoint)
			targetPrice := float64(config.BasePrice) * (1 + maxRally*progress)
			drift = (targetPrice - price) * 0.1
		} else {
			denom := float64(n - highPoint)
			if denom <= 0 {
				denom = 1
			}
			progress := float64(i-highPoint) / denom
			targetPrice := float64(config.BasePrice) * (1 + maxRally*(1-progress))
			drift = (targetPrice - price) * 0.08
		}
		noise := g.rng.NormFloat64() * barVol * price
		price += drift + noise
		closes[i] = int64(price)
	}

	if config.ReturnToOpen {
		g.pullToTarget(closes, config.BasePrice)
	}
	return closes
}

func (g *SyntheticGenerator) generateTrend(config SyntheticConfig, direction float64) []int64 {
	n := config.BarCount
	closes := make([]int64, n)
	price := float64(config.BasePrice)

	totalMove := config.Volatility * direction
	movePerBar := totalMove / float64(n)
	barVol := config.Volatility / math.Sqrt(float64(n)) * 0.7

	for i := 0; i < n; i++ {
		expectedPrice := float64(config.BasePrice) * (1 + movePerBar*float64(i+1))
		drift := (expectedPrice - price) * 0.05
		drift += float64(config.BasePrice) * movePerBar * 0.5

		noise := g.rng.NormFloat64() * barVol * price
		price += drift + noise
		closes[i] = int64(price)
	}
	return closes
}

func (g *SyntheticGenerator) generateVolExplosion(config SyntheticConfig) []int64 {
	n := config.BarCount
	closes := make([]int64, n)
	price := float64(config.BasePrice)

	explosionStart := n/2 + g.rng.Intn(max(1, n/3))
	volQuiet := config.Volatility / math.Sqrt(float64(n)) * 0.3
	volLoud := config.Volatility / math.Sqrt(float64(n)) * 3.0
	explosionWidth := max(1, n/13)

	for i := 0; i < n; i++ {
		var vol float64
		if i < explosionStart {
			vol = volQuiet
		} else if i < explosionStart+explosionWidth {
			vol = volLoud
		} else {
			vol = volQuiet * 1.5
		}

		drift := (float64(config.BasePrice) - price) * 0.01
		noise := g.rng.NormFloat64() * vol * price
		price += drift + noise
		closes[i] = int64(price)
	}

	if config.ReturnToOpen {
		g.pullToTarget(closes, config.BasePrice)
	}
	return closes
}

func (g *SyntheticGenerator) generateDoubleBottom(config SyntheticConfig) []int64 {
	n := config.BarCount
	closes := make([]int64, n)
	price := float64(config.BasePrice)

	low1 := max(1, n/4)
	mid := max(low1+1, n/2)
	low2 := max(mid+1, 3*n/4)

	maxDrawdown := config.Volatility * 1.2
	barVol := config.Volatility / math.Sqrt(float64(n)) * 0.4

	for i := 0; i < n; i++ {
		var targetPrice float64
		switch {
		case i < low1:
			progress := float64(i) / float64(low1)
			targetPrice = float64(config.BasePrice) * (1 - maxDrawdown*progress)
		case i < mid:
			progress := float64(i-low1) / float64(mid-low1)
			targetPrice = float64(config.BasePrice) * (1 - maxDrawdown*(1-progress*0.5))
		case i < low2:
			progress := float64(i-mid) / float64(low2-mid)
			targetPrice = float64(config.BasePrice) * (1 - maxDrawdown*0.5 - maxDrawdown*0.5*progress)
		default:
			denom := float64(n - low2)
			if denom <= 0 {
				denom = 1
			}
			progress := float64(i-low2) / denom
			targetPrice = float64(config.BasePrice) * (1 - maxDrawdown*(1-progress))
		}

		drift := (targetPrice - price) * 0.08
		noise := g.rng.NormFloat64() * barVol * price
		price += drift + noise
		closes[i] = int64(price)
	}

	if config.ReturnToOpen {
		g.pullToTarget(closes, config.BasePrice)
	}
	return closes
}

func (g *SyntheticGenerator) generateBreakout(config SyntheticConfig) []int64 {
	n := config.BarCount
	closes := make([]int64, n)
	price := float64(config.BasePrice)

	breakoutPoint := n/2 + g.rng.Intn(max(1, n/4))
	breakoutDir := 1.0
	if g.rng.Float64() < 0.5 {
		breakoutDir = -1.0
	}

	consolidationRange := config.Volatility * 0.3
	volTight := config.Volatility / math.Sqrt(float64(n)) * 0.3
	volBreakout := config.Volatility / math.Sqrt(float64(n)) * 2.0

	for i := 0; i < n; i++ {
		if i < breakoutPoint {
			drift := (float64(config.BasePrice) - price) * 0.05
			if price > float64(config.BasePrice)*(1+consolidationRange) {
				drift -= float64(config.BasePrice) * 0.002
			} else if price < float64(config.BasePrice)*(1-consolidationRange) {
				drift += float64(config.BasePrice) * 0.002
			}
			noise := g.rng.NormFloat64() * volTight * price
			price += drift + noise
		} else {
			denom := float64(n - breakoutPoint)
			if denom <= 0 {
				denom = 1
			}
			progress := float64(i-breakoutPoint) / denom
			breakoutMagnitude := config.Volatility * 1.5
			if progress < 0.3 {
				targetPrice := float64(config.BasePrice) * (1 + breakoutDir*breakoutMagnitude*progress/0.3)
				drift := (targetPrice - price) * 0.15
				noise := g.rng.NormFloat64() * volBreakout * price
				price += drift + noise
			} else {
				fadeProgress := (progress - 0.3) / 0.7
				targetPrice := float64(config.BasePrice) * (1 + breakoutDir*breakoutMagnitude*(1-fadeProgress))
				drift := (targetPrice - price) * 0.06
				noise := g.rng.NormFloat64() * volTight * price * 1.5
				price += drift + noise
			}
		}
		closes[i] = int64(price)
	}

	if config.ReturnToOpen {
		g.pullToTarget(closes, config.BasePrice)
	}
	return closes
}

// addEvents adds sudden price spikes to simulate news events.
func (g *SyntheticGenerator) addEvents(closes []int64, config SyntheticConfig) {
	n := len(closes)
	if n < 4 {
		return
	}
	margin := max(1, n/26)
	span := n - 2*margin
	if span <= 0 {
		return
	}

	for i := 0; i < config.EventCount; i++ {
		eventTime := margin + g.rng.Intn(span)

		direction := 1.0
		if g.rng.Float64() < 0.5 {
			direction = -1.0
		}
		magnitude := config.EventMagnitude * (0.5 + g.rng.Float64())
		spike := int64(float64(config.BasePrice) * magnitude * direction)

		decayWidth := max(1, n/20)
		endTime := eventTime + decayWidth
		if endTime > n {
			endTime = n
		}
		for j := eventTime; j < endTime; j++ {
			decay := math.Exp(-float64(j-eventTime) * 0.15)
			closes[j] += int64(float64(spike) * decay)
		}
	}
}

// applyIntradayPattern adjusts volatility across the series, matching the
// calm-middle, lively-edges shape of a real trading session.
func (g *SyntheticGenerator) applyIntradayPattern(closes []int64, config SyntheticConfig) {
	n := len(closes)
	for i := 0; i < n; i++ {
		progress := float64(i) / float64(max(1, n-1))
		var volMult float64
		switch {
		case progress < 0.08:
			volMult = 1.5 - progress*2
		case progress < 0.46:
			volMult = 0.9
		case progress < 0.69:
			volMult = 0.6
		case progress < 0.92:
			volMult = 0.9
		default:
			volMult = 1.3
		}

		noise := g.rng.NormFloat64() * float64(config.BasePrice) * 0.001 * volMult
		closes[i] += int64(noise)
	}
}

// pullToTarget adjusts the tail of the series to return near the open.
func (g *SyntheticGenerator) pullToTarget(closes []int64, target int64) {
	n := len(closes)
	tail := min(n, max(1, n/6))
	if n < tail {
		return
	}

	currentEnd := closes[n-1]
	diff := target - currentEnd

	startPull := n - tail
	for i := startPull; i < n; i++ {
		progress := float64(i-startPull) / float64(tail)
		adjustment := float64(diff) * (progress * progress)
		closes[i] += int64(adjustment)
	}
}

// generateBar creates a full OHLCV candle from a target close price.
func (g *SyntheticGenerator) generateBar(timestamp time.Time, prevClose, closePrice int64, config SyntheticConfig) Candle {
	gapPct := (g.rng.Float64() - 0.5) * 0.001
	open := prevClose + int64(float64(prevClose)*gapPct)

	minPrice := min64(open, closePrice)
	maxPrice := max64(open, closePrice)

	wickSize := int64(float64(config.BasePrice) * 0.001)
	wickHigh := int64(g.rng.Float64() * float64(wickSize) * 2)
	wickLow := int64(g.rng.Float64() * float64(wickSize) * 2)

	high := maxPrice + wickHigh
	low := minPrice - wickLow
	if low < 100 {
		low = 100
	}

	priceChange := math.Abs(float64(closePrice-open)) / float64(config.BasePrice)
	baseVolume := 5000 + g.rng.Intn(10000)
	volumeMult := 1.0 + priceChange*20
	volume := int64(float64(baseVolume) * volumeMult)

	return Candle{
		Timestamp: timestamp,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
