package candle

import (
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Provider resolves a candle series for a match: cache first, then an
// optional remote data source, falling back to the synthetic generator when
// neither has anything for the requested symbol. This mirrors the teacher's
// cache-then-fetch layering, generalized with a synthetic fallback so a
// match can always start even with no market-data credentials configured.
type Provider struct {
	remote *RemoteClient
	cache  *Cache
	synth  *SyntheticGenerator
	rng    *rand.Rand
	log    *zap.Logger
}

// NewProvider builds a Provider. apiKey may be empty, in which case only the
// cache and synthetic generator back matches.
func NewProvider(apiKey, cachePath string, log *zap.Logger) (*Provider, error) {
	cache, err := NewCache(cachePath)
	if err != nil {
		return nil, fmt.Errorf("create candle cache: %w", err)
	}

	var remote *RemoteClient
	if apiKey != "" {
		remote = NewRemoteClient(apiKey)
	}

	if log == nil {
		log = zap.NewNop()
	}

	return &Provider{
		remote: remote,
		cache:  cache,
		synth:  NewSyntheticGenerator(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		log:    log,
	}, nil
}

// Close releases the provider's cache handle.
func (p *Provider) Close() error {
	return p.cache.Close()
}

// GetSeries returns a series of exactly barCount candles for symbol, sourced
// from cache, then the remote provider (resampled to barCount if its native
// bar count differs), then synthetic generation.
func (p *Provider) GetSeries(symbol string, date time.Time, barCount int) (*Series, error) {
	s, err := p.cache.Get(symbol, date)
	if err != nil {
		return nil, err
	}
	if s != nil {
		return s.Resample(barCount), nil
	}

	if p.remote != nil {
		s, err = p.remote.FetchSeries(symbol, date)
		if err != nil {
			p.log.Warn("remote candle fetch failed, falling back to synthetic", zap.String("symbol", symbol), zap.Error(err))
		} else {
			if err := p.cache.Put(s); err != nil {
				p.log.Warn("failed to cache fetched series", zap.Error(err))
			}
			return s.Resample(barCount), nil
		}
	}

	return p.synth.GenerateRandomSeries(symbol, 48000, barCount), nil
}

// GetRandomSeries returns a random series for symbol with exactly barCount
// candles, preferring a cached real series and falling back to synthetic
// generation when nothing is cached and no remote provider is configured.
func (p *Provider) GetRandomSeries(symbol string, barCount int) (*Series, error) {
	s, err := p.cache.GetRandomCachedSeries(symbol)
	if err != nil {
		return nil, err
	}
	if s != nil {
		return s.Resample(barCount), nil
	}

	if p.remote != nil {
		date := p.randomTradingDay(2)
		return p.GetSeries(symbol, date, barCount)
	}

	return p.synth.GenerateRandomSeries(symbol, 48000, barCount), nil
}

// randomTradingDay picks a random weekday, roughly avoiding US market
// holidays, from the last yearsBack years.
func (p *Provider) randomTradingDay(yearsBack int) time.Time {
	now := time.Now()
	earliest := now.AddDate(-yearsBack, 0, 0)
	dayRange := int(now.Sub(earliest).Hours() / 24)

	for attempts := 0; attempts < 100; attempts++ {
		daysAgo := p.rng.Intn(dayRange)
		date := now.AddDate(0, 0, -daysAgo)

		if date.Weekday() == time.Saturday || date.Weekday() == time.Sunday {
			continue
		}
		if isUSMarketHoliday(date) {
			continue
		}
		if daysAgo < 2 {
			continue
		}
		return date
	}

	return now.AddDate(0, 0, -30)
}

// isUSMarketHoliday checks for major US market holidays (approximate).
func isUSMarketHoliday(date time.Time) bool {
	month := date.Month()
	day := date.Day()

	switch {
	case month == time.January && day == 1:
		return true
	case month == time.January && date.Weekday() == time.Monday && day >= 15 && day <= 21:
		return true // MLK Day
	case month == time.February && date.Weekday() == time.Monday && day >= 15 && day <= 21:
		return true // Presidents Day
	case month == time.May && date.Weekday() == time.Monday && day >= 25:
		return true // Memorial Day
	case month == time.June && day == 19:
		return true // Juneteenth
	case month == time.July && day == 4:
		return true // Independence Day
	case month == time.September && date.Weekday() == time.Monday && day <= 7:
		return true // Labor Day
	case month == time.November && date.Weekday() == time.Thursday && day >= 22 && day <= 28:
		return true // Thanksgiving
	case month == time.December && day == 25:
		return true // Christmas
	default:
		return false
	}
}

// PrefetchSeries fetches and caches several random real series, for warming
// the cache ahead of a burst of matchmaking.
func (p *Provider) PrefetchSeries(symbol string, count, yearsBack int) error {
	if p.remote == nil {
		return fmt.Errorf("no remote provider configured for prefetching")
	}

	for i := 0; i < count; i++ {
		date := p.randomTradingDay(yearsBack)

		cached, err := p.cache.Get(symbol, date)
		if err != nil {
			return err
		}
		if cached != nil {
			continue
		}

		s, err := p.remote.FetchSeries(symbol, date)
		if err != nil {
			p.log.Warn("prefetch fetch failed", zap.String("date", date.Format("2006-01-02")), zap.Error(err))
			continue
		}

		if err := p.cache.Put(s); err != nil {
			return err
		}

		time.Sleep(15 * time.Second) // respect provider rate limits
	}

	return nil
}

// CachedSeriesCount returns the number of cached series for a symbol.
func (p *Provider) CachedSeriesCount(symbol string) (int, error) {
	return p.cache.CachedSeriesCount(symbol)
}
