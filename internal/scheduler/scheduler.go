// Package scheduler drives candle progression for an ACTIVE match at a
// fixed five-second cadence, generalizing the teacher's self-rescheduling
// `Match.priceTickLoop` (ticker + select + stop channel,
// internal/match/state.go) from a 100ms continuous NAV interpolation to a
// discrete once-per-candle advance, and adding the cross-instance
// ownership lease spec.md §4.2 requires (the teacher only ever ran one
// match per process, so it never needed one).
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"candleduel/internal/candle"
	"candleduel/internal/position"
	"candleduel/internal/room"
	"candleduel/internal/store"
)

// TickPeriod is the fixed candle-advance cadence (spec.md §1/§4.2).
const TickPeriod = 5 * time.Second

// Publisher is the subset of the Broadcast Fabric the scheduler needs; kept
// as a narrow interface here so this package doesn't import
// internal/broadcast directly.
type Publisher interface {
	PublishCandle(matchID string, index int, c candle.Candle, remaining int) error
	PublishFinished(matchID string, result FinishResult) error
}

// Manager owns every scheduler instance (one per ACTIVE match) running on
// this process.
type Manager struct {
	log       *zap.Logger
	store     *store.Store
	positions *position.Store
	rooms     *room.Manager
	publisher Publisher
	leases    *LeaseStore

	mu      sync.Mutex
	runners map[string]*runner
}

func NewManager(log *zap.Logger, st *store.Store, positions *position.Store, rooms *room.Manager, publisher Publisher, leases *LeaseStore) *Manager {
	return &Manager{
		log:       log,
		store:     st,
		positions: positions,
		rooms:     rooms,
		publisher: publisher,
		leases:    leases,
		runners:   make(map[string]*runner),
	}
}

// Start begins ticking an ACTIVE match. It is a no-op if a runner for this
// match is already active on this instance.
func (m *Manager) Start(matchID string, series *candle.Series, startingBalance int64, creatorID, opponentID string, creatorRating, opponentRating int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runners[matchID]; ok {
		return
	}

	r := &runner{
		matchID:         matchID,
		series:          series,
		startingBalance: startingBalance,
		creatorID:       creatorID,
		opponentID:      opponentID,
		creatorRating:   creatorRating,
		opponentRating:  opponentRating,
		creatorStats:    newPlayerStats(startingBalance),
		opponentStats:   newPlayerStats(startingBalance),
		store:           m.store,
		positions:       m.positions,
		rooms:           m.rooms,
		publisher:       m.publisher,
		leases:          m.leases,
		log:             m.log.With(zap.String("match_id", matchID)),
		stopCh:          make(chan struct{}),
		done:            make(chan struct{}),
		onDone: func() {
			m.mu.Lock()
			delete(m.runners, matchID)
			m.mu.Unlock()
		},
	}
	m.runners[matchID] = r

	m.positions.Init(matchID, creatorID, startingBalance)
	m.positions.Init(matchID, opponentID, startingBalance)

	go r.run()
}

// RecordTrade routes a fill to the right player's running stats tracker so
// settlement has trade counts without the scheduler inspecting trade
// history itself.
func (m *Manager) RecordTrade(matchID, userID string, profitable bool) {
	m.mu.Lock()
	r, ok := m.runners[matchID]
	m.mu.Unlock()
	if !ok {
		return
	}
	r.recordTrade(userID, profitable)
}

// Stop halts a running scheduler early (e.g. on abandonment).
func (m *Manager) Stop(matchID string) {
	m.mu.Lock()
	r, ok := m.runners[matchID]
	m.mu.Unlock()
	if !ok {
		return
	}
	close(r.stopCh)
	<-r.done
}

// CurrentPrice resolves the close of the current candle for an ACTIVE
// match, as spec.md §4.3 requires every trade's price to come from — never
// the client. The candle index comes from the store, but the series lives
// only in this instance's runner, so it resolves (ok=true) only on the
// instance that is ticking the match.
func (m *Manager) CurrentPrice(matchID string) (price int64, ok bool) {
	mm, err := m.store.GetMatch(matchID)
	if err != nil || mm == nil || mm.Status != store.MatchStatusActive {
		return 0, false
	}

	m.mu.Lock()
	r, hasRunner := m.runners[matchID]
	m.mu.Unlock()
	if !hasRunner {
		return 0, false
	}

	index := mm.CandleIndex
	if index >= r.series.Len() {
		index = r.series.Len() - 1
	}
	return r.series.At(index).Close, true
}

// CurrentCandle resolves the full current candle for an ACTIVE match on
// this instance, the same local-runner-only limitation as CurrentPrice.
func (m *Manager) CurrentCandle(matchID string) (c candle.Candle, index int, ok bool) {
	mm, err := m.store.GetMatch(matchID)
	if err != nil || mm == nil || mm.Status != store.MatchStatusActive {
		return candle.Candle{}, 0, false
	}

	m.mu.Lock()
	r, hasRunner := m.runners[matchID]
	m.mu.Unlock()
	if !hasRunner {
		return candle.Candle{}, 0, false
	}

	index = mm.CandleIndex
	if index >= r.series.Len() {
		index = r.series.Len() - 1
	}
	return r.series.At(index), index, true
}

// ActiveCount reports how many matches this instance is currently ticking,
// for the liveness endpoint's in-memory counters.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runners)
}

// runner drives one match's candle ticks. Only its own goroutine advances
// its state; Manager only ever touches the channels and the read-only
// fields set at construction.
type runner struct {
	matchID         string
	series          *candle.Series
	startingBalance int64
	creatorID       string
	opponentID      string
	creatorRating   int
	opponentRating  int
	creatorStats    *playerStats
	opponentStats   *playerStats

	store     *store.Store
	positions *position.Store
	rooms     *room.Manager
	publisher Publisher
	leases    *LeaseStore
	log       *zap.Logger

	stopCh chan struct{}
	done   chan struct{}
	onDone func()
}

func (r *runner) recordTrade(userID string, profitable bool) {
	if userID == r.creatorID {
		r.creatorStats.RecordTrade(profitable)
	} else if userID == r.opponentID {
		r.opponentStats.RecordTrade(profitable)
	}
}

func (r *runner) run() {
	defer close(r.done)
	defer r.onDone()

	ticker := time.NewTicker(TickPeriod)
	defer ticker.Stop()

	ctx := context.Background()
	if r.leases != nil {
		if ok, err := r.leases.Acquire(ctx, r.matchID); err != nil || !ok {
			r.log.Warn("failed to acquire scheduler lease; not starting", zap.Error(err))
			return
		}
	}

	for {
		select {
		case <-r.stopCh:
			if r.leases != nil {
				r.leases.Release(ctx, r.matchID)
			}
			return
		case <-ticker.C:
			if done := r.tick(ctx); done {
				return
			}
		}
	}
}

// tick performs one candle advance per spec.md §4.2's four-step sequence.
// It returns true once the match has reached end-of-match and the runner
// should stop.
func (r *runner) tick(ctx context.Context) bool {
	if r.leases != nil {
		ok, err := r.leases.Renew(ctx, r.matchID)
		if err != nil {
			r.log.Warn("lease renew failed; retrying next tick", zap.Error(err))
			return false
		}
		if !ok {
			r.log.Info("lost scheduler lease; stopping local ticking")
			return true
		}
	}

	m, err := r.store.GetMatch(r.matchID)
	if err != nil || m == nil {
		r.log.Error("match lookup failed during tick", zap.Error(err))
		return false
	}

	r.observeEquity(m.CandleIndex)

	if m.CandleIndex >= r.series.Len()-1 {
		r.finish(ctx, m.CandleIndex)
		return true
	}

	nextIndex := m.CandleIndex + 1
	ok, err := r.store.AdvanceCandle(r.matchID, m.Version, nextIndex)
	if err != nil {
		r.log.Error("advance candle failed; retrying next tick", zap.Error(err))
		return false
	}
	if !ok {
		// Lost the optimistic-concurrency race (e.g. a concurrent
		// abandonment flip); re-read and retry next tick rather than
		// skipping an index.
		return false
	}

	c := r.series.At(nextIndex)
	if r.publisher != nil {
		if err := r.publisher.PublishCandle(r.matchID, nextIndex, c, r.series.Len()-1-nextIndex); err != nil {
			r.log.Warn("candle broadcast failed", zap.Error(err))
		}
	}
	return false
}

func (r *runner) observeEquity(candleIndex int) {
	if candleIndex >= r.series.Len() {
		candleIndex = r.series.Len() - 1
	}
	price := r.series.At(candleIndex).Close

	if pos, ok := r.positions.Get(r.matchID, r.creatorID); ok {
		r.creatorStats.Observe(pos.Equity(price))
	}
	if pos, ok := r.positions.Get(r.matchID, r.opponentID); ok {
		r.opponentStats.Observe(pos.Equity(price))
	}
}

func (r *runner) finish(ctx context.Context, candleIndex int) {
	price := r.series.At(r.series.Len() - 1).Close

	creatorPos, _ := r.positions.Get(r.matchID, r.creatorID)
	opponentPos, _ := r.positions.Get(r.matchID, r.opponentID)

	creatorPeak, creatorDD, creatorTrades, _ := r.creatorStats.snapshot()
	opponentPeak, opponentDD, opponentTrades, _ := r.opponentStats.snapshot()

	result, err := settle(r.matchID, r.startingBalance,
		playerInput{r.creatorID, r.creatorRating, creatorPos.Equity(price), creatorPeak, creatorDD, creatorTrades},
		playerInput{r.opponentID, r.opponentRating, opponentPos.Equity(price), opponentPeak, opponentDD, opponentTrades},
	)
	if err != nil {
		r.log.Error("settlement computation failed", zap.Error(err))
		return
	}

	if err := persist(r.store, result); err != nil {
		r.log.Error("settlement persistence failed; match stays ACTIVE for retry", zap.Error(err))
		return
	}

	r.positions.Release(r.matchID, r.creatorID, r.opponentID)
	if r.rooms != nil {
		r.rooms.Finish(r.matchID, false)
	}
	if r.publisher != nil {
		if err := r.publisher.PublishFinished(r.matchID, result); err != nil {
			r.log.Warn("finished-event broadcast failed", zap.Error(err))
		}
	}
	if r.leases != nil {
		r.leases.Release(ctx, r.matchID)
	}
}
