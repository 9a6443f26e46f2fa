package scheduler

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"candleduel/internal/candle"
	"candleduel/internal/position"
	"candleduel/internal/room"
	"candleduel/internal/store"
)

type fakePublisher struct {
	candles  int
	finished []FinishResult
}

func (f *fakePublisher) PublishCandle(matchID string, index int, c candle.Candle, remaining int) error {
	f.candles++
	return nil
}

func (f *fakePublisher) PublishFinished(matchID string, result FinishResult) error {
	f.finished = append(f.finished, result)
	return nil
}

func setupTestStore(t *testing.T) (*store.Store, func()) {
	t.Helper()
	f, err := os.CreateTemp("", "candleduel-scheduler-test-*.db")
	if err != nil {
		t.Fatalf("tempfile: %v", err)
	}
	path := f.Name()
	f.Close()

	st, err := store.New(path)
	if err != nil {
		os.Remove(path)
		t.Fatalf("store.New: %v", err)
	}
	return st, func() { st.Close(); os.Remove(path) }
}

func seriesOfLen(n int) *candle.Series {
	bars := make([]candle.Candle, n)
	for i := range bars {
		bars[i] = candle.Candle{Open: 100, High: 100, Low: 100, Close: int64(100 + i), Volume: 1}
	}
	return &candle.Series{Symbol: "TEST", Bars: bars}
}

// S1, compressed: matches spec.md's happy-path scenario using a 5-candle
// series with closes [100, 102, 101, 103, 105].
func TestSchedulerScenarioS1(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()

	st.EnsureUser("creator", "Creator")
	st.EnsureUser("opponent", "Opponent")
	m := &store.Match{ID: "m1", Symbol: "RELIANCE", DurationMinutes: 1, TotalCandles: 5, CreatorID: "creator", StartingBalance: 100000}
	if err := st.CreateMatch(m); err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}
	if err := st.JoinMatch("m1", "opponent"); err != nil {
		t.Fatalf("JoinMatch: %v", err)
	}

	series := &candle.Series{Symbol: "RELIANCE", Bars: []candle.Candle{
		{Close: 100}, {Close: 102}, {Close: 101}, {Close: 103}, {Close: 105},
	}}

	positions := position.NewStore()
	positions.Init("m1", "creator", 100000)
	positions.Init("m1", "opponent", 100000)

	// Creator BUYs 100 @ candle 0's close (100).
	positions.Update("m1", "creator", func(p *position.Position) error {
		p.Cash -= 100 * 100
		p.LongShares += 100
		p.LongAvgPrice = 100
		return nil
	})

	pub := &fakePublisher{}
	r := &runner{
		matchID:         "m1",
		series:          series,
		startingBalance: 100000,
		creatorID:       "creator",
		opponentID:      "opponent",
		creatorRating:   1000,
		opponentRating:  1000,
		creatorStats:    newPlayerStats(100000),
		opponentStats:   newPlayerStats(100000),
		store:           st,
		positions:       positions,
		rooms:           room.NewManager(zap.NewNop()),
		publisher:       pub,
		log:             zap.NewNop(),
		stopCh:          make(chan struct{}),
		done:            make(chan struct{}),
		onDone:          func() {},
	}
	r.rooms.Register("m1")

	ctx := context.Background()

	// Tick past candle 0 -> 1.
	if done := r.tick(ctx); done {
		t.Fatal("expected match to still be running after first tick")
	}

	// Opponent SHORTs 100 @ candle 1's close (102).
	positions.Update("m1", "opponent", func(p *position.Position) error {
		p.ShortShares += 100
		p.ShortAvgPrice = 102
		return nil
	})

	// Advance through the remaining candles to exhaustion.
	for i := 0; i < 10; i++ {
		if done := r.tick(ctx); done {
			break
		}
	}

	if len(pub.finished) != 1 {
		t.Fatalf("expected exactly one finished event, got %d", len(pub.finished))
	}
	result := pub.finished[0]
	if result.WinnerID != "creator" {
		t.Errorf("expected creator to win, got %q", result.WinnerID)
	}

	var creatorEquity, opponentEquity int64
	for _, p := range result.Players {
		if p.UserID == "creator" {
			creatorEquity = p.FinalEquity
		} else {
			opponentEquity = p.FinalEquity
		}
	}
	if creatorEquity != 100500 {
		t.Errorf("expected creator equity 100500, got %d", creatorEquity)
	}
	if opponentEquity != 99700 {
		t.Errorf("expected opponent equity 99700, got %d", opponentEquity)
	}

	got, err := st.GetMatch("m1")
	if err != nil {
		t.Fatalf("GetMatch: %v", err)
	}
	if got.Status != store.MatchStatusFinished {
		t.Errorf("expected FINISHED, got %s", got.Status)
	}
}

func TestCompositeScoreRewardsReturnOverRisk(t *testing.T) {
	highReturnLowRisk := compositeScore(0.2, 0.02)
	lowReturnHighRisk := compositeScore(0.2, 0.5)
	if highReturnLowRisk <= lowReturnHighRisk {
		t.Errorf("expected lower drawdown to score higher at equal return: %f vs %f", highReturnLowRisk, lowReturnHighRisk)
	}

	flat := compositeScore(0, 0)
	if flat < 49 || flat > 71 {
		t.Errorf("expected a flat, driftless match to score near the middle, got %f", flat)
	}
}

// tick always re-reads the match's current version from the store before
// calling AdvanceCandle, so a version bumped by some other writer between
// ticks is picked up rather than causing a stale-write rejection.
func TestTickReadsCurrentVersionBeforeAdvancing(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()

	st.EnsureUser("creator", "Creator")
	m := &store.Match{ID: "m1", Symbol: "TEST", DurationMinutes: 1, TotalCandles: 3, CreatorID: "creator", StartingBalance: 1000}
	st.CreateMatch(m)

	// Advance once out-of-band, as if another process had ticked this
	// match already.
	ok, err := st.AdvanceCandle("m1", 0, 1)
	if err != nil || !ok {
		t.Fatalf("setup AdvanceCandle: ok=%v err=%v", ok, err)
	}

	positions := position.NewStore()
	positions.Init("m1", "creator", 1000)
	positions.Init("m1", "opponent", 1000)

	r := &runner{
		matchID:         "m1",
		series:          seriesOfLen(3),
		startingBalance: 1000,
		creatorID:       "creator",
		opponentID:      "opponent",
		creatorStats:    newPlayerStats(1000),
		opponentStats:   newPlayerStats(1000),
		store:           st,
		positions:       positions,
		log:             zap.NewNop(),
		stopCh:          make(chan struct{}),
		done:            make(chan struct{}),
		onDone:          func() {},
	}

	if done := r.tick(context.Background()); done {
		t.Fatal("unexpected end-of-match before the series is exhausted")
	}

	got, _ := st.GetMatch("m1")
	if got.CandleIndex != 2 {
		t.Errorf("expected candle index to advance from the store's current value 1 to 2, got %d", got.CandleIndex)
	}
}

func TestTickPeriodMatchesSpec(t *testing.T) {
	if TickPeriod != 5*time.Second {
		t.Errorf("expected a 5 second tick period, got %v", TickPeriod)
	}
}
