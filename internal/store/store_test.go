package store

import (
	"os"
	"testing"
)

func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	f, err := os.CreateTemp("", "candleduel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	dbPath := f.Name()
	f.Close()

	store, err := New(dbPath)
	if err != nil {
		os.Remove(dbPath)
		t.Fatalf("failed to create store: %v", err)
	}

	cleanup := func() {
		store.Close()
		os.Remove(dbPath)
	}

	return store, cleanup
}

func TestEnsureUser(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	u, err := store.EnsureUser("u1", "Alice")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if u.Rating != 1000 {
		t.Errorf("expected default rating 1000, got %d", u.Rating)
	}

	// Idempotent: second call doesn't clobber the row.
	u2, err := store.EnsureUser("u1", "Alice Renamed")
	if err != nil {
		t.Fatalf("EnsureUser (2nd): %v", err)
	}
	if u2.DisplayName != "Alice" {
		t.Errorf("expected display name to stay 'Alice', got %q", u2.DisplayName)
	}
}

func TestCreateAndJoinMatch(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	store.EnsureUser("creator", "Creator")
	store.EnsureUser("opponent", "Opponent")

	m := &Match{ID: "m1", Symbol: "SPY", DurationMinutes: 10, TotalCandles: 120, CreatorID: "creator", StartingBalance: 1000000}
	if err := store.CreateMatch(m); err != nil {
		t.Fatalf("CreateMatch: %v", err)
	}

	got, err := store.GetMatch("m1")
	if err != nil {
		t.Fatalf("GetMatch: %v", err)
	}
	if got.Status != MatchStatusWaiting {
		t.Errorf("expected WAITING, got %s", got.Status)
	}

	if err := store.JoinMatch("m1", "opponent"); err != nil {
		t.Fatalf("JoinMatch: %v", err)
	}

	got, _ = store.GetMatch("m1")
	if got.Status != MatchStatusActive {
		t.Errorf("expected ACTIVE after join, got %s", got.Status)
	}

	// A second join attempt must fail: match is no longer WAITING.
	if err := store.JoinMatch("m1", "third"); err == nil {
		t.Error("expected error joining an already-active match")
	}
}

func TestAdvanceCandleOptimisticConcurrency(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	store.EnsureUser("creator", "Creator")
	m := &Match{ID: "m1", Symbol: "SPY", DurationMinutes: 10, TotalCandles: 120, CreatorID: "creator", StartingBalance: 1000000}
	store.CreateMatch(m)

	ok, err := store.AdvanceCandle("m1", 0, 1)
	if err != nil {
		t.Fatalf("AdvanceCandle: %v", err)
	}
	if !ok {
		t.Fatal("expected first advance to succeed")
	}

	// Stale version should be rejected, not silently overwritten.
	ok, err = store.AdvanceCandle("m1", 0, 2)
	if err != nil {
		t.Fatalf("AdvanceCandle (stale): %v", err)
	}
	if ok {
		t.Error("expected stale-version advance to be rejected")
	}
}

func TestSettleMatch(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	store.EnsureUser("creator", "Creator")
	store.EnsureUser("opponent", "Opponent")
	m := &Match{ID: "m1", Symbol: "SPY", DurationMinutes: 10, TotalCandles: 120, CreatorID: "creator", StartingBalance: 1000000}
	store.CreateMatch(m)
	store.JoinMatch("m1", "opponent")

	stats := []MatchStats{
		{MatchID: "m1", UserID: "creator", FinalEquity: 1100000, PeakEquity: 1150000, MaxDrawdownPct: 0.04, TradeCount: 3, CompositeScore: 0.8, RatingDelta: 16},
		{MatchID: "m1", UserID: "opponent", FinalEquity: 900000, PeakEquity: 1050000, MaxDrawdownPct: 0.14, TradeCount: 5, CompositeScore: 0.2, RatingDelta: -16},
	}

	if err := store.SettleMatch("m1", stats, "creator"); err != nil {
		t.Fatalf("SettleMatch: %v", err)
	}

	got, _ := store.GetMatch("m1")
	if got.Status != MatchStatusFinished {
		t.Errorf("expected FINISHED, got %s", got.Status)
	}

	winner, err := store.GetUserByID("creator")
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if winner.Rating != 1016 {
		t.Errorf("expected winner rating 1016, got %d", winner.Rating)
	}
	if winner.MatchesWon != 1 {
		t.Errorf("expected 1 win, got %d", winner.MatchesWon)
	}

	loser, _ := store.GetUserByID("opponent")
	if loser.Rating != 984 {
		t.Errorf("expected loser rating 984, got %d", loser.Rating)
	}
	if loser.MatchesWon != 0 {
		t.Errorf("expected 0 wins, got %d", loser.MatchesWon)
	}
}

func TestRecordAndGetTrades(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	store.EnsureUser("creator", "Creator")
	m := &Match{ID: "m1", Symbol: "SPY", DurationMinutes: 10, TotalCandles: 120, CreatorID: "creator", StartingBalance: 1000000}
	store.CreateMatch(m)

	trade := &Trade{ID: "t1", MatchID: "m1", UserID: "creator", Symbol: "SPY", Side: "BUY", Quantity: 10, Price: 48000, CandleIndex: 3}
	if err := store.RecordTrade(trade); err != nil {
		t.Fatalf("RecordTrade: %v", err)
	}

	trades, err := store.GetMatchTrades("m1")
	if err != nil {
		t.Fatalf("GetMatchTrades: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if trades[0].Side != "BUY" {
		t.Errorf("expected BUY, got %s", trades[0].Side)
	}
}
