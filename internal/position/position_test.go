package position

import (
	"errors"
	"sync"
	"testing"
)

func TestInitThenGet(t *testing.T) {
	s := NewStore()
	s.Init("match-1", "user-1", 100000)

	pos, ok := s.Get("match-1", "user-1")
	if !ok {
		t.Fatal("expected a position after Init")
	}
	if pos.Cash != 100000 {
		t.Errorf("expected starting cash 100000, got %d", pos.Cash)
	}
}

func TestGetMissingReturnsFalse(t *testing.T) {
	s := NewStore()
	if _, ok := s.Get("no-such-match", "no-such-user"); ok {
		t.Fatal("expected ok=false for a position that was never initialized")
	}
}

func TestUpdateMutatesInPlace(t *testing.T) {
	s := NewStore()
	s.Init("match-1", "user-1", 100000)

	err := s.Update("match-1", "user-1", func(p *Position) error {
		p.Cash -= 5000
		p.LongShares += 10
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	pos, _ := s.Get("match-1", "user-1")
	if pos.Cash != 95000 || pos.LongShares != 10 {
		t.Errorf("unexpected position after Update: %+v", pos)
	}
}

// A failing fn leaves the stored position untouched — a rejected trade
// cannot partially apply.
func TestUpdateErrorLeavesPositionUnchanged(t *testing.T) {
	s := NewStore()
	s.Init("match-1", "user-1", 100000)

	wantErr := errors.New("rejected")
	err := s.Update("match-1", "user-1", func(p *Position) error {
		p.Cash = 0
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected the update's error to propagate, got %v", err)
	}

	pos, _ := s.Get("match-1", "user-1")
	if pos.Cash != 100000 {
		t.Errorf("expected cash unchanged after a rejected update, got %d", pos.Cash)
	}
}

func TestReleaseDropsPosition(t *testing.T) {
	s := NewStore()
	s.Init("match-1", "user-1", 100000)
	s.Init("match-1", "user-2", 100000)

	s.Release("match-1", "user-1", "user-2")

	if _, ok := s.Get("match-1", "user-1"); ok {
		t.Fatal("expected user-1's position to be gone after Release")
	}
	if _, ok := s.Get("match-1", "user-2"); ok {
		t.Fatal("expected user-2's position to be gone after Release")
	}
}

// Concurrent updates for the same key must serialize: 100 concurrent
// increments of LongShares must all land.
func TestUpdateSerializesConcurrentWriters(t *testing.T) {
	s := NewStore()
	s.Init("match-1", "user-1", 1_000_000)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Update("match-1", "user-1", func(p *Position) error {
				p.LongShares++
				return nil
			})
		}()
	}
	wg.Wait()

	pos, _ := s.Get("match-1", "user-1")
	if pos.LongShares != 100 {
		t.Errorf("expected 100 serialized increments to all land, got %d", pos.LongShares)
	}
}
