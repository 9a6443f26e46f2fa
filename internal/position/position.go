// Package position holds each player's live trading position for the
// duration of a match: cash, long shares, and short shares. It is the
// in-memory counterpart to the durable Match Store — positions never touch
// disk until a match settles.
package position

import "sync"

// Position is one player's account state inside a running match. SHORT only
// checks that cash covers the position as a margin hold — it does not move
// cash out of the account — so cash only ever changes on BUY, SELL, and
// COVER; the short book's unrealized P&L is carried separately and folded
// into equity until it is realized by a COVER.
type Position struct {
	Cash          int64 // cents
	LongShares    int64
	LongAvgPrice  int64 // cents, cost basis of the long book
	ShortShares   int64
	ShortAvgPrice int64 // cents, cost basis of the short book
}

// Equity returns total account value at the given current price: cash, plus
// long-book mark-to-market, plus short-book mark-to-market (short_avg minus
// price per share, since a short profits when price falls below the entry
// average).
func (p Position) Equity(currentPrice int64) int64 {
	equity := p.Cash
	equity += p.LongShares * currentPrice
	equity += p.ShortShares * (p.ShortAvgPrice - currentPrice)
	return equity
}

// key identifies one player's position within one match.
type key struct {
	matchID string
	userID  string
}

// entry pairs a position with the mutex that makes it single-writer: every
// mutation for a given (match, user) goes through entry.mu, so concurrent
// trade requests for the same player serialize instead of racing.
type entry struct {
	mu  sync.Mutex
	pos Position
}

// Store holds every live position across all in-flight matches on this
// instance, striped by (match, user) key so unrelated players never contend.
type Store struct {
	mu      sync.Mutex
	entries map[key]*entry
}

// NewStore creates an empty position store.
func NewStore() *Store {
	return &Store{entries: make(map[key]*entry)}
}

func (s *Store) entryFor(matchID, userID string) *entry {
	k := key{matchID, userID}

	s.mu.Lock()
	e, ok := s.entries[k]
	if !ok {
		e = &entry{}
		s.entries[k] = e
	}
	s.mu.Unlock()

	return e
}

// Init seeds a player's starting position at the start of a match.
func (s *Store) Init(matchID, userID string, startingCash int64) {
	e := s.entryFor(matchID, userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pos = Position{Cash: startingCash}
}

// Get returns a snapshot of a player's current position.
func (s *Store) Get(matchID, userID string) (Position, bool) {
	s.mu.Lock()
	e, ok := s.entries[key{matchID, userID}]
	s.mu.Unlock()
	if !ok {
		return Position{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos, true
}

// Update runs fn against a player's position under its single-writer lock
// and persists whatever fn leaves in *Position. fn returning an error aborts
// the update (the position is left unchanged) and the error propagates.
func (s *Store) Update(matchID, userID string, fn func(*Position) error) error {
	e := s.entryFor(matchID, userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	candidate := e.pos
	if err := fn(&candidate); err != nil {
		return err
	}
	e.pos = candidate
	return nil
}

// Release drops a match's positions once it has settled, freeing memory.
func (s *Store) Release(matchID string, userIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, userID := range userIDs {
		delete(s.entries, key{matchID, userID})
	}
}
