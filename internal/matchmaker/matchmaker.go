// Package matchmaker pairs queued players of similar skill and creates
// matches for them automatically, per the ordered-set total order and
// expanding rating-window schedule.
//
// Grounded in Byabasaija-playpool's matchmaker_worker.go for the overall
// shape — a fixed-cadence poll loop that claims a pair and hands it off to
// match creation — adapted from its transactional SQL claim
// (`FOR UPDATE SKIP LOCKED`) to an in-process single-writer actor over an
// ordered set, since this queue's state is scoped to one instance (a match,
// once created, is handed to the Match Store and Broadcast Fabric, which
// are already cross-instance).
package matchmaker

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"candleduel/internal/candle"
	"candleduel/internal/scheduler"
	"candleduel/internal/store"
)

// The three collaborators below are narrowed to the single method this
// package calls on each, the same way internal/scheduler defines Publisher
// rather than importing internal/broadcast — lets tests exercise the
// pairing/window logic against fakes instead of a live SQLite+Redis stack.

// MatchStore is the persistence slice matchmaking needs from *store.Store.
type MatchStore interface {
	CreateMatch(m *store.Match) error
	JoinMatch(matchID, opponentID string) error
}

// Rooms registers a freshly created match with the Room Manager.
type Rooms interface {
	Register(matchID string)
	Activate(matchID string) error
}

// Scheduler starts a match's candle ticking once both players are known.
type Scheduler interface {
	Start(matchID string, series *candle.Series, startingBalance int64, creatorID, opponentID string, creatorRating, opponentRating int)
}

// CandleSource resolves the historical series a match will replay.
type CandleSource interface {
	GetSeries(symbol string, date time.Time, barCount int) (*candle.Series, error)
}

const (
	ticketTTL     = 120 * time.Second
	sweepInterval = time.Second
)

// Policy configures the matches a successful pairing creates.
type Policy struct {
	Symbols         []string
	DurationMinutes int
	StartingBalance int64
}

func (p Policy) totalCandles() int {
	return p.DurationMinutes * 60 / int(scheduler.TickPeriod.Seconds())
}

func (p Policy) randomSymbol(rng *rand.Rand) string {
	if len(p.Symbols) == 0 {
		return "SYNTH"
	}
	return p.Symbols[rng.Intn(len(p.Symbols))]
}

// MatchFoundEvent is delivered to both paired players over their
// user-scoped notification channel (spec's `/user/{userId}/match-found`).
type MatchFoundEvent struct {
	MatchID string `json:"match_id"`
}

// MatchExpiredEvent is delivered when a ticket ages out of the queue
// unpaired (spec's `/user/{userId}/match-expired`... carried here as the
// `match-expired` event name).
type MatchExpiredEvent struct {
	Reason string `json:"reason"`
}

// Notifier delivers matchmaking events to a specific user, independent of
// any match (a player hasn't joined a match's room yet when paired — they
// need to be told which match to join). Implemented by
// `internal/broadcast.Broadcaster.NotifyUser` over the Hub's lobby channel.
type Notifier interface {
	NotifyUser(userID string, payload any) error
}

// Error is a typed matchmaker rejection, mirroring internal/exec's error
// enum style.
type Error struct {
	Code string
	msg  string
}

func (e *Error) Error() string { return e.msg }

var (
	ErrAlreadyQueued = &Error{"ALREADY_QUEUED", "user already has a queued matchmaking ticket"}
	ErrNotQueued     = &Error{"NOT_QUEUED", "user has no queued matchmaking ticket"}
)

type enqueueResult struct {
	matched bool
	matchID string
	err     error
}

type enqueueCmd struct {
	ticket Ticket
	reply  chan enqueueResult
}

type cancelCmd struct {
	userID string
	reply  chan error
}

// Manager owns the matchmaking queue as a single actor goroutine: every
// enqueue, cancel, and sweep mutates the same in-memory ordered set from
// one goroutine, so "two sweeps must not pair the same ticket twice" holds
// by construction rather than by locking discipline.
type Manager struct {
	log       *zap.Logger
	store     MatchStore
	rooms     Rooms
	scheduler Scheduler
	candles   CandleSource
	notifier  Notifier
	policy    Policy
	rng       *rand.Rand

	enqueue chan enqueueCmd
	cancel  chan cancelCmd
	stopCh  chan struct{}
}

func NewManager(log *zap.Logger, st MatchStore, rooms Rooms, sched Scheduler, candles CandleSource, notifier Notifier, policy Policy) *Manager {
	m := &Manager{
		log:       log,
		store:     st,
		rooms:     rooms,
		scheduler: sched,
		candles:   candles,
		notifier:  notifier,
		policy:    policy,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		enqueue:   make(chan enqueueCmd),
		cancel:    make(chan cancelCmd),
		stopCh:    make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *Manager) Stop() {
	close(m.stopCh)
}

// Enqueue adds userID to the queue at its rating snapshot and attempts an
// immediate pairing against its neighbors before returning. Returns the new
// match id if a pair was struck.
func (m *Manager) Enqueue(userID, displayName string, rating int) (matched bool, matchID string, err error) {
	reply := make(chan enqueueResult, 1)
	m.enqueue <- enqueueCmd{
		ticket: Ticket{UserID: userID, DisplayName: displayName, Rating: rating, EnqueuedAt: time.Now()},
		reply:  reply,
	}
	res := <-reply
	return res.matched, res.matchID, res.err
}

// Cancel removes userID's queued ticket, if any.
func (m *Manager) Cancel(userID string) error {
	reply := make(chan error, 1)
	m.cancel <- cancelCmd{userID: userID, reply: reply}
	return <-reply
}

func (m *Manager) run() {
	set := &orderedSet{}
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case cmd := <-m.enqueue:
			res := m.handleEnqueue(set, cmd.ticket)
			cmd.reply <- res

		case cmd := <-m.cancel:
			idx := set.indexOf(cmd.userID)
			if idx < 0 {
				cmd.reply <- ErrNotQueued
				continue
			}
			set.removeAt(idx)
			cmd.reply <- nil

		case <-ticker.C:
			m.sweep(set)

		case <-m.stopCh:
			return
		}
	}
}

// handleEnqueue inserts ticket and immediately tries to pair it against its
// freshly-adjacent neighbors (its own wait is ~0, so only the tightest
// window applies at this instant — the sweep loop retries with a widening
// window as the ticket ages, per spec's window schedule).
func (m *Manager) handleEnqueue(set *orderedSet, ticket Ticket) enqueueResult {
	if set.indexOf(ticket.UserID) >= 0 {
		return enqueueResult{err: ErrAlreadyQueued}
	}

	idx := set.insert(ticket)
	if matchID, ok := m.tryPairAt(set, idx); ok {
		return enqueueResult{matched: true, matchID: matchID}
	}
	return enqueueResult{}
}

// sweep retries pairing for every still-queued ticket (oldest neighbors
// benefit most from a widened window) and evicts expired ones. Runs on the
// single actor goroutine, so no two sweeps ever race each other.
func (m *Manager) sweep(set *orderedSet) {
	now := time.Now()

	// Walk the set in its total order (rating ascending). After an eviction
	// or a pairing the set has shrunk, so the same index is examined again.
	i := 0
	for i < len(set.tickets) {
		t := set.tickets[i]
		if t.waited(now) > ticketTTL {
			set.removeAt(i)
			m.notifier.NotifyUser(t.UserID, MatchExpiredEvent{Reason: "ticket expired after 120s unmatched"})
			continue
		}
		if _, ok := m.tryPairAt(set, i); ok {
			continue // set shrank by two; re-examine current index
		}
		i++
	}
}

// tryPairAt checks idx's immediate predecessor and successor against idx's
// own current wait-window, preferring whichever candidate has waited
// longer on a tie, and strikes a match if one qualifies.
func (m *Manager) tryPairAt(set *orderedSet, idx int) (string, bool) {
	ticket := set.tickets[idx]
	prev, next := set.neighbors(idx)

	candidate := bestNeighbor(ticket, prev, next)
	if candidate == nil {
		return "", false
	}

	// Re-locate both indices: idx may have shifted if this is being
	// called mid-sweep, and candidate's index must be found fresh too.
	aIdx := set.indexOf(ticket.UserID)
	bIdx := set.indexOf(candidate.UserID)
	if aIdx < 0 || bIdx < 0 {
		return "", false
	}

	a, b := set.tickets[aIdx], set.tickets[bIdx]
	// Remove higher index first so the lower index stays valid.
	if aIdx < bIdx {
		set.removeAt(bIdx)
		set.removeAt(aIdx)
	} else {
		set.removeAt(aIdx)
		set.removeAt(bIdx)
	}

	matchID, err := m.createMatch(a, b)
	if err != nil {
		m.log.Error("failed to create matched match", zap.Error(err), zap.String("a", a.UserID), zap.String("b", b.UserID))
		return "", false
	}
	return matchID, true
}

// bestNeighbor picks whichever of prev/next satisfies the rating window for
// ticket's current wait, preferring the one with the oldest enqueue time
// when both qualify.
func bestNeighbor(ticket Ticket, prev, next *Ticket) *Ticket {
	wait := ticket.waited(time.Now())

	var prevOK, nextOK bool
	if prev != nil && prev.UserID != ticket.UserID {
		prevOK = withinWindow(ticket.Rating-prev.Rating, wait)
	}
	if next != nil && next.UserID != ticket.UserID {
		nextOK = withinWindow(ticket.Rating-next.Rating, wait)
	}

	switch {
	case prevOK && nextOK:
		if prev.EnqueuedAt.Before(next.EnqueuedAt) {
			return prev
		}
		return next
	case prevOK:
		return prev
	case nextOK:
		return next
	default:
		return nil
	}
}

// createMatch persists the new match, registers its room, fetches a candle
// series, starts the scheduler, and notifies both players. Per spec.md
// §4.6, both players here are known and about to join, so the match is
// joined right after it is created and goes ACTIVE at once rather than
// being left WAITING for a separate join step.
func (m *Manager) createMatch(a, b Ticket) (string, error) {
	matchID := uuid.New().String()
	symbol := m.policy.randomSymbol(m.rng)
	totalCandles := m.policy.totalCandles()

	if err := m.store.CreateMatch(&store.Match{
		ID:              matchID,
		Symbol:          symbol,
		DurationMinutes: m.policy.DurationMinutes,
		TotalCandles:    totalCandles,
		CreatorID:       a.UserID,
		StartingBalance: m.policy.StartingBalance,
	}); err != nil {
		return "", fmt.Errorf("create match: %w", err)
	}
	if err := m.store.JoinMatch(matchID, b.UserID); err != nil {
		return "", fmt.Errorf("join match: %w", err)
	}

	m.rooms.Register(matchID)
	if err := m.rooms.Activate(matchID); err != nil {
		return "", fmt.Errorf("activate room: %w", err)
	}

	series, err := m.candles.GetSeries(symbol, time.Now(), totalCandles)
	if err != nil {
		return "", fmt.Errorf("get candle series: %w", err)
	}

	m.scheduler.Start(matchID, series, m.policy.StartingBalance, a.UserID, b.UserID, a.Rating, b.Rating)

	m.notifier.NotifyUser(a.UserID, MatchFoundEvent{MatchID: matchID})
	m.notifier.NotifyUser(b.UserID, MatchFoundEvent{MatchID: matchID})

	m.log.Info("matchmaker paired players",
		zap.String("match_id", matchID),
		zap.String("a", a.UserID), zap.Int("a_rating", a.Rating),
		zap.String("b", b.UserID), zap.Int("b_rating", b.Rating),
		zap.String("symbol", symbol),
	)
	return matchID, nil
}
