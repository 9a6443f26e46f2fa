// Package disconnect translates socket-level connect/disconnect events into
// match-level abandonment decisions: a dropped connection starts a
// reconnection grace window rather than immediately ending the match, and a
// match still WAITING for an opponent is abandoned outright if its creator
// leaves.
//
// Grounded in the teacher's internal/api/hub.go: pruneStaleClients runs a
// periodic sweep over a map of last-seen timestamps rather than spawning a
// timer per connection, and this supervisor uses the same idiom for grace
// windows (the teacher detects transport-level staleness; this applies the
// same sweep shape one layer up, at the match-abandonment decision).
// Composed with internal/room's UnregisterSession/Snapshot/Finish, which
// carry the roster half of the decision.
package disconnect

import (
	"time"

	"go.uber.org/zap"

	"candleduel/internal/room"
	"candleduel/internal/store"
)

// DefaultGrace is the reconnection window spec.md §4.7 defaults to.
const DefaultGrace = 15 * time.Second

const sweepInterval = time.Second

// Rooms is the roster slice this package needs from *room.Manager.
type Rooms interface {
	Snapshot(matchID string) (room.Snapshot, error)
	Finish(matchID string, abandoned bool) error
	UnregisterSession(sessionID string) (matchID, userID string, found bool)
	JoinRoom(matchID, userID, sessionID string) error
}

// MatchStore is the persistence slice this package needs from *store.Store.
type MatchStore interface {
	GetMatch(id string) (*store.Match, error)
	AbandonMatch(matchID string) error
}

// SchedulerStopper cancels a match's candle ticking on abandonment.
type SchedulerStopper interface {
	Stop(matchID string)
}

// Events delivers the three lifecycle notifications spec.md §4.7 names.
// Implemented by internal/broadcast.Broadcaster.
type Events interface {
	PlayerDisconnected(matchID, userID string) error
	PlayerReconnected(matchID, userID string) error
	MatchAbandoned(matchID, reason string) error
}

type pendingGrace struct {
	matchID string
	userID  string
	since   time.Time
}

type disconnectCmd struct {
	sessionID string
}

type reconnectCmd struct {
	matchID   string
	userID    string
	sessionID string
	reply     chan error
}

// Supervisor owns the grace-window table as a single actor goroutine, the
// same single-writer discipline used throughout this codebase (room,
// scheduler, matchmaker) so a reconnect racing a grace-expiry sweep can
// never double-abandon or double-reconnect a match.
type Supervisor struct {
	log       *zap.Logger
	rooms     Rooms
	store     MatchStore
	scheduler SchedulerStopper
	events    Events
	grace     time.Duration

	disconnect chan disconnectCmd
	reconnect  chan reconnectCmd
	stopCh     chan struct{}
}

func NewSupervisor(log *zap.Logger, rooms Rooms, st MatchStore, scheduler SchedulerStopper, events Events, grace time.Duration) *Supervisor {
	if grace <= 0 {
		grace = DefaultGrace
	}
	s := &Supervisor{
		log:        log,
		rooms:      rooms,
		store:      st,
		scheduler:  scheduler,
		events:     events,
		grace:      grace,
		disconnect: make(chan disconnectCmd),
		reconnect:  make(chan reconnectCmd),
		stopCh:     make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Supervisor) Stop() {
	close(s.stopCh)
}

// HandleDisconnect is called when a websocket session ends (read pump
// error, close frame, or stale-ping eviction). Fire-and-forget: the caller
// doesn't need to wait for the abandonment decision.
func (s *Supervisor) HandleDisconnect(sessionID string) {
	s.disconnect <- disconnectCmd{sessionID: sessionID}
}

// HandleReconnect rebinds a new session to (matchID, userID) and, if a
// grace window was pending for that pair, cancels it and publishes
// player-reconnected. Returns whatever error rooms.JoinRoom returns (e.g.
// ErrInvalidState if the match has already been finished or abandoned).
func (s *Supervisor) HandleReconnect(matchID, userID, sessionID string) error {
	reply := make(chan error, 1)
	s.reconnect <- reconnectCmd{matchID: matchID, userID: userID, sessionID: sessionID, reply: reply}
	return <-reply
}

func graceKey(matchID, userID string) string {
	return matchID + "\x00" + userID
}

func (s *Supervisor) run() {
	pending := make(map[string]pendingGrace)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case cmd := <-s.disconnect:
			s.handleDisconnect(pending, cmd.sessionID)

		case cmd := <-s.reconnect:
			cmd.reply <- s.handleReconnect(pending, cmd.matchID, cmd.userID, cmd.sessionID)

		case <-ticker.C:
			s.sweepExpired(pending)

		case <-s.stopCh:
			return
		}
	}
}

func (s *Supervisor) handleDisconnect(pending map[string]pendingGrace, sessionID string) {
	matchID, userID, found := s.rooms.UnregisterSession(sessionID)
	if !found {
		return
	}

	snap, err := s.rooms.Snapshot(matchID)
	if err != nil {
		return // match already gone (finished/abandoned elsewhere)
	}

	switch snap.Status {
	case room.StatusWaiting:
		m, err := s.store.GetMatch(matchID)
		if err == nil && m != nil && m.CreatorID == userID {
			s.abandon(matchID, userID, "creator left before an opponent joined")
		}

	case room.StatusActive:
		s.events.PlayerDisconnected(matchID, userID)
		pending[graceKey(matchID, userID)] = pendingGrace{matchID: matchID, userID: userID, since: time.Now()}

	default:
		// Already finished or abandoned; nothing to reconcile.
	}
}

func (s *Supervisor) handleReconnect(pending map[string]pendingGrace, matchID, userID, sessionID string) error {
	key := graceKey(matchID, userID)
	if _, ok := pending[key]; ok {
		delete(pending, key)
		s.events.PlayerReconnected(matchID, userID)
	}
	return s.rooms.JoinRoom(matchID, userID, sessionID)
}

func (s *Supervisor) sweepExpired(pending map[string]pendingGrace) {
	now := time.Now()
	for key, p := range pending {
		if now.Sub(p.since) >= s.grace {
			delete(pending, key)
			s.abandon(p.matchID, p.userID, "disconnect grace window expired")
		}
	}
}

func (s *Supervisor) abandon(matchID, userID, reason string) {
	if err := s.store.AbandonMatch(matchID); err != nil {
		s.log.Error("failed to mark match abandoned", zap.String("match_id", matchID), zap.Error(err))
	}
	if err := s.rooms.Finish(matchID, true); err != nil {
		s.log.Error("failed to finish room after abandonment", zap.String("match_id", matchID), zap.Error(err))
	}
	s.scheduler.Stop(matchID)
	s.events.MatchAbandoned(matchID, reason)
	s.log.Info("match abandoned", zap.String("match_id", matchID), zap.String("user_id", userID), zap.String("reason", reason))
}
