// Package room owns the per-match in-memory roster: who is connected, who
// is ready, and which socket session maps to which user. Every match's
// roster is driven by one dispatcher goroutine serving a command channel —
// so each room has a single writer — rather than the teacher's `sync.RWMutex`-guarded
// `Match` struct, per the redesign direction spec.md §9 calls for. The
// goroutine+channel shape itself is the teacher's own idiom
// (`Match.priceTickLoop`'s ticker+select+stop-channel loop), just driven by
// commands instead of a ticker.
package room

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

var (
	ErrRoomFull      = errors.New("room is full")
	ErrMatchNotFound = errors.New("match not found")
	ErrInvalidState  = errors.New("match is not joinable in its current state")
)

// Status mirrors the match lifecycle relevant to a room (spec.md §3's Match
// status, restricted to what the roster itself needs to reason about).
type Status int

const (
	StatusWaiting Status = iota
	StatusActive
	StatusFinished
	StatusAbandoned
)

// snapshot is an immutable view of a room's state, returned to callers so
// they never hold a reference into the actor's internal map.
type Snapshot struct {
	MatchID      string
	Status       Status
	Connected    []string
	Ready        map[string]bool
	LastActivity time.Time
}

// Manager owns one dispatcher goroutine that holds every registered room and
// applies each command to the room named by its match id; rooms have no
// goroutines of their own.
type Manager struct {
	log *zap.Logger

	register   chan registerCmd
	dispatch   chan dispatchCmd
	unregister chan unregisterSessionCmd
}

type registerCmd struct {
	matchID string
	reply   chan struct{}
}

type dispatchCmd struct {
	matchID string
	op      func(*room) (any, error)
	reply   chan opResult
}

type opResult struct {
	val any
	err error
}

type unregisterSessionCmd struct {
	sessionID string
	reply     chan unregisterResult
}

type unregisterResult struct {
	matchID string
	userID  string
	found   bool
}

// room is the private state for one match; only the dispatcher goroutine
// ever touches it.
type room struct {
	matchID      string
	status       Status
	connected    map[string]struct{} // userID set, max 2
	ready        map[string]bool
	sessions     map[string]string // sessionID -> userID
	lastActivity time.Time
}

// NewManager starts the dispatcher goroutine that owns every room, creating
// each room's state lazily on first Register.
func NewManager(log *zap.Logger) *Manager {
	m := &Manager{
		log:        log,
		register:   make(chan registerCmd),
		dispatch:   make(chan dispatchCmd),
		unregister: make(chan unregisterSessionCmd),
	}
	go m.run()
	return m
}

func (m *Manager) run() {
	rooms := make(map[string]*room)
	sessionIndex := make(map[string]string) // sessionID -> matchID, for unregister routing

	for {
		select {
		case cmd := <-m.register:
			if _, ok := rooms[cmd.matchID]; !ok {
				rooms[cmd.matchID] = &room{
					matchID:      cmd.matchID,
					status:       StatusWaiting,
					connected:    make(map[string]struct{}),
					ready:        make(map[string]bool),
					sessions:     make(map[string]string),
					lastActivity: time.Now(),
				}
			}
			close(cmd.reply)

		case cmd := <-m.dispatch:
			r, ok := rooms[cmd.matchID]
			if !ok {
				cmd.reply <- opResult{err: ErrMatchNotFound}
				continue
			}
			val, err := cmd.op(r)
			if err == nil {
				r.lastActivity = time.Now()
			}
			// Index sessions so unregisterSession can route without a
			// linear scan over every room.
			for sid, uid := range r.sessions {
				if uid != "" {
					sessionIndex[sid] = cmd.matchID
				}
			}
			if r.status == StatusFinished || r.status == StatusAbandoned {
				for sid := range r.sessions {
					delete(sessionIndex, sid)
				}
				delete(rooms, cmd.matchID)
			}
			cmd.reply <- opResult{val: val, err: err}

		case cmd := <-m.unregister:
			matchID, ok := sessionIndex[cmd.sessionID]
			if !ok {
				cmd.reply <- unregisterResult{}
				continue
			}
			r := rooms[matchID]
			userID := r.sessions[cmd.sessionID]
			delete(r.sessions, cmd.sessionID)
			delete(sessionIndex, cmd.sessionID)
			cmd.reply <- unregisterResult{matchID: matchID, userID: userID, found: true}
		}
	}
}

// Register creates an empty WAITING room for a newly created match. A
// repeat call for the same match id is a no-op.
func (m *Manager) Register(matchID string) {
	reply := make(chan struct{})
	m.register <- registerCmd{matchID: matchID, reply: reply}
	<-reply
}

func (m *Manager) call(matchID string, op func(*room) (any, error)) (any, error) {
	reply := make(chan opResult, 1)
	m.dispatch <- dispatchCmd{matchID: matchID, op: op, reply: reply}
	res := <-reply
	return res.val, res.err
}

// JoinRoom adds userID to the room, bound to sessionID. Succeeds if the
// room has fewer than two players or the user is already one of them
// (idempotent re-join, which also rebinds the session id on reconnect).
// Fails with ErrRoomFull if two other players already hold the room, or
// ErrInvalidState if the match has already finished or been abandoned.
func (m *Manager) JoinRoom(matchID, userID, sessionID string) error {
	_, err := m.call(matchID, func(r *room) (any, error) {
		if r.status == StatusFinished || r.status == StatusAbandoned {
			return nil, ErrInvalidState
		}
		if _, already := r.connected[userID]; !already && len(r.connected) >= 2 {
			return nil, ErrRoomFull
		}
		r.connected[userID] = struct{}{}
		r.sessions[sessionID] = userID
		return nil, nil
	})
	return err
}

// MarkReady records that userID has signaled ready, idempotently, and
// reports whether both connected players have now done so at least once.
func (m *Manager) MarkReady(matchID, userID string) (bool, error) {
	val, err := m.call(matchID, func(r *room) (any, error) {
		r.ready[userID] = true
		if len(r.connected) < 2 {
			return false, nil
		}
		for uid := range r.connected {
			if !r.ready[uid] {
				return false, nil
			}
		}
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return val.(bool), nil
}

// Activate flips a room from WAITING to ACTIVE once the match scheduler
// starts ticking.
func (m *Manager) Activate(matchID string) error {
	_, err := m.call(matchID, func(r *room) (any, error) {
		r.status = StatusActive
		return nil, nil
	})
	return err
}

// Finish marks a room FINISHED (or ABANDONED); the dispatcher evicts it
// from the room table as soon as this command has been applied.
func (m *Manager) Finish(matchID string, abandoned bool) error {
	_, err := m.call(matchID, func(r *room) (any, error) {
		if abandoned {
			r.status = StatusAbandoned
		} else {
			r.status = StatusFinished
		}
		return nil, nil
	})
	return err
}

// Snapshot returns the current roster state for matchID.
func (m *Manager) Snapshot(matchID string) (Snapshot, error) {
	val, err := m.call(matchID, func(r *room) (any, error) {
		connected := make([]string, 0, len(r.connected))
		for uid := range r.connected {
			connected = append(connected, uid)
		}
		ready := make(map[string]bool, len(r.ready))
		for uid, v := range r.ready {
			ready[uid] = v
		}
		return Snapshot{
			MatchID:      r.matchID,
			Status:       r.status,
			Connected:    connected,
			Ready:        ready,
			LastActivity: r.lastActivity,
		}, nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return val.(Snapshot), nil
}

// UnregisterSession drops a socket session (on disconnect) and returns the
// (matchID, userID) pair it was bound to, if any, so the Disconnect
// Supervisor can decide whether to start an abandonment grace window.
func (m *Manager) UnregisterSession(sessionID string) (matchID, userID string, found bool) {
	reply := make(chan unregisterResult, 1)
	m.unregister <- unregisterSessionCmd{sessionID: sessionID, reply: reply}
	res := <-reply
	return res.matchID, res.userID, res.found
}
