package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"candleduel/internal/candle"
	"candleduel/internal/scheduler"
)

// CandleEvent and FinishedEvent are the two wire payloads the Match
// Scheduler publishes every tick and at end-of-match (spec.md §4.2/§4.5).
type CandleEvent struct {
	MatchID   string        `json:"match_id"`
	Index     int           `json:"index"`
	Candle    candle.Candle `json:"candle"`
	Remaining int           `json:"remaining"`
}

type PlayerOutcome struct {
	UserID         string  `json:"user_id"`
	FinalEquity    int64   `json:"final_equity"`
	CompositeScore float64 `json:"composite_score"`
	RatingDelta    int     `json:"rating_delta"`
}

type FinishedEvent struct {
	MatchID  string          `json:"match_id"`
	WinnerID string          `json:"winner_id,omitempty"`
	Players  []PlayerOutcome `json:"players"`
}

// TradeEvent is published on `/match/{id}/trade` whenever either player's
// order executes — visible to both players (spec.md §4.4).
type TradeEvent struct {
	MatchID     string `json:"match_id"`
	UserID      string `json:"user_id"`
	Side        string `json:"side"`
	Quantity    int64  `json:"quantity"`
	Price       int64  `json:"price"`
	RealizedPnL int64  `json:"realized_pnl"`
	CandleIndex int    `json:"candle_index"`
}

// StateEvent is published on `/match/{id}/state` after a trade applies —
// the full post-trade position snapshot for both players.
type StateEvent struct {
	MatchID   string                  `json:"match_id"`
	Positions map[string]PositionView `json:"positions"`
}

type PositionView struct {
	Cash          int64 `json:"cash"`
	LongShares    int64 `json:"long_shares"`
	LongAvgPrice  int64 `json:"long_avg_price"`
	ShortShares   int64 `json:"short_shares"`
	ShortAvgPrice int64 `json:"short_avg_price"`
}

// StartedEvent is published on `/match/{id}/started` once both players are
// present and the scheduler begins ticking.
type StartedEvent struct {
	MatchID    string `json:"match_id"`
	CreatorID  string `json:"creator_id"`
	OpponentID string `json:"opponent_id"`
	Symbol     string `json:"symbol"`
}

// disconnectEvent backs all three Disconnect Supervisor notifications
// (player-disconnected, player-reconnected, match-abandoned); Kind
// distinguishes them on the wire since they share one channel.
type disconnectEvent struct {
	Kind    string `json:"kind"`
	MatchID string `json:"match_id"`
	UserID  string `json:"user_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Broadcaster is the Broadcast Fabric: every event is applied to the local
// Hub immediately and relayed to every other instance over Redis so a
// player attached to a different instance than the match's scheduler still
// receives it (spec.md §4.4's "reliable fan-out ... across any number of
// server instances"). Composes the teacher's `api.Hub` (local fan-out) with
// RohanRaikwar-algo-sys-v1's `gateway.Broadcaster`/`CircuitBreaker` style
// (envelope + sequence numbers + breaker-guarded relay).
type Broadcaster struct {
	hub   *Hub
	relay *relay
	log   *zap.Logger
}

var _ scheduler.Publisher = (*Broadcaster)(nil)

// NewBroadcaster wires a local Hub to a Redis-backed relay. key is the
// shared HMAC signing key for envelope integrity (spec.md §4.4);
// instanceID identifies this process to the dedup logic.
func NewBroadcaster(hub *Hub, rdb *redis.Client, key []byte, instanceID string, log *zap.Logger) *Broadcaster {
	breaker := newRelayBreaker(5, 10*time.Second, log)
	ps := newRedisPubSub(rdb, log)
	return &Broadcaster{
		hub:   hub,
		relay: newRelay(ps, breaker, hub, key, instanceID, log),
		log:   log,
	}
}

// SubscribeMatch starts relaying cross-instance events for matchID into
// the local Hub. Call once per match this instance has any locally
// connected clients for (including the owning scheduler's instance, so its
// own relayed publishes from a different match's scheduler still reach
// locally-connected clients for this one).
func (b *Broadcaster) SubscribeMatch(ctx context.Context, matchID string) error {
	return b.relay.SubscribeAndApply(ctx, matchID)
}

func channelFor(matchID string) string {
	return fmt.Sprintf("candleduel:match:%s", matchID)
}

// LobbyChannel is a pseudo-match the Hub uses to target matchmaking
// notifications at a specific user before that user has joined any real
// match's room — spec.md's `/user/{userId}/match-found` and
// `/user/{userId}/match-expired` notifications are user-scoped, not
// match-scoped, so they ride the Hub's existing (matchID, userID) targeting
// with a fixed matchID rather than a new delivery mechanism. Exported so
// internal/api can open a websocket client against the same pseudo-match
// before it knows any real one.
const LobbyChannel = "lobby"

// NotifyUser delivers a matchmaking event to userID's lobby-subscribed
// socket, if connected. Satisfies matchmaker.Notifier.
func (b *Broadcaster) NotifyUser(userID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b.hub.SendToUser(LobbyChannel, userID, data)
	return nil
}

func (b *Broadcaster) publish(ctx context.Context, matchID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	channel := channelFor(matchID)
	b.hub.BroadcastToMatch(matchID, data)

	if err := b.relay.Publish(ctx, channel, data); err != nil {
		if err == ErrRelayOpen {
			b.log.Warn("relay circuit open; delivered locally only", zap.String("match_id", matchID))
			return nil
		}
		return err
	}
	return nil
}

// PublishCandle satisfies scheduler.Publisher.
func (b *Broadcaster) PublishCandle(matchID string, index int, c candle.Candle, remaining int) error {
	return b.publish(context.Background(), matchID, CandleEvent{MatchID: matchID, Index: index, Candle: c, Remaining: remaining})
}

// PublishFinished satisfies scheduler.Publisher.
func (b *Broadcaster) PublishFinished(matchID string, result scheduler.FinishResult) error {
	event := FinishedEvent{MatchID: result.MatchID, WinnerID: result.WinnerID}
	for _, p := range result.Players {
		event.Players = append(event.Players, PlayerOutcome{
			UserID:         p.UserID,
			FinalEquity:    p.FinalEquity,
			CompositeScore: p.CompositeScore,
			RatingDelta:    p.RatingDelta,
		})
	}
	return b.publish(context.Background(), matchID, event)
}

// PublishTrade announces an executed trade to both players of matchID.
func (b *Broadcaster) PublishTrade(matchID string, event TradeEvent) error {
	return b.publish(context.Background(), matchID, event)
}

// PublishState announces the post-trade position snapshot for both players.
func (b *Broadcaster) PublishState(matchID string, event StateEvent) error {
	return b.publish(context.Background(), matchID, event)
}

// PublishStarted announces that a match's roster is complete and its
// scheduler has begun ticking.
func (b *Broadcaster) PublishStarted(matchID string, event StartedEvent) error {
	return b.publish(context.Background(), matchID, event)
}

// PlayerDisconnected, PlayerReconnected and MatchAbandoned satisfy
// disconnect.Events, riding the same per-match channel as every other
// event rather than a dedicated one.
func (b *Broadcaster) PlayerDisconnected(matchID, userID string) error {
	return b.publish(context.Background(), matchID, disconnectEvent{Kind: "player-disconnected", MatchID: matchID, UserID: userID})
}

func (b *Broadcaster) PlayerReconnected(matchID, userID string) error {
	return b.publish(context.Background(), matchID, disconnectEvent{Kind: "player-reconnected", MatchID: matchID, UserID: userID})
}

func (b *Broadcaster) MatchAbandoned(matchID, reason string) error {
	return b.publish(context.Background(), matchID, disconnectEvent{Kind: "match-abandoned", MatchID: matchID, Reason: reason})
}

// SendRejection delivers a trade-rejection notice to only the submitting
// player's socket, bypassing the relay entirely — it's not an event other
// players or instances need to see.
func (b *Broadcaster) SendRejection(matchID, userID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b.hub.SendToUser(matchID, userID, data)
	return nil
}
