package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"candleduel/internal/apierr"
	"candleduel/internal/auth"
	"candleduel/internal/broadcast"
)

// inboundEnvelope is the client-to-server frame shape for every
// `/app/game/{id}/...` destination spec.md §6 names; `destination` plays
// the role a STOMP frame's path would, kept as one JSON envelope since this
// system doesn't need STOMP's full framing to satisfy "any STOMP-equivalent
// will do".
type inboundEnvelope struct {
	Destination string          `json:"destination"`
	Payload     json.RawMessage `json:"payload"`
}

type tradePayload struct {
	Symbol   string `json:"symbol"`
	Type     string `json:"type"`
	Quantity int64  `json:"quantity"`
}

type errorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleWebSocket upgrades the connection and binds it to exactly one
// subscription: either a match room (`matchId` query param, requiring
// roster membership) or the per-user lobby channel used for matchmaking
// notifications (no `matchId`, requiring only a valid token). A real
// STOMP broker lets one socket multiplex many subscriptions; this system
// only ever needs one per connection, so the simplification costs nothing
// spec.md §6 asks for.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if hdr, ok := auth.FromHeader(r.Header.Get("Authorization")); ok {
			token = hdr
		}
	}
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	claims, err := s.verifier.ConsumeUpgradeNonce(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	matchID := r.URL.Query().Get("matchId")
	if matchID != "" {
		m, err := s.store.GetMatch(matchID)
		if err != nil || m == nil {
			http.Error(w, "match not found", http.StatusNotFound)
			return
		}
		if claims.UserID != m.CreatorID && claims.UserID != opponentIDOf(m) {
			http.Error(w, "not a participant in this match", http.StatusForbidden)
			return
		}
	} else {
		matchID = broadcast.LobbyChannel
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sessionID := uuid.New().String()
	client := broadcast.NewClient(s.hub, conn, matchID, claims.UserID)
	s.hub.Register(client)

	if matchID != broadcast.LobbyChannel {
		if err := s.disconnect.HandleReconnect(matchID, claims.UserID, sessionID); err != nil {
			s.log.Warn("room join on connect failed", zap.String("match_id", matchID), zap.Error(err))
		}
	}

	go client.WritePump()
	client.ReadPump(func(c *broadcast.Client, data []byte) {
		s.dispatchInbound(c, matchID, claims.UserID, data)
	})

	if matchID != broadcast.LobbyChannel {
		s.disconnect.HandleDisconnect(sessionID)
	}
}

// dispatchInbound runs one inbound frame's destination-specific handler.
// The trade destination calls the exact same executeTrade core the REST
// `/match/trade` route uses, so the two transports can never diverge.
func (s *Server) dispatchInbound(c *broadcast.Client, matchID, userID string, data []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.sendUserError(matchID, userID, "MALFORMED_FRAME", "could not parse message envelope")
		return
	}

	switch env.Destination {
	case "trade":
		var p tradePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.sendUserError(matchID, userID, "MALFORMED_FRAME", "could not parse trade payload")
			return
		}
		outcome, err := s.executeTrade(matchID, userID, p.Symbol, p.Type, p.Quantity)
		if err != nil {
			s.sendAPIError(matchID, userID, err)
			return
		}
		s.hub.SendToUser(matchID, userID, s.encodeEvent("trade-ack", tradeResponse{
			Price: outcome.Price, Quantity: outcome.Quantity, RealizedPnL: outcome.RealizedPnL,
			Position: toPositionView(outcome.After),
		}))

	case "ready":
		if _, err := s.rooms.MarkReady(matchID, userID); err != nil {
			s.sendAPIError(matchID, userID, err)
		}

	case "rejoin":
		// Reconnection itself already ran at connect time (HandleReconnect
		// rebinds the session and cancels any pending grace window); this
		// destination is a client-initiated resync request.
		if p, ok := s.positions.Get(matchID, userID); ok {
			s.hub.SendToUser(matchID, userID, s.encodeEvent("position", toPositionView(p)))
		}

	case "position":
		if p, ok := s.positions.Get(matchID, userID); ok {
			s.hub.SendToUser(matchID, userID, s.encodeEvent("position", toPositionView(p)))
		}

	default:
		s.sendUserError(matchID, userID, "UNKNOWN_DESTINATION", "no such destination: "+env.Destination)
	}
}

func (s *Server) encodeEvent(kind string, payload any) []byte {
	data, err := json.Marshal(struct {
		Type    string `json:"type"`
		Payload any    `json:"payload"`
	}{Type: kind, Payload: payload})
	if err != nil {
		return []byte(`{"type":"error","payload":{"code":"ENCODE_FAILED"}}`)
	}
	return data
}

func (s *Server) sendUserError(matchID, userID, code, message string) {
	s.hub.SendToUser(matchID, userID, s.encodeEvent("error", errorEvent{Code: code, Message: message}))
}

func (s *Server) sendAPIError(matchID, userID string, err error) {
	classified := apierr.Classify(err)
	s.sendUserError(matchID, userID, string(classified.Kind), classified.Message)
}
