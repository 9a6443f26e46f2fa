package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"candleduel/internal/apierr"
	"candleduel/internal/broadcast"
	"candleduel/internal/exec"
	"candleduel/internal/position"
	"candleduel/internal/room"
	"candleduel/internal/store"
)

type tradeRequest struct {
	GameID   string `json:"gameId"`
	Symbol   string `json:"symbol"`
	Type     string `json:"type"`
	Quantity int64  `json:"quantity"`
}

type tradeResponse struct {
	Price       int64                  `json:"price"`
	Quantity    int64                  `json:"quantity"`
	RealizedPnL int64                  `json:"realizedPnl"`
	Position    broadcast.PositionView `json:"position"`
}

// handleTrade is the Trade Executor's one entry point from the REST
// surface. The websocket `/app/game/{id}/trade` destination (ws.go) runs
// the identical executeTrade core so the two transports can never diverge
// on validation or pricing.
func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.Write(w, r, apierr.Validation("malformed request body"))
		return
	}

	outcome, err := s.executeTrade(req.GameID, claims.UserID, req.Symbol, req.Type, req.Quantity)
	if err != nil {
		apierr.Write(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tradeResponse{
		Price:       outcome.Price,
		Quantity:    outcome.Quantity,
		RealizedPnL: outcome.RealizedPnL,
		Position:    toPositionView(outcome.After),
	})
}

type tradeOutcome struct {
	Price       int64
	Quantity    int64
	RealizedPnL int64
	After       position.Position
}

// executeTrade validates the order against the match's current state,
// resolves the server-authoritative price from the current candle close —
// never from the caller — and applies it under the position's
// single-writer lock. Any price carried on the wire request is ignored, per
// spec.md §4.3/§8 scenario S2.
func (s *Server) executeTrade(matchID, userID, symbol, sideStr string, quantity int64) (tradeOutcome, error) {
	side, err := exec.ParseSide(sideStr)
	if err != nil {
		return tradeOutcome{}, apierr.Validation("invalid order", apierr.FieldError{Field: "type", Message: "must be one of BUY, SELL, SHORT, COVER"})
	}
	if quantity <= 0 {
		return tradeOutcome{}, apierr.Validation("invalid order", apierr.FieldError{Field: "quantity", Message: "must be a positive integer"})
	}

	m, err := s.store.GetMatch(matchID)
	if err != nil {
		return tradeOutcome{}, err
	}
	if m == nil {
		return tradeOutcome{}, room.ErrMatchNotFound
	}
	if m.Status != store.MatchStatusActive {
		return tradeOutcome{}, room.ErrInvalidState
	}
	if userID != m.CreatorID && userID != opponentIDOf(m) {
		return tradeOutcome{}, apierr.New(apierr.KindForbidden, "not a participant in this match")
	}
	if symbol != m.Symbol {
		return tradeOutcome{}, apierr.Validation("invalid order", apierr.FieldError{Field: "symbol", Message: "does not match this match's instrument"})
	}

	price, ok := s.scheduler.CurrentPrice(matchID)
	if !ok {
		return tradeOutcome{}, apierr.New(apierr.KindInvalidState, "match is not active on this instance")
	}

	result, err := exec.ApplyToStore(s.positions, matchID, userID, side, quantity, price)
	if err != nil {
		if rejErr, ok := err.(*exec.Error); ok {
			s.metrics.TradesRejectedTotal.WithLabelValues(rejErr.Code).Inc()
			if notifyErr := s.broadcaster.SendRejection(matchID, userID, map[string]string{
				"code": rejErr.Code, "message": rejErr.Error(),
			}); notifyErr != nil {
				s.log.Warn("rejection notice failed", zap.Error(notifyErr))
			}
		}
		return tradeOutcome{}, err
	}
	s.metrics.TradesTotal.WithLabelValues(string(side)).Inc()

	trade := &store.Trade{
		ID:          uuid.New().String(),
		MatchID:     matchID,
		UserID:      userID,
		Symbol:      symbol,
		Side:        string(side),
		Quantity:    quantity,
		Price:       price,
		CandleIndex: m.CandleIndex,
	}
	if err := s.store.RecordTrade(trade); err != nil {
		return tradeOutcome{}, err
	}

	s.scheduler.RecordTrade(matchID, userID, result.RealizedPnL > 0)

	if err := s.broadcaster.PublishTrade(matchID, broadcast.TradeEvent{
		MatchID: matchID, UserID: userID, Side: string(side),
		Quantity: quantity, Price: price, RealizedPnL: result.RealizedPnL, CandleIndex: m.CandleIndex,
	}); err != nil {
		s.log.Warn("trade broadcast failed", zap.Error(err))
	}
	s.publishState(matchID, m.CreatorID, opponentIDOf(m))

	return tradeOutcome{Price: price, Quantity: quantity, RealizedPnL: result.RealizedPnL, After: result.After}, nil
}

func (s *Server) publishState(matchID, creatorID, opponentID string) {
	positions := make(map[string]broadcast.PositionView, 2)
	if p, ok := s.positions.Get(matchID, creatorID); ok {
		positions[creatorID] = toPositionView(p)
	}
	if opponentID != "" {
		if p, ok := s.positions.Get(matchID, opponentID); ok {
			positions[opponentID] = toPositionView(p)
		}
	}
	if err := s.broadcaster.PublishState(matchID, broadcast.StateEvent{MatchID: matchID, Positions: positions}); err != nil {
		s.log.Warn("state broadcast failed", zap.Error(err))
	}
}
