package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"candleduel/internal/apierr"
	"candleduel/internal/broadcast"
	"candleduel/internal/room"
	"candleduel/internal/scheduler"
	"candleduel/internal/store"
)

const (
	minDurationMinutes = 1
	maxDurationMinutes = 60
	minStartingBalance = 10_000
	maxStartingBalance = 100_000_000
)

type createMatchRequest struct {
	StockSymbol     string `json:"stockSymbol"`
	DurationMinutes int    `json:"durationMinutes"`
	StartingBalance int64  `json:"startingBalance"`
}

func (s *Server) symbolKnown(symbol string) bool {
	if symbol == "" {
		return false
	}
	if len(s.cfg.Candles.Symbols) == 0 {
		return true
	}
	for _, sym := range s.cfg.Candles.Symbols {
		if sym == symbol {
			return true
		}
	}
	return false
}

func (s *Server) handleCreateMatch(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	var req createMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.Write(w, r, apierr.Validation("malformed request body"))
		return
	}

	var fields []apierr.FieldError
	if req.DurationMinutes < minDurationMinutes || req.DurationMinutes > maxDurationMinutes {
		fields = append(fields, apierr.FieldError{Field: "durationMinutes", Message: "must be between 1 and 60"})
	}
	if req.StartingBalance < minStartingBalance || req.StartingBalance > maxStartingBalance {
		fields = append(fields, apierr.FieldError{Field: "startingBalance", Message: "must be between 10000 and 100000000"})
	}
	if !s.symbolKnown(req.StockSymbol) {
		fields = append(fields, apierr.FieldError{Field: "stockSymbol", Message: "unknown symbol"})
	}
	if len(fields) > 0 {
		apierr.Write(w, r, apierr.Validation("invalid match parameters", fields...))
		return
	}

	totalCandles := req.DurationMinutes * 60 / int(scheduler.TickPeriod.Seconds())
	series, err := s.candles.GetRandomSeries(req.StockSymbol, totalCandles)
	if err != nil {
		s.log.Error("candle series lookup failed", zap.Error(err))
		apierr.Write(w, r, err)
		return
	}

	matchID := uuid.New().String()
	if err := s.store.CreateMatch(&store.Match{
		ID:              matchID,
		Symbol:          req.StockSymbol,
		DurationMinutes: req.DurationMinutes,
		TotalCandles:    totalCandles,
		CreatorID:       claims.UserID,
		StartingBalance: req.StartingBalance,
	}); err != nil {
		apierr.Write(w, r, err)
		return
	}
	s.rooms.Register(matchID)

	s.mu.Lock()
	s.pendingSeries[matchID] = series
	s.mu.Unlock()

	created, err := s.store.GetMatch(matchID)
	if err != nil || created == nil {
		apierr.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMatchView(created))
}

func (s *Server) handleListOpen(w http.ResponseWriter, r *http.Request) {
	matches, err := s.store.ListOpenMatches()
	if err != nil {
		apierr.Write(w, r, err)
		return
	}
	views := make([]matchView, 0, len(matches))
	for i := range matches {
		views = append(views, toMatchView(&matches[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

// handleJoinMatch completes a custom match's roster: the second player's
// join is what flips the match ACTIVE and starts its scheduler, since §4.2
// says RUNNING begins "when both players have joined". The candle series
// chosen at creation only lives in this instance's memory (see
// scheduler.Manager.CurrentPrice's doc comment for the same limitation), so
// a custom match can only be joined on the instance that created it.
func (s *Server) handleJoinMatch(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	matchID := chi.URLParam(r, "id")

	m, err := s.store.GetMatch(matchID)
	if err != nil {
		apierr.Write(w, r, err)
		return
	}
	if m == nil {
		apierr.Write(w, r, room.ErrMatchNotFound)
		return
	}
	if m.CreatorID == claims.UserID {
		apierr.Write(w, r, apierr.New(apierr.KindInvalidState, "cannot join your own match"))
		return
	}

	if err := s.store.JoinMatch(matchID, claims.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			apierr.Write(w, r, room.ErrRoomFull)
			return
		}
		apierr.Write(w, r, err)
		return
	}

	s.mu.Lock()
	series := s.pendingSeries[matchID]
	delete(s.pendingSeries, matchID)
	s.mu.Unlock()
	if series == nil {
		apierr.Write(w, r, apierr.New(apierr.KindInternal, "match series unavailable on this instance"))
		return
	}

	creator, err := s.store.GetUserByID(m.CreatorID)
	if err != nil {
		apierr.Write(w, r, err)
		return
	}
	opponent, err := s.store.EnsureUser(claims.UserID, claims.DisplayName)
	if err != nil {
		apierr.Write(w, r, err)
		return
	}

	if err := s.rooms.Activate(matchID); err != nil {
		s.log.Error("activate room failed", zap.Error(err))
	}
	s.scheduler.Start(matchID, series, m.StartingBalance, m.CreatorID, claims.UserID, creator.Rating, opponent.Rating)
	s.metrics.ActiveMatches.Set(float64(s.scheduler.ActiveCount()))
	if err := s.broadcaster.PublishStarted(matchID, broadcast.StartedEvent{
		MatchID: matchID, CreatorID: m.CreatorID, OpponentID: claims.UserID, Symbol: m.Symbol,
	}); err != nil {
		s.log.Warn("started-event broadcast failed", zap.Error(err))
	}

	updated, err := s.store.GetMatch(matchID)
	if err != nil || updated == nil {
		apierr.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMatchView(updated))
}

func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "id")
	m, err := s.store.GetMatch(matchID)
	if err != nil {
		apierr.Write(w, r, err)
		return
	}
	if m == nil {
		apierr.Write(w, r, room.ErrMatchNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toMatchView(m))
}

type candleView struct {
	Index     int           `json:"index"`
	Candle    candleWire    `json:"candle"`
	Remaining int           `json:"remaining"`
}

type candleWire struct {
	Open   int64 `json:"open"`
	High   int64 `json:"high"`
	Low    int64 `json:"low"`
	Close  int64 `json:"close"`
	Volume int64 `json:"volume"`
}

func (s *Server) handleCurrentCandle(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "id")
	c, index, ok := s.scheduler.CurrentCandle(matchID)
	if !ok {
		apierr.Write(w, r, apierr.New(apierr.KindInvalidState, "match is not active on this instance"))
		return
	}

	m, err := s.store.GetMatch(matchID)
	if err != nil || m == nil {
		apierr.Write(w, r, room.ErrMatchNotFound)
		return
	}

	writeJSON(w, http.StatusOK, candleView{
		Index:     index,
		Candle:    candleWire{Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume},
		Remaining: m.TotalCandles - 1 - index,
	})
}

func (s *Server) handleRemainingCandles(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "id")
	m, err := s.store.GetMatch(matchID)
	if err != nil {
		apierr.Write(w, r, err)
		return
	}
	if m == nil {
		apierr.Write(w, r, room.ErrMatchNotFound)
		return
	}
	remaining := m.TotalCandles - 1 - m.CandleIndex
	if remaining < 0 {
		remaining = 0
	}
	writeJSON(w, http.StatusOK, map[string]int{"remaining": remaining})
}
