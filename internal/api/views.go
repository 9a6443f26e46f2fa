package api

import (
	"encoding/json"
	"net/http"
	"time"

	"candleduel/internal/apierr"
	"candleduel/internal/broadcast"
	"candleduel/internal/position"
	"candleduel/internal/store"
)

const ratePerSecondWindow = time.Second

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func apiErrUnauthorized(w http.ResponseWriter, r *http.Request) {
	apierr.Write(w, r, apierr.New(apierr.KindUnauthorized, "missing or invalid bearer token"))
}

// matchView is the wire shape for a store.Match, field-named to match the
// camelCase REST contract spec.md §6 uses elsewhere.
type matchView struct {
	ID              string `json:"id"`
	Symbol          string `json:"symbol"`
	DurationMinutes int    `json:"durationMinutes"`
	TotalCandles    int    `json:"totalCandles"`
	Status          string `json:"status"`
	CreatorID       string `json:"creatorId"`
	OpponentID      string `json:"opponentId,omitempty"`
	StartingBalance int64  `json:"startingBalance"`
	CandleIndex     int    `json:"candleIndex"`
}

func toMatchView(m *store.Match) matchView {
	return matchView{
		ID:              m.ID,
		Symbol:          m.Symbol,
		DurationMinutes: m.DurationMinutes,
		TotalCandles:    m.TotalCandles,
		Status:          string(m.Status),
		CreatorID:       m.CreatorID,
		OpponentID:      opponentIDOf(m),
		StartingBalance: m.StartingBalance,
		CandleIndex:     m.CandleIndex,
	}
}

func opponentIDOf(m *store.Match) string {
	if m.OpponentID.Valid {
		return m.OpponentID.String
	}
	return ""
}

func toPositionView(p position.Position) broadcast.PositionView {
	return broadcast.PositionView{
		Cash:          p.Cash,
		LongShares:    p.LongShares,
		LongAvgPrice:  p.LongAvgPrice,
		ShortShares:   p.ShortShares,
		ShortAvgPrice: p.ShortAvgPrice,
	}
}
