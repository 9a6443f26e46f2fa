package api

import (
	"net/http"

	"candleduel/internal/apierr"
	"candleduel/internal/matchmaker"
)

type queueResponse struct {
	Status string `json:"status"`
	GameID string `json:"gameId,omitempty"`
}

// handleQueueEnter is spec.md §6's `POST /matchmaking/queue`: enters the
// ranked queue at the caller's current rating, returning MATCHED{gameId}
// when Enqueue strikes an immediate pairing, or QUEUED otherwise.
func (s *Server) handleQueueEnter(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)

	user, err := s.store.EnsureUser(claims.UserID, claims.DisplayName)
	if err != nil {
		apierr.Write(w, r, err)
		return
	}

	matched, matchID, err := s.matchmaker.Enqueue(claims.UserID, claims.DisplayName, user.Rating)
	if err != nil {
		apierr.Write(w, r, err)
		return
	}
	if matched {
		s.metrics.MatchmakingPairsTotal.Inc()
		s.metrics.ActiveMatches.Set(float64(s.scheduler.ActiveCount()))
		writeJSON(w, http.StatusOK, queueResponse{Status: "MATCHED", GameID: matchID})
		return
	}
	writeJSON(w, http.StatusOK, queueResponse{Status: "QUEUED"})
}

// handleQueueLeave is idempotent: leaving a queue the caller was never in
// is not an error, mirroring the "unregisterSession applied twice has no
// additional effect" idempotence spec.md §8 asks for elsewhere.
func (s *Server) handleQueueLeave(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	if err := s.matchmaker.Cancel(claims.UserID); err != nil && err != matchmaker.ErrNotQueued {
		apierr.Write(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
