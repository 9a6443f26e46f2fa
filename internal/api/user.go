package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"candleduel/internal/apierr"
)

type userRatingView struct {
	ID            string `json:"id"`
	DisplayName   string `json:"displayName"`
	Rating        int    `json:"rating"`
	MatchesPlayed int    `json:"matchesPlayed"`
	MatchesWon    int    `json:"matchesWon"`
}

// handleUserRating is spec.md §6's `GET /user/{id}/rating`, public (no
// bearer token required) since a rating is not sensitive and other
// participants need to read an opponent's rating before a match starts.
func (s *Server) handleUserRating(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	user, err := s.store.GetUserByID(id)
	if err != nil {
		apierr.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userRatingView{
		ID:            user.ID,
		DisplayName:   user.DisplayName,
		Rating:        user.Rating,
		MatchesPlayed: user.MatchesPlayed,
		MatchesWon:    user.MatchesWon,
	})
}
