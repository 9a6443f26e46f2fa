package api

import "net/http"

type healthView struct {
	Status        string `json:"status"`
	ActiveMatches int    `json:"activeMatches"`
	ConnectedWS   int    `json:"connectedWebsockets"`
	InstanceID    string `json:"instanceId"`
}

// handleHealth is an unauthenticated liveness probe: it never touches the
// database, only this instance's in-memory counters, so a load balancer
// can poll it without contending with real traffic.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthView{
		Status:        "ok",
		ActiveMatches: s.scheduler.ActiveCount(),
		ConnectedWS:   s.hub.ClientCount(),
		InstanceID:    s.cfg.Server.InstanceID,
	})
}
