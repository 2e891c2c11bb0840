package api

import "net/http"

type healthResponse struct {
	Status      string `json:"status"`
	Backend     string `json:"backend"`
	Experiments int    `json:"experiments"`
}

// handleHealthz reports liveness only; it does not call the backend.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Backend:     s.active,
		Experiments: s.engine.Registry().Len(),
	})
}
