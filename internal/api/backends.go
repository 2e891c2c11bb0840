package api

import (
	"net/http"

	"github.com/seantiz/factory-scheduler/internal/backend"
)

type backendsResponse struct {
	Active   string         `json:"active"`
	Backends []backend.Info `json:"backends"`
}

func (s *Server) handleListBackends(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, backendsResponse{
		Active:   s.active,
		Backends: s.registry.List(),
	})
}
