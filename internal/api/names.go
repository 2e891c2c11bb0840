package api

import (
	"net/http"

	"github.com/seantiz/factory-scheduler/internal/naming"
)

type randomNameResponse struct {
	Name string `json:"name"`
}

// handleRandomName suggests an experiment name that is not currently
// registered. After a few collisions it returns the last candidate anyway;
// creation still rejects duplicates.
func (s *Server) handleRandomName(w http.ResponseWriter, _ *http.Request) {
	name := naming.RandomName()
	for range 8 {
		if !s.engine.Registry().Has(name) {
			break
		}
		name = naming.RandomName()
	}
	s.writeJSON(w, http.StatusOK, randomNameResponse{Name: name})
}
