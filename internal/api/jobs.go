package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type listJobsResponse struct {
	Jobs []string `json:"jobs"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	ids, err := s.engine.ListJobs(r.Context())
	if err != nil {
		s.writeEngineError(w, "list jobs", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	s.writeJSON(w, http.StatusOK, listJobsResponse{Jobs: ids})
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.engine.DeleteJob(r.Context(), id); err != nil {
		s.writeEngineError(w, "delete job", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
