package api

import (
	"net/http"

	"github.com/seantiz/factory-scheduler/internal/store"
)

type listSubmissionsResponse struct {
	Submissions []store.Submission `json:"submissions"`
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	switch state {
	case "", store.SubmissionSubmitted, store.SubmissionOrphaned, store.SubmissionRolledBack, store.SubmissionDeleted:
	default:
		s.writeError(w, http.StatusBadRequest, "unknown submission state "+state)
		return
	}

	subs, err := s.engine.Submissions(r.Context(), state)
	if err != nil {
		s.writeEngineError(w, "list submissions", err)
		return
	}
	if subs == nil {
		subs = []store.Submission{}
	}
	s.writeJSON(w, http.StatusOK, listSubmissionsResponse{Submissions: subs})
}
