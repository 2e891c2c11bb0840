package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/seantiz/factory-scheduler/internal/backend"
	"github.com/seantiz/factory-scheduler/internal/engine"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// errorResponse is the body of every non-2xx JSON response.
type errorResponse struct {
	Error string `json:"error"`

	// Set only for partial submission failures.
	Submitted  []string `json:"submitted,omitempty"`
	RolledBack bool     `json:"rolled_back,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}

// writeEngineError maps engine and backend errors onto HTTP status codes.
// Unrecognised errors are logged and reported as 500 without detail.
func (s *Server) writeEngineError(w http.ResponseWriter, op string, err error) {
	var partial *engine.PartialSubmissionError
	switch {
	case errors.As(err, &partial):
		s.logger.Error(op, "error", err)
		s.writeJSON(w, http.StatusBadGateway, errorResponse{
			Error:      err.Error(),
			Submitted:  partial.Submitted,
			RolledBack: partial.RolledBack,
		})
	case errors.Is(err, engine.ErrMalformedInput):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrDuplicateName):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, backend.ErrCapacityExceeded):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, backend.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error(op, "error", err)
		s.writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
