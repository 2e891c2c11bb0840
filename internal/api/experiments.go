package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/seantiz/factory-scheduler/internal/model"
	"github.com/seantiz/factory-scheduler/internal/naming"
)

const maxUploadSize = 32 << 20 // 32 MB

// Multipart field names for POST /v1/experiments.
const (
	fieldName      = "name"
	fieldJobs      = "jobs"
	fieldScenarios = "scenarios"
)

// listExperimentsResponse wraps the paginated list response.
type listExperimentsResponse struct {
	Experiments []model.ExperimentView `json:"experiments"`
	Total       int                    `json:"total"`
	Limit       int                    `json:"limit"`
	Offset      int                    `json:"offset"`
}

func (s *Server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	defer func() {
		experimentRequestsTotal.WithLabelValues(experimentOutcome(ww.Status())).Inc()
	}()
	w = ww

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	jobs, err := formPart(r, fieldJobs)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	scenarios, err := formPart(r, fieldScenarios)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	name := strings.TrimSpace(r.FormValue(fieldName))
	if name == "" {
		name = naming.RandomName()
	}

	exp, err := s.engine.CreateExperiment(r.Context(), name, jobs, scenarios)
	if err != nil {
		s.writeEngineError(w, "create experiment", err)
		return
	}

	s.writeJSON(w, http.StatusCreated, exp.Snapshot())
}

func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit < 1 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	all := s.engine.Registry().List()
	views := make([]model.ExperimentView, 0, limit)
	for i := offset; i < len(all) && len(views) < limit; i++ {
		views = append(views, all[i].Snapshot())
	}

	s.writeJSON(w, http.StatusOK, listExperimentsResponse{
		Experiments: views,
		Total:       len(all),
		Limit:       limit,
		Offset:      offset,
	})
}

func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	exp, ok := s.engine.Registry().Get(name)
	if !ok {
		s.writeError(w, http.StatusNotFound, "experiment not found")
		return
	}

	s.writeJSON(w, http.StatusOK, exp.Snapshot())
}

func (s *Server) handleDeleteExperiment(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if !s.engine.DeleteExperiment(name) {
		s.writeError(w, http.StatusNotFound, "experiment not found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// formPart returns a multipart field's content, read from an uploaded file
// if there is one and from the plain form value otherwise.
func formPart(r *http.Request, key string) ([]byte, error) {
	f, _, err := r.FormFile(key)
	switch {
	case err == nil:
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		return data, nil
	case errors.Is(err, http.ErrMissingFile):
		if v := r.FormValue(key); v != "" {
			return []byte(v), nil
		}
		return nil, fmt.Errorf("missing %q field", key)
	default:
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
}
