package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/malbeclabs/pipelinehub/internal/apierr"
	"github.com/malbeclabs/pipelinehub/internal/auth"
)

// ListRunsForCode handles GET /api/pipeline-runs/{code}.
func (s *Server) ListRunsForCode(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	principal, _ := auth.FromContext(r.Context())

	runs, err := s.store.Runs.ListByWorkflowCode(r.Context(), code, principal.Username, principal.IsAdmin)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// ListRunTasks handles GET /api/pipeline-run-tasks/{runId}.
func (s *Server) ListRunTasks(w http.ResponseWriter, r *http.Request) {
	runID, err := pathInt64(r, "runId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tasks, err := s.engine.GetOrderedTasks(r.Context(), runID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// pathInt64 parses a chi path param as an int64, returning a BadRequest error
// on failure.
func pathInt64(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apierr.BadRequest("%s must be numeric", name)
	}
	return v, nil
}
