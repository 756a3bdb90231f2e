package api

import (
	"net/http"
	"strconv"

	"github.com/malbeclabs/pipelinehub/internal/apierr"
	"github.com/malbeclabs/pipelinehub/internal/auth"
)

// runOrScheduleTask is shared by RunTask and RunAll; they differ only in the
// runNext flag passed to the engine.
func (s *Server) runOrScheduleTask(w http.ResponseWriter, r *http.Request, runNext bool) {
	runID, err := pathInt64(r, "runId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	prTaskID, err := pathInt64(r, "prTaskId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		s.writeError(w, r, apierr.Unauthorized("no authenticated principal"))
		return
	}

	outcome, err := s.engine.RunTask(r.Context(), principal, runID, prTaskID, runNext)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"success": outcome.Message})
}

// RunTask handles POST /api/run-task/{runId}/{prTaskId}.
func (s *Server) RunTask(w http.ResponseWriter, r *http.Request) {
	s.runOrScheduleTask(w, r, false)
}

// RunAll handles POST /api/run-all/{runId}/{prTaskId}.
func (s *Server) RunAll(w http.ResponseWriter, r *http.Request) {
	s.runOrScheduleTask(w, r, true)
}

// ResetTask handles POST /api/reset-task/{runId}/{prTaskId}.
func (s *Server) ResetTask(w http.ResponseWriter, r *http.Request) {
	runID, err := pathInt64(r, "runId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	prTaskID, err := pathInt64(r, "prTaskId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		s.writeError(w, r, apierr.Unauthorized("no authenticated principal"))
		return
	}

	if err := s.engine.ResetTask(r.Context(), principal, runID, prTaskID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"success": "reset"})
}

// TaskStatus handles GET /api/task-status?prTaskId=….
func (s *Server) TaskStatus(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("prTaskId")
	prTaskID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.writeError(w, r, apierr.BadRequest("prTaskId must be numeric"))
		return
	}

	status, err := s.engine.GetStatus(r.Context(), prTaskID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}
