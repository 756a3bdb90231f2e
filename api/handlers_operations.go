package api

import (
	"net/http"

	"github.com/malbeclabs/pipelinehub/internal/auth"
)

// ListOperations handles GET /api/operations.
func (s *Server) ListOperations(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.FromContext(r.Context())
	ops, err := s.store.Actions.ListOperations(r.Context(), principal.Roles)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ops)
}

// ListActions handles GET /api/actions.
func (s *Server) ListActions(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.FromContext(r.Context())
	actions, err := s.store.Actions.ListActions(r.Context(), principal.Roles)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actions)
}
