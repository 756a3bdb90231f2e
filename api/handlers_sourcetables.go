package api

import (
	"net/http"

	"github.com/malbeclabs/pipelinehub/internal/apierr"
	"github.com/malbeclabs/pipelinehub/internal/auth"
)

// ListSourceTables handles GET /api/source-tables/{runId}.
func (s *Server) ListSourceTables(w http.ResponseWriter, r *http.Request) {
	runID, err := pathInt64(r, "runId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tables, err := s.sourceTable.List(r.Context(), runID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tables)
}

// formMap flattens r's query string and form-encoded body into the loose
// string map sourcetable.Service's CRUD operations expect. ParseForm reads
// both; a later value for a
// repeated key overwrites an earlier one.
func formMap(r *http.Request) (map[string]string, error) {
	if err := r.ParseForm(); err != nil {
		return nil, apierr.BadRequest("malformed form: %v", err)
	}
	out := make(map[string]string, len(r.Form))
	for k, v := range r.Form {
		if len(v) > 0 {
			out[k] = v[len(v)-1]
		}
	}
	return out, nil
}

// CreateSourceTable handles POST /api/source-tables.
func (s *Server) CreateSourceTable(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		s.writeError(w, r, apierr.Unauthorized("no authenticated principal"))
		return
	}
	form, err := formMap(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stOid, _, err := s.sourceTable.Create(r.Context(), principal, form)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"st_oid": stOid})
}

// UpdateSourceTable handles PATCH /api/source-tables.
func (s *Server) UpdateSourceTable(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		s.writeError(w, r, apierr.Unauthorized("no authenticated principal"))
		return
	}
	form, err := formMap(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stOid, affected, err := s.sourceTable.Update(r.Context(), principal, form)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if affected == 0 {
		s.writeError(w, r, apierr.NotFound("source table %d not found", stOid))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"st_oid": stOid})
}

// DeleteSourceTable handles DELETE /api/source-tables.
func (s *Server) DeleteSourceTable(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.FromContext(r.Context())
	if !ok {
		s.writeError(w, r, apierr.Unauthorized("no authenticated principal"))
		return
	}
	form, err := formMap(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stOid, affected, err := s.sourceTable.Delete(r.Context(), principal, form)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if affected == 0 {
		s.writeError(w, r, apierr.NotFound("source table %d not found", stOid))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"st_oid": stOid})
}
