package api

import (
	"encoding/json"
	"net/http"

	"github.com/malbeclabs/pipelinehub/internal/apierr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError classifies err through the apierr taxonomy and writes the
// corresponding HTTP status with a {"error": message} body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apierr.KindOf(err)
	status := apierr.HTTPStatus(kind)
	if status >= 500 {
		s.log.Error("request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": apierr.Message(err)})
}
