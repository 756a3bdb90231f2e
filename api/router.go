package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/malbeclabs/pipelinehub/internal/auth"
	"github.com/malbeclabs/pipelinehub/internal/notify"
)

// Router builds the chi router for the HTTP and WS surface.
// notifyChannel names the database LISTEN/NOTIFY channel the WS endpoint
// subscribes to (internal/config.Config.NotifyChannel).
func (s *Server) Router(notifyChannel string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-Pipelinehub-User", "X-Pipelinehub-Roles"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequirePrincipal)

		r.Get("/api/operations", s.ListOperations)
		r.Get("/api/actions", s.ListActions)

		r.Get("/api/pipeline-runs/{code}", s.ListRunsForCode)
		r.Get("/api/pipeline-run-tasks/{runId}", s.ListRunTasks)

		r.Post("/api/run-task/{runId}/{prTaskId}", s.RunTask)
		r.Post("/api/run-all/{runId}/{prTaskId}", s.RunAll)
		r.Post("/api/reset-task/{runId}/{prTaskId}", s.ResetTask)
		r.Get("/api/task-status", s.TaskStatus)

		r.Get("/api/source-tables/{runId}", s.ListSourceTables)
		r.Post("/api/source-tables", s.CreateSourceTable)
		r.Patch("/api/source-tables", s.UpdateSourceTable)
		r.Delete("/api/source-tables", s.DeleteSourceTable)
	})

	pub := notify.NewPublisher(s.notify.Get(notifyChannel), "runId", s.log)
	r.Get("/sockets/pipeline-run-tasks/{runId}", pub.ServeHTTP)

	return r
}
