// Package api is the thin HTTP/WS adapter over the core: it
// authorizes, translates requests into core operations, and serializes
// results to JSON or a duplex socket frame stream. Route wiring and
// templating are explicitly out of the core's scope; this package
// is the outer boundary the core exposes its contract through.
package api

import (
	"log/slog"

	"github.com/malbeclabs/pipelinehub/internal/engine"
	"github.com/malbeclabs/pipelinehub/internal/notify"
	"github.com/malbeclabs/pipelinehub/internal/sourcetable"
	"github.com/malbeclabs/pipelinehub/internal/store"
)

// Server bundles every dependency the handlers in this package need,
// threaded through explicitly rather than reached for as a package global.
type Server struct {
	store       *store.Store
	engine      *engine.Engine
	sourceTable *sourcetable.Service
	notify      *notify.Registry
	log         *slog.Logger
}

// New constructs a Server.
func New(st *store.Store, eng *engine.Engine, sourceTable *sourcetable.Service, reg *notify.Registry, log *slog.Logger) *Server {
	return &Server{store: st, engine: eng, sourceTable: sourceTable, notify: reg, log: log}
}
