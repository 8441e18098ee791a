package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sloppy/hostlink/internal/db"
	"github.com/sloppy/hostlink/internal/discovery"
	"github.com/sloppy/hostlink/internal/linkage"
	"github.com/sloppy/hostlink/internal/metrics"
)

// Server wires the web handlers and dependencies.
type Server struct {
	DB        *db.DB
	Engine    *linkage.Engine
	Discovery *discovery.Service
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Router    chi.Router
}

// NewServer constructs the router and registers routes. A nil metrics or
// logger disables that concern.
func NewServer(database *db.DB, engine *linkage.Engine, disc *discovery.Service, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &Server{
		DB:        database,
		Engine:    engine,
		Discovery: disc,
		Metrics:   m,
		Logger:    logger.Named("web"),
	}

	r := chi.NewRouter()
	r.Use(server.instrument)
	r.Use(sameOriginGuard)

	r.Get("/", server.handleRoot)
	r.Get("/hosts", server.handleHostList)
	r.Get("/hosts/{id}", server.handleHostForm)
	r.Post("/hosts/{id}", server.handleHostUpdate)
	r.Post("/hosts/{id}/templates", server.handleTemplateAttach)
	r.Post("/hosts/{id}/templates/{templateID}/unlink", server.handleTemplateUnlink)
	r.Post("/hosts/{id}/templates/{templateID}/unlink-and-clear", server.handleTemplateUnlinkAndClear)
	r.Get("/hosts/{id}/export", server.handleHostExport)
	r.Get("/templates", server.handleTemplateList)
	r.Get("/export", server.handleInventoryExport)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", server.apiStats)
		r.Get("/hosts", server.apiListHosts)
		r.Post("/hosts", server.apiCreateHost)
		r.Get("/hosts/{id}", server.apiGetHost)
		r.Patch("/hosts/{id}", server.apiUpdateHost)
		r.Delete("/hosts/{id}", server.apiDeleteHost)
		r.Get("/hosts/{id}/fields", server.apiHostFields)
		r.Get("/hosts/{id}/entities", server.apiHostEntities)
		r.Get("/hosts/{id}/audit", server.apiHostAudit)
		r.Post("/hosts/{id}/templates", server.apiAttachTemplate)
		r.Post("/hosts/{id}/templates/remove", server.apiRemoveTemplates)
		r.Get("/templates", server.apiListTemplates)
		r.Get("/prototypes", server.apiListPrototypes)
		r.Post("/prototypes/{id}/discover", server.apiDiscover)
		r.Post("/import", server.apiImport)
	})

	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	server.Router = r
	return server
}

// Handler exposes the configured router.
func (s *Server) Handler() http.Handler {
	return s.Router
}
