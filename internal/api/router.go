package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hverdal/arkiv/internal/docsvc"
	"github.com/hverdal/arkiv/internal/library"
	"github.com/hverdal/arkiv/internal/syncer"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *docsvc.Service, eng *syncer.Engine, libs library.Store, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc, eng, libs)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Documents.
	r.Get("/documents", h.ListDocuments)
	r.Get("/documents/meta", h.GetMetadata)
	r.Put("/documents/meta", h.PutMetadata)

	// Search.
	r.Get("/search", h.Search)

	// Sync.
	r.Post("/sync", h.Sync)
	r.Post("/sync/quick", h.QuickSync)

	// Libraries.
	r.Get("/libraries", h.ListLibraries)

	// SSE change feed (protected by the same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
