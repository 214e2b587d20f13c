package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/duongnv129/ory-self-hosted-sub002/internal/observability"
	"github.com/duongnv129/ory-self-hosted-sub002/internal/platform/httpx"
	"github.com/duongnv129/ory-self-hosted-sub002/internal/roles"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger       *slog.Logger
	Config       *Config
	RolesHandler *roles.Handler
	AdminHandler *roles.AdminHandler
	Metrics      *observability.Metrics

	// KetoStatus reports collaborator reachability for the health probe.
	// Optional; the probe never fails because of it.
	KetoStatus func() string
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]string{"status": "ok"}
		if params.KetoStatus != nil {
			body["keto"] = params.KetoStatus()
		}
		httpx.JSON(w, http.StatusOK, body)
	})

	if params.RolesHandler != nil {
		r.Route("/roles", params.RolesHandler.MountRoutes)
		r.Get("/namespaces", params.RolesHandler.ListNamespaces)
	}
	if params.AdminHandler != nil {
		r.Route("/admin", params.AdminHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
