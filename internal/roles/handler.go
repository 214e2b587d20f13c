package roles

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/duongnv129/ory-self-hosted-sub002/internal/platform/httpx"
)

// Handler serves the role catalog JSON API.
type Handler struct {
	logger           *slog.Logger
	service          *Service
	validator        *validator.Validate
	defaultNamespace string
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, service *Service, defaultNamespace string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultNamespace == "" {
		defaultNamespace = "roles"
	}
	return &Handler{
		logger:           logger,
		service:          service,
		validator:        validator.New(),
		defaultNamespace: defaultNamespace,
	}
}

// MountRoutes registers the role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.createRole)
	r.Get("/", h.listRoles)
	r.Route("/{name}", func(r chi.Router) {
		r.Get("/", h.getRole)
		r.Put("/", h.updateRole)
		r.Delete("/", h.deleteRole)
		r.Get("/check", h.checkPermission)
	})
}

func (h *Handler) namespace(r *http.Request) string {
	if ns := strings.TrimSpace(r.URL.Query().Get("namespace")); ns != "" {
		return ns
	}
	return h.defaultNamespace
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req CreateRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "request body is not valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	result, err := h.service.Create(r.Context(), h.namespace(r), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles := h.service.List(r.Context(), h.namespace(r), r.URL.Query().Get("tenant_id"))
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	details, err := h.service.Get(r.Context(), h.namespace(r), chi.URLParam(r, "name"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, details)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	var req UpdateRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", "request body is not valid JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	result, err := h.service.Update(r.Context(), h.namespace(r), chi.URLParam(r, "name"), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Delete(r.Context(), h.namespace(r), chi.URLParam(r, "name"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) checkPermission(w http.ResponseWriter, r *http.Request) {
	resource := r.URL.Query().Get("resource")
	action := r.URL.Query().Get("action")
	if resource == "" || action == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "resource and action query parameters are required")
		return
	}
	allowed, err := h.service.Check(r.Context(), h.namespace(r), chi.URLParam(r, "name"), resource, action)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			h.respondError(w, err)
			return
		}
		httpx.Problem(w, http.StatusBadGateway, "Authorization Backend Unavailable", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

// ListNamespaces enumerates the catalog namespaces.
func (h *Handler) ListNamespaces(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"namespaces": h.service.Namespaces()})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", strings.Join(verr.Errors, "; "))
	case errors.Is(err, ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", "a role with this name already exists in the namespace")
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "role does not exist in the namespace")
	default:
		h.logger.Error("unhandled role service error", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// AdminHandler serves operational endpoints.
type AdminHandler struct {
	logger  *slog.Logger
	service *Service
}

// NewAdminHandler builds the admin handler.
func NewAdminHandler(logger *slog.Logger, service *Service) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{logger: logger, service: service}
}

// MountRoutes registers the admin routes.
func (h *AdminHandler) MountRoutes(r chi.Router) {
	r.Post("/save", h.save)
}

func (h *AdminHandler) save(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Save(r.Context()); err != nil {
		h.logger.Error("explicit save failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Persistence Failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "saved"})
}
