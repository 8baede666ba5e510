// Package api provides the read-only HTTP status API.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/artpar/stackup/internal/core/domain"
	"github.com/artpar/stackup/internal/shell/docker"
	"github.com/artpar/stackup/internal/shell/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// =============================================================================
// Handler
// =============================================================================

// Handler provides HTTP handlers for the status API.
type Handler struct {
	store  store.Store
	docker docker.Client
	logger *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, d docker.Client, l *slog.Logger) *Handler {
	if l == nil {
		l = slog.Default()
	}
	return &Handler{
		store:  s,
		docker: d,
		logger: l,
	}
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.jsonContentType)
	r.Use(h.requestIDHeader)

	// Health endpoints
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/deployments", func(r chi.Router) {
			r.Get("/", h.handleListDeployments)
			r.Get("/{id}", h.handleGetDeployment)
			r.Get("/{id}/events", h.handleListEvents)
		})
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)

	// Check database (implicit - if we got here, store was created)
	checks["database"] = "ok"

	// Check Docker
	if err := h.docker.Ping(); err != nil {
		checks["docker"] = "failed"
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
			Status: "not_ready",
			Checks: checks,
		})
		return
	}
	checks["docker"] = "ok"

	h.writeJSON(w, http.StatusOK, ReadyResponse{
		Status: "ready",
		Checks: checks,
	})
}

// =============================================================================
// Deployment Handlers
// =============================================================================

func (h *Handler) handleListDeployments(w http.ResponseWriter, r *http.Request) {
	opts := store.DefaultListOptions()

	if limit := r.URL.Query().Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			opts.Limit = l
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil {
			opts.Offset = o
		}
	}

	var deployments []domain.Deployment
	var err error

	if status := r.URL.Query().Get("status"); status != "" {
		deployments, err = h.store.ListDeploymentsByStatus(r.Context(), domain.DeploymentStatus(status), opts)
	} else {
		deployments, err = h.store.ListDeployments(r.Context(), opts)
	}

	if err != nil {
		h.logger.Error("failed to list deployments", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list deployments", "internal_error")
		return
	}

	resp := ListDeploymentsResponse{
		Deployments: make([]DeploymentResponse, 0, len(deployments)),
		Total:       len(deployments),
		Limit:       opts.Limit,
		Offset:      opts.Offset,
	}
	for _, d := range deployments {
		resp.Deployments = append(resp.Deployments, h.deploymentToResponse(&d))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	deployment, err := h.store.GetDeployment(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			// Fall back to lookup by name for convenience
			deployment, err = h.store.GetDeploymentByName(r.Context(), id)
		}
		if err != nil {
			if isNotFound(err) {
				h.writeError(w, http.StatusNotFound, "deployment not found", "deployment_not_found")
				return
			}
			h.logger.Error("failed to get deployment", "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to get deployment", "internal_error")
			return
		}
	}

	h.writeJSON(w, http.StatusOK, h.deploymentToResponse(deployment))
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			limit = parsed
		}
	}

	// Resolve by ID, then by name
	deployment, err := h.store.GetDeployment(r.Context(), id)
	if err != nil && isNotFound(err) {
		deployment, err = h.store.GetDeploymentByName(r.Context(), id)
	}
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "deployment not found", "deployment_not_found")
			return
		}
		h.logger.Error("failed to get deployment", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get deployment", "internal_error")
		return
	}

	events, err := h.store.ListEvents(r.Context(), deployment.ID, limit)
	if err != nil {
		h.logger.Error("failed to list events", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list events", "internal_error")
		return
	}

	resp := ListEventsResponse{
		Events: make([]EventResponse, 0, len(events)),
		Total:  len(events),
	}
	for _, e := range events {
		resp.Events = append(resp.Events, EventResponse{
			ID:          e.ID,
			Type:        string(e.Type),
			ServiceName: e.ServiceName,
			Message:     e.Message,
			CreatedAt:   e.CreatedAt,
		})
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func (h *Handler) deploymentToResponse(d *domain.Deployment) DeploymentResponse {
	resp := DeploymentResponse{
		ID:           d.ID,
		Name:         d.Name,
		ManifestHash: d.ManifestHash,
		Status:       string(d.Status),
		Variables:    d.Variables,
		Containers:   make([]ContainerResponse, 0, len(d.Containers)),
		ErrorMessage: d.ErrorMessage,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
		StartedAt:    d.StartedAt,
		StoppedAt:    d.StoppedAt,
	}
	if resp.Variables == nil {
		resp.Variables = make(map[string]string)
	}
	for _, c := range d.Containers {
		cr := ContainerResponse{
			ServiceName: c.ServiceName,
			ContainerID: c.ID,
			Image:       c.Image,
			Status:      c.Status,
			ExitCode:    c.ExitCode,
		}
		for _, p := range c.Ports {
			cr.Ports = append(cr.Ports, PortResponse{
				ContainerPort: p.ContainerPort,
				HostPort:      p.HostPort,
				Protocol:      p.Protocol,
			})
		}
		resp.Containers = append(resp.Containers, cr)
	}
	return resp
}

// isNotFound checks if an error is a not found error.
func isNotFound(err error) bool {
	var storeErr *store.StoreError
	if errors.As(err, &storeErr) {
		return errors.Is(storeErr.Unwrap(), store.ErrNotFound)
	}
	return false
}
