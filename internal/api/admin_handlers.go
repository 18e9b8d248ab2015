package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/dispatcher"
)

const adminTimeout = 5 * time.Second

// AdminHandler exposes worker, queue and session controls.
type AdminHandler struct {
	manager Manager
	timeout time.Duration
	logger  *zap.Logger
}

// NewAdminHandler wires the manager and logger.
func NewAdminHandler(manager Manager, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{
		manager: manager,
		timeout: adminTimeout,
		logger:  logger,
	}
}

// ListWorkers handles GET /v1/workers and returns {"workers": [...]} in
// creation order.
func (h *AdminHandler) ListWorkers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"workers": h.manager.Workers()})
}

// PauseAll handles POST /v1/workers/pause. Running jobs finish; nothing new
// is pulled until a worker is re-activated.
func (h *AdminHandler) PauseAll(w http.ResponseWriter, _ *http.Request) {
	h.manager.PauseAll()
	writeJSON(w, http.StatusOK, map[string]any{"workers": h.manager.Workers()})
}

type setActiveRequest struct {
	Active *bool `json:"active"`
}

// SetWorkerActive handles PUT /v1/workers/{worker_id}/active with body
// {"active": bool}. It returns 404 for unknown workers.
func (h *AdminHandler) SetWorkerActive(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "worker_id")
	var req setActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Active == nil {
		writeError(w, http.StatusBadRequest, `body must be {"active": true|false}`)
		return
	}
	if err := h.manager.SetActive(workerID, *req.Active); err != nil {
		if errors.Is(err, dispatcher.ErrUnknownWorker) {
			writeError(w, http.StatusNotFound, "worker not found")
			return
		}
		h.logger.Error("set worker active failed", zap.String("worker_id", workerID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update worker")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"worker_id": workerID, "active": *req.Active})
}

// QueueSnapshot handles GET /v1/queue and returns {"vendors": [...]}.
func (h *AdminHandler) QueueSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	snap, err := h.manager.QueueSnapshot(ctx)
	if err != nil {
		h.logger.Error("queue snapshot failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read queue")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vendors": snap})
}

type seedRequest struct {
	Vendor string            `json:"vendor"`
	Params map[string]string `json:"params"`
}

// Seed handles POST /v1/queue/seed. It returns 202 with the pushed job, 404
// for an unknown vendor and 409 while the session is stopped.
func (h *AdminHandler) Seed(w http.ResponseWriter, r *http.Request) {
	var req seedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Vendor = strings.TrimSpace(req.Vendor)
	if req.Vendor == "" {
		writeError(w, http.StatusBadRequest, "vendor is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	job, err := h.manager.Seed(ctx, req.Vendor, req.Params)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]crawler.Job{"job": job})
	case errors.Is(err, crawler.ErrUnknownVendor):
		writeError(w, http.StatusNotFound, "vendor not found")
	case errors.Is(err, dispatcher.ErrSessionInactive):
		writeError(w, http.StatusConflict, "session is not active")
	default:
		h.logger.Error("seed failed", zap.String("vendor", req.Vendor), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to seed job")
	}
}

// StartSession handles POST /v1/session/start.
func (h *AdminHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	h.setSession(w, r, true)
}

// StopSession handles POST /v1/session/stop.
func (h *AdminHandler) StopSession(w http.ResponseWriter, r *http.Request) {
	h.setSession(w, r, false)
}

func (h *AdminHandler) setSession(w http.ResponseWriter, r *http.Request, active bool) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	if err := h.manager.SetSession(ctx, active); err != nil {
		h.logger.Error("toggle session failed", zap.Bool("active", active), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to toggle session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"active": active})
}
