// Package api exposes the agent's local control surface: schedule
// initialization, urgent arms, cancellation, status, and lease control.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lumenhabits/pulse/internal/category"
	"github.com/lumenhabits/pulse/internal/scheduler"
)

// Scheduler is the scheduling surface the control API drives.
type Scheduler interface {
	InitializeForUser(ctx context.Context, settings category.NotificationSettings, activity category.UserActivitySnapshot) error
	ScheduleUrgentStreakProtection(ctx context.Context, streak int, zone, override string)
	Cancel(cat category.Category)
	CancelAll()
	Status() []scheduler.TaskView
	Stats(ctx context.Context) (scheduler.StatsReport, error)
}

// LeaseControl is the handler-lease surface exposed over HTTP so the host
// shell can heartbeat on app foreground and release on shutdown.
type LeaseControl interface {
	MarkActive(ctx context.Context) error
	Release(ctx context.Context) error
}

// InitializeRequest carries the user's preferences and activity snapshot.
type InitializeRequest struct {
	Settings category.NotificationSettings `json:"settings"`
	Activity category.UserActivitySnapshot `json:"activity"`
}

// InitializeResponse reports what the scheduler armed.
type InitializeResponse struct {
	Tasks []scheduler.TaskView `json:"tasks"`
}

// StreakProtectionRequest arms an urgent streak-protection firing.
type StreakProtectionRequest struct {
	Streak   int    `json:"streak"`
	Timezone string `json:"timezone"`
	Override string `json:"override,omitempty"` // replaces the notification body verbatim
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger *zap.Logger
	sched  Scheduler
	lease  LeaseControl
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, sched Scheduler, lease LeaseControl) *Handler {
	return &Handler{
		logger: logger,
		sched:  sched,
		lease:  lease,
	}
}

// Initialize handles POST /v1/schedule/initialize
func (h *Handler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req InitializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if err := h.sched.InitializeForUser(r.Context(), req.Settings, req.Activity); err != nil {
		h.logger.Error("schedule initialization failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "initialization_error", "Failed to initialize schedule", "")
		return
	}

	h.writeJSON(w, http.StatusOK, InitializeResponse{Tasks: h.sched.Status()})
}

// StreakProtection handles POST /v1/schedule/streak-protection
func (h *Handler) StreakProtection(w http.ResponseWriter, r *http.Request) {
	var req StreakProtectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.Streak <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid streak", "streak must be a positive day count")
		return
	}

	h.sched.ScheduleUrgentStreakProtection(r.Context(), req.Streak, req.Timezone, req.Override)
	h.writeJSON(w, http.StatusAccepted, InitializeResponse{Tasks: h.sched.Status()})
}

// CancelCategory handles DELETE /v1/schedule/{category}
func (h *Handler) CancelCategory(w http.ResponseWriter, r *http.Request) {
	cat, err := category.Parse(chi.URLParam(r, "category"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Unknown category", err.Error())
		return
	}

	h.sched.Cancel(cat)
	w.WriteHeader(http.StatusNoContent)
}

// CancelAll handles DELETE /v1/schedule
func (h *Handler) CancelAll(w http.ResponseWriter, r *http.Request) {
	h.sched.CancelAll()
	w.WriteHeader(http.StatusNoContent)
}

// Status handles GET /v1/schedule/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, InitializeResponse{Tasks: h.sched.Status()})
}

// Stats handles GET /v1/schedule/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	report, err := h.sched.Stats(r.Context())
	if err != nil {
		h.logger.Error("stats query failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "stats_error", "Failed to collect stats", "")
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// Heartbeat handles POST /v1/lease/heartbeat. The host calls it whenever the
// app comes to the foreground so this instance holds the handler lease.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	if err := h.lease.MarkActive(r.Context()); err != nil {
		h.logger.Error("lease heartbeat failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "lease_error", "Failed to renew handler lease", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReleaseLease handles DELETE /v1/lease
func (h *Handler) ReleaseLease(w http.ResponseWriter, r *http.Request) {
	if err := h.lease.Release(r.Context()); err != nil {
		h.logger.Error("lease release failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "lease_error", "Failed to release handler lease", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Routes mounts the control API under /v1.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/schedule/initialize", h.Initialize)
		r.Post("/schedule/streak-protection", h.StreakProtection)
		r.Delete("/schedule/{category}", h.CancelCategory)
		r.Delete("/schedule", h.CancelAll)
		r.Get("/schedule/status", h.Status)
		r.Get("/schedule/stats", h.Stats)

		r.Post("/lease/heartbeat", h.Heartbeat)
		r.Delete("/lease", h.ReleaseLease)
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("response encoding failed", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
