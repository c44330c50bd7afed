package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ozonworks/outlet-telemetry-worker/internal/db"
	"github.com/ozonworks/outlet-telemetry-worker/internal/service"
	"github.com/ozonworks/outlet-telemetry-worker/internal/telemetry"
	"go.uber.org/zap"
)

// CommandPublisher is the outbound command-publish capability of the
// pub/sub transport. Satisfied by mq.CommandPublisher.
type CommandPublisher interface {
	Publish(ctx context.Context, deviceID string, command map[string]interface{}) error
}

// DeviceHandler serves the operator-facing device status endpoints
type DeviceHandler struct {
	status      *service.StatusRegister
	assignments *service.AssignmentService
	publisher   CommandPublisher
	logger      *zap.Logger
}

// deviceView is the status row with its machine context joined in
type deviceView struct {
	db.DeviceStatus
	Assignment *db.DeviceAssignment `json:"assignment,omitempty"`
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(status *service.StatusRegister, assignments *service.AssignmentService, publisher CommandPublisher, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		status:      status,
		assignments: assignments,
		publisher:   publisher,
		logger:      logger,
	}
}

// List handles GET /api/v1/devices
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.status.List(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	views := make([]deviceView, 0, len(statuses))
	for _, st := range statuses {
		view := deviceView{DeviceStatus: st}
		assignment, err := h.assignments.CurrentMachine(r.Context(), st.DeviceID)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		view.Assignment = assignment
		views = append(views, view)
	}

	writeJSON(w, http.StatusOK, views)
}

// Get handles GET /api/v1/devices/{deviceID}: the status row plus the
// ledger-derived counts, so callers can see cache and truth side by side.
func (h *DeviceHandler) Get(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	status, err := h.status.Get(r.Context(), deviceID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	if status == nil {
		writeError(w, http.StatusNotFound, "unknown device")
		return
	}

	ledgerCounts := map[string]int64{}
	for _, kind := range []telemetry.ReportKind{telemetry.KindBasic, telemetry.KindStandard, telemetry.KindPremium} {
		count, err := h.status.AccumulatedCount(r.Context(), deviceID, kind)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		ledgerCounts[string(kind)] = count
	}

	assignment, err := h.assignments.CurrentMachine(r.Context(), deviceID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        status,
		"ledger_counts": ledgerCounts,
		"assignment":    assignment,
	})
}

// Reconcile handles POST /api/v1/devices/{deviceID}/reconcile
func (h *DeviceHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	result, err := h.status.Reconcile(r.Context(), deviceID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ReconcileAll handles POST /api/v1/devices/reconcile
func (h *DeviceHandler) ReconcileAll(w http.ResponseWriter, r *http.Request) {
	results, err := h.status.ReconcileAll(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// Command handles POST /api/v1/devices/{deviceID}/command
func (h *DeviceHandler) Command(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	var command map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&command); err != nil || len(command) == 0 {
		writeError(w, http.StatusBadRequest, "command body must be a non-empty JSON object")
		return
	}

	if err := h.publisher.Publish(r.Context(), deviceID, command); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "published"})
}
