package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ozonworks/outlet-telemetry-worker/internal/db"
	"github.com/ozonworks/outlet-telemetry-worker/internal/service"
	"go.uber.org/zap"
)

// AssignmentHandler serves outlet, machine and assignment operations
type AssignmentHandler struct {
	assignments *service.AssignmentService
	logger      *zap.Logger
}

// NewAssignmentHandler creates a new assignment handler
func NewAssignmentHandler(assignments *service.AssignmentService, logger *zap.Logger) *AssignmentHandler {
	return &AssignmentHandler{
		assignments: assignments,
		logger:      logger,
	}
}

type createOutletRequest struct {
	Name         string  `json:"name"`
	Address      *string `json:"address"`
	ContactName  *string `json:"contact_name"`
	ContactPhone *string `json:"contact_phone"`
}

// CreateOutlet handles POST /api/v1/outlets
func (h *AssignmentHandler) CreateOutlet(w http.ResponseWriter, r *http.Request) {
	var req createOutletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	outlet := &db.Outlet{
		Name:         req.Name,
		Address:      req.Address,
		ContactName:  req.ContactName,
		ContactPhone: req.ContactPhone,
	}
	if err := h.assignments.CreateOutlet(r.Context(), outlet); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, outlet)
}

// ListOutlets handles GET /api/v1/outlets
func (h *AssignmentHandler) ListOutlets(w http.ResponseWriter, r *http.Request) {
	outlets, err := h.assignments.ListOutlets(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, outlets)
}

type createMachineRequest struct {
	OutletID    uuid.UUID  `json:"outlet_id"`
	Name        string     `json:"name"`
	Model       *string    `json:"model"`
	InstalledAt *time.Time `json:"installed_at"`
	Notes       *string    `json:"notes"`
}

// CreateMachine handles POST /api/v1/machines
func (h *AssignmentHandler) CreateMachine(w http.ResponseWriter, r *http.Request) {
	var req createMachineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.OutletID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "outlet_id is required")
		return
	}

	machine := &db.Machine{
		OutletID:    req.OutletID,
		Name:        req.Name,
		Model:       req.Model,
		InstalledAt: req.InstalledAt,
		Notes:       req.Notes,
	}
	if err := h.assignments.CreateMachine(r.Context(), machine); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, machine)
}

// ListMachines handles GET /api/v1/machines, each with its current device
func (h *AssignmentHandler) ListMachines(w http.ResponseWriter, r *http.Request) {
	machines, err := h.assignments.ListMachines(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	type machineView struct {
		db.Machine
		CurrentDevice *string `json:"current_device"`
	}

	views := make([]machineView, 0, len(machines))
	for _, m := range machines {
		view := machineView{Machine: m}
		deviceID, ok, err := h.assignments.CurrentDevice(r.Context(), m.ID)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		if ok {
			view.CurrentDevice = &deviceID
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

// Assignments handles GET /api/v1/machines/{machineID}/assignments
func (h *AssignmentHandler) Assignments(w http.ResponseWriter, r *http.Request) {
	machineID, err := uuid.Parse(chi.URLParam(r, "machineID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid machine id")
		return
	}

	assignments, err := h.assignments.ListAssignments(r.Context(), machineID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, assignments)
}

type assignRequest struct {
	DeviceID string `json:"device_id"`
}

// Assign handles POST /api/v1/machines/{machineID}/assign
func (h *AssignmentHandler) Assign(w http.ResponseWriter, r *http.Request) {
	machineID, err := uuid.Parse(chi.URLParam(r, "machineID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid machine id")
		return
	}

	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}

	assignment, err := h.assignments.Assign(r.Context(), machineID, req.DeviceID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, assignment)
}

// Reassign handles POST /api/v1/machines/{machineID}/reassign
func (h *AssignmentHandler) Reassign(w http.ResponseWriter, r *http.Request) {
	machineID, err := uuid.Parse(chi.URLParam(r, "machineID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid machine id")
		return
	}

	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}

	assignment, err := h.assignments.Reassign(r.Context(), machineID, req.DeviceID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, assignment)
}

// Deactivate handles POST /api/v1/assignments/{assignmentID}/deactivate
func (h *AssignmentHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	assignmentID, err := uuid.Parse(chi.URLParam(r, "assignmentID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid assignment id")
		return
	}

	if err := h.assignments.Deactivate(r.Context(), assignmentID); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}
