package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ozonworks/outlet-telemetry-worker/internal/service"
	"github.com/ozonworks/outlet-telemetry-worker/internal/telemetry"
	"go.uber.org/zap"
)

const dateParam = "2006-01-02"

// TelemetryHandler serves the read side of the ledger and the rollups,
// plus the repair and reset operations.
type TelemetryHandler struct {
	ingest     *service.IngestService
	aggregator *service.UsageAggregator
	loc        *time.Location
	logger     *zap.Logger
}

// NewTelemetryHandler creates a new telemetry handler
func NewTelemetryHandler(ingest *service.IngestService, aggregator *service.UsageAggregator, loc *time.Location, logger *zap.Logger) *TelemetryHandler {
	return &TelemetryHandler{
		ingest:     ingest,
		aggregator: aggregator,
		loc:        loc,
		logger:     logger,
	}
}

// Events handles GET /api/v1/events?device_id=&kind=&from=&to=&limit=
func (h *TelemetryHandler) Events(w http.ResponseWriter, r *http.Request) {
	filter := service.EventFilter{
		DeviceID: r.URL.Query().Get("device_id"),
		Limit:    100,
	}

	if raw := r.URL.Query().Get("kind"); raw != "" {
		kind, ok := telemetry.ParseKind(raw)
		if !ok || !kind.IsUsage() {
			writeError(w, http.StatusBadRequest, "kind must be one of BASIC, STANDARD, PREMIUM")
			return
		}
		filter.Kind = kind
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		from, err := time.ParseInLocation(dateParam, raw, h.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
			return
		}
		filter.From = from
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		to, err := time.ParseInLocation(dateParam, raw, h.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
			return
		}
		// Inclusive end date
		filter.To = to.AddDate(0, 0, 1)
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		filter.Limit = limit
	}

	events, err := h.ingest.QueryEvents(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// Usage handles GET /api/v1/usage?device_id=&from=&to=
func (h *TelemetryHandler) Usage(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}

	// Default reporting window is the trailing 30 days
	to := time.Now().In(h.loc)
	from := to.AddDate(0, 0, -30)

	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.ParseInLocation(dateParam, raw, h.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
			return
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.ParseInLocation(dateParam, raw, h.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
			return
		}
		to = parsed
	}

	usage, err := h.aggregator.QueryUsage(r.Context(), deviceID, from, to)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

type rebuildRequest struct {
	DeviceID string `json:"device_id"`
	Date     string `json:"date"`
	From     string `json:"from"`
	To       string `json:"to"`
}

// RebuildUsage handles POST /api/v1/usage/rebuild with either a single
// date or an inclusive date range.
func (h *TelemetryHandler) RebuildUsage(w http.ResponseWriter, r *http.Request) {
	var req rebuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}

	if req.Date != "" {
		date, err := time.ParseInLocation(dateParam, req.Date, h.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		row, err := h.aggregator.Rebuild(r.Context(), req.DeviceID, date)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"rebuilt": 1, "row": row})
		return
	}

	if req.From == "" || req.To == "" {
		writeError(w, http.StatusBadRequest, "either date or from+to is required")
		return
	}
	from, err := time.ParseInLocation(dateParam, req.From, h.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
		return
	}
	to, err := time.ParseInLocation(dateParam, req.To, h.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
		return
	}

	rebuilt, err := h.aggregator.RebuildRange(r.Context(), req.DeviceID, from, to)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rebuilt": rebuilt})
}

type resetRequest struct {
	Confirm string `json:"confirm"`
}

// Reset handles POST /api/v1/reset. The confirmation phrase keeps the bulk
// wipe an explicit, deliberate operation.
func (h *TelemetryHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Confirm != "ERASE" {
		writeError(w, http.StatusBadRequest, `reset requires {"confirm": "ERASE"}`)
		return
	}

	if err := h.ingest.Reset(r.Context()); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
