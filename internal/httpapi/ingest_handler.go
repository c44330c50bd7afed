package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/ozonworks/outlet-telemetry-worker/internal/logging"
	"github.com/ozonworks/outlet-telemetry-worker/internal/metrics"
	"github.com/ozonworks/outlet-telemetry-worker/internal/service"
	"github.com/ozonworks/outlet-telemetry-worker/internal/telemetry"
	"go.uber.org/zap"
)

// IngestHandler accepts the device push endpoint: form-urlencoded fields as
// the firmware posts them (mode, macaddr, type1..3, count1..3, optional ts).
type IngestHandler struct {
	ingest  *service.IngestService
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(ingest *service.IngestService, m *metrics.Metrics, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{
		ingest:  ingest,
		metrics: m,
		logger:  logger,
	}
}

// Push handles POST /iot/ingest. A structurally valid report is always
// accepted: malformed counts and timestamps degrade field by field, and
// only a missing device identity rejects the request.
func (h *IngestHandler) Push(w http.ResponseWriter, r *http.Request) {
	logger := logging.WithRequestID(h.logger, middleware.GetReqID(r.Context()))

	if err := r.ParseForm(); err != nil {
		h.metrics.ReportsRejected.WithLabelValues("http").Inc()
		writeError(w, http.StatusBadRequest, "malformed form body")
		return
	}

	macaddr := r.PostFormValue("macaddr")
	if macaddr == "" {
		h.metrics.ReportsRejected.WithLabelValues("http").Inc()
		writeError(w, http.StatusBadRequest, "macaddr required")
		return
	}
	logger = logging.WithDevice(logger, macaddr)

	kind, known := telemetry.ParseKind(r.PostFormValue("mode"))
	if !known {
		logger.Warn("unknown report mode, treating as heartbeat",
			zap.String("mode", r.PostFormValue("mode")),
		)
	}

	report := telemetry.DeviceReport{
		DeviceID:        macaddr,
		Kind:            kind,
		CountBasic:      telemetry.CoerceCount(r.PostFormValue("count1")),
		CountStandard:   telemetry.CoerceCount(r.PostFormValue("count2")),
		CountPremium:    telemetry.CoerceCount(r.PostFormValue("count3")),
		DeviceTimestamp: r.PostFormValue("ts"),
		ReceivedAt:      time.Now(),
	}

	outcome, err := h.ingest.Ingest(r.Context(), report)
	if err != nil {
		if errors.Is(err, service.ErrInvalidReport) {
			h.metrics.ReportsRejected.WithLabelValues("http").Inc()
		}
		writeServiceError(w, logger, err)
		return
	}

	h.metrics.ReportsTotal.WithLabelValues("http", string(outcome.Kind)).Inc()
	if outcome.EventID != 0 {
		h.metrics.EventsAppended.Inc()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"device_id":      outcome.DeviceID,
		"kind":           outcome.Kind,
		"event_id":       outcome.EventID,
		"occurred_at":    outcome.OccurredAt,
		"usage_recorded": outcome.UsageRecorded,
	})
}
