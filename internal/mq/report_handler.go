package mq

import (
	"context"
	"errors"
	"time"

	"github.com/ozonworks/outlet-telemetry-worker/internal/metrics"
	"github.com/ozonworks/outlet-telemetry-worker/internal/service"
	"go.uber.org/zap"
)

// ReportHandler bridges the consumer to the ingest coordinator: decode the
// envelope, hand the normalized report to the core, count the outcome.
type ReportHandler struct {
	ingest  *service.IngestService
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewReportHandler creates a new report handler
func NewReportHandler(ingest *service.IngestService, m *metrics.Metrics, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{
		ingest:  ingest,
		metrics: m,
		logger:  logger,
	}
}

// Handle processes one delivery. A returned error sends the delivery to the
// DLQ; reports rejected by the core (no identity) also go there since a
// redelivery can never succeed.
func (h *ReportHandler) Handle(ctx context.Context, routingKey string, body []byte) error {
	report, err := DecodeReport(routingKey, body, time.Now())
	if err != nil {
		h.metrics.ReportsRejected.WithLabelValues("mq").Inc()
		return err
	}

	outcome, err := h.ingest.Ingest(ctx, report)
	if err != nil {
		if errors.Is(err, service.ErrInvalidReport) {
			h.metrics.ReportsRejected.WithLabelValues("mq").Inc()
		}
		return err
	}

	h.metrics.ReportsTotal.WithLabelValues("mq", string(outcome.Kind)).Inc()
	if outcome.EventID != 0 {
		h.metrics.EventsAppended.Inc()
	}
	return nil
}
