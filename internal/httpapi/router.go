package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ozonworks/outlet-telemetry-worker/internal/metrics"
)

// NewRouter assembles the HTTP surface: the device push endpoint, the
// operator API and the observability endpoints.
func NewRouter(
	ingest *IngestHandler,
	devices *DeviceHandler,
	events *TelemetryHandler,
	assignments *AssignmentHandler,
	m *metrics.Metrics,
) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())

	// Device-facing push endpoint, same contract as the firmware posts
	r.Post("/iot/ingest", ingest.Push)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/devices", devices.List)
		r.Post("/devices/reconcile", devices.ReconcileAll)
		r.Get("/devices/{deviceID}", devices.Get)
		r.Post("/devices/{deviceID}/reconcile", devices.Reconcile)
		r.Post("/devices/{deviceID}/command", devices.Command)

		r.Get("/events", events.Events)
		r.Get("/usage", events.Usage)
		r.Post("/usage/rebuild", events.RebuildUsage)
		r.Post("/reset", events.Reset)

		r.Post("/outlets", assignments.CreateOutlet)
		r.Get("/outlets", assignments.ListOutlets)
		r.Post("/machines", assignments.CreateMachine)
		r.Get("/machines", assignments.ListMachines)
		r.Get("/machines/{machineID}/assignments", assignments.Assignments)
		r.Post("/machines/{machineID}/assign", assignments.Assign)
		r.Post("/machines/{machineID}/reassign", assignments.Reassign)
		r.Post("/assignments/{assignmentID}/deactivate", assignments.Deactivate)
	})

	return r
}
