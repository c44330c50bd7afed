package main

import (
	"context"
	"net/http"

	"github.com/ozonworks/outlet-telemetry-worker/internal/config"
	"github.com/ozonworks/outlet-telemetry-worker/internal/db"
	"github.com/ozonworks/outlet-telemetry-worker/internal/httpapi"
	"github.com/ozonworks/outlet-telemetry-worker/internal/metrics"
	"github.com/ozonworks/outlet-telemetry-worker/internal/mq"
	"github.com/ozonworks/outlet-telemetry-worker/internal/repository"
	"github.com/ozonworks/outlet-telemetry-worker/internal/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func startWorker(
	lc fx.Lifecycle,
	conn *mq.Connection,
	cfg *config.Config,
	logger *zap.Logger,
	handler *mq.ReportHandler,
	router http.Handler,
) (*mq.Consumer, error) {
	// Create context for consumer that will be cancelled on shutdown
	ctx, cancel := context.WithCancel(context.Background())

	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection: conn,
		Queue:      cfg.RabbitMQ.TelemetryQueue,
		DLQQueue:   cfg.RabbitMQ.DLQQueue,
		Exchange:   cfg.RabbitMQ.TelemetryExchange,
		BindingKeys: []string{
			cfg.RabbitMQ.StatusBindingKey,
			cfg.RabbitMQ.EventBindingKey,
		},
		PrefetchCount:    cfg.RabbitMQ.PrefetchCount,
		Logger:           logger,
		MessageProcessor: handler.Handle,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	// Register lifecycle hooks
	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			logger.Info("starting worker consumer",
				zap.String("queue", cfg.RabbitMQ.TelemetryQueue),
				zap.Int("prefetch", cfg.RabbitMQ.PrefetchCount))
			return consumer.Start(ctx)
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close consumer", zap.Error(err))
				return err
			}
			logger.Info("worker stopped gracefully")
			return nil
		},
	})

	// The HTTP transport shares the same ingest coordinator as the consumer
	httpapi.NewServer(lc, cfg.HTTPAddr, router, logger)

	return consumer, nil
}

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*db.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}

// ProvideStatusStore creates the device status repository
func ProvideStatusStore(pool *db.Pool) service.StatusStore {
	return repository.NewStatusRepo(pool)
}

// ProvideEventLedger creates the event ledger repository
func ProvideEventLedger(pool *db.Pool) service.EventLedger {
	return repository.NewLedgerRepo(pool)
}

// ProvideUsageStore creates the daily usage repository
func ProvideUsageStore(pool *db.Pool) service.UsageStore {
	return repository.NewUsageRepo(pool)
}

// ProvideAssignmentStore creates the assignment repository
func ProvideAssignmentStore(pool *db.Pool) service.AssignmentStore {
	return repository.NewAssignmentRepo(pool)
}

// ProvideStatusRegister creates the device status register
func ProvideStatusRegister(store service.StatusStore, ledger service.EventLedger, logger *zap.Logger) *service.StatusRegister {
	return service.NewStatusRegister(store, ledger, logger)
}

// ProvideUsageAggregator creates the daily usage aggregator
func ProvideUsageAggregator(ledger service.EventLedger, usage service.UsageStore, cfg *config.Config, logger *zap.Logger) *service.UsageAggregator {
	return service.NewUsageAggregator(ledger, usage, cfg.Site.Timezone, logger)
}

// ProvideIngestService creates the ingest coordinator
func ProvideIngestService(status *service.StatusRegister, ledger service.EventLedger, aggregator *service.UsageAggregator, cfg *config.Config, logger *zap.Logger) *service.IngestService {
	return service.NewIngestService(status, ledger, aggregator, cfg.Site.Timezone, logger)
}

// ProvideAssignmentService creates the assignment registry service
func ProvideAssignmentService(store service.AssignmentStore, logger *zap.Logger) *service.AssignmentService {
	return service.NewAssignmentService(store, logger)
}

// ProvideMetrics creates the prometheus metric set
func ProvideMetrics() *metrics.Metrics {
	return metrics.New()
}

// ProvideMQConnection creates a new RabbitMQ connection instance
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvideCommandPublisher creates the device command publisher
func ProvideCommandPublisher(conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.CommandPublisher, error) {
	return mq.NewCommandPublisher(conn, cfg.RabbitMQ.CommandExchange, logger)
}

// ProvideReportHandler creates the MQ report handler
func ProvideReportHandler(ingest *service.IngestService, m *metrics.Metrics, logger *zap.Logger) *mq.ReportHandler {
	return mq.NewReportHandler(ingest, m, logger)
}

// ProvideRouter assembles the HTTP handler tree
func ProvideRouter(
	ingest *service.IngestService,
	status *service.StatusRegister,
	aggregator *service.UsageAggregator,
	assignments *service.AssignmentService,
	publisher *mq.CommandPublisher,
	m *metrics.Metrics,
	cfg *config.Config,
	logger *zap.Logger,
) http.Handler {
	return httpapi.NewRouter(
		httpapi.NewIngestHandler(ingest, m, logger),
		httpapi.NewDeviceHandler(status, assignments, publisher, logger),
		httpapi.NewTelemetryHandler(ingest, aggregator, cfg.Site.Timezone, logger),
		httpapi.NewAssignmentHandler(assignments, logger),
		m,
	)
}
