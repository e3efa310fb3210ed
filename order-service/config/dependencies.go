package config

import (
	"context"
	"fmt"
	"log"

	"github.com/cartena/order-system/order-service/application"
	"github.com/cartena/order-system/order-service/domain"
	"github.com/cartena/order-system/order-service/handlers"
	"github.com/cartena/order-system/order-service/infrastructure"
	sharedinfra "github.com/cartena/order-system/shared/infrastructure"
	"github.com/cartena/order-system/shared/saga"
	"github.com/cartena/order-system/shared/telemetry"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Dependencies struct {
	// Database
	DB *sqlx.DB

	// Repositories
	OrderRepository domain.OrderRepository
	SagaStore       saga.Store

	// Saga machinery
	ReplyRouter  *saga.ReplyRouter
	Orchestrator *saga.Orchestrator
	SagaMetrics  *saga.Metrics

	// Use Cases
	CreateOrder  *application.CreateOrder
	GetOrder     *application.GetOrder
	ApproveOrder *application.ApproveOrder
	RejectOrder  *application.RejectOrder

	// HTTP Handlers
	OrderHandlers *handlers.OrderHandlers

	// Event Handlers
	OrderEventHandlers *handlers.OrderEventHandlers

	// Infrastructure
	EventPublisher  *sharedinfra.SNSPublisherAdapter
	EventSubscriber *sharedinfra.SQSSubscriberAdapter

	// Telemetry
	Telemetry         *telemetry.Telemetry
	TelemetryShutdown func()
}

func BuildDependencies(ctx context.Context, config *Config) (*Dependencies, error) {
	deps := &Dependencies{}

	// Initialize telemetry first
	if config.Telemetry.Enabled {
		telConfig := telemetry.OrderServiceConfig.WithOTLPEndpoint(config.Telemetry.OTLPEndpoint)
		tel, telemetryShutdown, err := telemetry.InitTelemetry(ctx, telConfig)
		if err != nil {
			log.Printf("Failed to initialize telemetry: %v", err)
			// Continue without telemetry rather than failing
		} else {
			deps.Telemetry = tel
			deps.TelemetryShutdown = telemetryShutdown
		}
	}

	// Initialize repositories
	switch config.Storage {
	case "memory":
		deps.OrderRepository = infrastructure.NewMemoryOrderRepository()
		deps.SagaStore = saga.NewMemoryStore()
	default:
		db, err := sqlx.Connect("postgres", config.GetDatabaseURL())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		deps.DB = db
		deps.OrderRepository = infrastructure.NewPostgresOrderRepository(db)
		deps.SagaStore = sharedinfra.NewPostgresSagaStore(db)
	}

	// Initialize AWS infrastructure
	eventPublisher, err := sharedinfra.NewSNSPublisherAdapter(config.AWS.SNSTopicArn)
	if err != nil {
		return nil, fmt.Errorf("failed to create SNS publisher: %w", err)
	}
	deps.EventPublisher = eventPublisher

	eventSubscriber, err := sharedinfra.NewSQSSubscriberAdapter(config.AWS.SQSQueueURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQS subscriber: %w", err)
	}
	deps.EventSubscriber = eventSubscriber

	// Initialize use cases
	deps.GetOrder = application.NewGetOrder(deps.OrderRepository)
	deps.ApproveOrder = application.NewApproveOrder(deps.OrderRepository, eventPublisher)
	deps.RejectOrder = application.NewRejectOrder(deps.OrderRepository, eventPublisher)

	// Initialize saga machinery
	deps.ReplyRouter = saga.NewReplyRouter()
	deps.SagaMetrics = saga.NewMetrics()

	creditGateway := infrastructure.NewRemoteCreditGateway(eventPublisher, deps.ReplyRouter, config.Saga.ReplyTimeout)
	definition := application.NewOrderProcessingSaga(deps.OrderRepository, creditGateway, deps.ApproveOrder, deps.RejectOrder)

	retry := saga.DefaultRetryConfig()
	if config.Saga.MaxAttempts > 0 {
		retry.MaxAttempts = config.Saga.MaxAttempts
	}
	deps.Orchestrator = saga.NewOrchestrator(definition, deps.SagaStore, eventPublisher, retry, deps.SagaMetrics)

	// CreateOrder opens saga instances through the orchestrator, so it is
	// built after the saga machinery.
	deps.CreateOrder = application.NewCreateOrder(deps.OrderRepository, deps.Orchestrator, eventPublisher)

	// Initialize handlers
	deps.OrderHandlers = handlers.NewOrderHandlers(deps.CreateOrder, deps.GetOrder)
	deps.OrderEventHandlers = handlers.NewOrderEventHandlers(deps.Orchestrator, deps.ReplyRouter)

	return deps, nil
}

// Close closes all dependencies
func (d *Dependencies) Close() error {
	var errs []error

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}

	if d.EventPublisher != nil {
		if err := d.EventPublisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close event publisher: %w", err))
		}
	}

	if d.EventSubscriber != nil {
		if err := d.EventSubscriber.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close event subscriber: %w", err))
		}
	}

	if d.TelemetryShutdown != nil {
		d.TelemetryShutdown()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing dependencies: %v", errs)
	}

	return nil
}
