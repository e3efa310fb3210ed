package config

import (
	"context"
	"fmt"
	"log"

	"github.com/cartena/order-system/customer-service/application"
	"github.com/cartena/order-system/customer-service/domain"
	"github.com/cartena/order-system/customer-service/handlers"
	"github.com/cartena/order-system/customer-service/infrastructure"
	sharedinfra "github.com/cartena/order-system/shared/infrastructure"
	"github.com/cartena/order-system/shared/telemetry"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Dependencies struct {
	// Database
	DB *sqlx.DB

	// Repositories
	CustomerRepository domain.CustomerRepository

	// Use Cases
	CreateCustomer *application.CreateCustomer
	GetCustomer    *application.GetCustomer
	ReserveCredit  *application.ReserveCredit
	ReleaseCredit  *application.ReleaseCredit

	// HTTP Handlers
	CustomerHandlers *handlers.CustomerHandlers

	// Event Handlers
	CustomerEventHandlers *handlers.CustomerEventHandlers

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
		telConfig := telemetry.CustomerServiceConfig.WithOTLPEndpoint(config.Telemetry.OTLPEndpoint)
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
		deps.CustomerRepository = infrastructure.NewMemoryCustomerRepository()
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
		deps.CustomerRepository = infrastructure.NewPostgresCustomerRepository(db)
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
	deps.CreateCustomer = application.NewCreateCustomer(deps.CustomerRepository, eventPublisher)
	deps.GetCustomer = application.NewGetCustomer(deps.CustomerRepository)
	deps.ReserveCredit = application.NewReserveCredit(deps.CustomerRepository, eventPublisher)
	deps.ReleaseCredit = application.NewReleaseCredit(deps.CustomerRepository, eventPublisher)

	// Initialize handlers
	deps.CustomerHandlers = handlers.NewCustomerHandlers(deps.CreateCustomer, deps.GetCustomer)
	deps.CustomerEventHandlers = handlers.NewCustomerEventHandlers(deps.ReserveCredit, deps.ReleaseCredit)

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
