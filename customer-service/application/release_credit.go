package application

import (
	"context"
	"time"

	"github.com/cartena/order-system/customer-service/domain"
	"github.com/cartena/order-system/shared/events"
	"github.com/cartena/order-system/shared/models"
	"github.com/cartena/order-system/shared/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ReleaseCreditCommand represents the command to release a credit reservation
type ReleaseCreditCommand struct {
	CustomerID string `json:"customer_id"`
	OrderID    string `json:"order_id"`
}

// ReleaseCreditResponse represents the release outcome
type ReleaseCreditResponse struct {
	Outcome         string       `json:"outcome"`
	AvailableCredit models.Money `json:"available_credit"`
}

// ReleaseCredit use case. Releasing is the compensation for a reservation,
// so an absent reservation is treated as already released rather than an
// error: the saga retries compensation until it gets a reply.
type ReleaseCredit struct {
	customerRepository domain.CustomerRepository
	eventPublisher     events.Publisher
}

// NewReleaseCredit creates a new ReleaseCredit use case
func NewReleaseCredit(
	customerRepository domain.CustomerRepository,
	eventPublisher events.Publisher,
) *ReleaseCredit {
	return &ReleaseCredit{
		customerRepository: customerRepository,
		eventPublisher:     eventPublisher,
	}
}

// Execute releases the reservation held for an order, if any
func (uc *ReleaseCredit) Execute(ctx context.Context, cmd *ReleaseCreditCommand) (*ReleaseCreditResponse, error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "release_credit",
		trace.WithAttributes(
			attribute.String("customer_id", cmd.CustomerID),
			attribute.String("order_id", cmd.OrderID),
		),
	)
	defer span.End()

	status := "error"
	defer func() {
		telemetry.RecordCounter(ctx, "credit_operations_total", "Total credit ledger operations", 1,
			attribute.String("operation", "release"),
			attribute.String("status", status),
		)
		telemetry.RecordHistogram(ctx, "credit_operation_duration_seconds", "Credit ledger operation duration", time.Since(start).Seconds(),
			attribute.String("operation", "release"),
		)
	}()

	if err := uc.validateCommand(cmd); err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "invalid command")
	}

	customerID, err := models.NewID(cmd.CustomerID)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "invalid customer ID")
	}

	orderID, err := models.NewID(cmd.OrderID)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "invalid order ID")
	}

	delay := conflictBaseDelay
	for attempt := 0; attempt < conflictRetries; attempt++ {
		customer, err := uc.customerRepository.FindByID(ctx, customerID)
		if err != nil {
			span.RecordError(err)
			return nil, errors.Wrap(err, "failed to find customer")
		}

		if customer == nil {
			return nil, domain.ErrCustomerNotFound
		}

		if !customer.HasReservation(orderID) {
			status = OutcomeAlreadyReleased
			return uc.replyReleased(ctx, customer, orderID)
		}

		if err := customer.ReleaseCredit(orderID); err != nil {
			span.RecordError(err)
			return nil, errors.Wrap(err, "failed to release credit")
		}

		if err := uc.customerRepository.Save(ctx, customer); err != nil {
			if domain.IsVersionConflict(err) && attempt < conflictRetries-1 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				delay *= 2
				continue
			}
			span.RecordError(err)
			return nil, errors.Wrap(err, "failed to save customer")
		}

		if err := uc.eventPublisher.Publish(ctx, customer.Events()...); err != nil {
			return nil, errors.Wrap(err, "failed to publish events")
		}
		customer.ClearEvents()

		status = OutcomeReleased
		return &ReleaseCreditResponse{
			Outcome:         OutcomeReleased,
			AvailableCredit: customer.AvailableCredit(),
		}, nil
	}

	return nil, domain.ErrVersionConflict
}

// replyReleased confirms a release that already happened, so a retried
// compensation still receives its reply.
func (uc *ReleaseCredit) replyReleased(ctx context.Context, customer *domain.Customer, orderID models.ID) (*ReleaseCreditResponse, error) {
	event := events.NewEvent(customer.ID, events.CreditReleasedEvent, domain.CreditReleasedData{
		CustomerID:      customer.ID,
		OrderID:         orderID,
		Amount:          models.NewMoney(0, customer.CreditLimit.Currency),
		AvailableCredit: customer.AvailableCredit(),
	}).WithCorrelationID(orderID)

	if err := uc.eventPublisher.Publish(ctx, event); err != nil {
		return nil, errors.Wrap(err, "failed to publish events")
	}

	return &ReleaseCreditResponse{
		Outcome:         OutcomeAlreadyReleased,
		AvailableCredit: customer.AvailableCredit(),
	}, nil
}

func (uc *ReleaseCredit) validateCommand(cmd *ReleaseCreditCommand) error {
	if cmd.CustomerID == "" {
		return errors.New("customer ID is required")
	}

	if cmd.OrderID == "" {
		return errors.New("order ID is required")
	}

	return nil
}
