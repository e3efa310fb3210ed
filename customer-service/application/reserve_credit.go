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

// Reservation outcomes reported back over the channel.
const (
	OutcomeReserved            = "reserved"
	OutcomeCreditLimitExceeded = "credit_limit_exceeded"
	OutcomeReleased            = "released"
	OutcomeAlreadyReleased     = "already_released"
)

// conflictRetries bounds reload-and-retry on optimistic lock conflicts.
// Two sagas reserving against the same customer race on its version row.
const (
	conflictRetries   = 5
	conflictBaseDelay = 10 * time.Millisecond
)

// ReserveCreditCommand represents the command to reserve credit for an order
type ReserveCreditCommand struct {
	CustomerID string `json:"customer_id"`
	OrderID    string `json:"order_id"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
}

// ReserveCreditResponse represents the reservation outcome
type ReserveCreditResponse struct {
	Outcome         string       `json:"outcome"`
	AvailableCredit models.Money `json:"available_credit"`
}

// ReserveCredit use case: the atomic check-then-insert of the credit ledger.
// Atomicity with respect to concurrent reservations on the same customer is
// enforced by the repository's optimistic version check plus a bounded
// reload-and-retry loop here.
type ReserveCredit struct {
	customerRepository domain.CustomerRepository
	eventPublisher     events.Publisher
}

// NewReserveCredit creates a new ReserveCredit use case
func NewReserveCredit(
	customerRepository domain.CustomerRepository,
	eventPublisher events.Publisher,
) *ReserveCredit {
	return &ReserveCredit{
		customerRepository: customerRepository,
		eventPublisher:     eventPublisher,
	}
}

// Execute reserves credit for an order. Duplicate deliveries for an order
// that already holds a reservation republish the original outcome without
// double-charging.
func (uc *ReserveCredit) Execute(ctx context.Context, cmd *ReserveCreditCommand) (*ReserveCreditResponse, error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "reserve_credit",
		trace.WithAttributes(
			attribute.String("customer_id", cmd.CustomerID),
			attribute.String("order_id", cmd.OrderID),
			attribute.Int64("amount", cmd.Amount),
		),
	)
	defer span.End()

	status := "error"
	defer func() {
		telemetry.RecordCounter(ctx, "credit_operations_total", "Total credit ledger operations", 1,
			attribute.String("operation", "reserve"),
			attribute.String("status", status),
		)
		telemetry.RecordHistogram(ctx, "credit_operation_duration_seconds", "Credit ledger operation duration", time.Since(start).Seconds(),
			attribute.String("operation", "reserve"),
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

	amount := models.NewMoney(cmd.Amount, cmd.Currency)

	delay := conflictBaseDelay
	for attempt := 0; attempt < conflictRetries; attempt++ {
		customer, err := uc.customerRepository.FindByID(ctx, customerID)
		if err != nil {
			span.RecordError(err)
			return nil, errors.Wrap(err, "failed to find customer")
		}

		if customer == nil {
			if pubErr := uc.publishCustomerNotFound(ctx, customerID, orderID); pubErr != nil {
				return nil, pubErr
			}
			return nil, domain.ErrCustomerNotFound
		}

		if customer.HasReservation(orderID) {
			status = OutcomeReserved
			return uc.replyReserved(ctx, customer, orderID)
		}

		reserveErr := customer.ReserveCredit(orderID, amount)
		if reserveErr != nil && !errors.Is(reserveErr, domain.ErrCreditLimitExceeded) {
			span.RecordError(reserveErr)
			return nil, errors.Wrap(reserveErr, "failed to reserve credit")
		}

		if errors.Is(reserveErr, domain.ErrCreditLimitExceeded) {
			// Business outcome, no state mutated: publish the recorded
			// rejection without saving.
			if err := uc.eventPublisher.Publish(ctx, customer.Events()...); err != nil {
				return nil, errors.Wrap(err, "failed to publish events")
			}
			customer.ClearEvents()

			status = OutcomeCreditLimitExceeded
			return &ReserveCreditResponse{
				Outcome:         OutcomeCreditLimitExceeded,
				AvailableCredit: customer.AvailableCredit(),
			}, nil
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

		status = OutcomeReserved
		return &ReserveCreditResponse{
			Outcome:         OutcomeReserved,
			AvailableCredit: customer.AvailableCredit(),
		}, nil
	}

	return nil, domain.ErrVersionConflict
}

// replyReserved republishes the reserved outcome for a duplicate delivery.
func (uc *ReserveCredit) replyReserved(ctx context.Context, customer *domain.Customer, orderID models.ID) (*ReserveCreditResponse, error) {
	event := events.NewEvent(customer.ID, events.CreditReservedEvent, domain.CreditReservedData{
		CustomerID:      customer.ID,
		OrderID:         orderID,
		Amount:          customer.Reservations[orderID],
		AvailableCredit: customer.AvailableCredit(),
	}).WithCorrelationID(orderID)

	if err := uc.eventPublisher.Publish(ctx, event); err != nil {
		return nil, errors.Wrap(err, "failed to publish events")
	}

	return &ReserveCreditResponse{
		Outcome:         OutcomeReserved,
		AvailableCredit: customer.AvailableCredit(),
	}, nil
}

func (uc *ReserveCredit) publishCustomerNotFound(ctx context.Context, customerID, orderID models.ID) error {
	event := events.NewEvent(customerID, events.CustomerNotFoundEvent, map[string]interface{}{
		"customer_id": customerID.String(),
		"order_id":    orderID.String(),
	}).WithCorrelationID(orderID)

	return errors.Wrap(uc.eventPublisher.Publish(ctx, event), "failed to publish customer not found event")
}

func (uc *ReserveCredit) validateCommand(cmd *ReserveCreditCommand) error {
	if cmd.CustomerID == "" {
		return errors.New("customer ID is required")
	}

	if cmd.OrderID == "" {
		return errors.New("order ID is required")
	}

	if cmd.Amount <= 0 {
		return errors.New("amount must be positive")
	}

	if cmd.Currency == "" {
		return errors.New("currency is required")
	}

	return nil
}
