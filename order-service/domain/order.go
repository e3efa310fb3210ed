package domain

import (
	"context"
	"time"

	"github.com/cartena/order-system/shared/events"
	"github.com/cartena/order-system/shared/models"
	"github.com/pkg/errors"
)

// OrderState represents the lifecycle state of an order
type OrderState string

const (
	OrderStatePending  OrderState = "PENDING"
	OrderStateApproved OrderState = "APPROVED"
	OrderStateRejected OrderState = "REJECTED"
)

// IsTerminal reports whether the state has no outgoing transitions.
func (s OrderState) IsTerminal() bool {
	return s == OrderStateApproved || s == OrderStateRejected
}

var (
	// ErrInvalidTransition is returned for transitions out of a terminal
	// state that do not repeat the terminal outcome.
	ErrInvalidTransition = errors.New("invalid order state transition")
	// ErrOrderNotFound is a permanent fault: the referenced order does not
	// exist.
	ErrOrderNotFound = errors.New("order not found")
	// ErrVersionConflict signals a concurrent modification detected by the
	// optimistic version check. Retryable after reloading.
	ErrVersionConflict = errors.New("order version conflict")
)

// IsVersionConflict reports whether err is an optimistic locking conflict.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// Order aggregate root. PENDING is the only non-terminal state; APPROVED
// and REJECTED are sticky.
type Order struct {
	ID              models.ID    `json:"id"`
	CustomerID      models.ID    `json:"customer_id"`
	Amount          models.Money `json:"amount"`
	State           OrderState   `json:"state"`
	RejectionReason string       `json:"rejection_reason,omitempty"`
	Timestamps      models.Timestamps
	Version         models.Version

	events []*events.Event
}

// CreateOrder factory method
func CreateOrder(customerID models.ID, amount models.Money) (*Order, error) {
	if customerID == "" {
		return nil, errors.New("customer ID is required")
	}
	if !amount.IsPositive() {
		return nil, errors.New("amount must be positive")
	}

	order := &Order{
		ID:         models.GenerateUUID(),
		CustomerID: customerID,
		Amount:     amount,
		State:      OrderStatePending,
		Timestamps: models.NewTimestamps(),
		Version:    models.NewVersion(),
	}

	event := events.NewEvent(order.ID, events.OrderCreatedEvent, OrderCreatedData{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Amount:     order.Amount,
	}).WithCorrelationID(order.ID)

	order.recordEvent(event)
	return order, nil
}

// Approve transitions PENDING to APPROVED. Approving an already-approved
// order is an idempotent no-op; approving a rejected order is invalid.
func (o *Order) Approve() error {
	switch o.State {
	case OrderStateApproved:
		return nil
	case OrderStateRejected:
		return ErrInvalidTransition
	}

	o.State = OrderStateApproved
	o.Timestamps = o.Timestamps.Update()
	o.Version = o.Version.Update()

	event := events.NewEvent(o.ID, events.OrderApprovedEvent, OrderApprovedData{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Amount:     o.Amount,
		ApprovedAt: time.Now(),
	}).WithCorrelationID(o.ID)

	o.recordEvent(event)
	return nil
}

// Reject transitions PENDING to REJECTED and records the reason. Repeating
// a rejection with the same reason is an idempotent no-op; rejecting an
// approved order, or re-rejecting with a different reason, is invalid.
func (o *Order) Reject(reason string) error {
	switch o.State {
	case OrderStateApproved:
		return ErrInvalidTransition
	case OrderStateRejected:
		if o.RejectionReason == reason {
			return nil
		}
		return ErrInvalidTransition
	}

	o.State = OrderStateRejected
	o.RejectionReason = reason
	o.Timestamps = o.Timestamps.Update()
	o.Version = o.Version.Update()

	event := events.NewEvent(o.ID, events.OrderRejectedEvent, OrderRejectedData{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Amount:     o.Amount,
		Reason:     reason,
		RejectedAt: time.Now(),
	}).WithCorrelationID(o.ID)

	o.recordEvent(event)
	return nil
}

// Events returns domain events
func (o *Order) Events() []*events.Event {
	return o.events
}

// ClearEvents clears domain events
func (o *Order) ClearEvents() {
	o.events = make([]*events.Event, 0)
}

// recordEvent records a domain event
func (o *Order) recordEvent(event *events.Event) {
	o.events = append(o.events, event)
}

// Event Data Structures
type OrderCreatedData struct {
	OrderID    models.ID    `json:"order_id"`
	CustomerID models.ID    `json:"customer_id"`
	Amount     models.Money `json:"amount"`
}

type OrderApprovedData struct {
	OrderID    models.ID    `json:"order_id"`
	CustomerID models.ID    `json:"customer_id"`
	Amount     models.Money `json:"amount"`
	ApprovedAt time.Time    `json:"approved_at"`
}

type OrderRejectedData struct {
	OrderID    models.ID    `json:"order_id"`
	CustomerID models.ID    `json:"customer_id"`
	Amount     models.Money `json:"amount"`
	Reason     string       `json:"reason"`
	RejectedAt time.Time    `json:"rejected_at"`
}

// OrderRepository interface. Save must fail with ErrVersionConflict when
// the order was concurrently modified since it was loaded.
type OrderRepository interface {
	Save(ctx context.Context, order *Order) error
	FindByID(ctx context.Context, id models.ID) (*Order, error)
}
