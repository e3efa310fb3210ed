package handlers

import (
	"context"
	"fmt"

	"github.com/cartena/order-system/customer-service/application"
	"github.com/cartena/order-system/customer-service/domain"
	"github.com/cartena/order-system/shared/events"
	"github.com/pkg/errors"
)

// CustomerEventHandlers contains event handlers for customer service
type CustomerEventHandlers struct {
	reserveCredit *application.ReserveCredit
	releaseCredit *application.ReleaseCredit
}

// NewCustomerEventHandlers creates new customer event handlers
func NewCustomerEventHandlers(
	reserveCredit *application.ReserveCredit,
	releaseCredit *application.ReleaseCredit,
) *CustomerEventHandlers {
	return &CustomerEventHandlers{
		reserveCredit: reserveCredit,
		releaseCredit: releaseCredit,
	}
}

// Handle implements the events.EventHandler interface
func (h *CustomerEventHandlers) Handle(ctx context.Context, event *events.Event) error {
	switch event.EventType {
	case events.ReserveCreditCommand:
		return h.HandleReserveCreditRequest(ctx, event)
	case events.ReleaseCreditCommand:
		return h.HandleReleaseCreditRequest(ctx, event)
	default:
		// Unknown event type, ignore
		return nil
	}
}

// HandlerID returns the unique identifier for this event handler
func (h *CustomerEventHandlers) HandlerID() string {
	return "customer-service-event-handler"
}

// HandleReserveCreditRequest handles credit reservation requests. Business
// outcomes (limit exceeded, customer not found) are replied over the channel
// and acknowledged here so the delivery is not retried.
func (h *CustomerEventHandlers) HandleReserveCreditRequest(ctx context.Context, event *events.Event) error {
	data, ok := event.Data.(map[string]interface{})
	if !ok {
		return errors.New("invalid event data")
	}

	customerID, ok := data["customer_id"].(string)
	if !ok {
		return errors.New("customer_id is required")
	}

	orderID, ok := data["order_id"].(string)
	if !ok {
		return errors.New("order_id is required")
	}

	amount, ok := data["amount"].(float64)
	if !ok {
		return errors.New("amount is required")
	}

	currency, ok := data["currency"].(string)
	if !ok {
		return errors.New("currency is required")
	}

	cmd := &application.ReserveCreditCommand{
		CustomerID: customerID,
		OrderID:    orderID,
		Amount:     int64(amount),
		Currency:   currency,
	}

	_, err := h.reserveCredit.Execute(ctx, cmd)
	if err != nil {
		if errors.Is(err, domain.ErrCustomerNotFound) {
			return nil
		}
		fmt.Printf("Failed to reserve credit for order %s: %v\n", orderID, err)
		return err
	}

	return nil
}

// HandleReleaseCreditRequest handles credit release requests
func (h *CustomerEventHandlers) HandleReleaseCreditRequest(ctx context.Context, event *events.Event) error {
	data, ok := event.Data.(map[string]interface{})
	if !ok {
		return errors.New("invalid event data")
	}

	customerID, ok := data["customer_id"].(string)
	if !ok {
		return errors.New("customer_id is required")
	}

	orderID, ok := data["order_id"].(string)
	if !ok {
		return errors.New("order_id is required")
	}

	cmd := &application.ReleaseCreditCommand{
		CustomerID: customerID,
		OrderID:    orderID,
	}

	_, err := h.releaseCredit.Execute(ctx, cmd)
	if err != nil {
		if errors.Is(err, domain.ErrCustomerNotFound) {
			return nil
		}
		fmt.Printf("Failed to release credit for order %s: %v\n", orderID, err)
		return err
	}

	return nil
}
