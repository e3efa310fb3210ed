package handlers

import (
	"context"
	"fmt"

	"github.com/cartena/order-system/shared/events"
	"github.com/cartena/order-system/shared/saga"
)

// OrderEventHandlers wires incoming events into the saga machinery: order
// creation events drive the orchestrator forward, credit ledger replies are
// routed to the saga step waiting on them.
type OrderEventHandlers struct {
	orchestrator *saga.Orchestrator
	replyRouter  *saga.ReplyRouter
}

// NewOrderEventHandlers creates new order event handlers
func NewOrderEventHandlers(
	orchestrator *saga.Orchestrator,
	replyRouter *saga.ReplyRouter,
) *OrderEventHandlers {
	return &OrderEventHandlers{
		orchestrator: orchestrator,
		replyRouter:  replyRouter,
	}
}

// Handle implements the events.EventHandler interface
func (h *OrderEventHandlers) Handle(ctx context.Context, event *events.Event) error {
	switch event.EventType {
	case events.OrderCreatedEvent:
		return h.HandleOrderCreated(ctx, event)
	case events.CreditReservedEvent, events.CreditLimitExceededEvent,
		events.CreditReleasedEvent, events.CustomerNotFoundEvent:
		return h.replyRouter.Dispatch(ctx, event)
	default:
		// Unknown event type, ignore
		return nil
	}
}

// HandlerID returns the unique identifier for this event handler
func (h *OrderEventHandlers) HandlerID() string {
	return "order-service-event-handler"
}

// HandleOrderCreated resumes the order's saga. Redeliveries resume an
// instance that is already terminal and return without acting.
func (h *OrderEventHandlers) HandleOrderCreated(ctx context.Context, event *events.Event) error {
	sagaID := event.CorrelationID
	if sagaID == "" {
		sagaID = event.AggregateID
	}

	if err := h.orchestrator.Resume(ctx, sagaID); err != nil {
		fmt.Printf("Failed to run saga for order %s: %v\n", sagaID, err)
		return err
	}

	return nil
}
