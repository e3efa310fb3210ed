package application

import (
	"context"
	"time"

	"github.com/cartena/order-system/order-service/domain"
	"github.com/cartena/order-system/shared/events"
	"github.com/cartena/order-system/shared/models"
	"github.com/cartena/order-system/shared/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RejectOrderCommand represents the command to reject an order
type RejectOrderCommand struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

// RejectOrderResponse represents the response after rejecting an order
type RejectOrderResponse struct {
	OrderID string `json:"order_id"`
	State   string `json:"state"`
	Reason  string `json:"reason"`
}

// RejectOrder use case. Rejecting an already rejected order with the same
// reason is a no-op; any other transition out of a terminal state fails.
type RejectOrder struct {
	orderRepository domain.OrderRepository
	eventPublisher  events.Publisher
}

// NewRejectOrder creates a new RejectOrder use case
func NewRejectOrder(
	orderRepository domain.OrderRepository,
	eventPublisher events.Publisher,
) *RejectOrder {
	return &RejectOrder{
		orderRepository: orderRepository,
		eventPublisher:  eventPublisher,
	}
}

// Execute transitions the order to REJECTED with the given reason
func (uc *RejectOrder) Execute(ctx context.Context, cmd *RejectOrderCommand) (*RejectOrderResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "reject_order",
		trace.WithAttributes(
			attribute.String("order_id", cmd.OrderID),
			attribute.String("reason", cmd.Reason),
		),
	)
	defer span.End()

	if cmd.OrderID == "" {
		return nil, errors.New("order ID is required")
	}

	if cmd.Reason == "" {
		return nil, errors.New("reason is required")
	}

	orderID, err := models.NewID(cmd.OrderID)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "invalid order ID")
	}

	delay := conflictBaseDelay
	for attempt := 0; attempt < conflictRetries; attempt++ {
		order, err := uc.orderRepository.FindByID(ctx, orderID)
		if err != nil {
			span.RecordError(err)
			return nil, errors.Wrap(err, "failed to find order")
		}

		if order == nil {
			return nil, domain.ErrOrderNotFound
		}

		alreadyTerminal := order.State.IsTerminal()

		if err := order.Reject(cmd.Reason); err != nil {
			span.RecordError(err)
			return nil, errors.Wrap(err, "failed to reject order")
		}

		if alreadyTerminal {
			return &RejectOrderResponse{
				OrderID: order.ID.String(),
				State:   string(order.State),
				Reason:  order.RejectionReason,
			}, nil
		}

		if err := uc.orderRepository.Save(ctx, order); err != nil {
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
			return nil, errors.Wrap(err, "failed to save order")
		}

		if err := uc.eventPublisher.Publish(ctx, order.Events()...); err != nil {
			return nil, errors.Wrap(err, "failed to publish events")
		}
		order.ClearEvents()

		telemetry.RecordCounter(ctx, "orders_rejected_total", "Total orders rejected", 1,
			attribute.String("reason", cmd.Reason),
		)

		return &RejectOrderResponse{
			OrderID: order.ID.String(),
			State:   string(order.State),
			Reason:  order.RejectionReason,
		}, nil
	}

	return nil, domain.ErrVersionConflict
}
