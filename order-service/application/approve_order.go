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

const (
	conflictRetries   = 5
	conflictBaseDelay = 10 * time.Millisecond
)

// ApproveOrderCommand represents the command to approve an order
type ApproveOrderCommand struct {
	OrderID string `json:"order_id"`
}

// ApproveOrderResponse represents the response after approving an order
type ApproveOrderResponse struct {
	OrderID string `json:"order_id"`
	State   string `json:"state"`
}

// ApproveOrder use case. Approving an already approved order is a no-op so
// redelivered approvals converge on the same terminal state.
type ApproveOrder struct {
	orderRepository domain.OrderRepository
	eventPublisher  events.Publisher
}

// NewApproveOrder creates a new ApproveOrder use case
func NewApproveOrder(
	orderRepository domain.OrderRepository,
	eventPublisher events.Publisher,
) *ApproveOrder {
	return &ApproveOrder{
		orderRepository: orderRepository,
		eventPublisher:  eventPublisher,
	}
}

// Execute transitions the order to APPROVED
func (uc *ApproveOrder) Execute(ctx context.Context, cmd *ApproveOrderCommand) (*ApproveOrderResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "approve_order",
		trace.WithAttributes(attribute.String("order_id", cmd.OrderID)),
	)
	defer span.End()

	if cmd.OrderID == "" {
		return nil, errors.New("order ID is required")
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

		if err := order.Approve(); err != nil {
			span.RecordError(err)
			return nil, errors.Wrap(err, "failed to approve order")
		}

		if alreadyTerminal {
			return &ApproveOrderResponse{
				OrderID: order.ID.String(),
				State:   string(order.State),
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

		telemetry.RecordCounter(ctx, "orders_approved_total", "Total orders approved", 1)

		return &ApproveOrderResponse{
			OrderID: order.ID.String(),
			State:   string(order.State),
		}, nil
	}

	return nil, domain.ErrVersionConflict
}
