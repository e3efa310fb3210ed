package application

import (
	"context"

	"github.com/cartena/order-system/order-service/domain"
	"github.com/cartena/order-system/shared/events"
	"github.com/cartena/order-system/shared/models"
	"github.com/cartena/order-system/shared/saga"
	"github.com/cartena/order-system/shared/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// CreateOrderCommand represents the command to create an order
type CreateOrderCommand struct {
	CustomerID string `json:"customer_id"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
}

// CreateOrderResponse represents the response after creating an order
type CreateOrderResponse struct {
	OrderID string `json:"order_id"`
	State   string `json:"state"`
}

// CreateOrder use case. The order is persisted in PENDING and its saga
// instance is opened with the creation step already on record; the
// published creation event then drives the saga forward asynchronously.
type CreateOrder struct {
	orderRepository domain.OrderRepository
	orchestrator    *saga.Orchestrator
	eventPublisher  events.Publisher
}

// NewCreateOrder creates a new CreateOrder use case
func NewCreateOrder(
	orderRepository domain.OrderRepository,
	orchestrator *saga.Orchestrator,
	eventPublisher events.Publisher,
) *CreateOrder {
	return &CreateOrder{
		orderRepository: orderRepository,
		orchestrator:    orchestrator,
		eventPublisher:  eventPublisher,
	}
}

// Execute creates a new order and opens its processing saga
func (uc *CreateOrder) Execute(ctx context.Context, cmd *CreateOrderCommand) (*CreateOrderResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "create_order",
		trace.WithAttributes(
			attribute.String("customer_id", cmd.CustomerID),
			attribute.Int64("amount", cmd.Amount),
		),
	)
	defer span.End()

	if err := uc.validateCommand(cmd); err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "invalid command")
	}

	customerID, err := models.NewID(cmd.CustomerID)
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "invalid customer ID")
	}

	order, err := domain.CreateOrder(customerID, models.NewMoney(cmd.Amount, cmd.Currency))
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "failed to create order")
	}

	if err := uc.orderRepository.Save(ctx, order); err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "failed to save order")
	}

	instance := saga.NewInstance(order.ID, OrderProcessingSagaName)
	instance.MarkCompleted(StepCreateOrder)
	if err := uc.orchestrator.Open(ctx, instance); err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "failed to open saga instance")
	}

	if err := uc.eventPublisher.Publish(ctx, order.Events()...); err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "failed to publish events")
	}
	order.ClearEvents()

	telemetry.RecordCounter(ctx, "orders_created_total", "Total orders created", 1)

	return &CreateOrderResponse{
		OrderID: order.ID.String(),
		State:   string(order.State),
	}, nil
}

func (uc *CreateOrder) validateCommand(cmd *CreateOrderCommand) error {
	if cmd.CustomerID == "" {
		return errors.New("customer ID is required")
	}

	if cmd.Amount <= 0 {
		return errors.New("amount must be positive")
	}

	if cmd.Currency == "" {
		return errors.New("currency is required")
	}

	return nil
}
