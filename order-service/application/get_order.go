package application

import (
	"context"
	"time"

	"github.com/cartena/order-system/order-service/domain"
	"github.com/cartena/order-system/shared/models"
	"github.com/pkg/errors"
)

// GetOrderQuery represents the query to get an order
type GetOrderQuery struct {
	OrderID string `json:"order_id"`
}

// GetOrderResponse represents the order details
type GetOrderResponse struct {
	OrderID         string       `json:"order_id"`
	CustomerID      string       `json:"customer_id"`
	Amount          models.Money `json:"amount"`
	State           string       `json:"state"`
	RejectionReason string       `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// GetOrder use case
type GetOrder struct {
	orderRepository domain.OrderRepository
}

// NewGetOrder creates a new GetOrder use case
func NewGetOrder(orderRepository domain.OrderRepository) *GetOrder {
	return &GetOrder{orderRepository: orderRepository}
}

// Execute retrieves an order by ID
func (uc *GetOrder) Execute(ctx context.Context, query *GetOrderQuery) (*GetOrderResponse, error) {
	if query.OrderID == "" {
		return nil, errors.New("order ID is required")
	}

	orderID, err := models.NewID(query.OrderID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid order ID")
	}

	order, err := uc.orderRepository.FindByID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find order")
	}

	if order == nil {
		return nil, domain.ErrOrderNotFound
	}

	return &GetOrderResponse{
		OrderID:         order.ID.String(),
		CustomerID:      order.CustomerID.String(),
		Amount:          order.Amount,
		State:           string(order.State),
		RejectionReason: order.RejectionReason,
		CreatedAt:       order.Timestamps.CreatedAt,
		UpdatedAt:       order.Timestamps.UpdatedAt,
	}, nil
}
