package domain

import (
	"testing"

	"github.com/cartena/order-system/shared/events"
	"github.com/cartena/order-system/shared/models"
	"github.com/stretchr/testify/assert"
)

func TestCreateOrder(t *testing.T) {
	tests := []struct {
		name          string
		customerID    models.ID
		amount        models.Money
		expectedError string
	}{
		{
			name:       "valid order",
			customerID: models.GenerateUUID(),
			amount:     models.NewMoney(5000, "USD"),
		},
		{
			name:          "empty customer ID",
			customerID:    "",
			amount:        models.NewMoney(5000, "USD"),
			expectedError: "customer ID is required",
		},
		{
			name:          "zero amount",
			customerID:    models.GenerateUUID(),
			amount:        models.NewMoney(0, "USD"),
			expectedError: "amount must be positive",
		},
		{
			name:          "negative amount",
			customerID:    models.GenerateUUID(),
			amount:        models.NewMoney(-100, "USD"),
			expectedError: "amount must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, err := CreateOrder(tt.customerID, tt.amount)

			if tt.expectedError != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
				assert.Nil(t, order)
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, OrderStatePending, order.State)
			assert.Equal(t, 1, order.Version.Value)

			assert.Len(t, order.Events(), 1)
			assert.Equal(t, events.OrderCreatedEvent, order.Events()[0].EventType)
			assert.Equal(t, order.ID, order.Events()[0].CorrelationID)
		})
	}
}

func TestOrder_Approve(t *testing.T) {
	t.Run("pending order is approved", func(t *testing.T) {
		order := newTestOrder(t)

		err := order.Approve()

		assert.NoError(t, err)
		assert.Equal(t, OrderStateApproved, order.State)
		assert.Equal(t, 2, order.Version.Value)

		assert.Len(t, order.Events(), 1)
		assert.Equal(t, events.OrderApprovedEvent, order.Events()[0].EventType)
	})

	t.Run("approving twice is a no-op", func(t *testing.T) {
		order := newTestOrder(t)
		assert.NoError(t, order.Approve())
		order.ClearEvents()

		err := order.Approve()

		assert.NoError(t, err)
		assert.Equal(t, OrderStateApproved, order.State)
		assert.Equal(t, 2, order.Version.Value)
		assert.Empty(t, order.Events())
	})

	t.Run("approving a rejected order is invalid", func(t *testing.T) {
		order := newTestOrder(t)
		assert.NoError(t, order.Reject("insufficient credit"))

		err := order.Approve()

		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, OrderStateRejected, order.State)
	})
}

func TestOrder_Reject(t *testing.T) {
	t.Run("pending order is rejected with a reason", func(t *testing.T) {
		order := newTestOrder(t)

		err := order.Reject("insufficient credit")

		assert.NoError(t, err)
		assert.Equal(t, OrderStateRejected, order.State)
		assert.Equal(t, "insufficient credit", order.RejectionReason)
		assert.Equal(t, 2, order.Version.Value)

		assert.Len(t, order.Events(), 1)
		assert.Equal(t, events.OrderRejectedEvent, order.Events()[0].EventType)
	})

	t.Run("rejecting twice with the same reason is a no-op", func(t *testing.T) {
		order := newTestOrder(t)
		assert.NoError(t, order.Reject("insufficient credit"))
		order.ClearEvents()

		err := order.Reject("insufficient credit")

		assert.NoError(t, err)
		assert.Equal(t, 2, order.Version.Value)
		assert.Empty(t, order.Events())
	})

	t.Run("rejecting with a different reason is invalid", func(t *testing.T) {
		order := newTestOrder(t)
		assert.NoError(t, order.Reject("insufficient credit"))

		err := order.Reject("saga aborted")

		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, "insufficient credit", order.RejectionReason)
	})

	t.Run("rejecting an approved order is invalid", func(t *testing.T) {
		order := newTestOrder(t)
		assert.NoError(t, order.Approve())

		err := order.Reject("saga aborted")

		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, OrderStateApproved, order.State)
	})
}

func TestOrderState_IsTerminal(t *testing.T) {
	assert.False(t, OrderStatePending.IsTerminal())
	assert.True(t, OrderStateApproved.IsTerminal())
	assert.True(t, OrderStateRejected.IsTerminal())
}

func newTestOrder(t *testing.T) *Order {
	t.Helper()

	order, err := CreateOrder(models.GenerateUUID(), models.NewMoney(5000, "USD"))
	assert.NoError(t, err)
	order.ClearEvents()
	return order
}
