package handlers

import (
	"context"
	"testing"

	"github.com/cartena/order-system/customer-service/application"
	"github.com/cartena/order-system/customer-service/domain"
	"github.com/cartena/order-system/customer-service/infrastructure"
	"github.com/cartena/order-system/customer-service/mocks"
	"github.com/cartena/order-system/shared/events"
	"github.com/cartena/order-system/shared/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newEventHandlers(t *testing.T) (*CustomerEventHandlers, *infrastructure.MemoryCustomerRepository, models.ID) {
	t.Helper()

	repo := infrastructure.NewMemoryCustomerRepository()
	publisher := mocks.NewMockPublisher(t)
	publisher.EXPECT().Publish(mock.Anything, mock.Anything).Return(nil).Maybe()

	customer, err := domain.CreateCustomer("Test Customer", models.NewMoney(10000, "USD"))
	assert.NoError(t, err)
	customer.ClearEvents()
	assert.NoError(t, repo.Save(context.Background(), customer))

	handlers := NewCustomerEventHandlers(
		application.NewReserveCredit(repo, publisher),
		application.NewReleaseCredit(repo, publisher),
	)
	return handlers, repo, customer.ID
}

func TestCustomerEventHandlers_HandleReserveCreditRequest(t *testing.T) {
	t.Run("reserve command inserts a reservation", func(t *testing.T) {
		handlers, repo, customerID := newEventHandlers(t)
		orderID := models.GenerateUUID()

		event := events.NewEvent(customerID, events.ReserveCreditCommand, map[string]interface{}{
			"customer_id": customerID.String(),
			"order_id":    orderID.String(),
			"amount":      float64(6000),
			"currency":    "USD",
		}).WithCorrelationID(orderID)

		err := handlers.Handle(context.Background(), event)

		assert.NoError(t, err)

		customer, err := repo.FindByID(context.Background(), customerID)
		assert.NoError(t, err)
		assert.True(t, customer.HasReservation(orderID))
	})

	t.Run("limit exceeded is acknowledged", func(t *testing.T) {
		handlers, repo, customerID := newEventHandlers(t)
		orderID := models.GenerateUUID()

		event := events.NewEvent(customerID, events.ReserveCreditCommand, map[string]interface{}{
			"customer_id": customerID.String(),
			"order_id":    orderID.String(),
			"amount":      float64(20000),
			"currency":    "USD",
		}).WithCorrelationID(orderID)

		err := handlers.Handle(context.Background(), event)

		assert.NoError(t, err)

		customer, err := repo.FindByID(context.Background(), customerID)
		assert.NoError(t, err)
		assert.False(t, customer.HasReservation(orderID))
	})

	t.Run("unknown customer is acknowledged after the reply", func(t *testing.T) {
		handlers, _, _ := newEventHandlers(t)
		orderID := models.GenerateUUID()

		event := events.NewEvent(models.GenerateUUID(), events.ReserveCreditCommand, map[string]interface{}{
			"customer_id": models.GenerateUUID().String(),
			"order_id":    orderID.String(),
			"amount":      float64(6000),
			"currency":    "USD",
		}).WithCorrelationID(orderID)

		// The not found reply is the terminal answer, redelivery would not help.
		assert.NoError(t, handlers.Handle(context.Background(), event))
	})

	t.Run("malformed command data", func(t *testing.T) {
		handlers, _, customerID := newEventHandlers(t)

		event := events.NewEvent(customerID, events.ReserveCreditCommand, map[string]interface{}{
			"customer_id": customerID.String(),
		})

		err := handlers.Handle(context.Background(), event)

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "order_id is required")
	})
}

func TestCustomerEventHandlers_HandleReleaseCreditRequest(t *testing.T) {
	t.Run("release command removes the reservation", func(t *testing.T) {
		handlers, repo, customerID := newEventHandlers(t)
		orderID := models.GenerateUUID()

		reserve := events.NewEvent(customerID, events.ReserveCreditCommand, map[string]interface{}{
			"customer_id": customerID.String(),
			"order_id":    orderID.String(),
			"amount":      float64(6000),
			"currency":    "USD",
		}).WithCorrelationID(orderID)
		assert.NoError(t, handlers.Handle(context.Background(), reserve))

		release := events.NewEvent(customerID, events.ReleaseCreditCommand, map[string]interface{}{
			"customer_id": customerID.String(),
			"order_id":    orderID.String(),
		}).WithCorrelationID(orderID)

		err := handlers.Handle(context.Background(), release)

		assert.NoError(t, err)

		customer, err := repo.FindByID(context.Background(), customerID)
		assert.NoError(t, err)
		assert.False(t, customer.HasReservation(orderID))
		assert.Equal(t, int64(10000), customer.AvailableCredit().Amount)
	})

	t.Run("release without a reservation is acknowledged", func(t *testing.T) {
		handlers, _, customerID := newEventHandlers(t)

		release := events.NewEvent(customerID, events.ReleaseCreditCommand, map[string]interface{}{
			"customer_id": customerID.String(),
			"order_id":    models.GenerateUUID().String(),
		})

		assert.NoError(t, handlers.Handle(context.Background(), release))
	})
}

func TestCustomerEventHandlers_IgnoresUnknownEvents(t *testing.T) {
	handlers, _, customerID := newEventHandlers(t)

	event := events.NewEvent(customerID, events.OrderCreatedEvent, nil)

	assert.NoError(t, handlers.Handle(context.Background(), event))
}

func TestCustomerEventHandlers_HandlerID(t *testing.T) {
	handlers, _, _ := newEventHandlers(t)

	assert.Equal(t, "customer-service-event-handler", handlers.HandlerID())
}
