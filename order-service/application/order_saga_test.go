package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/cartena/order-system/order-service/application"
	"github.com/cartena/order-system/order-service/domain"
	"github.com/cartena/order-system/order-service/infrastructure"
	"github.com/cartena/order-system/order-service/mocks"
	"github.com/cartena/order-system/shared/models"
	"github.com/cartena/order-system/shared/saga"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

const sagaTestCustomerID = "550e8400-e29b-41d4-a716-446655440001"

type sagaHarness struct {
	orderRepository domain.OrderRepository
	sagaStore       *saga.MemoryStore
	creditGateway   *mocks.MockCreditGateway
	orchestrator    *saga.Orchestrator
	createOrder     *application.CreateOrder
}

func newSagaHarness(t *testing.T, orderRepository domain.OrderRepository) *sagaHarness {
	t.Helper()

	publisher := mocks.NewMockPublisher(t)
	publisher.EXPECT().Publish(mock.Anything, mock.Anything).Return(nil).Maybe()

	sagaStore := saga.NewMemoryStore()
	creditGateway := mocks.NewMockCreditGateway(t)

	approveOrder := application.NewApproveOrder(orderRepository, publisher)
	rejectOrder := application.NewRejectOrder(orderRepository, publisher)
	definition := application.NewOrderProcessingSaga(orderRepository, creditGateway, approveOrder, rejectOrder)

	retry := saga.RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		BackoffFactor: 2.0,
	}

	orchestrator := saga.NewOrchestrator(definition, sagaStore, publisher, retry, nil)

	return &sagaHarness{
		orderRepository: orderRepository,
		sagaStore:       sagaStore,
		creditGateway:   creditGateway,
		orchestrator:    orchestrator,
		createOrder:     application.NewCreateOrder(orderRepository, orchestrator, publisher),
	}
}

func (h *sagaHarness) createPendingOrder(t *testing.T) models.ID {
	t.Helper()

	result, err := h.createOrder.Execute(context.Background(), &application.CreateOrderCommand{
		CustomerID: sagaTestCustomerID,
		Amount:     5000,
		Currency:   "USD",
	})
	assert.NoError(t, err)

	orderID, err := models.NewID(result.OrderID)
	assert.NoError(t, err)
	return orderID
}

func (h *sagaHarness) order(t *testing.T, orderID models.ID) *domain.Order {
	t.Helper()

	order, err := h.orderRepository.FindByID(context.Background(), orderID)
	assert.NoError(t, err)
	assert.NotNil(t, order)
	return order
}

func (h *sagaHarness) instance(t *testing.T, orderID models.ID) *saga.Instance {
	t.Helper()

	instance, err := h.sagaStore.FindByID(context.Background(), orderID)
	assert.NoError(t, err)
	return instance
}

func TestOrderProcessingSaga_ApprovesOrderWhenCreditReserved(t *testing.T) {
	harness := newSagaHarness(t, infrastructure.NewMemoryOrderRepository())
	orderID := harness.createPendingOrder(t)

	harness.creditGateway.EXPECT().Reserve(mock.Anything, mock.Anything, orderID, models.NewMoney(5000, "USD")).
		Return(application.ReservationReserved, nil).Once()

	err := harness.orchestrator.Resume(context.Background(), orderID)

	assert.NoError(t, err)
	assert.Equal(t, domain.OrderStateApproved, harness.order(t, orderID).State)

	instance := harness.instance(t, orderID)
	assert.Equal(t, saga.StatusCompleted, instance.Status)
	assert.True(t, instance.HasCompleted(application.StepCreateOrder))
	assert.True(t, instance.HasCompleted(application.StepReserveCredit))
	assert.True(t, instance.HasCompleted(application.StepApproveOrder))
}

func TestOrderProcessingSaga_RejectsOrderWhenCreditRefused(t *testing.T) {
	harness := newSagaHarness(t, infrastructure.NewMemoryOrderRepository())
	orderID := harness.createPendingOrder(t)

	harness.creditGateway.EXPECT().Reserve(mock.Anything, mock.Anything, orderID, mock.Anything).
		Return(application.ReservationLimitExceeded, nil).Once()

	err := harness.orchestrator.Resume(context.Background(), orderID)

	assert.NoError(t, err)

	order := harness.order(t, orderID)
	assert.Equal(t, domain.OrderStateRejected, order.State)
	assert.Equal(t, application.ReasonInsufficientCredit, order.RejectionReason)

	// A business refusal resolves the saga, nothing to compensate.
	assert.Equal(t, saga.StatusCompleted, harness.instance(t, orderID).Status)
	assert.False(t, harness.instance(t, orderID).HasCompleted(application.StepApproveOrder))
}

func TestOrderProcessingSaga_CompensatesWhenCustomerNotFound(t *testing.T) {
	harness := newSagaHarness(t, infrastructure.NewMemoryOrderRepository())
	orderID := harness.createPendingOrder(t)

	// A permanent fault must not be retried.
	harness.creditGateway.EXPECT().Reserve(mock.Anything, mock.Anything, orderID, mock.Anything).
		Return("", application.ErrCustomerNotFound).Once()

	err := harness.orchestrator.Resume(context.Background(), orderID)

	assert.Error(t, err)
	assert.ErrorIs(t, err, saga.ErrPermanent)

	order := harness.order(t, orderID)
	assert.Equal(t, domain.OrderStateRejected, order.State)
	assert.Equal(t, application.ReasonSagaAborted, order.RejectionReason)

	// Credit was never reserved, so there is nothing to release.
	assert.Equal(t, saga.StatusCompensated, harness.instance(t, orderID).Status)
	harness.creditGateway.AssertNotCalled(t, "Release", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrderProcessingSaga_RetriesTransientReserveFailures(t *testing.T) {
	harness := newSagaHarness(t, infrastructure.NewMemoryOrderRepository())
	orderID := harness.createPendingOrder(t)

	harness.creditGateway.EXPECT().Reserve(mock.Anything, mock.Anything, orderID, mock.Anything).
		Return("", errors.New("reply timeout")).Twice()
	harness.creditGateway.EXPECT().Reserve(mock.Anything, mock.Anything, orderID, mock.Anything).
		Return(application.ReservationReserved, nil).Once()

	err := harness.orchestrator.Resume(context.Background(), orderID)

	assert.NoError(t, err)
	assert.Equal(t, domain.OrderStateApproved, harness.order(t, orderID).State)
	assert.Equal(t, saga.StatusCompleted, harness.instance(t, orderID).Status)
}

func TestOrderProcessingSaga_CompensatesWhenReserveExhaustsRetries(t *testing.T) {
	harness := newSagaHarness(t, infrastructure.NewMemoryOrderRepository())
	orderID := harness.createPendingOrder(t)

	harness.creditGateway.EXPECT().Reserve(mock.Anything, mock.Anything, orderID, mock.Anything).
		Return("", errors.New("reply timeout")).Times(3)

	err := harness.orchestrator.Resume(context.Background(), orderID)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "exhausted")

	order := harness.order(t, orderID)
	assert.Equal(t, domain.OrderStateRejected, order.State)
	assert.Equal(t, application.ReasonSagaAborted, order.RejectionReason)

	assert.Equal(t, saga.StatusCompensated, harness.instance(t, orderID).Status)
	harness.creditGateway.AssertNotCalled(t, "Release", mock.Anything, mock.Anything, mock.Anything)
}

// failOnApproveRepository fails every save of an approved order, so the
// finalization step exhausts its retry budget after credit was reserved.
type failOnApproveRepository struct {
	*infrastructure.MemoryOrderRepository
}

func (r *failOnApproveRepository) Save(ctx context.Context, order *domain.Order) error {
	if order.State == domain.OrderStateApproved {
		return errors.New("connection reset")
	}
	return r.MemoryOrderRepository.Save(ctx, order)
}

func TestOrderProcessingSaga_ReleasesCreditWhenApprovalFails(t *testing.T) {
	repo := &failOnApproveRepository{MemoryOrderRepository: infrastructure.NewMemoryOrderRepository()}
	harness := newSagaHarness(t, repo)
	orderID := harness.createPendingOrder(t)

	harness.creditGateway.EXPECT().Reserve(mock.Anything, mock.Anything, orderID, mock.Anything).
		Return(application.ReservationReserved, nil).Once()
	harness.creditGateway.EXPECT().Release(mock.Anything, mock.Anything, orderID).Return(nil).Once()

	err := harness.orchestrator.Resume(context.Background(), orderID)

	assert.Error(t, err)

	// Compensation released the reservation and rejected the order.
	order := harness.order(t, orderID)
	assert.Equal(t, domain.OrderStateRejected, order.State)
	assert.Equal(t, application.ReasonSagaAborted, order.RejectionReason)

	instance := harness.instance(t, orderID)
	assert.Equal(t, saga.StatusCompensated, instance.Status)
	assert.True(t, instance.HasCompleted(application.StepReserveCredit))
}

func TestOrderProcessingSaga_ResumeOnTerminalInstanceIsNoOp(t *testing.T) {
	harness := newSagaHarness(t, infrastructure.NewMemoryOrderRepository())
	orderID := harness.createPendingOrder(t)

	instance := harness.instance(t, orderID)
	instance.Status = saga.StatusCompleted
	assert.NoError(t, harness.sagaStore.Save(context.Background(), instance))

	err := harness.orchestrator.Resume(context.Background(), orderID)

	assert.NoError(t, err)
	assert.Equal(t, domain.OrderStatePending, harness.order(t, orderID).State)
	harness.creditGateway.AssertNotCalled(t, "Reserve", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOrderProcessingSaga_ResumeOnTerminalOrderResolvesWithoutSteps(t *testing.T) {
	repo := infrastructure.NewMemoryOrderRepository()
	harness := newSagaHarness(t, repo)
	orderID := harness.createPendingOrder(t)

	// The order reached a terminal state under a previous run; a duplicate
	// delivery of the creation event must not re-run the saga.
	order := harness.order(t, orderID)
	assert.NoError(t, order.Approve())
	order.ClearEvents()
	assert.NoError(t, repo.Save(context.Background(), order))

	err := harness.orchestrator.Resume(context.Background(), orderID)

	assert.NoError(t, err)
	assert.Equal(t, saga.StatusCompleted, harness.instance(t, orderID).Status)
	harness.creditGateway.AssertNotCalled(t, "Reserve", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOrderProcessingSaga_ResumeFinishesInterruptedCompensation(t *testing.T) {
	harness := newSagaHarness(t, infrastructure.NewMemoryOrderRepository())
	orderID := harness.createPendingOrder(t)

	// A previous run died after deciding to compensate.
	instance := harness.instance(t, orderID)
	instance.MarkCompleted(application.StepReserveCredit)
	instance.Status = saga.StatusCompensating
	assert.NoError(t, harness.sagaStore.Save(context.Background(), instance))

	harness.creditGateway.EXPECT().Release(mock.Anything, mock.Anything, orderID).Return(nil).Once()

	err := harness.orchestrator.Resume(context.Background(), orderID)

	assert.NoError(t, err)

	order := harness.order(t, orderID)
	assert.Equal(t, domain.OrderStateRejected, order.State)
	assert.Equal(t, application.ReasonSagaAborted, order.RejectionReason)
	assert.Equal(t, saga.StatusCompensated, harness.instance(t, orderID).Status)
}

func TestOrderProcessingSaga_CompensationIsIdempotent(t *testing.T) {
	harness := newSagaHarness(t, infrastructure.NewMemoryOrderRepository())
	orderID := harness.createPendingOrder(t)

	instance := harness.instance(t, orderID)
	instance.MarkCompleted(application.StepReserveCredit)
	instance.Status = saga.StatusCompensating
	assert.NoError(t, harness.sagaStore.Save(context.Background(), instance))

	// The ledger treats a repeated release as already done, so the gateway
	// may be asked more than once.
	harness.creditGateway.EXPECT().Release(mock.Anything, mock.Anything, orderID).Return(nil).Once()

	assert.NoError(t, harness.orchestrator.Resume(context.Background(), orderID))
	assert.NoError(t, harness.orchestrator.Resume(context.Background(), orderID))

	order := harness.order(t, orderID)
	assert.Equal(t, domain.OrderStateRejected, order.State)
	assert.Equal(t, saga.StatusCompensated, harness.instance(t, orderID).Status)
}
