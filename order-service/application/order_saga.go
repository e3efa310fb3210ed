package application

import (
	"context"

	"github.com/cartena/order-system/order-service/domain"
	"github.com/cartena/order-system/shared/models"
	"github.com/cartena/order-system/shared/saga"
	"github.com/pkg/errors"
)

// Saga and step identifiers. Step names are persisted in saga instances,
// so they must stay stable across releases.
const (
	OrderProcessingSagaName = "order-processing"

	StepCreateOrder   = "create-order"
	StepReserveCredit = "reserve-credit"
	StepApproveOrder  = "approve-order"
)

// Rejection reasons written to orders by the saga.
const (
	ReasonInsufficientCredit = "insufficient credit"
	ReasonSagaAborted        = "saga aborted"
)

// Credit reservation outcomes reported by the gateway.
const (
	ReservationReserved      = "reserved"
	ReservationLimitExceeded = "credit_limit_exceeded"
)

// Gateway errors. ErrCustomerNotFound aborts the reserve step without
// retrying; anything else is treated as transient.
var ErrCustomerNotFound = errors.New("customer not found")

// CreditGateway talks to the credit ledger over the event channel. Reserve
// and Release block until the correlated reply arrives or the step timeout
// expires.
type CreditGateway interface {
	Reserve(ctx context.Context, customerID, orderID models.ID, amount models.Money) (string, error)
	Release(ctx context.Context, customerID, orderID models.ID) error
}

// OrderProcessingSaga drives an order from PENDING to a terminal state:
// reserve the customer's credit, then approve; reject on a credit refusal;
// compensate (release credit, reject the order) when a step cannot complete.
type OrderProcessingSaga struct {
	orderRepository domain.OrderRepository
	creditGateway   CreditGateway
	approveOrder    *ApproveOrder
	rejectOrder     *RejectOrder
}

// NewOrderProcessingSaga creates the order processing saga definition
func NewOrderProcessingSaga(
	orderRepository domain.OrderRepository,
	creditGateway CreditGateway,
	approveOrder *ApproveOrder,
	rejectOrder *RejectOrder,
) *OrderProcessingSaga {
	return &OrderProcessingSaga{
		orderRepository: orderRepository,
		creditGateway:   creditGateway,
		approveOrder:    approveOrder,
		rejectOrder:     rejectOrder,
	}
}

// Name implements saga.Definition
func (s *OrderProcessingSaga) Name() string {
	return OrderProcessingSagaName
}

// Steps implements saga.Definition
func (s *OrderProcessingSaga) Steps() []saga.Step {
	return []saga.Step{
		&createOrderStep{saga: s},
		&reserveCreditStep{saga: s},
		&approveOrderStep{saga: s},
	}
}

// Resolved reports whether the driven order already reached a terminal
// state. A resolved saga takes no further action, which keeps a restarted
// orchestrator from compensating an already finished order.
func (s *OrderProcessingSaga) Resolved(ctx context.Context, instance *saga.Instance) (bool, error) {
	order, err := s.orderRepository.FindByID(ctx, instance.ID)
	if err != nil {
		return false, errors.Wrap(err, "failed to find order")
	}

	if order == nil {
		return false, nil
	}

	return order.State.IsTerminal(), nil
}

func (s *OrderProcessingSaga) loadOrder(ctx context.Context, instance *saga.Instance) (*domain.Order, error) {
	order, err := s.orderRepository.FindByID(ctx, instance.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find order")
	}

	if order == nil {
		return nil, errors.Wrap(saga.ErrPermanent, domain.ErrOrderNotFound.Error())
	}

	return order, nil
}

// createOrderStep verifies the order exists. The order itself is persisted
// by the CreateOrder use case before the saga instance is opened, so the
// forward action normally runs as already completed.
type createOrderStep struct {
	saga *OrderProcessingSaga
}

func (st *createOrderStep) Name() string { return StepCreateOrder }

func (st *createOrderStep) Execute(ctx context.Context, instance *saga.Instance) (saga.Outcome, error) {
	if _, err := st.saga.loadOrder(ctx, instance); err != nil {
		return saga.OutcomeContinue, err
	}
	return saga.OutcomeContinue, nil
}

// Compensate rejects the order with the abort reason. An order that is
// already rejected stays rejected, whatever the recorded reason.
func (st *createOrderStep) Compensate(ctx context.Context, instance *saga.Instance) error {
	order, err := st.saga.orderRepository.FindByID(ctx, instance.ID)
	if err != nil {
		return errors.Wrap(err, "failed to find order")
	}

	if order == nil || order.State == domain.OrderStateRejected {
		return nil
	}

	if order.State == domain.OrderStateApproved {
		return errors.New("cannot compensate an approved order")
	}

	_, err = st.saga.rejectOrder.Execute(ctx, &RejectOrderCommand{
		OrderID: instance.ID.String(),
		Reason:  ReasonSagaAborted,
	})
	return err
}

// reserveCreditStep asks the credit ledger to hold the order amount. A
// credit refusal rejects the order and resolves the saga: the business said
// no, nothing failed.
type reserveCreditStep struct {
	saga *OrderProcessingSaga
}

func (st *reserveCreditStep) Name() string { return StepReserveCredit }

func (st *reserveCreditStep) Execute(ctx context.Context, instance *saga.Instance) (saga.Outcome, error) {
	order, err := st.saga.loadOrder(ctx, instance)
	if err != nil {
		return saga.OutcomeContinue, err
	}

	result, err := st.saga.creditGateway.Reserve(ctx, order.CustomerID, order.ID, order.Amount)
	if err != nil {
		if errors.Is(err, ErrCustomerNotFound) {
			return saga.OutcomeContinue, errors.Wrap(saga.ErrPermanent, err.Error())
		}
		return saga.OutcomeContinue, errors.Wrap(err, "credit reservation failed")
	}

	if result == ReservationLimitExceeded {
		if _, err := st.saga.rejectOrder.Execute(ctx, &RejectOrderCommand{
			OrderID: order.ID.String(),
			Reason:  ReasonInsufficientCredit,
		}); err != nil {
			return saga.OutcomeContinue, errors.Wrap(err, "failed to reject order")
		}
		return saga.OutcomeResolved, nil
	}

	return saga.OutcomeContinue, nil
}

// Compensate releases the held credit. The ledger replies released for an
// absent reservation, so a repeated release converges.
func (st *reserveCreditStep) Compensate(ctx context.Context, instance *saga.Instance) error {
	order, err := st.saga.loadOrder(ctx, instance)
	if err != nil {
		return err
	}

	return st.saga.creditGateway.Release(ctx, order.CustomerID, order.ID)
}

// approveOrderStep finalizes the order. Last step, nothing to compensate.
type approveOrderStep struct {
	saga *OrderProcessingSaga
}

func (st *approveOrderStep) Name() string { return StepApproveOrder }

func (st *approveOrderStep) Execute(ctx context.Context, instance *saga.Instance) (saga.Outcome, error) {
	if _, err := st.saga.approveOrder.Execute(ctx, &ApproveOrderCommand{
		OrderID: instance.ID.String(),
	}); err != nil {
		return saga.OutcomeContinue, errors.Wrap(err, "failed to approve order")
	}

	return saga.OutcomeContinue, nil
}

func (st *approveOrderStep) Compensate(ctx context.Context, instance *saga.Instance) error {
	return nil
}
