package infrastructure

import (
	"context"
	"time"

	"github.com/cartena/order-system/order-service/application"
	"github.com/cartena/order-system/shared/events"
	"github.com/cartena/order-system/shared/models"
	"github.com/cartena/order-system/shared/saga"
	"github.com/pkg/errors"
)

// DefaultReplyTimeout bounds how long a saga step waits for the credit
// ledger's reply before the attempt counts as failed.
const DefaultReplyTimeout = 5 * time.Second

// RemoteCreditGateway implements application.CreditGateway over the event
// channel: it publishes a command and suspends on the reply router until
// the reply correlated with the order ID arrives.
type RemoteCreditGateway struct {
	publisher   events.Publisher
	replyRouter *saga.ReplyRouter
	timeout     time.Duration
}

// NewRemoteCreditGateway creates a new RemoteCreditGateway
func NewRemoteCreditGateway(
	publisher events.Publisher,
	replyRouter *saga.ReplyRouter,
	timeout time.Duration,
) *RemoteCreditGateway {
	if timeout <= 0 {
		timeout = DefaultReplyTimeout
	}
	return &RemoteCreditGateway{
		publisher:   publisher,
		replyRouter: replyRouter,
		timeout:     timeout,
	}
}

// Reserve asks the credit ledger to hold the amount for the order
func (g *RemoteCreditGateway) Reserve(ctx context.Context, customerID, orderID models.ID, amount models.Money) (string, error) {
	command := events.NewEvent(customerID, events.ReserveCreditCommand, map[string]interface{}{
		"customer_id": customerID.String(),
		"order_id":    orderID.String(),
		"amount":      amount.Amount,
		"currency":    amount.Currency,
	}).WithCorrelationID(orderID)

	// Register before publishing so a reply cannot outrun the waiter.
	waiter := g.replyRouter.Expect(orderID)
	defer waiter.Cancel()

	if err := g.publisher.Publish(ctx, command); err != nil {
		return "", errors.Wrap(err, "failed to publish reserve credit command")
	}

	reply, err := waiter.Wait(ctx, g.timeout)
	if err != nil {
		return "", errors.Wrap(err, "no reply to reserve credit command")
	}

	switch reply.EventType {
	case events.CreditReservedEvent:
		return application.ReservationReserved, nil
	case events.CreditLimitExceededEvent:
		return application.ReservationLimitExceeded, nil
	case events.CustomerNotFoundEvent:
		return "", application.ErrCustomerNotFound
	default:
		return "", errors.Errorf("unexpected reply %s to reserve credit command", reply.EventType)
	}
}

// Release asks the credit ledger to drop the reservation held for the order
func (g *RemoteCreditGateway) Release(ctx context.Context, customerID, orderID models.ID) error {
	command := events.NewEvent(customerID, events.ReleaseCreditCommand, map[string]interface{}{
		"customer_id": customerID.String(),
		"order_id":    orderID.String(),
	}).WithCorrelationID(orderID)

	waiter := g.replyRouter.Expect(orderID)
	defer waiter.Cancel()

	if err := g.publisher.Publish(ctx, command); err != nil {
		return errors.Wrap(err, "failed to publish release credit command")
	}

	reply, err := waiter.Wait(ctx, g.timeout)
	if err != nil {
		return errors.Wrap(err, "no reply to release credit command")
	}

	if reply.EventType != events.CreditReleasedEvent {
		return errors.Errorf("unexpected reply %s to release credit command", reply.EventType)
	}

	return nil
}
