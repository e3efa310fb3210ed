package domain

import (
	"context"

	"github.com/cartena/order-system/shared/events"
	"github.com/cartena/order-system/shared/models"
	"github.com/pkg/errors"
)

var (
	// ErrCreditLimitExceeded is a business outcome, not a fault: the
	// reservation would push the reserved total over the credit limit.
	ErrCreditLimitExceeded = errors.New("credit limit exceeded")
	// ErrReservationNotFound is returned by a release for an order that
	// holds no reservation. Safe to ignore on retries.
	ErrReservationNotFound = errors.New("credit reservation not found")
	// ErrCustomerNotFound is a permanent fault: the referenced customer
	// does not exist.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrVersionConflict signals a concurrent modification detected by the
	// optimistic version check. Retryable after reloading.
	ErrVersionConflict = errors.New("customer version conflict")
)

// IsVersionConflict checks if the error is an optimistic-concurrency conflict.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// Customer aggregate root: the credit ledger for one customer. The credit
// limit is fixed at creation; reservations are keyed by order ID and their
// sum never exceeds the limit.
type Customer struct {
	ID           models.ID                 `json:"id"`
	Name         string                    `json:"name"`
	CreditLimit  models.Money              `json:"credit_limit"`
	Reservations map[models.ID]models.Money `json:"reservations"`
	Timestamps   models.Timestamps
	Version      models.Version

	events []*events.Event
}

// CreateCustomer factory method
func CreateCustomer(name string, creditLimit models.Money) (*Customer, error) {
	if name == "" {
		return nil, errors.New("name is required")
	}
	if creditLimit.Amount < 0 {
		return nil, errors.New("credit limit must not be negative")
	}

	customer := &Customer{
		ID:           models.GenerateUUID(),
		Name:         name,
		CreditLimit:  creditLimit,
		Reservations: make(map[models.ID]models.Money),
		Timestamps:   models.NewTimestamps(),
		Version:      models.NewVersion(),
	}

	event := events.NewEvent(customer.ID, events.CustomerCreatedEvent, CustomerCreatedData{
		CustomerID:  customer.ID,
		Name:        customer.Name,
		CreditLimit: customer.CreditLimit,
	})

	customer.recordEvent(event)
	return customer, nil
}

// AvailableCredit returns the credit limit minus the sum of all active
// reservations.
func (c *Customer) AvailableCredit() models.Money {
	available := c.CreditLimit
	for _, reserved := range c.Reservations {
		available, _ = available.Subtract(reserved)
	}
	return available
}

// ReservedTotal returns the sum of all active reservations.
func (c *Customer) ReservedTotal() models.Money {
	total := models.NewMoney(0, c.CreditLimit.Currency)
	for _, reserved := range c.Reservations {
		total, _ = total.Add(reserved)
	}
	return total
}

// ReserveCredit inserts a reservation for the order if the available credit
// covers the amount. A reservation already held for the order is treated as
// already applied: delivery retries never double-charge.
func (c *Customer) ReserveCredit(orderID models.ID, amount models.Money) error {
	if !amount.IsPositive() {
		return errors.New("reservation amount must be positive")
	}

	if amount.Currency != c.CreditLimit.Currency {
		return errors.New("currency mismatch")
	}

	if _, held := c.Reservations[orderID]; held {
		return nil
	}

	if c.AvailableCredit().LessThan(amount) {
		event := events.NewEvent(c.ID, events.CreditLimitExceededEvent, CreditLimitExceededData{
			CustomerID:      c.ID,
			OrderID:         orderID,
			RequestedAmount: amount,
			AvailableCredit: c.AvailableCredit(),
		}).WithCorrelationID(orderID)
		c.recordEvent(event)
		return ErrCreditLimitExceeded
	}

	c.Reservations[orderID] = amount
	c.Timestamps = c.Timestamps.Update()
	c.Version = c.Version.Update()

	event := events.NewEvent(c.ID, events.CreditReservedEvent, CreditReservedData{
		CustomerID:      c.ID,
		OrderID:         orderID,
		Amount:          amount,
		AvailableCredit: c.AvailableCredit(),
	}).WithCorrelationID(orderID)

	c.recordEvent(event)
	return nil
}

// ReleaseCredit removes the reservation held for the order. Releasing an
// absent reservation returns ErrReservationNotFound, which callers treat as
// already released.
func (c *Customer) ReleaseCredit(orderID models.ID) error {
	amount, held := c.Reservations[orderID]
	if !held {
		return ErrReservationNotFound
	}

	delete(c.Reservations, orderID)
	c.Timestamps = c.Timestamps.Update()
	c.Version = c.Version.Update()

	event := events.NewEvent(c.ID, events.CreditReleasedEvent, CreditReleasedData{
		CustomerID:      c.ID,
		OrderID:         orderID,
		Amount:          amount,
		AvailableCredit: c.AvailableCredit(),
	}).WithCorrelationID(orderID)

	c.recordEvent(event)
	return nil
}

// HasReservation reports whether a reservation is held for the order.
func (c *Customer) HasReservation(orderID models.ID) bool {
	_, held := c.Reservations[orderID]
	return held
}

// Events returns domain events
func (c *Customer) Events() []*events.Event {
	return c.events
}

// ClearEvents clears domain events
func (c *Customer) ClearEvents() {
	c.events = make([]*events.Event, 0)
}

// recordEvent records a domain event
func (c *Customer) recordEvent(event *events.Event) {
	c.events = append(c.events, event)
}

// Event Data Structures
type CustomerCreatedData struct {
	CustomerID  models.ID    `json:"customer_id"`
	Name        string       `json:"name"`
	CreditLimit models.Money `json:"credit_limit"`
}

type CreditReservedData struct {
	CustomerID      models.ID    `json:"customer_id"`
	OrderID         models.ID    `json:"order_id"`
	Amount          models.Money `json:"amount"`
	AvailableCredit models.Money `json:"available_credit"`
}

type CreditLimitExceededData struct {
	CustomerID      models.ID    `json:"customer_id"`
	OrderID         models.ID    `json:"order_id"`
	RequestedAmount models.Money `json:"requested_amount"`
	AvailableCredit models.Money `json:"available_credit"`
}

type CreditReleasedData struct {
	CustomerID      models.ID    `json:"customer_id"`
	OrderID         models.ID    `json:"order_id"`
	Amount          models.Money `json:"amount"`
	AvailableCredit models.Money `json:"available_credit"`
}

// CustomerRepository interface. Save must fail with ErrVersionConflict when
// the customer was concurrently modified since it was loaded.
type CustomerRepository interface {
	Save(ctx context.Context, customer *Customer) error
	FindByID(ctx context.Context, id models.ID) (*Customer, error)
}
