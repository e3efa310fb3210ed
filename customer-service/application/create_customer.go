package application

import (
	"context"

	"github.com/cartena/order-system/customer-service/domain"
	"github.com/cartena/order-system/shared/events"
	"github.com/cartena/order-system/shared/models"
	"github.com/pkg/errors"
)

// CreateCustomerCommand represents the command to create a customer
type CreateCustomerCommand struct {
	Name        string `json:"name"`
	CreditLimit int64  `json:"credit_limit"`
	Currency    string `json:"currency"`
}

// CreateCustomerResponse represents the response after creating a customer
type CreateCustomerResponse struct {
	CustomerID string `json:"customer_id"`
}

// CreateCustomer use case
type CreateCustomer struct {
	customerRepository domain.CustomerRepository
	eventPublisher     events.Publisher
}

// NewCreateCustomer creates a new CreateCustomer use case
func NewCreateCustomer(
	customerRepository domain.CustomerRepository,
	eventPublisher events.Publisher,
) *CreateCustomer {
	return &CreateCustomer{
		customerRepository: customerRepository,
		eventPublisher:     eventPublisher,
	}
}

// Execute creates a customer with a fixed credit limit
func (uc *CreateCustomer) Execute(ctx context.Context, cmd *CreateCustomerCommand) (*CreateCustomerResponse, error) {
	if err := uc.validateCommand(cmd); err != nil {
		return nil, errors.Wrap(err, "invalid command")
	}

	creditLimit := models.NewMoney(cmd.CreditLimit, cmd.Currency)

	customer, err := domain.CreateCustomer(cmd.Name, creditLimit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create customer")
	}

	if err := uc.customerRepository.Save(ctx, customer); err != nil {
		return nil, errors.Wrap(err, "failed to save customer")
	}

	if err := uc.eventPublisher.Publish(ctx, customer.Events()...); err != nil {
		return nil, errors.Wrap(err, "failed to publish events")
	}
	customer.ClearEvents()

	return &CreateCustomerResponse{
		CustomerID: customer.ID.String(),
	}, nil
}

func (uc *CreateCustomer) validateCommand(cmd *CreateCustomerCommand) error {
	if cmd.Name == "" {
		return errors.New("name is required")
	}

	if cmd.CreditLimit < 0 {
		return errors.New("credit limit must not be negative")
	}

	if cmd.Currency == "" {
		return errors.New("currency is required")
	}

	return nil
}
