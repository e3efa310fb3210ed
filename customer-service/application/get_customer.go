package application

import (
	"context"

	"github.com/cartena/order-system/customer-service/domain"
	"github.com/cartena/order-system/shared/models"
	"github.com/pkg/errors"
)

// GetCustomerQuery represents the query to retrieve a customer
type GetCustomerQuery struct {
	CustomerID string `json:"customer_id"`
}

// GetCustomerResponse represents the customer state returned to callers
type GetCustomerResponse struct {
	CustomerID      string                  `json:"customer_id"`
	Name            string                  `json:"name"`
	CreditLimit     models.Money            `json:"credit_limit"`
	AvailableCredit models.Money            `json:"available_credit"`
	Reservations    map[string]models.Money `json:"reservations"`
}

// GetCustomer use case
type GetCustomer struct {
	customerRepository domain.CustomerRepository
}

// NewGetCustomer creates a new GetCustomer use case
func NewGetCustomer(customerRepository domain.CustomerRepository) *GetCustomer {
	return &GetCustomer{customerRepository: customerRepository}
}

// Execute retrieves a customer by ID
func (uc *GetCustomer) Execute(ctx context.Context, query *GetCustomerQuery) (*GetCustomerResponse, error) {
	customerID, err := models.NewID(query.CustomerID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid customer ID")
	}

	customer, err := uc.customerRepository.FindByID(ctx, customerID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find customer")
	}

	if customer == nil {
		return nil, domain.ErrCustomerNotFound
	}

	reservations := make(map[string]models.Money, len(customer.Reservations))
	for orderID, amount := range customer.Reservations {
		reservations[orderID.String()] = amount
	}

	return &GetCustomerResponse{
		CustomerID:      customer.ID.String(),
		Name:            customer.Name,
		CreditLimit:     customer.CreditLimit,
		AvailableCredit: customer.AvailableCredit(),
		Reservations:    reservations,
	}, nil
}
