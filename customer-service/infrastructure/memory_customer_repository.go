package infrastructure

import (
	"context"
	"sync"

	"github.com/cartena/order-system/customer-service/domain"
	"github.com/cartena/order-system/shared/models"
)

// MemoryCustomerRepository implements CustomerRepository in memory with the
// same optimistic locking contract as the postgres implementation.
type MemoryCustomerRepository struct {
	mu        sync.RWMutex
	customers map[models.ID]*domain.Customer
}

// NewMemoryCustomerRepository creates a new MemoryCustomerRepository
func NewMemoryCustomerRepository() *MemoryCustomerRepository {
	return &MemoryCustomerRepository{
		customers: make(map[models.ID]*domain.Customer),
	}
}

// Save stores a copy of the customer, failing with ErrVersionConflict when
// the stored version is not the one the caller loaded.
func (r *MemoryCustomerRepository) Save(ctx context.Context, customer *domain.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.customers[customer.ID]
	if exists && stored.Version.Value != customer.Version.Value-1 {
		return domain.ErrVersionConflict
	}

	r.customers[customer.ID] = cloneCustomer(customer)
	return nil
}

// FindByID returns a copy of the customer, or nil when absent
func (r *MemoryCustomerRepository) FindByID(ctx context.Context, id models.ID) (*domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	customer, exists := r.customers[id]
	if !exists {
		return nil, nil
	}

	return cloneCustomer(customer), nil
}

func cloneCustomer(customer *domain.Customer) *domain.Customer {
	reservations := make(map[models.ID]models.Money, len(customer.Reservations))
	for orderID, amount := range customer.Reservations {
		reservations[orderID] = amount
	}

	clone := *customer
	clone.Reservations = reservations
	clone.ClearEvents()
	return &clone
}
