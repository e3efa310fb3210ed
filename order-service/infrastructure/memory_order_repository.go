package infrastructure

import (
	"context"
	"sync"

	"github.com/cartena/order-system/order-service/domain"
	"github.com/cartena/order-system/shared/models"
)

// MemoryOrderRepository implements OrderRepository in memory with the same
// optimistic locking contract as the postgres implementation.
type MemoryOrderRepository struct {
	mu     sync.RWMutex
	orders map[models.ID]*domain.Order
}

// NewMemoryOrderRepository creates a new MemoryOrderRepository
func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{
		orders: make(map[models.ID]*domain.Order),
	}
}

// Save stores a copy of the order, failing with ErrVersionConflict when the
// stored version is not the one the caller loaded.
func (r *MemoryOrderRepository) Save(ctx context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.orders[order.ID]
	if exists && stored.Version.Value != order.Version.Value-1 {
		return domain.ErrVersionConflict
	}

	r.orders[order.ID] = cloneOrder(order)
	return nil
}

// FindByID returns a copy of the order, or nil when absent
func (r *MemoryOrderRepository) FindByID(ctx context.Context, id models.ID) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, exists := r.orders[id]
	if !exists {
		return nil, nil
	}

	return cloneOrder(order), nil
}

func cloneOrder(order *domain.Order) *domain.Order {
	clone := *order
	clone.ClearEvents()
	return &clone
}
