package saga

import (
	"context"
	"sync"

	"github.com/cartena/order-system/shared/models"
)

// MemoryStore keeps saga instances in memory. Used in tests and local runs.
type MemoryStore struct {
	mux       sync.RWMutex
	instances map[models.ID]Instance
}

// NewMemoryStore creates an empty in-memory saga store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances: make(map[models.ID]Instance),
	}
}

// Save stores a copy of the instance.
func (s *MemoryStore) Save(ctx context.Context, instance *Instance) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	stored := *instance
	stored.CompletedSteps = append([]string(nil), instance.CompletedSteps...)
	s.instances[instance.ID] = stored
	return nil
}

// FindByID returns a copy of the stored instance.
func (s *MemoryStore) FindByID(ctx context.Context, id models.ID) (*Instance, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()

	stored, ok := s.instances[id]
	if !ok {
		return nil, ErrInstanceNotFound
	}

	instance := stored
	instance.CompletedSteps = append([]string(nil), stored.CompletedSteps...)
	return &instance, nil
}

var _ Store = (*MemoryStore)(nil)
