package account

import (
	"context"
	"errors"
	"sort"
	"sync"
)

type memoryRepository struct {
	mu      sync.RWMutex
	storage map[string]Account
}

// NewMemoryRepository constructs an in-memory repository for tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{storage: make(map[string]Account)}
}

func (r *memoryRepository) Create(_ context.Context, acct Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.storage[acct.ID]; exists {
		return errors.New("account exists")
	}
	r.storage[acct.ID] = acct
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acct, ok := r.storage[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return acct, nil
}

func (r *memoryRepository) ListChildren(_ context.Context, parentID string) ([]Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var children []Account
	for _, acct := range r.storage {
		if acct.ParentID == parentID {
			children = append(children, acct)
		}
	}
	sort.Slice(children, func(i, j int) bool {
		return children[i].CreatedAt.After(children[j].CreatedAt)
	})
	return children, nil
}
