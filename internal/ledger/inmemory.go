package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type inMemoryStore struct {
	mu        sync.RWMutex
	transfers map[string]PendingTransfer
}

// NewInMemory creates a concurrency-safe in-memory store useful for unit tests.
func NewInMemory() Store {
	return &inMemoryStore{transfers: make(map[string]PendingTransfer)}
}

func (s *inMemoryStore) Create(_ context.Context, t PendingTransfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.transfers[t.ID]; exists {
		return fmt.Errorf("transfer %s exists", t.ID)
	}
	s.transfers[t.ID] = t
	return nil
}

func (s *inMemoryStore) Get(_ context.Context, id string) (PendingTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transfers[id]
	if !ok {
		return PendingTransfer{}, ErrTransferNotFound
	}
	return t, nil
}

func (s *inMemoryStore) CompareAndSetStatus(_ context.Context, id string, expected, next Status, update StatusUpdate) (PendingTransfer, error) {
	if !expected.CanTransitionTo(next) {
		return PendingTransfer{}, fmt.Errorf("illegal transition %s -> %s", expected, next)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transfers[id]
	if !ok {
		return PendingTransfer{}, ErrTransferNotFound
	}
	if t.Status != expected {
		return t, ErrStatusConflict
	}

	t.Status = next
	if update.OutgoingPaymentID != "" {
		t.OutgoingPaymentID = update.OutgoingPaymentID
	}
	if update.ErrorMessage != "" {
		t.ErrorMessage = update.ErrorMessage
	}
	if update.CompletedAt != nil {
		t.CompletedAt = update.CompletedAt
	}
	s.transfers[id] = t
	return t, nil
}

func (s *inMemoryStore) ListByAccount(_ context.Context, accountID string, limit int) ([]PendingTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []PendingTransfer
	for _, t := range s.transfers {
		if t.FromAccountID == accountID || t.ToAccountID == accountID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
