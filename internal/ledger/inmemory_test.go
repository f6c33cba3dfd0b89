package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func newTransfer(status Status, createdAt time.Time) PendingTransfer {
	return PendingTransfer{
		ID:            uuid.NewString(),
		FromAccountID: "acct-from",
		ToAccountID:   "acct-to",
		Amount:        decimal.RequireFromString("10.00"),
		AssetCode:     "USD",
		AssetScale:    2,
		Status:        status,
		CreatedAt:     createdAt,
	}
}

func TestCompareAndSetTransitions(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()

	tr := newTransfer(StatusAwaitingAuthorization, time.Now().UTC())
	if err := store.Create(ctx, tr); err != nil {
		t.Fatalf("create: %v", err)
	}

	done := time.Now().UTC()
	updated, err := store.CompareAndSetStatus(ctx, tr.ID, StatusAwaitingAuthorization, StatusCompleted, StatusUpdate{
		OutgoingPaymentID: "op-1",
		CompletedAt:       &done,
	})
	if err != nil {
		t.Fatalf("cas: %v", err)
	}
	if updated.Status != StatusCompleted || updated.OutgoingPaymentID != "op-1" || updated.CompletedAt == nil {
		t.Fatalf("unexpected transfer after cas: %+v", updated)
	}

	// The status never regresses; a second completion attempt loses.
	if _, err := store.CompareAndSetStatus(ctx, tr.ID, StatusAwaitingAuthorization, StatusCompleted, StatusUpdate{}); !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}
}

func TestCompareAndSetRejectsIllegalTransition(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()

	tr := newTransfer(StatusAwaitingAuthorization, time.Now().UTC())
	if err := store.Create(ctx, tr); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := store.CompareAndSetStatus(ctx, tr.ID, StatusCompleted, StatusAwaitingAuthorization, StatusUpdate{}); err == nil {
		t.Fatal("expected error for backwards transition")
	}
}

func TestCompareAndSetNotFound(t *testing.T) {
	store := NewInMemory()
	if _, err := store.CompareAndSetStatus(context.Background(), uuid.NewString(), StatusAwaitingAuthorization, StatusCompleted, StatusUpdate{}); !errors.Is(err, ErrTransferNotFound) {
		t.Fatalf("expected ErrTransferNotFound, got %v", err)
	}
}

func TestConcurrentCompareAndSet(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()

	tr := newTransfer(StatusAwaitingAuthorization, time.Now().UTC())
	if err := store.Create(ctx, tr); err != nil {
		t.Fatalf("create: %v", err)
	}

	const writers = 16
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.CompareAndSetStatus(ctx, tr.ID, StatusAwaitingAuthorization, StatusCompleted, StatusUpdate{})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrStatusConflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winning writer, got %d", winners)
	}
}

func TestStatusForwardOnlyUnderRandomInterleavings(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()

	// Drive many transfers through racing completed/failed writers and
	// verify that every observed state is reachable by forward transitions
	// only.
	for i := 0; i < 50; i++ {
		tr := newTransfer(StatusAwaitingAuthorization, time.Now().UTC())
		if err := store.Create(ctx, tr); err != nil {
			t.Fatalf("create: %v", err)
		}

		var wg sync.WaitGroup
		for _, next := range []Status{StatusCompleted, StatusFailed, StatusCompleted} {
			wg.Add(1)
			go func(next Status) {
				defer wg.Done()
				_, _ = store.CompareAndSetStatus(ctx, tr.ID, StatusAwaitingAuthorization, next, StatusUpdate{})
			}(next)
		}
		wg.Wait()

		final, err := store.Get(ctx, tr.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if final.Status != StatusCompleted && final.Status != StatusFailed {
			t.Fatalf("transfer left in %s", final.Status)
		}
		if !StatusAwaitingAuthorization.CanTransitionTo(final.Status) {
			t.Fatalf("illegal final state %s", final.Status)
		}
	}
}

func TestListByAccountNewestFirst(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()

	base := time.Now().UTC()
	var ids []string
	for i := 0; i < 3; i++ {
		tr := newTransfer(StatusAwaitingAuthorization, base.Add(time.Duration(i)*time.Minute))
		if err := store.Create(ctx, tr); err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, tr.ID)
	}

	// A transfer between unrelated parties must not show up.
	other := newTransfer(StatusAwaitingAuthorization, base)
	other.FromAccountID = "someone"
	other.ToAccountID = "else"
	if err := store.Create(ctx, other); err != nil {
		t.Fatalf("create: %v", err)
	}

	list, err := store.ListByAccount(ctx, "acct-from", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 transfers, got %d", len(list))
	}
	if list[0].ID != ids[2] || list[2].ID != ids[0] {
		t.Fatalf("expected newest-first ordering, got %v", []string{list[0].ID, list[1].ID, list[2].ID})
	}

	limited, err := store.ListByAccount(ctx, "acct-to", 2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}
