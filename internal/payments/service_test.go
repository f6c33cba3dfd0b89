package payments

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/pocket-pay/pocket_pay/internal/account"
	"github.com/pocket-pay/pocket_pay/internal/grants"
	"github.com/pocket-pay/pocket_pay/internal/ledger"
	"github.com/pocket-pay/pocket_pay/internal/logging"
	"github.com/pocket-pay/pocket_pay/internal/notification"
	"github.com/pocket-pay/pocket_pay/internal/openpayments"
)

const clientWallet = "https://wallet.example/pocketpay"

type testNotifier struct {
	mu   sync.Mutex
	last notification.Message
}

func (n *testNotifier) Send(_ context.Context, msg notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.last = msg
	return nil
}

func (n *testNotifier) lastMessage() notification.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last
}

type fixture struct {
	sim      *openpayments.Simulator
	accounts *account.Service
	store    ledger.Store
	notifier *testNotifier
	svc      *Service
	parent   account.Account
	child    account.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	sim := openpayments.NewSimulator()
	sim.RegisterWallet("https://wallet.example/alice", "USD", 2)
	sim.RegisterWallet("https://wallet.example/bob", "USD", 2)

	repo := account.NewMemoryRepository()
	accounts := account.NewService(repo)
	parent, err := accounts.Create(ctx, account.CreateInput{
		Name: "Alice", Role: account.RoleParent, WalletAddressURL: "https://wallet.example/alice",
	})
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	child, err := accounts.Create(ctx, account.CreateInput{
		Name: "Bob", Role: account.RoleChild, ParentID: parent.ID, WalletAddressURL: "https://wallet.example/bob",
	})
	if err != nil {
		t.Fatalf("create child: %v", err)
	}

	store := ledger.NewInMemory()
	notifier := &testNotifier{}
	negotiator := grants.NewNegotiator(sim, clientWallet, logging.Discard())
	svc := NewService(accounts, sim, negotiator, store, notifier, logging.Discard())

	return &fixture{sim: sim, accounts: accounts, store: store, notifier: notifier, svc: svc, parent: parent, child: child}
}

func (f *fixture) initiate(t *testing.T) InitiateResult {
	t.Helper()
	res, err := f.svc.Initiate(context.Background(), InitiateInput{
		FromAccountID: f.parent.ID,
		ToAccountID:   f.child.ID,
		Amount:        decimal.RequireFromString("10.00"),
		Description:   "gift",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	return res
}

func (f *fixture) authorize(t *testing.T, transferID string) {
	t.Helper()
	transfer, err := f.store.Get(context.Background(), transferID)
	if err != nil {
		t.Fatalf("load transfer: %v", err)
	}
	if err := f.sim.AuthorizeInteraction(transfer.GrantContinueToken); err != nil {
		t.Fatalf("authorize interaction: %v", err)
	}
}

func TestInitiateRequiresAuthorization(t *testing.T) {
	f := newFixture(t)
	res := f.initiate(t)

	if !res.RequiresAuthorization {
		t.Fatal("expected authorization to be required")
	}
	if res.InteractURL == "" {
		t.Fatal("expected a non-empty interact URL")
	}

	transfer, err := f.store.Get(context.Background(), res.TransferID)
	if err != nil {
		t.Fatalf("load transfer: %v", err)
	}
	if transfer.Status != ledger.StatusAwaitingAuthorization {
		t.Fatalf("expected awaiting_authorization, got %s", transfer.Status)
	}
	if transfer.IncomingPaymentID == "" || transfer.QuoteID == "" {
		t.Fatalf("transfer missing provider resources: %+v", transfer)
	}
	if transfer.GrantContinueURI == "" || transfer.GrantContinueToken == "" {
		t.Fatalf("transfer missing grant continuation: %+v", transfer)
	}
	if transfer.OutgoingPaymentID != "" {
		t.Fatal("outgoing payment must not exist before completion")
	}
}

func TestCompleteBeforeAuthorization(t *testing.T) {
	f := newFixture(t)
	res := f.initiate(t)

	_, err := f.svc.Complete(context.Background(), res.TransferID)
	if !errors.Is(err, ErrNotYetAuthorized) {
		t.Fatalf("expected ErrNotYetAuthorized, got %v", err)
	}

	transfer, _ := f.store.Get(context.Background(), res.TransferID)
	if transfer.Status != ledger.StatusAwaitingAuthorization {
		t.Fatalf("status must be unchanged, got %s", transfer.Status)
	}
}

func TestCompleteAfterAuthorization(t *testing.T) {
	f := newFixture(t)
	res := f.initiate(t)
	f.authorize(t, res.TransferID)

	out, err := f.svc.Complete(context.Background(), res.TransferID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out.Status != ledger.StatusCompleted {
		t.Fatalf("expected completed, got %s", out.Status)
	}

	list, err := f.svc.ListTransfers(context.Background(), f.parent.ID, 0)
	if err != nil {
		t.Fatalf("list transfers: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 transfer, got %d", len(list))
	}
	if list[0].OutgoingPaymentID == "" || list[0].CompletedAt == nil {
		t.Fatalf("completed transfer missing settlement fields: %+v", list[0])
	}

	if msg := f.notifier.lastMessage(); msg.Kind != notification.KindTransferCompleted || msg.Destination != f.child.ID {
		t.Fatalf("unexpected notification: %+v", msg)
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	res := f.initiate(t)
	f.authorize(t, res.TransferID)

	if _, err := f.svc.Complete(context.Background(), res.TransferID); err != nil {
		t.Fatalf("first complete: %v", err)
	}
	if _, err := f.svc.Complete(context.Background(), res.TransferID); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
	}
}

func TestConcurrentCompleteSingleWinner(t *testing.T) {
	f := newFixture(t)
	res := f.initiate(t)
	f.authorize(t, res.TransferID)

	const callers = 2
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Complete(context.Background(), res.TransferID)
		}(i)
	}
	wg.Wait()

	completed, finalized := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			completed++
		case errors.Is(err, ErrAlreadyFinalized):
			finalized++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if completed != 1 || finalized != 1 {
		t.Fatalf("expected exactly one completion and one ErrAlreadyFinalized, got %d/%d", completed, finalized)
	}

	transfer, _ := f.store.Get(context.Background(), res.TransferID)
	if transfer.Status != ledger.StatusCompleted {
		t.Fatalf("expected completed, got %s", transfer.Status)
	}
}

func TestInitiateRejectsNonPositiveAmount(t *testing.T) {
	f := newFixture(t)

	for _, amount := range []string{"0", "-5.00"} {
		_, err := f.svc.Initiate(context.Background(), InitiateInput{
			FromAccountID: f.parent.ID,
			ToAccountID:   f.child.ID,
			Amount:        decimal.RequireFromString(amount),
		})
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount %s: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestInitiateUnboundWallet(t *testing.T) {
	f := newFixture(t)

	repo := account.NewMemoryRepository()
	accounts := account.NewService(repo)
	// Account provisioned without a wallet binding, bypassing the service
	// validation the registry would normally apply.
	unbound := account.Account{ID: "11111111-1111-1111-1111-111111111111", Name: "Carol", Role: account.RoleParent}
	if err := repo.Create(context.Background(), unbound); err != nil {
		t.Fatalf("create account: %v", err)
	}

	negotiator := grants.NewNegotiator(f.sim, clientWallet, logging.Discard())
	svc := NewService(accounts, f.sim, negotiator, ledger.NewInMemory(), nil, logging.Discard())

	_, err := svc.Initiate(context.Background(), InitiateInput{
		FromAccountID: unbound.ID,
		ToAccountID:   unbound.ID,
		Amount:        decimal.RequireFromString("1.00"),
	})
	if !errors.Is(err, account.ErrWalletNotBound) {
		t.Fatalf("expected ErrWalletNotBound, got %v", err)
	}
}

func TestInitiateProviderFailureLeavesNoRecord(t *testing.T) {
	f := newFixture(t)

	// Receiver wallet unknown to the provider: the flow aborts mid-leg and
	// must not persist anything.
	broken, err := f.accounts.Create(context.Background(), account.CreateInput{
		Name: "Dora", Role: account.RoleChild, ParentID: f.parent.ID,
		WalletAddressURL: "https://wallet.example/missing",
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	_, err = f.svc.Initiate(context.Background(), InitiateInput{
		FromAccountID: f.parent.ID,
		ToAccountID:   broken.ID,
		Amount:        decimal.RequireFromString("3.00"),
	})
	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if provErr.Leg != "receiver-wallet" {
		t.Fatalf("unexpected failing leg %q", provErr.Leg)
	}

	list, err := f.svc.ListTransfers(context.Background(), f.parent.ID, 0)
	if err != nil {
		t.Fatalf("list transfers: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no durable record, got %d", len(list))
	}
}

func TestCompleteFailureAfterFinalizedGrant(t *testing.T) {
	f := newFixture(t)
	res := f.initiate(t)
	f.authorize(t, res.TransferID)

	f.sim.FailNextOutgoing(&openpayments.Error{Status: 500, Code: "internal", Description: "settlement unavailable"})

	out, err := f.svc.Complete(context.Background(), res.TransferID)
	var provErr *ProviderError
	if !errors.As(err, &provErr) || provErr.Leg != "outgoing-payment" {
		t.Fatalf("expected outgoing-payment ProviderError, got %v", err)
	}
	if out.Status != ledger.StatusFailed {
		t.Fatalf("expected failed status, got %s", out.Status)
	}

	transfer, _ := f.store.Get(context.Background(), res.TransferID)
	if transfer.Status != ledger.StatusFailed {
		t.Fatalf("expected failed record, got %s", transfer.Status)
	}
	if transfer.ErrorMessage == "" {
		t.Fatal("expected the cause to be recorded in the audit trail")
	}

	// Terminal: a later attempt must not retry settlement.
	if _, err := f.svc.Complete(context.Background(), res.TransferID); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
	}
}

func TestCompleteExpiredGrant(t *testing.T) {
	f := newFixture(t)
	res := f.initiate(t)

	transfer, _ := f.store.Get(context.Background(), res.TransferID)
	f.sim.ExpireGrant(transfer.GrantContinueToken)

	if _, err := f.svc.Complete(context.Background(), res.TransferID); !errors.Is(err, grants.ErrGrantExpired) {
		t.Fatalf("expected ErrGrantExpired, got %v", err)
	}
}

func TestCompleteUnknownTransfer(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Complete(context.Background(), "22222222-2222-2222-2222-222222222222"); !errors.Is(err, ledger.ErrTransferNotFound) {
		t.Fatalf("expected ErrTransferNotFound, got %v", err)
	}
}
