package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pocket-pay/pocket_pay/internal/account"
	"github.com/pocket-pay/pocket_pay/internal/asset"
	"github.com/pocket-pay/pocket_pay/internal/grants"
	"github.com/pocket-pay/pocket_pay/internal/logging"
	"github.com/pocket-pay/pocket_pay/internal/openpayments"
)

const clientWallet = "https://wallet.example/pocketpay"

type fixture struct {
	sim    *openpayments.Simulator
	wallet openpayments.WalletAddress
	acct   account.Account
	svc    *Service
}

func newFixture(t *testing.T, pageSize int) *fixture {
	t.Helper()
	ctx := context.Background()

	sim := openpayments.NewSimulator()
	wa := sim.RegisterWallet("https://wallet.example/alice", "USD", 2)

	repo := account.NewMemoryRepository()
	accounts := account.NewService(repo)
	acct, err := accounts.Create(ctx, account.CreateInput{
		Name: "Alice", Role: account.RoleParent, WalletAddressURL: wa.ID,
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	negotiator := grants.NewNegotiator(sim, clientWallet, logging.Discard())
	svc := NewService(accounts, sim, negotiator, NewMemoryBalanceCache(), pageSize, logging.Discard())
	return &fixture{sim: sim, wallet: wa, acct: acct, svc: svc}
}

func TestSyncEmptyHistory(t *testing.T) {
	f := newFixture(t, 0)

	res, err := f.svc.Sync(context.Background(), f.acct.ID)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Balance.BalanceAtomic != 0 {
		t.Fatalf("expected zero balance, got %d", res.Balance.BalanceAtomic)
	}
	if res.Balance.BalanceHuman != "0.00" {
		t.Fatalf("expected 0.00, got %q", res.Balance.BalanceHuman)
	}
	if len(res.Records) != 0 {
		t.Fatalf("expected empty merged list, got %d records", len(res.Records))
	}
}

func TestSyncComputesNetBalance(t *testing.T) {
	f := newFixture(t, 0)
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	f.sim.SeedIncomingPayment(f.wallet.ID, asset.New(500, "USD", 2), true, base.Add(1*time.Hour), "allowance")
	f.sim.SeedIncomingPayment(f.wallet.ID, asset.New(300, "USD", 2), true, base.Add(3*time.Hour), "chores")
	f.sim.SeedOutgoingPayment(f.wallet.ID, asset.New(200, "USD", 2), false, base.Add(2*time.Hour), "https://wallet.example/shop")

	res, err := f.svc.Sync(context.Background(), f.acct.ID)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Balance.BalanceAtomic != 600 {
		t.Fatalf("expected 600 atomic, got %d", res.Balance.BalanceAtomic)
	}
	if res.Balance.BalanceHuman != "6.00" {
		t.Fatalf("expected 6.00, got %q", res.Balance.BalanceHuman)
	}
	if len(res.Records) != 3 {
		t.Fatalf("expected 3 merged records, got %d", len(res.Records))
	}
	for i := 1; i < len(res.Records); i++ {
		if res.Records[i].CreatedAt.After(res.Records[i-1].CreatedAt) {
			t.Fatalf("merged list not descending at %d: %v", i, res.Records)
		}
	}
	if res.Records[0].Description != "chores" || res.Records[1].Direction != DirectionOutgoing {
		t.Fatalf("unexpected merge order: %+v", res.Records)
	}

	cached, err := f.svc.GetCachedBalance(context.Background(), f.acct.ID)
	if err != nil {
		t.Fatalf("cached balance: %v", err)
	}
	if cached.BalanceAtomic != 600 {
		t.Fatalf("cached balance mismatch: %d", cached.BalanceAtomic)
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	f := newFixture(t, 0)
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	f.sim.SeedIncomingPayment(f.wallet.ID, asset.New(1200, "USD", 2), true, base, "")
	f.sim.SeedOutgoingPayment(f.wallet.ID, asset.New(450, "USD", 2), false, base.Add(time.Minute), "")

	first, err := f.svc.Sync(context.Background(), f.acct.ID)
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	second, err := f.svc.Sync(context.Background(), f.acct.ID)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}

	if first.Balance.BalanceAtomic != second.Balance.BalanceAtomic {
		t.Fatalf("balances differ: %d vs %d", first.Balance.BalanceAtomic, second.Balance.BalanceAtomic)
	}
	if len(first.Records) != len(second.Records) {
		t.Fatalf("record counts differ: %d vs %d", len(first.Records), len(second.Records))
	}
	for i := range first.Records {
		if first.Records[i] != second.Records[i] {
			t.Fatalf("record %d differs: %+v vs %+v", i, first.Records[i], second.Records[i])
		}
	}
}

func TestSyncDrainsAllPages(t *testing.T) {
	f := newFixture(t, 2)
	f.sim.SetPageSize(2)

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		f.sim.SeedIncomingPayment(f.wallet.ID, asset.New(100, "USD", 2), true, base.Add(time.Duration(i)*time.Hour), "")
	}
	for i := 0; i < 3; i++ {
		f.sim.SeedOutgoingPayment(f.wallet.ID, asset.New(100, "USD", 2), false, base.Add(time.Duration(i)*time.Minute), "")
	}

	res, err := f.svc.Sync(context.Background(), f.acct.ID)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Balance.BalanceAtomic != 400 {
		t.Fatalf("expected 400 atomic after draining all pages, got %d", res.Balance.BalanceAtomic)
	}
	if len(res.Records) != 10 {
		t.Fatalf("expected 10 records, got %d", len(res.Records))
	}
}

func TestSyncScaleMismatch(t *testing.T) {
	f := newFixture(t, 0)
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	f.sim.SeedIncomingPayment(f.wallet.ID, asset.New(500, "USD", 2), true, base, "")
	f.sim.SeedIncomingPayment(f.wallet.ID, asset.New(5000, "USD", 3), true, base.Add(time.Hour), "")

	if _, err := f.svc.Sync(context.Background(), f.acct.ID); !errors.Is(err, asset.ErrScaleMismatch) {
		t.Fatalf("expected ErrScaleMismatch, got %v", err)
	}
}

func TestSyncTreatsMissingTimestampAsMostRecent(t *testing.T) {
	f := newFixture(t, 0)
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	f.sim.SeedIncomingPayment(f.wallet.ID, asset.New(100, "USD", 2), true, base, "dated")
	f.sim.SeedOutgoingPayment(f.wallet.ID, asset.New(50, "USD", 2), false, time.Time{}, "")

	res, err := f.svc.Sync(context.Background(), f.acct.ID)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(res.Records))
	}
	if res.Records[0].Direction != DirectionOutgoing {
		t.Fatalf("undated record should sort first, got %+v", res.Records[0])
	}
}

func TestGetCachedBalanceBeforeSync(t *testing.T) {
	f := newFixture(t, 0)
	if _, err := f.svc.GetCachedBalance(context.Background(), f.acct.ID); !errors.Is(err, ErrBalanceNotCached) {
		t.Fatalf("expected ErrBalanceNotCached, got %v", err)
	}
}

func TestSyncUnboundWallet(t *testing.T) {
	f := newFixture(t, 0)

	repo := account.NewMemoryRepository()
	accounts := account.NewService(repo)
	unbound := account.Account{ID: "33333333-3333-3333-3333-333333333333", Name: "Nobody", Role: account.RoleParent}
	if err := repo.Create(context.Background(), unbound); err != nil {
		t.Fatalf("create account: %v", err)
	}

	negotiator := grants.NewNegotiator(f.sim, clientWallet, logging.Discard())
	svc := NewService(accounts, f.sim, negotiator, NewMemoryBalanceCache(), 0, logging.Discard())

	if _, err := svc.Sync(context.Background(), unbound.ID); !errors.Is(err, account.ErrWalletNotBound) {
		t.Fatalf("expected ErrWalletNotBound, got %v", err)
	}
}
