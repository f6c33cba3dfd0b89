package account

import (
	"context"
	"errors"
	"testing"
)

func TestCreateParentAndChild(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	parent, err := svc.Create(ctx, CreateInput{
		Name:             "Alice",
		Role:             RoleParent,
		WalletAddressURL: "https://wallet.example/alice",
	})
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	if parent.ID == "" {
		t.Fatal("expected generated account id")
	}

	child, err := svc.Create(ctx, CreateInput{
		Name:             "Billy",
		Role:             RoleChild,
		ParentID:         parent.ID,
		WalletAddressURL: "https://wallet.example/billy",
	})
	if err != nil {
		t.Fatalf("create child: %v", err)
	}

	children, err := svc.ListChildren(ctx, parent.ID)
	if err != nil {
		t.Fatalf("list children: %v", err)
	}
	if len(children) != 1 || children[0].ID != child.ID {
		t.Fatalf("expected single child %s, got %+v", child.ID, children)
	}
}

func TestCreateChildRequiresParent(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	if _, err := svc.Create(ctx, CreateInput{
		Name:             "orphan",
		Role:             RoleChild,
		WalletAddressURL: "https://wallet.example/orphan",
	}); err == nil {
		t.Fatal("expected error for child without parent")
	}

	if _, err := svc.Create(ctx, CreateInput{
		Name:             "orphan",
		Role:             RoleChild,
		ParentID:         "missing",
		WalletAddressURL: "https://wallet.example/orphan",
	}); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestChildCannotParentAccounts(t *testing.T) {
	svc := NewService(NewMemoryRepository())
	ctx := context.Background()

	parent, err := svc.Create(ctx, CreateInput{
		Name:             "Alice",
		Role:             RoleParent,
		WalletAddressURL: "https://wallet.example/alice",
	})
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	child, err := svc.Create(ctx, CreateInput{
		Name:             "Billy",
		Role:             RoleChild,
		ParentID:         parent.ID,
		WalletAddressURL: "https://wallet.example/billy",
	})
	if err != nil {
		t.Fatalf("create child: %v", err)
	}

	if _, err := svc.Create(ctx, CreateInput{
		Name:             "grandchild",
		Role:             RoleChild,
		ParentID:         child.ID,
		WalletAddressURL: "https://wallet.example/grandchild",
	}); err == nil {
		t.Fatal("expected error when parenting under a child account")
	}
}

func TestResolveWallet(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo)
	ctx := context.Background()

	acct, err := svc.Create(ctx, CreateInput{
		Name:             "Alice",
		Role:             RoleParent,
		WalletAddressURL: "https://wallet.example/alice",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	url, err := svc.ResolveWallet(ctx, acct.ID)
	if err != nil {
		t.Fatalf("resolve wallet: %v", err)
	}
	if url != "https://wallet.example/alice" {
		t.Fatalf("unexpected wallet url %q", url)
	}

	// A binding written directly without a URL surfaces ErrWalletNotBound.
	unbound := Account{ID: "unbound", Name: "no wallet", Role: RoleParent}
	if err := repo.Create(ctx, unbound); err != nil {
		t.Fatalf("seed unbound account: %v", err)
	}
	if _, err := svc.ResolveWallet(ctx, unbound.ID); !errors.Is(err, ErrWalletNotBound) {
		t.Fatalf("expected ErrWalletNotBound, got %v", err)
	}
}
