package account

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WalletResolver maps a local account identifier to its remote wallet
// address URL. Consumed read-only by the payment and reconciliation engines.
type WalletResolver interface {
	ResolveWallet(ctx context.Context, accountID string) (string, error)
}

// Service exposes account provisioning and wallet binding lookups.
type Service struct {
	repo Repository
}

// NewService builds an account service instance.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CreateInput captures data required to provision an account.
type CreateInput struct {
	Name             string
	Role             string
	ParentID         string
	WalletAddressURL string
}

// Create provisions an account with its wallet binding. Child accounts must
// reference an existing parent account.
func (s *Service) Create(ctx context.Context, input CreateInput) (Account, error) {
	if input.Name == "" {
		return Account{}, fmt.Errorf("name is required")
	}
	if input.WalletAddressURL == "" {
		return Account{}, fmt.Errorf("wallet address url is required")
	}

	switch input.Role {
	case RoleParent:
		if input.ParentID != "" {
			return Account{}, fmt.Errorf("parent accounts cannot have a parent")
		}
	case RoleChild:
		if input.ParentID == "" {
			return Account{}, fmt.Errorf("child accounts require a parent")
		}
		parent, err := s.repo.Get(ctx, input.ParentID)
		if err != nil {
			return Account{}, err
		}
		if parent.Role != RoleParent {
			return Account{}, fmt.Errorf("account %s is not a parent", input.ParentID)
		}
	default:
		return Account{}, fmt.Errorf("unknown role %q", input.Role)
	}

	acct := Account{
		ID:               uuid.New().String(),
		Name:             input.Name,
		Role:             input.Role,
		ParentID:         input.ParentID,
		WalletAddressURL: input.WalletAddressURL,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, acct); err != nil {
		return Account{}, err
	}
	return acct, nil
}

// Get retrieves an account.
func (s *Service) Get(ctx context.Context, id string) (Account, error) {
	return s.repo.Get(ctx, id)
}

// ListChildren retrieves the accounts provisioned under a parent.
func (s *Service) ListChildren(ctx context.Context, parentID string) ([]Account, error) {
	return s.repo.ListChildren(ctx, parentID)
}

// ResolveWallet implements WalletResolver.
func (s *Service) ResolveWallet(ctx context.Context, accountID string) (string, error) {
	acct, err := s.repo.Get(ctx, accountID)
	if err != nil {
		return "", err
	}
	if acct.WalletAddressURL == "" {
		return "", fmt.Errorf("%w: account %s", ErrWalletNotBound, accountID)
	}
	return acct.WalletAddressURL, nil
}
