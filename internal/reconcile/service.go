package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pocket-pay/pocket_pay/internal/account"
	"github.com/pocket-pay/pocket_pay/internal/asset"
	"github.com/pocket-pay/pocket_pay/internal/grants"
	"github.com/pocket-pay/pocket_pay/internal/openpayments"
)

const defaultPageSize = 50

// Direction distinguishes the two halves of a wallet's history.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Record is one provider payment normalized for display, an immutable fact
// once observed.
type Record struct {
	ID          string       `json:"id"`
	Direction   Direction    `json:"direction"`
	Status      string       `json:"status"`
	Amount      asset.Amount `json:"amount"`
	Description string       `json:"description,omitempty"`
	Receiver    string       `json:"receiver,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// SyncResult is the outcome of replaying a wallet's remote history.
type SyncResult struct {
	Balance CachedBalance
	Records []Record
}

// Service rebuilds the local balance cache from the authoritative remote
// transaction history. Settlement truth stays with the provider; the cache
// only exists for responsiveness.
type Service struct {
	wallets  account.WalletResolver
	client   openpayments.Client
	grants   *grants.Negotiator
	cache    BalanceCache
	pageSize int
	logger   *slog.Logger
}

// NewService constructs a reconciliation service.
func NewService(wallets account.WalletResolver, client openpayments.Client, negotiator *grants.Negotiator, cache BalanceCache, pageSize int, logger *slog.Logger) *Service {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Service{wallets: wallets, client: client, grants: negotiator, cache: cache, pageSize: pageSize, logger: logger}
}

// Sync drains the wallet's incoming and outgoing payment history, recomputes
// the cached balance from scratch and returns the merged record list, newest
// first. Re-running with no new remote events reproduces the same result.
func (s *Service) Sync(ctx context.Context, accountID string) (SyncResult, error) {
	walletURL, err := s.wallets.ResolveWallet(ctx, accountID)
	if err != nil {
		return SyncResult{}, err
	}
	wallet, err := s.client.WalletAddress(ctx, walletURL)
	if err != nil {
		return SyncResult{}, fmt.Errorf("resolve wallet address: %w", err)
	}

	incomingRecords, incomingAmounts, err := s.drainIncoming(ctx, wallet)
	if err != nil {
		return SyncResult{}, err
	}
	outgoingRecords, outgoingAmounts, err := s.drainOutgoing(ctx, wallet)
	if err != nil {
		return SyncResult{}, err
	}

	totalIn, err := sumMatching(incomingAmounts, wallet)
	if err != nil {
		return SyncResult{}, fmt.Errorf("incoming history: %w", err)
	}
	totalOut, err := sumMatching(outgoingAmounts, wallet)
	if err != nil {
		return SyncResult{}, fmt.Errorf("outgoing history: %w", err)
	}

	balanceAtomic := totalIn - totalOut
	balance := CachedBalance{
		AccountID:     accountID,
		AssetCode:     wallet.AssetCode,
		AssetScale:    wallet.AssetScale,
		BalanceAtomic: balanceAtomic,
		BalanceHuman:  asset.FormatAtomic(balanceAtomic, wallet.AssetScale),
		UpdatedAt:     time.Now().UTC(),
	}
	if err := s.cache.Put(ctx, balance); err != nil {
		return SyncResult{}, err
	}

	merged := mergeDescending(incomingRecords, outgoingRecords)
	s.logger.Info("wallet history reconciled",
		"account_id", accountID,
		"incoming", len(incomingRecords),
		"outgoing", len(outgoingRecords),
		"balance", balance.BalanceHuman)

	return SyncResult{Balance: balance, Records: merged}, nil
}

// GetCachedBalance returns the last computed snapshot without touching the
// provider.
func (s *Service) GetCachedBalance(ctx context.Context, accountID string) (CachedBalance, error) {
	return s.cache.Get(ctx, accountID)
}

func (s *Service) drainIncoming(ctx context.Context, wallet openpayments.WalletAddress) ([]Record, []asset.Amount, error) {
	grant, err := s.grants.RequestReadOnly(ctx, wallet, grants.KindIncomingPayment, []string{"list", "read", "read-all"})
	if err != nil {
		return nil, nil, err
	}

	var (
		records []Record
		amounts []asset.Amount
		cursor  string
	)
	for {
		page, err := s.client.ListIncomingPayments(ctx, wallet.ResourceServer, grant.AccessToken, wallet.ID, openpayments.ListOptions{
			Cursor: cursor,
			Limit:  s.pageSize,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("list incoming payments: %w", err)
		}
		for _, p := range page.Result {
			status := "pending"
			if p.Completed {
				status = "completed"
			}
			rec := Record{
				ID:        p.ID,
				Direction: DirectionIncoming,
				Status:    status,
				Amount:    p.ReceivedAmount,
				CreatedAt: p.CreatedAt,
			}
			if p.Metadata != nil {
				rec.Description = p.Metadata.Description
			}
			records = append(records, rec)
			amounts = append(amounts, p.ReceivedAmount)
		}
		if page.NextCursor == "" {
			return records, amounts, nil
		}
		cursor = page.NextCursor
	}
}

func (s *Service) drainOutgoing(ctx context.Context, wallet openpayments.WalletAddress) ([]Record, []asset.Amount, error) {
	grant, err := s.grants.RequestReadOnly(ctx, wallet, grants.KindOutgoingPayment, []string{"list", "list-all", "read", "read-all"})
	if err != nil {
		return nil, nil, err
	}

	var (
		records []Record
		amounts []asset.Amount
		cursor  string
	)
	for {
		page, err := s.client.ListOutgoingPayments(ctx, wallet.ResourceServer, grant.AccessToken, wallet.ID, openpayments.ListOptions{
			Cursor: cursor,
			Limit:  s.pageSize,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("list outgoing payments: %w", err)
		}
		for _, p := range page.Result {
			status := "completed"
			if p.Failed {
				status = "failed"
			}
			rec := Record{
				ID:        p.ID,
				Direction: DirectionOutgoing,
				Status:    status,
				Amount:    p.DebitAmount,
				Receiver:  p.Receiver,
				CreatedAt: p.CreatedAt,
			}
			if p.Metadata != nil {
				rec.Description = p.Metadata.Description
			}
			records = append(records, rec)
			amounts = append(amounts, p.DebitAmount)
		}
		if page.NextCursor == "" {
			return records, amounts, nil
		}
		cursor = page.NextCursor
	}
}

func sumMatching(amounts []asset.Amount, wallet openpayments.WalletAddress) (int64, error) {
	if len(amounts) == 0 {
		return 0, nil
	}
	total, code, scale, err := asset.Sum(amounts)
	if err != nil {
		return 0, err
	}
	if code != wallet.AssetCode || scale != wallet.AssetScale {
		return 0, fmt.Errorf("%w: history reports %s/%d, wallet is %s/%d",
			asset.ErrScaleMismatch, code, scale, wallet.AssetCode, wallet.AssetScale)
	}
	return total, nil
}

// mergeDescending merges two lists that are each already ordered newest
// first into one newest-first list. The store behind the provider cannot
// answer "incoming OR outgoing" in a single query, so the union is built
// here with a stable merge: ties prefer the incoming side, and records
// without a timestamp sort as most recent.
func mergeDescending(a, b []Record) []Record {
	merged := make([]Record, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if newerOrEqual(a[i], b[j]) {
			merged = append(merged, a[i])
			i++
		} else {
			merged = append(merged, b[j])
			j++
		}
	}
	merged = append(merged, a[i:]...)
	merged = append(merged, b[j:]...)
	return merged
}

func newerOrEqual(x, y Record) bool {
	switch {
	case x.CreatedAt.IsZero():
		return true
	case y.CreatedAt.IsZero():
		return false
	default:
		return !x.CreatedAt.Before(y.CreatedAt)
	}
}
