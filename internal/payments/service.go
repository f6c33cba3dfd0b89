package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pocket-pay/pocket_pay/internal/account"
	"github.com/pocket-pay/pocket_pay/internal/asset"
	"github.com/pocket-pay/pocket_pay/internal/grants"
	"github.com/pocket-pay/pocket_pay/internal/ledger"
	"github.com/pocket-pay/pocket_pay/internal/notification"
	"github.com/pocket-pay/pocket_pay/internal/openpayments"
)

var (
	// ErrInvalidAmount indicates a non-positive or non-representable amount.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrNotYetAuthorized signals the human has not approved the grant yet.
	// Retryable by the caller; never a failure of the transfer.
	ErrNotYetAuthorized = errors.New("transfer not yet authorized")

	// ErrAlreadyFinalized guards completion idempotency: a second authorize
	// click or a retried request must not re-trigger settlement.
	ErrAlreadyFinalized = errors.New("transfer already finalized")
)

// ProviderError wraps a remote-call failure with the protocol leg that
// failed. Payment legs are not safely idempotent to replay blindly, so these
// surface to the caller instead of being retried here.
type ProviderError struct {
	Leg string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider call failed at %s: %v", e.Leg, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Service orchestrates the four-leg grant protocol for a transfer and
// records each attempt in the transfer ledger.
type Service struct {
	wallets  account.WalletResolver
	client   openpayments.Client
	grants   *grants.Negotiator
	store    ledger.Store
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewService constructs a payment orchestrator.
func NewService(wallets account.WalletResolver, client openpayments.Client, negotiator *grants.Negotiator, store ledger.Store, notifier notification.Notifier, logger *slog.Logger) *Service {
	return &Service{wallets: wallets, client: client, grants: negotiator, store: store, notifier: notifier, logger: logger}
}

// InitiateInput captures a transfer request between two local accounts.
type InitiateInput struct {
	FromAccountID string
	ToAccountID   string
	Amount        decimal.Decimal
	Description   string
}

// InitiateResult tells the caller how to proceed. The interact URL must be
// presented to a human; the engine never opens it.
type InitiateResult struct {
	TransferID            string
	RequiresAuthorization bool
	InteractURL           string
}

// Initiate drives the non-interactive legs (incoming payment, quote) and
// establishes the interactive outgoing-payment grant, then persists the
// transfer as awaiting authorization. Failures before the record is written
// abort cleanly: nothing durable exists for an attempt that never reached the
// authorization gap.
func (s *Service) Initiate(ctx context.Context, input InitiateInput) (InitiateResult, error) {
	if input.Amount.Sign() <= 0 {
		return InitiateResult{}, fmt.Errorf("%w: %s", ErrInvalidAmount, input.Amount)
	}

	fromWalletURL, err := s.wallets.ResolveWallet(ctx, input.FromAccountID)
	if err != nil {
		return InitiateResult{}, err
	}
	toWalletURL, err := s.wallets.ResolveWallet(ctx, input.ToAccountID)
	if err != nil {
		return InitiateResult{}, err
	}

	receiverWallet, err := s.client.WalletAddress(ctx, toWalletURL)
	if err != nil {
		return InitiateResult{}, &ProviderError{Leg: "receiver-wallet", Err: err}
	}

	atomic, err := asset.ToAtomic(input.Amount, receiverWallet.AssetScale)
	if err != nil {
		return InitiateResult{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	incomingGrant, err := s.grants.Request(ctx, receiverWallet, grants.KindIncomingPayment, []string{"create", "read", "complete"}, nil)
	if err != nil {
		return InitiateResult{}, &ProviderError{Leg: "incoming-payment-grant", Err: err}
	}

	newIncoming := openpayments.NewIncomingPayment{
		WalletAddress:  receiverWallet.ID,
		IncomingAmount: asset.New(atomic, receiverWallet.AssetCode, receiverWallet.AssetScale),
	}
	if input.Description != "" {
		newIncoming.Metadata = &openpayments.Metadata{Description: input.Description}
	}
	incoming, err := s.client.CreateIncomingPayment(ctx, receiverWallet.ResourceServer, incomingGrant.AccessToken, newIncoming)
	if err != nil {
		return InitiateResult{}, &ProviderError{Leg: "incoming-payment", Err: err}
	}

	senderWallet, err := s.client.WalletAddress(ctx, fromWalletURL)
	if err != nil {
		return InitiateResult{}, &ProviderError{Leg: "sender-wallet", Err: err}
	}

	quoteGrant, err := s.grants.Request(ctx, senderWallet, grants.KindQuote, []string{"create", "read"}, nil)
	if err != nil {
		return InitiateResult{}, &ProviderError{Leg: "quote-grant", Err: err}
	}

	quote, err := s.client.CreateQuote(ctx, senderWallet.ResourceServer, quoteGrant.AccessToken, openpayments.NewQuote{
		WalletAddress: senderWallet.ID,
		Receiver:      incoming.ID,
		Method:        "ilp",
	})
	if err != nil {
		return InitiateResult{}, &ProviderError{Leg: "quote", Err: err}
	}

	// The quoted debit amount is authoritative and bounds the grant: it may
	// exceed the requested amount through fees or FX.
	outgoingGrant, err := s.grants.Request(ctx, senderWallet, grants.KindOutgoingPayment, []string{"create", "read"}, &grants.Options{
		DebitLimit: &quote.DebitAmount,
		Identifier: senderWallet.ID,
	})
	if err != nil {
		return InitiateResult{}, &ProviderError{Leg: "outgoing-payment-grant", Err: err}
	}

	transfer := ledger.PendingTransfer{
		ID:                 uuid.New().String(),
		FromAccountID:      input.FromAccountID,
		ToAccountID:        input.ToAccountID,
		Amount:             input.Amount,
		AssetCode:          receiverWallet.AssetCode,
		AssetScale:         receiverWallet.AssetScale,
		Status:             ledger.StatusAwaitingAuthorization,
		Description:        input.Description,
		IncomingPaymentID:  incoming.ID,
		QuoteID:            quote.ID,
		GrantContinueURI:   outgoingGrant.ContinueURI,
		GrantContinueToken: outgoingGrant.ContinueToken,
		GrantInteractURL:   outgoingGrant.InteractRedirectURL,
		CreatedAt:          time.Now().UTC(),
	}
	if err := s.store.Create(ctx, transfer); err != nil {
		return InitiateResult{}, fmt.Errorf("persist transfer: %w", err)
	}

	s.logger.Info("transfer awaiting authorization",
		"transfer_id", transfer.ID,
		"from", input.FromAccountID,
		"to", input.ToAccountID,
		"debit_amount", quote.DebitAmount.Value)

	return InitiateResult{
		TransferID:            transfer.ID,
		RequiresAuthorization: true,
		InteractURL:           outgoingGrant.InteractRedirectURL,
	}, nil
}

// CompleteResult reports the terminal status reached by Complete.
type CompleteResult struct {
	Status ledger.Status
}

// Complete resumes a transfer after the human-approval gap. It is a single
// bounded attempt: a still-pending grant returns ErrNotYetAuthorized and
// leaves the record untouched; a consumed-grant failure finalizes the record
// as failed so the cause stays visible in the audit trail.
func (s *Service) Complete(ctx context.Context, transferID string) (CompleteResult, error) {
	transfer, err := s.store.Get(ctx, transferID)
	if err != nil {
		return CompleteResult{}, err
	}
	if transfer.Status != ledger.StatusAwaitingAuthorization {
		return CompleteResult{Status: transfer.Status}, fmt.Errorf("%w: transfer %s is %s", ErrAlreadyFinalized, transferID, transfer.Status)
	}

	grant, err := s.grants.Continue(ctx, transfer.GrantContinueURI, transfer.GrantContinueToken)
	if err != nil {
		switch {
		case errors.Is(err, grants.ErrGrantNotFinalized):
			return CompleteResult{Status: transfer.Status}, fmt.Errorf("%w: transfer %s", ErrNotYetAuthorized, transferID)
		case errors.Is(err, grants.ErrGrantExpired):
			return CompleteResult{Status: transfer.Status}, err
		default:
			return CompleteResult{}, &ProviderError{Leg: "grant-continue", Err: err}
		}
	}

	fromWalletURL, err := s.wallets.ResolveWallet(ctx, transfer.FromAccountID)
	if err != nil {
		return CompleteResult{}, err
	}
	senderWallet, err := s.client.WalletAddress(ctx, fromWalletURL)
	if err != nil {
		return CompleteResult{}, &ProviderError{Leg: "sender-wallet", Err: err}
	}

	outgoing, err := s.client.CreateOutgoingPayment(ctx, senderWallet.ResourceServer, grant.AccessToken, openpayments.NewOutgoingPayment{
		WalletAddress: senderWallet.ID,
		QuoteID:       transfer.QuoteID,
	})
	if err != nil {
		// The grant has likely been consumed; this attempt is terminal.
		providerErr := &ProviderError{Leg: "outgoing-payment", Err: err}
		if _, casErr := s.store.CompareAndSetStatus(ctx, transferID, ledger.StatusAwaitingAuthorization, ledger.StatusFailed, ledger.StatusUpdate{
			ErrorMessage: providerErr.Error(),
		}); casErr != nil && !errors.Is(casErr, ledger.ErrStatusConflict) {
			s.logger.Error("record transfer failure", "transfer_id", transferID, "error", casErr)
		}
		s.notify(ctx, transfer, notification.KindTransferFailed)
		return CompleteResult{Status: ledger.StatusFailed}, providerErr
	}

	now := time.Now().UTC()
	updated, err := s.store.CompareAndSetStatus(ctx, transferID, ledger.StatusAwaitingAuthorization, ledger.StatusCompleted, ledger.StatusUpdate{
		OutgoingPaymentID: outgoing.ID,
		CompletedAt:       &now,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrStatusConflict) {
			return CompleteResult{Status: updated.Status}, fmt.Errorf("%w: transfer %s is %s", ErrAlreadyFinalized, transferID, updated.Status)
		}
		return CompleteResult{}, fmt.Errorf("finalize transfer: %w", err)
	}

	s.logger.Info("transfer completed", "transfer_id", transferID, "outgoing_payment_id", outgoing.ID)
	s.notify(ctx, updated, notification.KindTransferCompleted)

	return CompleteResult{Status: updated.Status}, nil
}

// ListTransfers returns the account's transfer audit trail, newest first.
func (s *Service) ListTransfers(ctx context.Context, accountID string, limit int) ([]ledger.PendingTransfer, error) {
	return s.store.ListByAccount(ctx, accountID, limit)
}

func (s *Service) notify(ctx context.Context, transfer ledger.PendingTransfer, kind string) {
	if s.notifier == nil {
		return
	}
	_ = s.notifier.Send(ctx, notification.Message{
		Kind:        kind,
		Destination: transfer.ToAccountID,
		Body:        fmt.Sprintf("Transfer of %s %s from %s", transfer.Amount, transfer.AssetCode, transfer.FromAccountID),
	})
}
