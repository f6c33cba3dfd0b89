package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrTransferNotFound indicates no transfer exists for the identifier.
	ErrTransferNotFound = errors.New("transfer not found")

	// ErrStatusConflict indicates a compare-and-set failed because the
	// transfer was no longer in the expected status. Racing completions
	// resolve through this error: exactly one writer wins.
	ErrStatusConflict = errors.New("transfer status conflict")
)

// Status is a transfer's position in its lifecycle. Transitions only move
// forward; a finalized transfer never regresses.
type Status string

const (
	StatusCreated               Status = "created"
	StatusAwaitingAuthorization Status = "awaiting_authorization"
	StatusCompleted             Status = "completed"
	StatusFailed                Status = "failed"
)

// CanTransitionTo reports whether next is a legal forward step from s.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusCreated:
		return next == StatusAwaitingAuthorization
	case StatusAwaitingAuthorization:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// PendingTransfer is one transfer attempt. It is created when the interactive
// grant is established, survives the human-approval gap, and is never
// deleted: finalized rows are the audit trail.
type PendingTransfer struct {
	ID            string
	FromAccountID string
	ToAccountID   string
	Amount        decimal.Decimal
	AssetCode     string
	AssetScale    int32
	Status        Status
	Description   string

	IncomingPaymentID string
	QuoteID           string
	OutgoingPaymentID string

	GrantContinueURI   string
	GrantContinueToken string
	GrantInteractURL   string

	ErrorMessage string
	CreatedAt    time.Time
	CompletedAt  *time.Time
}

// StatusUpdate carries the fields written together with a status transition.
// Empty fields leave the stored value untouched.
type StatusUpdate struct {
	OutgoingPaymentID string
	ErrorMessage      string
	CompletedAt       *time.Time
}

// Store persists pending transfers. All status writers go through
// CompareAndSetStatus; there is no unconditional status overwrite.
type Store interface {
	Create(ctx context.Context, t PendingTransfer) error
	Get(ctx context.Context, id string) (PendingTransfer, error)
	CompareAndSetStatus(ctx context.Context, id string, expected, next Status, update StatusUpdate) (PendingTransfer, error)
	// ListByAccount returns transfers where the account is either party,
	// newest first.
	ListByAccount(ctx context.Context, accountID string, limit int) ([]PendingTransfer, error)
}
