package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore persists pending transfers in PostgreSQL. The status gate on
// the UPDATE gives compare-and-set semantics without holding a lock across
// any network round trip.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed transfer store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const transferColumns = `id, from_account_id, to_account_id, amount::text, asset_code, asset_scale,
        status, description, incoming_payment_id, quote_id, outgoing_payment_id,
        grant_continue_uri, grant_continue_token, grant_interact_url,
        error_message, created_at, completed_at`

// Create inserts a transfer record.
func (s *PostgresStore) Create(ctx context.Context, t PendingTransfer) error {
	id, err := uuid.Parse(t.ID)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `INSERT INTO pending_transfers (
            id, from_account_id, to_account_id, amount, asset_code, asset_scale,
            status, description, incoming_payment_id, quote_id, outgoing_payment_id,
            grant_continue_uri, grant_continue_token, grant_interact_url,
            error_message, created_at, completed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		id, t.FromAccountID, t.ToAccountID, t.Amount.String(), t.AssetCode, t.AssetScale,
		string(t.Status), t.Description, t.IncomingPaymentID, t.QuoteID, t.OutgoingPaymentID,
		t.GrantContinueURI, t.GrantContinueToken, t.GrantInteractURL,
		t.ErrorMessage, t.CreatedAt.UTC(), t.CompletedAt)
	return err
}

// Get fetches a transfer by identifier.
func (s *PostgresStore) Get(ctx context.Context, id string) (PendingTransfer, error) {
	transferID, err := uuid.Parse(id)
	if err != nil {
		return PendingTransfer{}, ErrTransferNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT `+transferColumns+` FROM pending_transfers WHERE id = $1`, transferID)
	return scanTransfer(row)
}

// CompareAndSetStatus transitions the transfer's status iff it is still in
// the expected status; concurrent writers lose with ErrStatusConflict.
func (s *PostgresStore) CompareAndSetStatus(ctx context.Context, id string, expected, next Status, update StatusUpdate) (PendingTransfer, error) {
	if !expected.CanTransitionTo(next) {
		return PendingTransfer{}, fmt.Errorf("illegal transition %s -> %s", expected, next)
	}
	transferID, err := uuid.Parse(id)
	if err != nil {
		return PendingTransfer{}, ErrTransferNotFound
	}

	row := s.db.QueryRow(ctx, `UPDATE pending_transfers SET
            status = $3,
            outgoing_payment_id = COALESCE(NULLIF($4, ''), outgoing_payment_id),
            error_message = COALESCE(NULLIF($5, ''), error_message),
            completed_at = COALESCE($6, completed_at)
        WHERE id = $1 AND status = $2
        RETURNING `+transferColumns, transferID, string(expected), string(next),
		update.OutgoingPaymentID, update.ErrorMessage, update.CompletedAt)

	t, err := scanTransfer(row)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, ErrTransferNotFound) {
		return PendingTransfer{}, err
	}

	// Gate failed: distinguish a missing row from a lost race.
	current, getErr := s.Get(ctx, id)
	if getErr != nil {
		return PendingTransfer{}, getErr
	}
	return current, ErrStatusConflict
}

// ListByAccount returns transfers involving the account, newest first.
func (s *PostgresStore) ListByAccount(ctx context.Context, accountID string, limit int) ([]PendingTransfer, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `SELECT `+transferColumns+`
        FROM pending_transfers
        WHERE from_account_id = $1 OR to_account_id = $1
        ORDER BY created_at DESC
        LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []PendingTransfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

func scanTransfer(row pgx.Row) (PendingTransfer, error) {
	var (
		t           PendingTransfer
		id          uuid.UUID
		amount      string
		status      string
		createdAt   time.Time
		completedAt sql.NullTime
	)
	if err := row.Scan(&id, &t.FromAccountID, &t.ToAccountID, &amount, &t.AssetCode, &t.AssetScale,
		&status, &t.Description, &t.IncomingPaymentID, &t.QuoteID, &t.OutgoingPaymentID,
		&t.GrantContinueURI, &t.GrantContinueToken, &t.GrantInteractURL,
		&t.ErrorMessage, &createdAt, &completedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PendingTransfer{}, ErrTransferNotFound
		}
		return PendingTransfer{}, err
	}

	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return PendingTransfer{}, fmt.Errorf("parse stored amount %q: %w", amount, err)
	}

	t.ID = id.String()
	t.Amount = parsed
	t.Status = Status(status)
	t.CreatedAt = createdAt.UTC()
	if completedAt.Valid {
		utc := completedAt.Time.UTC()
		t.CompletedAt = &utc
	}
	return t, nil
}
