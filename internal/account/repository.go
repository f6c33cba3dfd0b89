package account

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrAccountNotFound indicates no account exists for the identifier.
	ErrAccountNotFound = errors.New("account not found")

	// ErrWalletNotBound indicates the account has no remote wallet address
	// bound to it.
	ErrWalletNotBound = errors.New("wallet not bound")
)

// Repository persists accounts and their wallet bindings.
type Repository interface {
	Create(ctx context.Context, acct Account) error
	Get(ctx context.Context, id string) (Account, error)
	ListChildren(ctx context.Context, parentID string) ([]Account, error)
}

// PostgresRepository stores accounts in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts an account record.
func (r *PostgresRepository) Create(ctx context.Context, acct Account) error {
	acctID, err := uuid.Parse(acct.ID)
	if err != nil {
		return err
	}
	var parentID any
	if acct.ParentID != "" {
		pid, err := uuid.Parse(acct.ParentID)
		if err != nil {
			return err
		}
		parentID = pid
	}
	_, err = r.db.Exec(ctx, `INSERT INTO accounts (id, name, role, parent_id, wallet_address_url, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)`, acctID, acct.Name, acct.Role, parentID, acct.WalletAddressURL, acct.CreatedAt.UTC())
	return err
}

// Get fetches an account by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id string) (Account, error) {
	acctID, err := uuid.Parse(id)
	if err != nil {
		return Account{}, ErrAccountNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT id, name, role, parent_id, wallet_address_url, created_at
        FROM accounts WHERE id = $1`, acctID)
	return scanAccount(row)
}

// ListChildren fetches the accounts provisioned under a parent, newest first.
func (r *PostgresRepository) ListChildren(ctx context.Context, parentID string) ([]Account, error) {
	pid, err := uuid.Parse(parentID)
	if err != nil {
		return nil, ErrAccountNotFound
	}
	rows, err := r.db.Query(ctx, `SELECT id, name, role, parent_id, wallet_address_url, created_at
        FROM accounts WHERE parent_id = $1 ORDER BY created_at DESC`, pid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		acct      Account
		id        uuid.UUID
		parentID  uuid.NullUUID
		wallet    sql.NullString
		createdAt time.Time
	)
	if err := row.Scan(&id, &acct.Name, &acct.Role, &parentID, &wallet, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	acct.ID = id.String()
	if parentID.Valid {
		acct.ParentID = parentID.UUID.String()
	}
	acct.WalletAddressURL = wallet.String
	acct.CreatedAt = createdAt.UTC()
	return acct, nil
}
