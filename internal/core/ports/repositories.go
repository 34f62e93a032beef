package ports

import (
	"context"

	"wallet-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// WalletRepository defines persistence operations for wallets.
// Methods accepting pgx.Tx run inside the caller's transaction.
type WalletRepository interface {
	Create(ctx context.Context, tx pgx.Tx, wallet *domain.Wallet) error
	GetByAddress(ctx context.Context, address string) (*domain.Wallet, error)
	// GetByAddressTx reads the wallet inside tx and holds a share lock on the row,
	// so a concurrent block waits for in-flight ledger operations.
	GetByAddressTx(ctx context.Context, tx pgx.Tx, address string) (*domain.Wallet, error)
	List(ctx context.Context, params ListParams) ([]domain.Wallet, int64, error)
	// UpdateStatus returns false if no wallet has the address.
	UpdateStatus(ctx context.Context, address string, status domain.WalletStatus) (bool, error)
}

// BalanceRepository defines persistence operations for per-wallet per-currency balances.
// Every write method must be called inside a transaction that also appends the movement.
type BalanceRepository interface {
	// GetForUpdate locks the balance row. Returns nil, nil if the row does not exist.
	GetForUpdate(ctx context.Context, tx pgx.Tx, key domain.BalanceKey) (*domain.Balance, error)
	// LockOrCreate inserts a zero balance if absent and locks the row.
	LockOrCreate(ctx context.Context, tx pgx.Tx, key domain.BalanceKey) (*domain.Balance, error)
	// Debit subtracts amount from an existing, already locked row.
	Debit(ctx context.Context, tx pgx.Tx, key domain.BalanceKey, amount decimal.Decimal) (*domain.Balance, error)
	// Credit adds amount, creating the row at amount if absent.
	Credit(ctx context.Context, tx pgx.Tx, key domain.BalanceKey, amount decimal.Decimal) (*domain.Balance, error)
	// InitZero provisions zero balances, skipping rows that already exist.
	InitZero(ctx context.Context, tx pgx.Tx, address string, currencyIDs []int32) error
	ListByWallet(ctx context.Context, address string) ([]domain.Balance, error)
}

// MovementRepository defines persistence for the append-only movement log.
type MovementRepository interface {
	// Create assigns ID and CreatedAt on mv.
	Create(ctx context.Context, tx pgx.Tx, mv *domain.Movement) error
	ListByWallet(ctx context.Context, params MovementListParams) ([]domain.Movement, int64, error)
}

// CurrencyRepository is the read-only currency catalog.
type CurrencyRepository interface {
	// GetByCode returns nil, nil for an unknown code.
	GetByCode(ctx context.Context, code string) (*domain.Currency, error)
	List(ctx context.Context) ([]domain.Currency, error)
}

// IdempotencyRepository defines persistence for idempotency logs (DB backup).
type IdempotencyRepository interface {
	// Create returns an error wrapping ErrDuplicateKey if the key already exists.
	Create(ctx context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error
	Get(ctx context.Context, key string) (*domain.IdempotencyLog, error)
}

// AuditRepository persists audit logs.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ListParams holds pagination for list queries.
type ListParams struct {
	Limit  int
	Offset int
}

// MovementListParams holds filter + pagination for listing movements.
type MovementListParams struct {
	Address string
	Kind    *domain.MovementKind
	Limit   int
	Offset  int
}
