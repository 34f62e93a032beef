package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Amounts cross the driver as text so no precision is lost to float conversion.
const balanceSelect = `SELECT b.wallet_address, b.currency_id, c.code, c.name, b.amount::text, b.updated_at
	FROM balances b JOIN currencies c ON c.id = b.currency_id`

// BalanceRepo implements ports.BalanceRepository.
type BalanceRepo struct {
	pool Pool
}

// NewBalanceRepo creates a new BalanceRepo.
func NewBalanceRepo(pool Pool) *BalanceRepo {
	return &BalanceRepo{pool: pool}
}

// GetForUpdate locks the balance row. Returns nil, nil when the row does not exist.
func (r *BalanceRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, key domain.BalanceKey) (*domain.Balance, error) {
	query := balanceSelect + ` WHERE b.wallet_address = $1 AND b.currency_id = $2 FOR UPDATE OF b`

	b, err := scanBalance(tx.QueryRow(ctx, query, key.WalletAddress, key.CurrencyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock balance: %w", translate(err))
	}
	return b, nil
}

// LockOrCreate provisions a zero row if absent, then locks it.
func (r *BalanceRepo) LockOrCreate(ctx context.Context, tx pgx.Tx, key domain.BalanceKey) (*domain.Balance, error) {
	_, err := tx.Exec(ctx, `INSERT INTO balances (wallet_address, currency_id, amount)
		VALUES ($1, $2, 0) ON CONFLICT (wallet_address, currency_id) DO NOTHING`,
		key.WalletAddress, key.CurrencyID)
	if err != nil {
		return nil, fmt.Errorf("provision balance: %w", translate(err))
	}

	b, err := r.GetForUpdate(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("provision balance %s/%d: row vanished", key.WalletAddress, key.CurrencyID)
	}
	return b, nil
}

// Debit subtracts amount from an existing row.
func (r *BalanceRepo) Debit(ctx context.Context, tx pgx.Tx, key domain.BalanceKey, amount decimal.Decimal) (*domain.Balance, error) {
	query := `UPDATE balances SET amount = amount - $3::numeric, updated_at = NOW()
		WHERE wallet_address = $1 AND currency_id = $2
		RETURNING amount::text, updated_at`

	b, err := scanAmount(key, tx.QueryRow(ctx, query, key.WalletAddress, key.CurrencyID, amount.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("debit balance %s/%d: row not found", key.WalletAddress, key.CurrencyID)
		}
		return nil, fmt.Errorf("debit balance: %w", translate(err))
	}
	return b, nil
}

// Credit adds amount, creating the row if absent.
func (r *BalanceRepo) Credit(ctx context.Context, tx pgx.Tx, key domain.BalanceKey, amount decimal.Decimal) (*domain.Balance, error) {
	query := `INSERT INTO balances (wallet_address, currency_id, amount, updated_at)
		VALUES ($1, $2, $3::numeric, NOW())
		ON CONFLICT (wallet_address, currency_id)
		DO UPDATE SET amount = balances.amount + EXCLUDED.amount, updated_at = NOW()
		RETURNING amount::text, updated_at`

	b, err := scanAmount(key, tx.QueryRow(ctx, query, key.WalletAddress, key.CurrencyID, amount.String()))
	if err != nil {
		return nil, fmt.Errorf("credit balance: %w", translate(err))
	}
	return b, nil
}

// InitZero provisions zero balances, leaving existing rows untouched.
func (r *BalanceRepo) InitZero(ctx context.Context, tx pgx.Tx, address string, currencyIDs []int32) error {
	_, err := tx.Exec(ctx, `INSERT INTO balances (wallet_address, currency_id, amount)
		SELECT $1, unnest($2::int[]), 0
		ON CONFLICT (wallet_address, currency_id) DO NOTHING`,
		address, currencyIDs)
	if err != nil {
		return fmt.Errorf("init balances: %w", translate(err))
	}
	return nil
}

// ListByWallet returns the wallet's balances ordered by currency code.
func (r *BalanceRepo) ListByWallet(ctx context.Context, address string) ([]domain.Balance, error) {
	rows, err := r.pool.Query(ctx, balanceSelect+` WHERE b.wallet_address = $1 ORDER BY c.code`, address)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	defer rows.Close()

	var balances []domain.Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan balance row: %w", err)
		}
		balances = append(balances, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balance rows: %w", err)
	}
	return balances, nil
}

func scanBalance(row pgx.Row) (*domain.Balance, error) {
	var (
		b      domain.Balance
		amount string
	)
	if err := row.Scan(&b.WalletAddress, &b.CurrencyID, &b.CurrencyCode, &b.CurrencyName, &amount, &b.UpdatedAt); err != nil {
		return nil, err
	}
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	b.Amount = parsed
	return &b, nil
}

func scanAmount(key domain.BalanceKey, row pgx.Row) (*domain.Balance, error) {
	var (
		amount    string
		updatedAt time.Time
	)
	if err := row.Scan(&amount, &updatedAt); err != nil {
		return nil, err
	}
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	return &domain.Balance{
		WalletAddress: key.WalletAddress,
		CurrencyID:    key.CurrencyID,
		Amount:        parsed,
		UpdatedAt:     updatedAt,
	}, nil
}
