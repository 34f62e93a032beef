package postgres

import (
	"context"
	"errors"
	"fmt"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

const walletColumns = `address, secret_digest, status, created_at`

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	pool Pool
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(pool Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// Create inserts a new wallet within a database transaction.
func (r *WalletRepo) Create(ctx context.Context, tx pgx.Tx, w *domain.Wallet) error {
	query := `INSERT INTO wallets (address, secret_digest, status, created_at) VALUES ($1, $2, $3, $4)`

	_, err := tx.Exec(ctx, query, w.Address, w.SecretDigest, string(w.Status), w.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert wallet: %w", translate(err))
	}
	return nil
}

// GetByAddress fetches a wallet (non-locking read).
func (r *WalletRepo) GetByAddress(ctx context.Context, address string) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE address = $1`
	return scanWallet(r.pool.QueryRow(ctx, query, address))
}

// GetByAddressTx fetches a wallet with a share lock. This MUST be called within a transaction.
func (r *WalletRepo) GetByAddressTx(ctx context.Context, tx pgx.Tx, address string) (*domain.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE address = $1 FOR SHARE`
	return scanWallet(tx.QueryRow(ctx, query, address))
}

// List returns wallets newest first.
func (r *WalletRepo) List(ctx context.Context, params ports.ListParams) ([]domain.Wallet, int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM wallets`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count wallets: %w", err)
	}

	query := `SELECT ` + walletColumns + ` FROM wallets ORDER BY created_at DESC, address LIMIT $1 OFFSET $2`
	rows, err := r.pool.Query(ctx, query, params.Limit, params.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []domain.Wallet
	for rows.Next() {
		var w domain.Wallet
		if err := rows.Scan(&w.Address, &w.SecretDigest, &w.Status, &w.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan wallet row: %w", err)
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate wallet rows: %w", err)
	}
	return wallets, total, nil
}

// UpdateStatus waits for in-flight ledger operations holding the wallet's share lock.
func (r *WalletRepo) UpdateStatus(ctx context.Context, address string, status domain.WalletStatus) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE wallets SET status = $1 WHERE address = $2`, string(status), address)
	if err != nil {
		return false, fmt.Errorf("update wallet status: %w", translate(err))
	}
	return tag.RowsAffected() > 0, nil
}

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	w := &domain.Wallet{}
	err := row.Scan(&w.Address, &w.SecretDigest, &w.Status, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan wallet: %w", translate(err))
	}
	return w, nil
}
