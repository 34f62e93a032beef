package postgres

import (
	"context"
	"fmt"
	"strings"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const movementSelect = `SELECT m.id, m.kind, m.wallet_address, m.counterparty_address,
	m.currency_id, c.code, m.dest_currency_id, dc.code,
	m.amount::text, m.dest_amount::text, m.fee::text, m.fee_rate::text, m.rate::text,
	m.idempotency_key, m.created_at
	FROM movements m
	JOIN currencies c ON c.id = m.currency_id
	LEFT JOIN currencies dc ON dc.id = m.dest_currency_id`

// movementSequenceLock is the transaction-scoped advisory lock key taken before
// a movement insert. It makes id order match commit order.
const movementSequenceLock int64 = 0x6d6f76656d656e74

// MovementRepo implements ports.MovementRepository. Rows are never updated or deleted.
type MovementRepo struct {
	pool Pool
}

// NewMovementRepo creates a new MovementRepo.
func NewMovementRepo(pool Pool) *MovementRepo {
	return &MovementRepo{pool: pool}
}

// Create appends a movement within a database transaction. The id comes from a
// sequence, so ids of rolled back movements are skipped, never reused. The
// sequence lock is held until the transaction ends and is subject to its
// lock_timeout.
func (r *MovementRepo) Create(ctx context.Context, tx pgx.Tx, m *domain.Movement) error {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", movementSequenceLock); err != nil {
		return fmt.Errorf("lock movement sequence: %w", translate(err))
	}

	query := `INSERT INTO movements (kind, wallet_address, counterparty_address, currency_id, dest_currency_id,
		amount, dest_amount, fee, fee_rate, rate, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9::numeric, $10::numeric, $11)
		RETURNING id, created_at`

	err := tx.QueryRow(ctx, query,
		string(m.Kind), m.WalletAddress, m.CounterpartyAddress, m.CurrencyID, m.DestCurrencyID,
		m.Amount.String(), nullDecimalText(m.DestAmount), m.Fee.String(), m.FeeRate.String(), nullDecimalText(m.Rate),
		m.IdempotencyKey,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert movement: %w", translate(err))
	}
	return nil
}

// ListByWallet returns movements where the wallet is actor or counterparty, newest first.
func (r *MovementRepo) ListByWallet(ctx context.Context, params ports.MovementListParams) ([]domain.Movement, int64, error) {
	conditions := []string{"(m.wallet_address = $1 OR m.counterparty_address = $1)"}
	args := []any{params.Address}
	argIdx := 2

	if params.Kind != nil {
		conditions = append(conditions, fmt.Sprintf("m.kind = $%d", argIdx))
		args = append(args, string(*params.Kind))
		argIdx++
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM movements m "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count movements: %w", err)
	}

	dataQuery := fmt.Sprintf(`%s %s ORDER BY m.id DESC LIMIT $%d OFFSET $%d`, movementSelect, where, argIdx, argIdx+1)
	args = append(args, params.Limit, params.Offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list movements: %w", err)
	}
	defer rows.Close()

	var movements []domain.Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan movement row: %w", err)
		}
		movements = append(movements, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate movement rows: %w", err)
	}
	return movements, total, nil
}

func scanMovement(row pgx.Row) (*domain.Movement, error) {
	var (
		m                    domain.Movement
		amount, fee, feeRate string
		destAmount, rate     *string
	)
	err := row.Scan(
		&m.ID, &m.Kind, &m.WalletAddress, &m.CounterpartyAddress,
		&m.CurrencyID, &m.CurrencyCode, &m.DestCurrencyID, &m.DestCurrencyCode,
		&amount, &destAmount, &fee, &feeRate, &rate,
		&m.IdempotencyKey, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if m.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	if m.Fee, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("parse fee: %w", err)
	}
	if m.FeeRate, err = decimal.NewFromString(feeRate); err != nil {
		return nil, fmt.Errorf("parse fee rate: %w", err)
	}
	if m.DestAmount, err = parseNullDecimal(destAmount); err != nil {
		return nil, fmt.Errorf("parse dest amount: %w", err)
	}
	if m.Rate, err = parseNullDecimal(rate); err != nil {
		return nil, fmt.Errorf("parse rate: %w", err)
	}
	return &m, nil
}

func nullDecimalText(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func parseNullDecimal(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}
