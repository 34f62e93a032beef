package memory

import (
	"context"
	"errors"
	"fmt"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var errUnsupported = errors.New("memory tx: raw SQL is not supported")

// Tx is a pgx.Tx whose writes are staged until Commit.
// Only the repositories of this package know how to use it.
type Tx struct {
	store    *Store
	held     map[domain.BalanceKey]struct{}
	balances map[domain.BalanceKey]domain.Balance
	// provisioned rows are written only if still absent at commit.
	provisioned map[domain.BalanceKey]domain.Balance
	wallets     map[string]domain.Wallet
	movements   []domain.Movement
	idempotency []domain.IdempotencyLog
	sequenced   bool
	closed      bool
}

// Transactor implements ports.DBTransactor over a Store.
type Transactor struct {
	store *Store
}

// NewTransactor creates a new Transactor.
func NewTransactor(store *Store) *Transactor {
	return &Transactor{store: store}
}

// Begin starts a new in-memory transaction.
func (t *Transactor) Begin(ctx context.Context) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Tx{
		store:       t.store,
		held:        make(map[domain.BalanceKey]struct{}),
		balances:    make(map[domain.BalanceKey]domain.Balance),
		provisioned: make(map[domain.BalanceKey]domain.Balance),
		wallets:     make(map[string]domain.Wallet),
	}, nil
}

func asTx(tx pgx.Tx) (*Tx, error) {
	mt, ok := tx.(*Tx)
	if !ok {
		return nil, fmt.Errorf("memory store: unexpected transaction type %T", tx)
	}
	if mt.closed {
		return nil, pgx.ErrTxClosed
	}
	return mt, nil
}

func (t *Tx) lock(ctx context.Context, key domain.BalanceKey) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	if err := t.store.acquire(ctx, key); err != nil {
		return err
	}
	t.held[key] = struct{}{}
	return nil
}

// balance returns the tx-visible row. Caller holds the row lock.
func (t *Tx) balance(key domain.BalanceKey) (domain.Balance, bool) {
	if b, ok := t.balances[key]; ok {
		return b, true
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if b, ok := t.store.balances[key]; ok {
		return b, true
	}
	if b, ok := t.provisioned[key]; ok {
		return b, true
	}
	return domain.Balance{}, false
}

// sequence takes the store's movement sequence for the rest of the transaction.
func (t *Tx) sequence(ctx context.Context) error {
	if t.sequenced {
		return nil
	}
	if err := t.store.acquireSequence(ctx); err != nil {
		return err
	}
	t.sequenced = true
	return nil
}

func (t *Tx) releaseLocks() {
	for key := range t.held {
		t.store.release(key)
	}
	t.held = nil
	if t.sequenced {
		<-t.store.seq
		t.sequenced = false
	}
}

// Commit applies staged writes atomically and releases row locks.
func (t *Tx) Commit(ctx context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	defer t.releaseLocks()

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range t.idempotency {
		if _, exists := s.idempotency[l.Key]; exists {
			return fmt.Errorf("commit idempotency key %s: %w", l.Key, ports.ErrDuplicateKey)
		}
	}
	for addr := range t.wallets {
		if _, exists := s.wallets[addr]; exists {
			return fmt.Errorf("commit wallet %s: %w", addr, ports.ErrDuplicateKey)
		}
	}

	for addr, w := range t.wallets {
		s.wallets[addr] = w
	}
	for key, b := range t.provisioned {
		if _, exists := s.balances[key]; !exists {
			s.balances[key] = b
		}
	}
	for key, b := range t.balances {
		s.balances[key] = b
	}
	s.movements = append(s.movements, t.movements...)
	for _, l := range t.idempotency {
		s.idempotency[l.Key] = l
	}
	return nil
}

// Rollback discards staged writes and releases row locks.
func (t *Tx) Rollback(ctx context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.releaseLocks()
	return nil
}

// Begin on a Tx would start a savepoint; nesting is not supported.
func (t *Tx) Begin(ctx context.Context) (pgx.Tx, error) { return nil, errUnsupported }

func (t *Tx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, errUnsupported
}

func (t *Tx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }

func (t *Tx) LargeObjects() pgx.LargeObjects { return pgx.LargeObjects{} }

func (t *Tx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, errUnsupported
}

func (t *Tx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errUnsupported
}

func (t *Tx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errUnsupported
}

func (t *Tx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return errRow{err: errUnsupported}
}

func (t *Tx) Conn() *pgx.Conn { return nil }

type errRow struct{ err error }

func (r errRow) Scan(dest ...any) error { return r.err }
