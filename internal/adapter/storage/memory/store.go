// Package memory is an in-process transactional store. It honors the same
// locking contract as the Postgres adapter: balance rows are locked exclusively
// per (wallet, currency) until commit or rollback, lock waits time out with
// ports.ErrContention, and writes become visible only on commit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
)

const defaultLockTimeout = 3 * time.Second

// Store holds committed state and the row-lock table.
type Store struct {
	mu             sync.Mutex
	wallets        map[string]domain.Wallet
	balances       map[domain.BalanceKey]domain.Balance
	currencies     map[string]domain.Currency
	currencyByID   map[int32]domain.Currency
	movements      []domain.Movement
	idempotency    map[string]domain.IdempotencyLog
	audit          []domain.AuditLog
	nextMovementID int64

	locksMu     sync.Mutex
	locks       map[domain.BalanceKey]chan struct{}
	lockTimeout time.Duration

	// seq is held from a transaction's first movement until it ends, so
	// movement IDs are handed out in commit order.
	seq chan struct{}
}

// NewStore creates an empty store seeded with the given currency catalog.
func NewStore(lockTimeout time.Duration, currencies ...domain.Currency) *Store {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	s := &Store{
		wallets:      make(map[string]domain.Wallet),
		balances:     make(map[domain.BalanceKey]domain.Balance),
		currencies:   make(map[string]domain.Currency),
		currencyByID: make(map[int32]domain.Currency),
		idempotency:  make(map[string]domain.IdempotencyLog),
		locks:        make(map[domain.BalanceKey]chan struct{}),
		lockTimeout:  lockTimeout,
		seq:          make(chan struct{}, 1),
	}
	for _, c := range currencies {
		s.currencies[c.Code] = c
		s.currencyByID[c.ID] = c
	}
	return s
}

// DefaultCurrencies is the catalog seeded by the schema migration.
func DefaultCurrencies() []domain.Currency {
	return []domain.Currency{
		{ID: 1, Code: "BTC", Name: "Bitcoin"},
		{ID: 2, Code: "ETH", Name: "Ethereum"},
		{ID: 3, Code: "SOL", Name: "Solana"},
		{ID: 4, Code: "USD", Name: "US Dollar"},
		{ID: 5, Code: "BRL", Name: "Brazilian Real"},
	}
}

func (s *Store) rowLock(key domain.BalanceKey) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	ch, ok := s.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[key] = ch
	}
	return ch
}

// acquire blocks until the row lock is free, the lock timeout elapses or ctx ends.
func (s *Store) acquire(ctx context.Context, key domain.BalanceKey) error {
	ch := s.rowLock(key)
	select {
	case ch <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return nil
	case <-timer.C:
		return fmt.Errorf("lock balance %s/%d: %w", key.WalletAddress, key.CurrencyID, ports.ErrContention)
	case <-ctx.Done():
		return fmt.Errorf("lock balance %s/%d: %w", key.WalletAddress, key.CurrencyID, ctx.Err())
	}
}

func (s *Store) release(key domain.BalanceKey) {
	<-s.rowLock(key)
}

// acquireSequence waits for the movement sequence like acquire waits for a row.
func (s *Store) acquireSequence(ctx context.Context) error {
	select {
	case s.seq <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case s.seq <- struct{}{}:
		return nil
	case <-timer.C:
		return fmt.Errorf("movement sequence: %w", ports.ErrContention)
	case <-ctx.Done():
		return fmt.Errorf("movement sequence: %w", ctx.Err())
	}
}

func (s *Store) withCurrency(b domain.Balance) domain.Balance {
	if c, ok := s.currencyByID[b.CurrencyID]; ok {
		b.CurrencyCode = c.Code
		b.CurrencyName = c.Name
	}
	return b
}

// Snapshot returns a copy of every committed balance. Intended for tests and diagnostics.
func (s *Store) Snapshot() map[domain.BalanceKey]domain.Balance {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.BalanceKey]domain.Balance, len(s.balances))
	for k, b := range s.balances {
		out[k] = b
	}
	return out
}

// Movements returns every committed movement ordered by ID.
func (s *Store) Movements() []domain.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Movement, len(s.movements))
	copy(out, s.movements)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
