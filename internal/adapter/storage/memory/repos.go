package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	store *Store
}

// NewWalletRepo creates a new WalletRepo.
func NewWalletRepo(store *Store) *WalletRepo {
	return &WalletRepo{store: store}
}

func (r *WalletRepo) Create(ctx context.Context, tx pgx.Tx, w *domain.Wallet) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}
	if _, staged := mt.wallets[w.Address]; staged {
		return fmt.Errorf("insert wallet %s: %w", w.Address, ports.ErrDuplicateKey)
	}
	r.store.mu.Lock()
	_, exists := r.store.wallets[w.Address]
	r.store.mu.Unlock()
	if exists {
		return fmt.Errorf("insert wallet %s: %w", w.Address, ports.ErrDuplicateKey)
	}
	mt.wallets[w.Address] = *w
	return nil
}

func (r *WalletRepo) GetByAddress(ctx context.Context, address string) (*domain.Wallet, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	w, ok := r.store.wallets[address]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (r *WalletRepo) GetByAddressTx(ctx context.Context, tx pgx.Tx, address string) (*domain.Wallet, error) {
	mt, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	if w, ok := mt.wallets[address]; ok {
		return &w, nil
	}
	return r.GetByAddress(ctx, address)
}

func (r *WalletRepo) List(ctx context.Context, params ports.ListParams) ([]domain.Wallet, int64, error) {
	r.store.mu.Lock()
	all := make([]domain.Wallet, 0, len(r.store.wallets))
	for _, w := range r.store.wallets {
		all = append(all, w)
	}
	r.store.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].Address < all[j].Address
	})
	return paginate(all, params.Limit, params.Offset), int64(len(all)), nil
}

func (r *WalletRepo) UpdateStatus(ctx context.Context, address string, status domain.WalletStatus) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	w, ok := r.store.wallets[address]
	if !ok {
		return false, nil
	}
	w.Status = status
	r.store.wallets[address] = w
	return true, nil
}

// BalanceRepo implements ports.BalanceRepository.
type BalanceRepo struct {
	store *Store
}

// NewBalanceRepo creates a new BalanceRepo.
func NewBalanceRepo(store *Store) *BalanceRepo {
	return &BalanceRepo{store: store}
}

func (r *BalanceRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, key domain.BalanceKey) (*domain.Balance, error) {
	mt, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	if err := mt.lock(ctx, key); err != nil {
		return nil, err
	}
	b, ok := mt.balance(key)
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (r *BalanceRepo) LockOrCreate(ctx context.Context, tx pgx.Tx, key domain.BalanceKey) (*domain.Balance, error) {
	mt, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	if err := mt.lock(ctx, key); err != nil {
		return nil, err
	}
	b, ok := mt.balance(key)
	if !ok {
		b = domain.Balance{
			WalletAddress: key.WalletAddress,
			CurrencyID:    key.CurrencyID,
			Amount:        decimal.Zero,
			UpdatedAt:     time.Now().UTC(),
		}
		mt.balances[key] = b
	}
	return &b, nil
}

func (r *BalanceRepo) Debit(ctx context.Context, tx pgx.Tx, key domain.BalanceKey, amount decimal.Decimal) (*domain.Balance, error) {
	mt, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	if err := mt.lock(ctx, key); err != nil {
		return nil, err
	}
	b, ok := mt.balance(key)
	if !ok {
		return nil, fmt.Errorf("debit balance %s/%d: row not found", key.WalletAddress, key.CurrencyID)
	}
	b.Amount = b.Amount.Sub(amount)
	b.UpdatedAt = time.Now().UTC()
	mt.balances[key] = b
	return &b, nil
}

func (r *BalanceRepo) Credit(ctx context.Context, tx pgx.Tx, key domain.BalanceKey, amount decimal.Decimal) (*domain.Balance, error) {
	mt, err := asTx(tx)
	if err != nil {
		return nil, err
	}
	if err := mt.lock(ctx, key); err != nil {
		return nil, err
	}
	b, ok := mt.balance(key)
	if !ok {
		b = domain.Balance{WalletAddress: key.WalletAddress, CurrencyID: key.CurrencyID, Amount: decimal.Zero}
	}
	b.Amount = b.Amount.Add(amount)
	b.UpdatedAt = time.Now().UTC()
	mt.balances[key] = b
	return &b, nil
}

func (r *BalanceRepo) InitZero(ctx context.Context, tx pgx.Tx, address string, currencyIDs []int32) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, id := range currencyIDs {
		key := domain.BalanceKey{WalletAddress: address, CurrencyID: id}
		mt.provisioned[key] = domain.Balance{WalletAddress: address, CurrencyID: id, Amount: decimal.Zero, UpdatedAt: now}
	}
	return nil
}

func (r *BalanceRepo) ListByWallet(ctx context.Context, address string) ([]domain.Balance, error) {
	r.store.mu.Lock()
	var out []domain.Balance
	for key, b := range r.store.balances {
		if key.WalletAddress == address {
			out = append(out, r.store.withCurrency(b))
		}
	}
	r.store.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CurrencyCode < out[j].CurrencyCode })
	return out, nil
}

// MovementRepo implements ports.MovementRepository.
type MovementRepo struct {
	store *Store
}

// NewMovementRepo creates a new MovementRepo.
func NewMovementRepo(store *Store) *MovementRepo {
	return &MovementRepo{store: store}
}

// Create assigns the next identifier and holds the movement sequence until tx
// ends, so committed movements appear in ID order. Identifiers of rolled back
// movements are never reused.
func (r *MovementRepo) Create(ctx context.Context, tx pgx.Tx, m *domain.Movement) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}
	if err := mt.sequence(ctx); err != nil {
		return err
	}
	r.store.mu.Lock()
	r.store.nextMovementID++
	m.ID = r.store.nextMovementID
	r.store.mu.Unlock()

	m.CreatedAt = time.Now().UTC()
	mt.movements = append(mt.movements, *m)
	return nil
}

func (r *MovementRepo) ListByWallet(ctx context.Context, params ports.MovementListParams) ([]domain.Movement, int64, error) {
	r.store.mu.Lock()
	var matched []domain.Movement
	for i := range r.store.movements {
		m := r.store.movements[i]
		if !m.Involves(params.Address) {
			continue
		}
		if params.Kind != nil && m.Kind != *params.Kind {
			continue
		}
		matched = append(matched, m)
	}
	r.store.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	return paginate(matched, params.Limit, params.Offset), int64(len(matched)), nil
}

// CurrencyRepo implements ports.CurrencyRepository.
type CurrencyRepo struct {
	store *Store
}

// NewCurrencyRepo creates a new CurrencyRepo.
func NewCurrencyRepo(store *Store) *CurrencyRepo {
	return &CurrencyRepo{store: store}
}

func (r *CurrencyRepo) GetByCode(ctx context.Context, code string) (*domain.Currency, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	c, ok := r.store.currencies[code]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *CurrencyRepo) List(ctx context.Context) ([]domain.Currency, error) {
	r.store.mu.Lock()
	out := make([]domain.Currency, 0, len(r.store.currencies))
	for _, c := range r.store.currencies {
		out = append(out, c)
	}
	r.store.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// IdempotencyRepo implements ports.IdempotencyRepository.
type IdempotencyRepo struct {
	store *Store
}

// NewIdempotencyRepo creates a new IdempotencyRepo.
func NewIdempotencyRepo(store *Store) *IdempotencyRepo {
	return &IdempotencyRepo{store: store}
}

func (r *IdempotencyRepo) Create(ctx context.Context, tx pgx.Tx, log *domain.IdempotencyLog) error {
	mt, err := asTx(tx)
	if err != nil {
		return err
	}
	r.store.mu.Lock()
	_, exists := r.store.idempotency[log.Key]
	r.store.mu.Unlock()
	if exists {
		return fmt.Errorf("insert idempotency log: %w", ports.ErrDuplicateKey)
	}
	mt.idempotency = append(mt.idempotency, *log)
	return nil
}

func (r *IdempotencyRepo) Get(ctx context.Context, key string) (*domain.IdempotencyLog, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	l, ok := r.store.idempotency[key]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

// AuditRepo implements ports.AuditRepository.
type AuditRepo struct {
	store *Store
}

// NewAuditRepo creates a new AuditRepo.
func NewAuditRepo(store *Store) *AuditRepo {
	return &AuditRepo{store: store}
}

func (r *AuditRepo) Create(ctx context.Context, log *domain.AuditLog) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.audit = append(r.store.audit, *log)
	return nil
}

// Entries returns the recorded audit logs.
func (r *AuditRepo) Entries() []domain.AuditLog {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make([]domain.AuditLog, len(r.store.audit))
	copy(out, r.store.audit)
	return out
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
