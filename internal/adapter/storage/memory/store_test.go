package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, lockTimeout time.Duration) (*Store, *Transactor) {
	t.Helper()
	s := NewStore(lockTimeout, DefaultCurrencies()...)
	return s, NewTransactor(s)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestTx_CommitAppliesStagedWrites(t *testing.T) {
	ctx := context.Background()
	s, tr := newTestStore(t, time.Second)
	balances := NewBalanceRepo(s)
	key := domain.BalanceKey{WalletAddress: "w1", CurrencyID: 4}

	tx, err := tr.Begin(ctx)
	require.NoError(t, err)
	_, err = balances.Credit(ctx, tx, key, dec("10.5"))
	require.NoError(t, err)

	// Not visible before commit
	assert.Empty(t, s.Snapshot())

	require.NoError(t, tx.Commit(ctx))
	assert.True(t, dec("10.5").Equal(s.Snapshot()[key].Amount))
}

func TestTx_RollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s, tr := newTestStore(t, time.Second)
	balances := NewBalanceRepo(s)
	movements := NewMovementRepo(s)
	key := domain.BalanceKey{WalletAddress: "w1", CurrencyID: 4}

	tx, err := tr.Begin(ctx)
	require.NoError(t, err)
	_, err = balances.Credit(ctx, tx, key, dec("10"))
	require.NoError(t, err)
	require.NoError(t, movements.Create(ctx, tx, &domain.Movement{Kind: domain.MovementKindDeposit}))
	require.NoError(t, tx.Rollback(ctx))

	assert.Empty(t, s.Snapshot())
	assert.Empty(t, s.Movements())

	// Rollback after rollback reports a closed transaction, as pgx does.
	assert.Error(t, tx.Rollback(ctx))
}

func TestTx_LockSerializesSameKey(t *testing.T) {
	ctx := context.Background()
	s, tr := newTestStore(t, 2*time.Second)
	balances := NewBalanceRepo(s)
	key := domain.BalanceKey{WalletAddress: "w1", CurrencyID: 4}

	tx1, _ := tr.Begin(ctx)
	_, err := balances.LockOrCreate(ctx, tx1, key)
	require.NoError(t, err)

	acquired := make(chan time.Time, 1)
	go func() {
		tx2, _ := tr.Begin(ctx)
		_, err := balances.GetForUpdate(ctx, tx2, key)
		assert.NoError(t, err)
		acquired <- time.Now()
		_ = tx2.Rollback(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	released := time.Now()
	require.NoError(t, tx1.Commit(ctx))

	got := <-acquired
	assert.False(t, got.Before(released), "second lock must wait for the first commit")
}

func TestTx_DisjointKeysDoNotBlock(t *testing.T) {
	ctx := context.Background()
	s, tr := newTestStore(t, 50*time.Millisecond)
	balances := NewBalanceRepo(s)

	tx1, _ := tr.Begin(ctx)
	_, err := balances.LockOrCreate(ctx, tx1, domain.BalanceKey{WalletAddress: "w1", CurrencyID: 4})
	require.NoError(t, err)

	tx2, _ := tr.Begin(ctx)
	_, err = balances.LockOrCreate(ctx, tx2, domain.BalanceKey{WalletAddress: "w1", CurrencyID: 5})
	require.NoError(t, err)

	require.NoError(t, tx1.Commit(ctx))
	require.NoError(t, tx2.Commit(ctx))
}

func TestTx_LockTimeoutIsContention(t *testing.T) {
	ctx := context.Background()
	s, tr := newTestStore(t, 30*time.Millisecond)
	balances := NewBalanceRepo(s)
	key := domain.BalanceKey{WalletAddress: "w1", CurrencyID: 4}

	tx1, _ := tr.Begin(ctx)
	_, err := balances.LockOrCreate(ctx, tx1, key)
	require.NoError(t, err)
	defer tx1.Rollback(ctx) //nolint:errcheck

	tx2, _ := tr.Begin(ctx)
	_, err = balances.GetForUpdate(ctx, tx2, key)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrContention)
	_ = tx2.Rollback(ctx)
}

func TestTx_ContextCancelWhileWaiting(t *testing.T) {
	s, tr := newTestStore(t, 5*time.Second)
	balances := NewBalanceRepo(s)
	key := domain.BalanceKey{WalletAddress: "w1", CurrencyID: 4}

	tx1, _ := tr.Begin(context.Background())
	_, err := balances.LockOrCreate(context.Background(), tx1, key)
	require.NoError(t, err)
	defer tx1.Rollback(context.Background()) //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	tx2, _ := tr.Begin(context.Background())
	_, err = balances.GetForUpdate(ctx, tx2, key)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMovementRepo_IDsIncreaseAndAreNotReused(t *testing.T) {
	ctx := context.Background()
	s, tr := newTestStore(t, time.Second)
	movements := NewMovementRepo(s)

	tx1, _ := tr.Begin(ctx)
	m1 := &domain.Movement{Kind: domain.MovementKindDeposit, WalletAddress: "w1"}
	require.NoError(t, movements.Create(ctx, tx1, m1))
	require.NoError(t, tx1.Rollback(ctx))

	tx2, _ := tr.Begin(ctx)
	m2 := &domain.Movement{Kind: domain.MovementKindDeposit, WalletAddress: "w1"}
	require.NoError(t, movements.Create(ctx, tx2, m2))
	require.NoError(t, tx2.Commit(ctx))

	assert.Greater(t, m2.ID, m1.ID)
	assert.False(t, m2.CreatedAt.IsZero())

	committed := s.Movements()
	require.Len(t, committed, 1)
	assert.Equal(t, m2.ID, committed[0].ID)
}

func TestMovementRepo_IDsFollowCommitOrder(t *testing.T) {
	ctx := context.Background()
	s, tr := newTestStore(t, 50*time.Millisecond)
	movements := NewMovementRepo(s)

	txA, _ := tr.Begin(ctx)
	mA := &domain.Movement{Kind: domain.MovementKindDeposit, WalletAddress: "w1"}
	require.NoError(t, movements.Create(ctx, txA, mA))

	// txB touches other rows but cannot take an ID while txA is open.
	txB, _ := tr.Begin(ctx)
	err := movements.Create(ctx, txB, &domain.Movement{Kind: domain.MovementKindDeposit, WalletAddress: "w2"})
	assert.ErrorIs(t, err, ports.ErrContention)
	require.NoError(t, txB.Rollback(ctx))

	staged := make(chan *domain.Movement)
	go func() {
		txC, _ := tr.Begin(ctx)
		mC := &domain.Movement{Kind: domain.MovementKindDeposit, WalletAddress: "w3"}
		if err := movements.Create(context.Background(), txC, mC); err != nil {
			staged <- nil
			return
		}
		_ = txC.Commit(ctx)
		staged <- mC
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, txA.Commit(ctx))
	mC := <-staged
	require.NotNil(t, mC)

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.movements, 2)
	assert.Equal(t, mA.ID, s.movements[0].ID)
	assert.Equal(t, mC.ID, s.movements[1].ID)
	assert.Greater(t, mC.ID, mA.ID)
}

func TestMovementRepo_ListByWallet(t *testing.T) {
	ctx := context.Background()
	s, tr := newTestStore(t, time.Second)
	movements := NewMovementRepo(s)
	dst := "w2"

	tx, _ := tr.Begin(ctx)
	require.NoError(t, movements.Create(ctx, tx, &domain.Movement{Kind: domain.MovementKindDeposit, WalletAddress: "w1"}))
	require.NoError(t, movements.Create(ctx, tx, &domain.Movement{Kind: domain.MovementKindTransfer, WalletAddress: "w1", CounterpartyAddress: &dst}))
	require.NoError(t, movements.Create(ctx, tx, &domain.Movement{Kind: domain.MovementKindDeposit, WalletAddress: "w3"}))
	require.NoError(t, tx.Commit(ctx))

	list, total, err := movements.ListByWallet(ctx, ports.MovementListParams{Address: "w1", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, list, 2)
	assert.Equal(t, domain.MovementKindTransfer, list[0].Kind, "newest first")

	list, total, err = movements.ListByWallet(ctx, ports.MovementListParams{Address: "w2", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, list, 1)

	kind := domain.MovementKindDeposit
	list, _, err = movements.ListByWallet(ctx, ports.MovementListParams{Address: "w1", Kind: &kind, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestIdempotencyRepo_DuplicateKey(t *testing.T) {
	ctx := context.Background()
	s, tr := newTestStore(t, time.Second)
	repo := NewIdempotencyRepo(s)
	log := &domain.IdempotencyLog{Key: "w1:WITHDRAWAL:t1", MovementID: 1}

	tx1, _ := tr.Begin(ctx)
	tx2, _ := tr.Begin(ctx)
	require.NoError(t, repo.Create(ctx, tx1, log))
	require.NoError(t, repo.Create(ctx, tx2, log))
	require.NoError(t, tx1.Commit(ctx))

	err := tx2.Commit(ctx)
	assert.ErrorIs(t, err, ports.ErrDuplicateKey)

	tx3, _ := tr.Begin(ctx)
	assert.ErrorIs(t, repo.Create(ctx, tx3, log), ports.ErrDuplicateKey)

	got, err := repo.Get(ctx, log.Key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.MovementID)
}

func TestBalanceRepo_InitZeroDoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	s, tr := newTestStore(t, time.Second)
	balances := NewBalanceRepo(s)
	key := domain.BalanceKey{WalletAddress: "w1", CurrencyID: 4}

	tx1, _ := tr.Begin(ctx)
	_, err := balances.Credit(ctx, tx1, key, dec("5"))
	require.NoError(t, err)
	require.NoError(t, tx1.Commit(ctx))

	tx2, _ := tr.Begin(ctx)
	require.NoError(t, balances.InitZero(ctx, tx2, "w1", []int32{1, 4}))
	require.NoError(t, tx2.Commit(ctx))

	list, err := balances.ListByWallet(ctx, "w1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "BTC", list[0].CurrencyCode)
	assert.True(t, list[0].Amount.IsZero())
	assert.Equal(t, "USD", list[1].CurrencyCode)
	assert.True(t, dec("5").Equal(list[1].Amount))
}

func TestWalletRepo_CreateListBlock(t *testing.T) {
	ctx := context.Background()
	s, tr := newTestStore(t, time.Second)
	wallets := NewWalletRepo(s)
	now := time.Now().UTC()

	tx, _ := tr.Begin(ctx)
	require.NoError(t, wallets.Create(ctx, tx, &domain.Wallet{Address: "old", Status: domain.WalletStatusActive, CreatedAt: now.Add(-time.Minute)}))
	require.NoError(t, wallets.Create(ctx, tx, &domain.Wallet{Address: "new", Status: domain.WalletStatusActive, CreatedAt: now}))

	staged, err := wallets.GetByAddressTx(ctx, tx, "new")
	require.NoError(t, err)
	require.NotNil(t, staged)
	missing, err := wallets.GetByAddress(ctx, "new")
	require.NoError(t, err)
	assert.Nil(t, missing, "uncommitted wallet must not be visible outside the tx")

	require.NoError(t, tx.Commit(ctx))

	list, total, err := wallets.List(ctx, ports.ListParams{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, list, 1)
	assert.Equal(t, "new", list[0].Address)

	found, err := wallets.UpdateStatus(ctx, "old", domain.WalletStatusBlocked)
	require.NoError(t, err)
	assert.True(t, found)
	w, _ := wallets.GetByAddress(ctx, "old")
	assert.Equal(t, domain.WalletStatusBlocked, w.Status)

	found, err = wallets.UpdateStatus(ctx, "ghost", domain.WalletStatusBlocked)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestConcurrentCredits_AreSerialized(t *testing.T) {
	ctx := context.Background()
	s, tr := newTestStore(t, 5*time.Second)
	balances := NewBalanceRepo(s)
	key := domain.BalanceKey{WalletAddress: "w1", CurrencyID: 4}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, _ := tr.Begin(ctx)
			_, err := balances.Credit(ctx, tx, key, dec("1"))
			assert.NoError(t, err)
			assert.NoError(t, tx.Commit(ctx))
		}()
	}
	wg.Wait()

	assert.True(t, dec("50").Equal(s.Snapshot()[key].Amount))
}
