package postgres

import (
	"context"
	"testing"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var aliceUSD = domain.BalanceKey{WalletAddress: "alice", CurrencyID: 4}

func balanceCols() []string {
	return []string{"wallet_address", "currency_id", "code", "name", "amount", "updated_at"}
}

func TestBalanceRepo_GetForUpdate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewBalanceRepo(mock)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM balances b JOIN currencies c .+ FOR UPDATE OF b").
		WithArgs("alice", int32(4)).
		WillReturnRows(pgxmock.NewRows(balanceCols()).AddRow("alice", int32(4), "USD", "US Dollar", "100.50", now))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	b, err := repo.GetForUpdate(context.Background(), tx, aliceUSD)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.True(t, decimal.RequireFromString("100.5").Equal(b.Amount))
	assert.Equal(t, "USD", b.CurrencyCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceRepo_GetForUpdate_Missing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewBalanceRepo(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE OF b").
		WithArgs("alice", int32(4)).
		WillReturnRows(pgxmock.NewRows(balanceCols()))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	b, err := repo.GetForUpdate(context.Background(), tx, aliceUSD)
	assert.NoError(t, err)
	assert.Nil(t, b)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceRepo_GetForUpdate_LockTimeout(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewBalanceRepo(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE OF b").
		WithArgs("alice", int32(4)).
		WillReturnError(&pgconn.PgError{Code: "55P03", Message: "canceling statement due to lock timeout"})

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	_, err = repo.GetForUpdate(context.Background(), tx, aliceUSD)
	assert.ErrorIs(t, err, ports.ErrContention)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceRepo_LockOrCreate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewBalanceRepo(mock)
	key := domain.BalanceKey{WalletAddress: "bob", CurrencyID: 1}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO balances .+ ON CONFLICT .+ DO NOTHING").
		WithArgs("bob", int32(1)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("FOR UPDATE OF b").
		WithArgs("bob", int32(1)).
		WillReturnRows(pgxmock.NewRows(balanceCols()).AddRow("bob", int32(1), "BTC", "Bitcoin", "0", time.Now()))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	b, err := repo.LockOrCreate(context.Background(), tx, key)
	require.NoError(t, err)
	assert.True(t, b.Amount.IsZero())
	assert.Equal(t, "BTC", b.CurrencyCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceRepo_Debit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewBalanceRepo(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE balances SET amount = amount -").
		WithArgs("alice", int32(4), "10.1").
		WillReturnRows(pgxmock.NewRows([]string{"amount", "updated_at"}).AddRow("89.9", time.Now()))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	b, err := repo.Debit(context.Background(), tx, aliceUSD, decimal.RequireFromString("10.10"))
	require.NoError(t, err)
	assert.Equal(t, "89.9", b.Amount.String())
	assert.Equal(t, "alice", b.WalletAddress)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceRepo_Debit_CheckViolation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewBalanceRepo(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE balances SET amount = amount -").
		WithArgs("alice", int32(4), "1000").
		WillReturnError(&pgconn.PgError{Code: "23514", ConstraintName: "balances_amount_check"})

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	_, err = repo.Debit(context.Background(), tx, aliceUSD, decimal.NewFromInt(1000))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ports.ErrContention)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceRepo_Credit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewBalanceRepo(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO balances .+ DO UPDATE SET amount = balances.amount \\+ EXCLUDED.amount").
		WithArgs("alice", int32(4), "0.000000000000000001").
		WillReturnRows(pgxmock.NewRows([]string{"amount", "updated_at"}).AddRow("100.000000000000000001", time.Now()))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	b, err := repo.Credit(context.Background(), tx, aliceUSD, decimal.New(1, -18))
	require.NoError(t, err)
	assert.Equal(t, "100.000000000000000001", b.Amount.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceRepo_InitZero(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewBalanceRepo(mock)
	ids := []int32{1, 4, 5}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO balances .+ unnest").
		WithArgs("alice", ids).
		WillReturnResult(pgxmock.NewResult("INSERT", 3))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	assert.NoError(t, repo.InitZero(context.Background(), tx, "alice", ids))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceRepo_ListByWallet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewBalanceRepo(mock)
	now := time.Now()

	mock.ExpectQuery("SELECT .+ FROM balances b .+ ORDER BY c.code").
		WithArgs("alice").
		WillReturnRows(pgxmock.NewRows(balanceCols()).
			AddRow("alice", int32(5), "BRL", "Brazilian Real", "12.34", now).
			AddRow("alice", int32(4), "USD", "US Dollar", "0", now))

	balances, err := repo.ListByWallet(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, balances, 2)
	assert.Equal(t, "BRL", balances[0].CurrencyCode)
	assert.Equal(t, "12.34", balances[0].Amount.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalanceRepo_ListByWallet_BadAmount(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewBalanceRepo(mock)

	mock.ExpectQuery("SELECT .+ FROM balances b").
		WithArgs("alice").
		WillReturnRows(pgxmock.NewRows(balanceCols()).AddRow("alice", int32(4), "USD", "US Dollar", "NaN?", time.Now()))

	_, err = repo.ListByWallet(context.Background(), "alice")
	assert.Error(t, err)
}
