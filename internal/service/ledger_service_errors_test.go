package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/internal/core/ports/mocks"
	"wallet-ledger/pkg/apperror"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type ledgerTestDeps struct {
	svc        *LedgerServiceImpl
	transactor *mocks.MockDBTransactor
	walletRepo *mocks.MockWalletRepository
	balRepo    *mocks.MockBalanceRepository
	movRepo    *mocks.MockMovementRepository
	curRepo    *mocks.MockCurrencyRepository
	idempRepo  *mocks.MockIdempotencyRepository
	idempCache *mocks.MockIdempotencyCache
	quotes     *mocks.MockQuoteProvider
	hasher     *mocks.MockSecretHasher
	metrics    *mocks.MockLedgerMetrics
	ctrl       *gomock.Controller
}

func setupLedgerService(t *testing.T) *ledgerTestDeps {
	ctrl := gomock.NewController(t)
	d := &ledgerTestDeps{
		transactor: mocks.NewMockDBTransactor(ctrl),
		walletRepo: mocks.NewMockWalletRepository(ctrl),
		balRepo:    mocks.NewMockBalanceRepository(ctrl),
		movRepo:    mocks.NewMockMovementRepository(ctrl),
		curRepo:    mocks.NewMockCurrencyRepository(ctrl),
		idempRepo:  mocks.NewMockIdempotencyRepository(ctrl),
		idempCache: mocks.NewMockIdempotencyCache(ctrl),
		quotes:     mocks.NewMockQuoteProvider(ctrl),
		hasher:     mocks.NewMockSecretHasher(ctrl),
		metrics:    mocks.NewMockLedgerMetrics(ctrl),
		ctrl:       ctrl,
	}
	d.svc = NewLedgerService(LedgerDeps{
		Transactor:  d.transactor,
		Wallets:     d.walletRepo,
		Balances:    d.balRepo,
		Movements:   d.movRepo,
		Currencies:  d.curRepo,
		Idempotency: d.idempRepo,
		IdempCache:  d.idempCache,
		Quotes:      d.quotes,
		Hasher:      d.hasher,
		Metrics:     d.metrics,
		Fees: domain.FeeSchedule{
			Withdrawal: decimal.RequireFromString("0.01"),
			Conversion: decimal.RequireFromString("0.01"),
			Transfer:   decimal.RequireFromString("0.01"),
		},
		Logger: newTestLogger(),
	})
	return d
}

// decimalEq matches decimals by value, ignoring scale.
type decimalEq struct{ want decimal.Decimal }

func decEq(s string) gomock.Matcher { return decimalEq{want: decimal.RequireFromString(s)} }

func (m decimalEq) Matches(x any) bool {
	d, ok := x.(decimal.Decimal)
	return ok && d.Equal(m.want)
}

func (m decimalEq) String() string { return "is decimal " + m.want.String() }

// commitFailTx fails on Commit.
type commitFailTx struct {
	mockTx
	err error
}

func (m *commitFailTx) Commit(_ context.Context) error { return m.err }

var (
	usd = &domain.Currency{ID: 4, Code: "USD", Name: "US Dollar"}
	btc = &domain.Currency{ID: 1, Code: "BTC", Name: "Bitcoin"}
)

func activeWallet(address string) *domain.Wallet {
	return &domain.Wallet{Address: address, SecretDigest: "sha256$digest", Status: domain.WalletStatusActive}
}

func withdrawReq(token string) ports.WithdrawRequest {
	return ports.WithdrawRequest{
		Address:          "alice",
		Currency:         "USD",
		Amount:           decimal.NewFromInt(10),
		Secret:           "s3cret",
		IdempotencyToken: token,
	}
}

// priorWithdrawal is the recorded response for withdrawReq.
func priorWithdrawal(t *testing.T, id int64) []byte {
	t.Helper()
	data, err := json.Marshal(&domain.Movement{
		ID:            id,
		Kind:          domain.MovementKindWithdrawal,
		WalletAddress: "alice",
		CurrencyCode:  "USD",
		Amount:        decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	return data
}

// expectAuthorized primes the wallet load and secret check for alice.
func (d *ledgerTestDeps) expectAuthorized(tx *mockTx) {
	d.walletRepo.EXPECT().GetByAddressTx(gomock.Any(), tx, "alice").Return(activeWallet("alice"), nil)
	d.hasher.EXPECT().Verify("s3cret", "sha256$digest").Return(true, nil)
}

func TestLedgerService_Withdraw_MockSuccess(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	key := domain.BalanceKey{WalletAddress: "alice", CurrencyID: usd.ID}
	idempKey := domain.BuildIdempotencyKey("alice", domain.MovementKindWithdrawal, "tok-1")

	d.curRepo.EXPECT().GetByCode(ctx, "USD").Return(usd, nil)
	d.idempCache.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.idempRepo.EXPECT().Get(ctx, idempKey).Return(nil, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.expectAuthorized(tx)
	d.balRepo.EXPECT().GetForUpdate(ctx, tx, key).Return(&domain.Balance{Amount: decimal.NewFromInt(100)}, nil)
	d.balRepo.EXPECT().Debit(ctx, tx, key, decEq("10.1")).Return(&domain.Balance{}, nil)
	d.movRepo.EXPECT().Create(ctx, tx, gomock.Any()).DoAndReturn(func(_ context.Context, _ any, m *domain.Movement) error {
		m.ID = 42
		return nil
	})
	d.idempRepo.EXPECT().Create(ctx, tx, gomock.Any()).DoAndReturn(func(_ context.Context, _ any, l *domain.IdempotencyLog) error {
		assert.Equal(t, idempKey, l.Key)
		assert.Equal(t, int64(42), l.MovementID)
		return nil
	})
	d.idempCache.EXPECT().Set(ctx, idempKey, gomock.Any(), defaultIdempotencyTTL).Return(nil)
	d.metrics.EXPECT().ObserveOperation(domain.MovementKindWithdrawal, OutcomeSuccess, gomock.Any())

	m, err := d.svc.Withdraw(ctx, withdrawReq("tok-1"))

	require.NoError(t, err)
	assert.Equal(t, int64(42), m.ID)
	require.NotNil(t, m.IdempotencyKey)
	assert.Equal(t, idempKey, *m.IdempotencyKey)
}

func TestLedgerService_Withdraw_CachedReplaySkipsTransaction(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	idempKey := domain.BuildIdempotencyKey("alice", domain.MovementKindWithdrawal, "tok-1")
	cached := priorWithdrawal(t, 7)

	d.curRepo.EXPECT().GetByCode(ctx, "USD").Return(usd, nil)
	d.idempCache.EXPECT().Get(ctx, idempKey).Return(cached, nil)
	d.metrics.EXPECT().ObserveOperation(domain.MovementKindWithdrawal, OutcomeReplayed, gomock.Any())

	m, err := d.svc.Withdraw(ctx, withdrawReq("tok-1"))

	require.NoError(t, err)
	assert.Equal(t, int64(7), m.ID)
}

func TestLedgerService_Withdraw_ReusedTokenWithOtherAmount(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	idempKey := domain.BuildIdempotencyKey("alice", domain.MovementKindWithdrawal, "tok-1")

	d.curRepo.EXPECT().GetByCode(ctx, "USD").Return(usd, nil)
	d.idempCache.EXPECT().Get(ctx, idempKey).Return(priorWithdrawal(t, 7), nil)
	d.metrics.EXPECT().ObserveOperation(domain.MovementKindWithdrawal, OutcomeRejected, gomock.Any())

	req := withdrawReq("tok-1")
	req.Amount = decimal.NewFromInt(25)
	m, err := d.svc.Withdraw(ctx, req)

	assert.Nil(t, m)
	assertAppError(t, err, apperror.CodeIdempotencyReuse)
}

func TestLedgerService_Withdraw_RedisDownFallsBackToDB(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	idempKey := domain.BuildIdempotencyKey("alice", domain.MovementKindWithdrawal, "tok-1")
	stored := priorWithdrawal(t, 9)

	d.curRepo.EXPECT().GetByCode(ctx, "USD").Return(usd, nil)
	d.idempCache.EXPECT().Get(ctx, idempKey).Return(nil, errors.New("connection refused"))
	d.idempRepo.EXPECT().Get(ctx, idempKey).Return(&domain.IdempotencyLog{Key: idempKey, MovementID: 9, ResponseJSON: stored}, nil)
	d.metrics.EXPECT().ObserveOperation(domain.MovementKindWithdrawal, OutcomeReplayed, gomock.Any())

	m, err := d.svc.Withdraw(ctx, withdrawReq("tok-1"))

	require.NoError(t, err)
	assert.Equal(t, int64(9), m.ID)
}

func TestLedgerService_Withdraw_DuplicateKeyReturnsWinner(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	key := domain.BalanceKey{WalletAddress: "alice", CurrencyID: usd.ID}
	idempKey := domain.BuildIdempotencyKey("alice", domain.MovementKindWithdrawal, "tok-1")
	winner := priorWithdrawal(t, 3)

	d.curRepo.EXPECT().GetByCode(ctx, "USD").Return(usd, nil)
	gomock.InOrder(
		d.idempCache.EXPECT().Get(ctx, idempKey).Return(nil, nil),
		d.idempCache.EXPECT().Get(ctx, idempKey).Return(nil, nil),
	)
	gomock.InOrder(
		d.idempRepo.EXPECT().Get(ctx, idempKey).Return(nil, nil),
		d.idempRepo.EXPECT().Get(ctx, idempKey).Return(&domain.IdempotencyLog{Key: idempKey, MovementID: 3, ResponseJSON: winner}, nil),
	)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.expectAuthorized(tx)
	d.balRepo.EXPECT().GetForUpdate(ctx, tx, key).Return(&domain.Balance{Amount: decimal.NewFromInt(100)}, nil)
	d.balRepo.EXPECT().Debit(ctx, tx, key, gomock.Any()).Return(&domain.Balance{}, nil)
	d.movRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.idempRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(fmt.Errorf("insert idempotency log: %w", ports.ErrDuplicateKey))
	d.metrics.EXPECT().ObserveOperation(domain.MovementKindWithdrawal, OutcomeReplayed, gomock.Any())

	m, err := d.svc.Withdraw(ctx, withdrawReq("tok-1"))

	require.NoError(t, err)
	assert.Equal(t, int64(3), m.ID)
}

func TestLedgerService_Withdraw_StoreErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		lockErr error
		code    string
		outcome string
	}{
		{"lock timeout", fmt.Errorf("lock balance: %w", ports.ErrContention), apperror.CodeContention, OutcomeContention},
		{"deadline", context.DeadlineExceeded, apperror.CodeContention, OutcomeContention},
		{"connection lost", errors.New("conn closed"), apperror.CodeStoreFailure, OutcomeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := setupLedgerService(t)
			defer d.ctrl.Finish()

			ctx := context.Background()
			tx := &mockTx{}
			d.curRepo.EXPECT().GetByCode(ctx, "USD").Return(usd, nil)
			d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
			d.expectAuthorized(tx)
			d.balRepo.EXPECT().GetForUpdate(ctx, tx, gomock.Any()).Return(nil, tt.lockErr)
			d.metrics.EXPECT().ObserveOperation(domain.MovementKindWithdrawal, tt.outcome, gomock.Any())

			_, err := d.svc.Withdraw(ctx, withdrawReq(""))

			assertAppError(t, err, tt.code)
			assert.ErrorIs(t, err, tt.lockErr)
		})
	}
}

func TestLedgerService_Deposit_BeginFailure(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	d.curRepo.EXPECT().GetByCode(ctx, "USD").Return(usd, nil)
	d.transactor.EXPECT().Begin(ctx).Return(nil, errors.New("pool exhausted"))
	d.metrics.EXPECT().ObserveOperation(domain.MovementKindDeposit, OutcomeError, gomock.Any())

	_, err := d.svc.Deposit(ctx, ports.DepositRequest{Address: "alice", Currency: "USD", Amount: decimal.NewFromInt(1)})

	assertAppError(t, err, apperror.CodeStoreFailure)
}

func TestLedgerService_Deposit_CommitFailure(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &commitFailTx{err: fmt.Errorf("commit: %w", ports.ErrContention)}
	key := domain.BalanceKey{WalletAddress: "alice", CurrencyID: usd.ID}

	d.curRepo.EXPECT().GetByCode(ctx, "USD").Return(usd, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetByAddressTx(ctx, tx, "alice").Return(activeWallet("alice"), nil)
	d.balRepo.EXPECT().Credit(ctx, tx, key, decEq("1")).Return(&domain.Balance{}, nil)
	d.movRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.metrics.EXPECT().ObserveOperation(domain.MovementKindDeposit, OutcomeContention, gomock.Any())

	_, err := d.svc.Deposit(ctx, ports.DepositRequest{Address: "alice", Currency: "USD", Amount: decimal.NewFromInt(1)})

	assertAppError(t, err, apperror.CodeContention)
}

func TestLedgerService_CurrencyLookupFailure(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	d.curRepo.EXPECT().GetByCode(ctx, "USD").Return(nil, errors.New("relation does not exist"))
	d.metrics.EXPECT().ObserveOperation(domain.MovementKindDeposit, OutcomeError, gomock.Any())

	_, err := d.svc.Deposit(ctx, ports.DepositRequest{Address: "alice", Currency: "USD", Amount: decimal.NewFromInt(1)})

	assertAppError(t, err, apperror.CodeStoreFailure)
}

func TestLedgerService_Convert_QuoteFailureNeverOpensTransaction(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	d.curRepo.EXPECT().GetByCode(ctx, "BTC").Return(btc, nil)
	d.curRepo.EXPECT().GetByCode(ctx, "USD").Return(usd, nil)
	d.quotes.EXPECT().GetRate(ctx, "BTC", "USD").Return(decimal.Zero, errors.New("timeout"))
	d.metrics.EXPECT().ObserveOperation(domain.MovementKindConversion, OutcomeRejected, gomock.Any())

	_, err := d.svc.Convert(ctx, ports.ConvertRequest{
		Address: "alice", FromCurrency: "BTC", ToCurrency: "USD", Amount: decimal.NewFromInt(1), Secret: "s3cret",
	})

	assertAppError(t, err, apperror.CodeQuoteUnavailable)
}

func TestLedgerService_Convert_LocksInKeyOrder(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	src := domain.BalanceKey{WalletAddress: "alice", CurrencyID: usd.ID}
	dst := domain.BalanceKey{WalletAddress: "alice", CurrencyID: btc.ID}

	d.curRepo.EXPECT().GetByCode(ctx, "USD").Return(usd, nil)
	d.curRepo.EXPECT().GetByCode(ctx, "BTC").Return(btc, nil)
	d.quotes.EXPECT().GetRate(ctx, "USD", "BTC").Return(decimal.RequireFromString("0.00002"), nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.expectAuthorized(tx)
	// BTC (id 1) sorts before USD (id 4), so the destination row is locked first.
	gomock.InOrder(
		d.balRepo.EXPECT().LockOrCreate(ctx, tx, dst).Return(&domain.Balance{}, nil),
		d.balRepo.EXPECT().GetForUpdate(ctx, tx, src).Return(&domain.Balance{Amount: decimal.NewFromInt(100)}, nil),
		d.balRepo.EXPECT().Debit(ctx, tx, src, decEq("50")).Return(&domain.Balance{}, nil),
		d.balRepo.EXPECT().Credit(ctx, tx, dst, decEq("0.00099")).Return(&domain.Balance{}, nil),
	)
	d.movRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.metrics.EXPECT().ObserveOperation(domain.MovementKindConversion, OutcomeSuccess, gomock.Any())

	m, err := d.svc.Convert(ctx, ports.ConvertRequest{
		Address: "alice", FromCurrency: "USD", ToCurrency: "BTC", Amount: decimal.NewFromInt(50), Secret: "s3cret",
	})

	require.NoError(t, err)
	assertAmount(t, "0.00001", m.Fee)
}

func TestLedgerService_Withdraw_UnreadableDigestIsUnauthorized(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	tx := &mockTx{}
	d.curRepo.EXPECT().GetByCode(ctx, "USD").Return(usd, nil)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.walletRepo.EXPECT().GetByAddressTx(ctx, tx, "alice").Return(activeWallet("alice"), nil)
	d.hasher.EXPECT().Verify("s3cret", "sha256$digest").Return(false, errors.New("unrecognized digest format"))
	d.metrics.EXPECT().ObserveOperation(domain.MovementKindWithdrawal, OutcomeRejected, gomock.Any())

	_, err := d.svc.Withdraw(ctx, withdrawReq(""))

	assertAppError(t, err, apperror.CodeUnauthorized)
}
