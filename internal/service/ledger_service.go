package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const defaultIdempotencyTTL = 24 * time.Hour

// Operation outcomes reported to LedgerMetrics.
const (
	OutcomeSuccess    = "success"
	OutcomeReplayed   = "replayed"
	OutcomeRejected   = "rejected"
	OutcomeContention = "contention"
	OutcomeError      = "error"
)

// LedgerDeps holds the collaborators of the ledger engine.
type LedgerDeps struct {
	Transactor     ports.DBTransactor
	Wallets        ports.WalletRepository
	Balances       ports.BalanceRepository
	Movements      ports.MovementRepository
	Currencies     ports.CurrencyRepository
	Idempotency    ports.IdempotencyRepository
	IdempCache     ports.IdempotencyCache // nil = DB-only idempotency
	Quotes         ports.QuoteProvider
	Hasher         ports.SecretHasher
	Metrics        ports.LedgerMetrics // nil = no metrics
	Fees           domain.FeeSchedule
	IdempotencyTTL time.Duration
	Logger         zerolog.Logger
}

// LedgerServiceImpl implements ports.LedgerService.
//
// Every operation runs as one transaction: the affected balance rows are locked
// (in domain.SortBalanceKeys order when there are two), checked, mutated, and the
// movement is appended before commit. Nothing outside the transaction holds a lock;
// the quote for a conversion is fetched before it begins.
type LedgerServiceImpl struct {
	transactor ports.DBTransactor
	wallets    ports.WalletRepository
	balances   ports.BalanceRepository
	movements  ports.MovementRepository
	currencies ports.CurrencyRepository
	idempRepo  ports.IdempotencyRepository
	idempCache ports.IdempotencyCache
	quotes     ports.QuoteProvider
	hasher     ports.SecretHasher
	metrics    ports.LedgerMetrics
	fees       domain.FeeSchedule
	idempTTL   time.Duration
	log        zerolog.Logger
}

// NewLedgerService creates a new LedgerServiceImpl.
func NewLedgerService(deps LedgerDeps) *LedgerServiceImpl {
	ttl := deps.IdempotencyTTL
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &LedgerServiceImpl{
		transactor: deps.Transactor,
		wallets:    deps.Wallets,
		balances:   deps.Balances,
		movements:  deps.Movements,
		currencies: deps.Currencies,
		idempRepo:  deps.Idempotency,
		idempCache: deps.IdempCache,
		quotes:     deps.Quotes,
		hasher:     deps.Hasher,
		metrics:    metrics,
		fees:       deps.Fees,
		idempTTL:   ttl,
		log:        deps.Logger,
	}
}

// operation describes one ledger call for execute.
type operation struct {
	kind    domain.MovementKind
	address string
	token   string
	// fingerprint identifies the request parameters bound to token.
	fingerprint string
	// prepare runs after the idempotency lookup and before the transaction. Optional.
	prepare func(ctx context.Context) error
	// apply validates and mutates balances inside tx and returns the movement to append.
	apply func(ctx context.Context, tx pgx.Tx) (*domain.Movement, error)
}

// Deposit credits amount to the wallet. Deposits carry no fee.
func (s *LedgerServiceImpl) Deposit(ctx context.Context, req ports.DepositRequest) (*domain.Movement, error) {
	if !req.Amount.IsPositive() {
		return nil, s.reject(domain.MovementKindDeposit, apperror.ErrInvalidAmount())
	}
	cur, err := s.resolveCurrency(ctx, req.Currency)
	if err != nil {
		return nil, s.reject(domain.MovementKindDeposit, err)
	}

	return s.execute(ctx, operation{
		kind:        domain.MovementKindDeposit,
		address:     req.Address,
		token:       req.IdempotencyToken,
		fingerprint: domain.RequestFingerprint(domain.MovementKindDeposit, cur.Code, "", "", req.Amount),
		apply: func(ctx context.Context, tx pgx.Tx) (*domain.Movement, error) {
			w, err := s.wallets.GetByAddressTx(ctx, tx, req.Address)
			if err != nil {
				return nil, fmt.Errorf("load wallet: %w", err)
			}
			if w == nil {
				return nil, apperror.ErrWalletNotFound()
			}
			if !w.IsActive() {
				return nil, apperror.ErrWalletBlocked(w.Address)
			}

			key := domain.BalanceKey{WalletAddress: req.Address, CurrencyID: cur.ID}
			if _, err := s.balances.Credit(ctx, tx, key, req.Amount); err != nil {
				return nil, fmt.Errorf("credit balance: %w", err)
			}

			return &domain.Movement{
				Kind:          domain.MovementKindDeposit,
				WalletAddress: req.Address,
				CurrencyID:    cur.ID,
				CurrencyCode:  cur.Code,
				Amount:        req.Amount,
				Fee:           decimal.Zero,
				FeeRate:       decimal.Zero,
			}, nil
		},
	})
}

// Withdraw debits amount plus the withdrawal fee.
func (s *LedgerServiceImpl) Withdraw(ctx context.Context, req ports.WithdrawRequest) (*domain.Movement, error) {
	if !req.Amount.IsPositive() {
		return nil, s.reject(domain.MovementKindWithdrawal, apperror.ErrInvalidAmount())
	}
	if req.Secret == "" {
		return nil, s.reject(domain.MovementKindWithdrawal, apperror.ErrUnauthorized())
	}
	cur, err := s.resolveCurrency(ctx, req.Currency)
	if err != nil {
		return nil, s.reject(domain.MovementKindWithdrawal, err)
	}

	fee := domain.FeeOn(req.Amount, s.fees.Withdrawal)
	totalDebit := req.Amount.Add(fee)

	return s.execute(ctx, operation{
		kind:        domain.MovementKindWithdrawal,
		address:     req.Address,
		token:       req.IdempotencyToken,
		fingerprint: domain.RequestFingerprint(domain.MovementKindWithdrawal, cur.Code, "", "", req.Amount),
		apply: func(ctx context.Context, tx pgx.Tx) (*domain.Movement, error) {
			if _, err := s.authorize(ctx, tx, req.Address, req.Secret); err != nil {
				return nil, err
			}

			key := domain.BalanceKey{WalletAddress: req.Address, CurrencyID: cur.ID}
			bal, err := s.balances.GetForUpdate(ctx, tx, key)
			if err != nil {
				return nil, fmt.Errorf("lock balance: %w", err)
			}
			if available(bal).LessThan(totalDebit) {
				return nil, apperror.ErrInsufficientFunds()
			}
			if _, err := s.balances.Debit(ctx, tx, key, totalDebit); err != nil {
				return nil, fmt.Errorf("debit balance: %w", err)
			}

			return &domain.Movement{
				Kind:          domain.MovementKindWithdrawal,
				WalletAddress: req.Address,
				CurrencyID:    cur.ID,
				CurrencyCode:  cur.Code,
				Amount:        req.Amount,
				Fee:           fee,
				FeeRate:       s.fees.Withdrawal,
			}, nil
		},
	})
}

// Convert debits the source amount and credits the net destination amount.
// The fee is charged in the destination currency.
func (s *LedgerServiceImpl) Convert(ctx context.Context, req ports.ConvertRequest) (*domain.Movement, error) {
	if !req.Amount.IsPositive() {
		return nil, s.reject(domain.MovementKindConversion, apperror.ErrInvalidAmount())
	}
	if req.Secret == "" {
		return nil, s.reject(domain.MovementKindConversion, apperror.ErrUnauthorized())
	}
	from, err := s.resolveCurrency(ctx, req.FromCurrency)
	if err != nil {
		return nil, s.reject(domain.MovementKindConversion, err)
	}
	to, err := s.resolveCurrency(ctx, req.ToCurrency)
	if err != nil {
		return nil, s.reject(domain.MovementKindConversion, err)
	}
	if from.ID == to.ID {
		return nil, s.reject(domain.MovementKindConversion, apperror.ErrSameCurrency())
	}

	var rate, gross, fee, net decimal.Decimal

	return s.execute(ctx, operation{
		kind:        domain.MovementKindConversion,
		address:     req.Address,
		token:       req.IdempotencyToken,
		fingerprint: domain.RequestFingerprint(domain.MovementKindConversion, from.Code, to.Code, "", req.Amount),
		prepare: func(ctx context.Context) error {
			r, err := s.quotes.GetRate(ctx, from.Code, to.Code)
			if err != nil {
				return apperror.ErrQuoteUnavailable(fmt.Errorf("quote %s-%s: %w", from.Code, to.Code, err))
			}
			if !r.IsPositive() {
				return apperror.ErrQuoteUnavailable(fmt.Errorf("quote %s-%s: non-positive rate %s", from.Code, to.Code, r))
			}
			rate = r
			gross = req.Amount.Mul(rate)
			fee = domain.FeeOn(gross, s.fees.Conversion)
			net = gross.Sub(fee)
			return nil
		},
		apply: func(ctx context.Context, tx pgx.Tx) (*domain.Movement, error) {
			if _, err := s.authorize(ctx, tx, req.Address, req.Secret); err != nil {
				return nil, err
			}

			src := domain.BalanceKey{WalletAddress: req.Address, CurrencyID: from.ID}
			dst := domain.BalanceKey{WalletAddress: req.Address, CurrencyID: to.ID}
			avail, err := s.lockPair(ctx, tx, src, dst)
			if err != nil {
				return nil, err
			}
			if avail.LessThan(req.Amount) {
				return nil, apperror.ErrInsufficientFunds()
			}
			if _, err := s.balances.Debit(ctx, tx, src, req.Amount); err != nil {
				return nil, fmt.Errorf("debit source balance: %w", err)
			}
			if _, err := s.balances.Credit(ctx, tx, dst, net); err != nil {
				return nil, fmt.Errorf("credit destination balance: %w", err)
			}

			destID, destCode := to.ID, to.Code
			return &domain.Movement{
				Kind:             domain.MovementKindConversion,
				WalletAddress:    req.Address,
				CurrencyID:       from.ID,
				CurrencyCode:     from.Code,
				DestCurrencyID:   &destID,
				DestCurrencyCode: &destCode,
				Amount:           req.Amount,
				DestAmount:       decimal.NewNullDecimal(net),
				Fee:              fee,
				FeeRate:          s.fees.Conversion,
				Rate:             decimal.NewNullDecimal(rate),
			}, nil
		},
	})
}

// Transfer moves amount to the destination wallet; the source pays amount plus the transfer fee.
func (s *LedgerServiceImpl) Transfer(ctx context.Context, req ports.TransferRequest) (*domain.Movement, error) {
	if !req.Amount.IsPositive() {
		return nil, s.reject(domain.MovementKindTransfer, apperror.ErrInvalidAmount())
	}
	if req.Secret == "" {
		return nil, s.reject(domain.MovementKindTransfer, apperror.ErrUnauthorized())
	}
	if req.FromAddress == req.ToAddress {
		return nil, s.reject(domain.MovementKindTransfer, apperror.ErrSelfTransfer())
	}
	cur, err := s.resolveCurrency(ctx, req.Currency)
	if err != nil {
		return nil, s.reject(domain.MovementKindTransfer, err)
	}

	fee := domain.FeeOn(req.Amount, s.fees.Transfer)
	totalDebit := req.Amount.Add(fee)

	return s.execute(ctx, operation{
		kind:        domain.MovementKindTransfer,
		address:     req.FromAddress,
		token:       req.IdempotencyToken,
		fingerprint: domain.RequestFingerprint(domain.MovementKindTransfer, cur.Code, "", req.ToAddress, req.Amount),
		apply: func(ctx context.Context, tx pgx.Tx) (*domain.Movement, error) {
			if _, err := s.authorize(ctx, tx, req.FromAddress, req.Secret); err != nil {
				return nil, err
			}

			dstWallet, err := s.wallets.GetByAddressTx(ctx, tx, req.ToAddress)
			if err != nil {
				return nil, fmt.Errorf("load destination wallet: %w", err)
			}
			if dstWallet == nil {
				return nil, apperror.ErrDestinationNotFound()
			}
			if !dstWallet.IsActive() {
				return nil, apperror.ErrWalletBlocked(dstWallet.Address)
			}

			src := domain.BalanceKey{WalletAddress: req.FromAddress, CurrencyID: cur.ID}
			dst := domain.BalanceKey{WalletAddress: req.ToAddress, CurrencyID: cur.ID}
			avail, err := s.lockPair(ctx, tx, src, dst)
			if err != nil {
				return nil, err
			}
			if avail.LessThan(totalDebit) {
				return nil, apperror.ErrInsufficientFunds()
			}
			if _, err := s.balances.Debit(ctx, tx, src, totalDebit); err != nil {
				return nil, fmt.Errorf("debit source balance: %w", err)
			}
			if _, err := s.balances.Credit(ctx, tx, dst, req.Amount); err != nil {
				return nil, fmt.Errorf("credit destination balance: %w", err)
			}

			to := req.ToAddress
			return &domain.Movement{
				Kind:                domain.MovementKindTransfer,
				WalletAddress:       req.FromAddress,
				CounterpartyAddress: &to,
				CurrencyID:          cur.ID,
				CurrencyCode:        cur.Code,
				Amount:              req.Amount,
				Fee:                 fee,
				FeeRate:             s.fees.Transfer,
			}, nil
		},
	})
}

// execute runs op as a single atomic unit, with optional idempotent replay.
func (s *LedgerServiceImpl) execute(ctx context.Context, op operation) (*domain.Movement, error) {
	start := time.Now()

	var idempKey string
	if op.token != "" {
		idempKey = domain.BuildIdempotencyKey(op.address, op.kind, op.token)
		prior, err := s.replay(ctx, idempKey)
		if err != nil {
			return nil, s.finish(op, start, classify(err))
		}
		if prior != nil {
			return s.replayed(op, start, prior)
		}
	}

	if op.prepare != nil {
		if err := op.prepare(ctx); err != nil {
			return nil, s.finish(op, start, classify(err))
		}
	}

	m, respJSON, err := s.runAtomic(ctx, op, idempKey)
	if err != nil {
		if idempKey != "" && errors.Is(err, ports.ErrDuplicateKey) {
			// A concurrent request with the same token committed first.
			if prior, replayErr := s.replay(ctx, idempKey); replayErr == nil && prior != nil {
				return s.replayed(op, start, prior)
			}
		}
		return nil, s.finish(op, start, classify(err))
	}

	if idempKey != "" && s.idempCache != nil {
		if err := s.idempCache.Set(ctx, idempKey, respJSON, s.idempTTL); err != nil {
			s.log.Warn().Err(err).Str("key", idempKey).Msg("failed to cache idempotency in redis")
		}
	}

	s.metrics.ObserveOperation(op.kind, OutcomeSuccess, time.Since(start))
	event := s.log.Info().
		Int64("movement_id", m.ID).
		Str("kind", string(m.Kind)).
		Str("wallet", m.WalletAddress).
		Str("currency", m.CurrencyCode).
		Str("amount", m.Amount.String()).
		Str("fee", m.Fee.String())
	if m.CounterpartyAddress != nil {
		event = event.Str("counterparty", *m.CounterpartyAddress)
	}
	if m.Rate.Valid {
		event = event.Str("rate", m.Rate.Decimal.String())
	}
	event.Msg("ledger movement committed")

	return m, nil
}

func (s *LedgerServiceImpl) runAtomic(ctx context.Context, op operation, idempKey string) (*domain.Movement, []byte, error) {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	m, err := op.apply(ctx, dbTx)
	if err != nil {
		return nil, nil, err
	}
	if idempKey != "" {
		m.IdempotencyKey = &idempKey
	}

	if err := s.movements.Create(ctx, dbTx, m); err != nil {
		return nil, nil, fmt.Errorf("append movement: %w", err)
	}

	respJSON, err := json.Marshal(m)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal movement: %w", err)
	}

	if idempKey != "" {
		entry := &domain.IdempotencyLog{
			Key:          idempKey,
			MovementID:   m.ID,
			ResponseJSON: respJSON,
			CreatedAt:    m.CreatedAt,
		}
		if err := s.idempRepo.Create(ctx, dbTx, entry); err != nil {
			return nil, nil, fmt.Errorf("save idempotency log: %w", err)
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit tx: %w", err)
	}
	return m, respJSON, nil
}

// replayed answers a repeated token with its recorded movement, provided the
// request parameters match the ones the token was first used with.
func (s *LedgerServiceImpl) replayed(op operation, start time.Time, prior *domain.Movement) (*domain.Movement, error) {
	if prior.Fingerprint() != op.fingerprint {
		return nil, s.finish(op, start, apperror.ErrIdempotencyReuse())
	}
	s.metrics.ObserveOperation(op.kind, OutcomeReplayed, time.Since(start))
	return prior, nil
}

// replay returns the movement recorded for key, or nil if there is none.
func (s *LedgerServiceImpl) replay(ctx context.Context, key string) (*domain.Movement, error) {
	if s.idempCache != nil {
		cached, err := s.idempCache.Get(ctx, key)
		if err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("redis idempotency check failed, falling through to DB")
		}
		if cached != nil {
			return unmarshalMovement(cached)
		}
	}

	entry, err := s.idempRepo.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("db idempotency check: %w", err)
	}
	if entry == nil {
		return nil, nil
	}
	return unmarshalMovement(entry.ResponseJSON)
}

// authorize loads the acting wallet inside tx and checks the bearer secret.
// Missing wallets and wrong secrets are indistinguishable to the caller.
func (s *LedgerServiceImpl) authorize(ctx context.Context, tx pgx.Tx, address, secret string) (*domain.Wallet, error) {
	w, err := s.wallets.GetByAddressTx(ctx, tx, address)
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	if w == nil {
		return nil, apperror.ErrUnauthorized()
	}
	ok, err := s.hasher.Verify(secret, w.SecretDigest)
	if err != nil {
		s.log.Error().Err(err).Str("wallet", address).Msg("stored secret digest is unreadable")
		return nil, apperror.ErrUnauthorized()
	}
	if !ok {
		return nil, apperror.ErrUnauthorized()
	}
	if !w.IsActive() {
		return nil, apperror.ErrWalletBlocked(w.Address)
	}
	return w, nil
}

// lockPair locks the debit and credit rows in lock order and returns the debit row's
// available amount. The credit row is created at zero if absent.
func (s *LedgerServiceImpl) lockPair(ctx context.Context, tx pgx.Tx, debit, credit domain.BalanceKey) (decimal.Decimal, error) {
	avail := decimal.Zero
	for _, key := range domain.SortBalanceKeys(debit, credit) {
		if key == debit {
			b, err := s.balances.GetForUpdate(ctx, tx, key)
			if err != nil {
				return decimal.Zero, fmt.Errorf("lock source balance: %w", err)
			}
			avail = available(b)
			continue
		}
		if _, err := s.balances.LockOrCreate(ctx, tx, key); err != nil {
			return decimal.Zero, fmt.Errorf("lock destination balance: %w", err)
		}
	}
	return avail, nil
}

func (s *LedgerServiceImpl) resolveCurrency(ctx context.Context, code string) (*domain.Currency, error) {
	code = domain.NormalizeCurrencyCode(code)
	if code == "" {
		return nil, apperror.ErrUnknownCurrency(code)
	}
	cur, err := s.currencies.GetByCode(ctx, code)
	if err != nil {
		return nil, apperror.ErrStoreFailure(fmt.Errorf("resolve currency %s: %w", code, err))
	}
	if cur == nil {
		return nil, apperror.ErrUnknownCurrency(code)
	}
	return cur, nil
}

func (s *LedgerServiceImpl) reject(kind domain.MovementKind, err error) error {
	s.metrics.ObserveOperation(kind, outcomeOf(err), 0)
	return err
}

func (s *LedgerServiceImpl) finish(op operation, start time.Time, err error) error {
	outcome := outcomeOf(err)
	s.metrics.ObserveOperation(op.kind, outcome, time.Since(start))

	switch outcome {
	case OutcomeRejected:
		s.log.Debug().Err(err).Str("kind", string(op.kind)).Str("wallet", op.address).Msg("ledger operation rejected")
	case OutcomeContention:
		s.log.Warn().Err(err).Str("kind", string(op.kind)).Str("wallet", op.address).Msg("ledger operation hit lock contention")
	default:
		s.log.Error().Err(err).Str("kind", string(op.kind)).Str("wallet", op.address).Msg("ledger operation failed")
	}
	return err
}

// classify maps store-level errors onto the error taxonomy. AppErrors pass through.
func classify(err error) error {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, ports.ErrContention) || errors.Is(err, context.DeadlineExceeded) {
		return apperror.ErrContention(err)
	}
	return apperror.ErrStoreFailure(err)
}

func outcomeOf(err error) string {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		return OutcomeError
	}
	switch appErr.Code {
	case apperror.CodeContention:
		return OutcomeContention
	case apperror.CodeStoreFailure:
		return OutcomeError
	}
	return OutcomeRejected
}

func available(b *domain.Balance) decimal.Decimal {
	if b == nil {
		return decimal.Zero
	}
	return b.Amount
}

func unmarshalMovement(data []byte) (*domain.Movement, error) {
	var m domain.Movement
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal cached movement: %w", err)
	}
	return &m, nil
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(domain.MovementKind, string, time.Duration) {}
