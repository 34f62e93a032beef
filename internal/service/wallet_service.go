package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// maxIssueAttempts bounds retries when a freshly generated address collides.
const maxIssueAttempts = 3

// WalletDeps holds the collaborators of WalletServiceImpl.
type WalletDeps struct {
	Transactor         ports.DBTransactor
	Wallets            ports.WalletRepository
	Balances           ports.BalanceRepository
	Movements          ports.MovementRepository
	Currencies         ports.CurrencyRepository
	Keys               ports.KeyIssuer
	Quotes             ports.QuoteProvider
	Ledger             ports.LedgerService
	RequiredCurrencies []string
	Logger             zerolog.Logger
}

// WalletServiceImpl implements ports.WalletService.
type WalletServiceImpl struct {
	transactor ports.DBTransactor
	wallets    ports.WalletRepository
	balances   ports.BalanceRepository
	movements  ports.MovementRepository
	currencies ports.CurrencyRepository
	keys       ports.KeyIssuer
	quotes     ports.QuoteProvider
	ports.LedgerService
	required []string
	log      zerolog.Logger
}

// NewWalletService creates a new WalletServiceImpl.
func NewWalletService(deps WalletDeps) *WalletServiceImpl {
	return &WalletServiceImpl{
		transactor:    deps.Transactor,
		wallets:       deps.Wallets,
		balances:      deps.Balances,
		movements:     deps.Movements,
		currencies:    deps.Currencies,
		keys:          deps.Keys,
		quotes:        deps.Quotes,
		LedgerService: deps.Ledger,
		required:      deps.RequiredCurrencies,
		log:           deps.Logger,
	}
}

// CreateWallet issues a new address and secret and provisions a zero balance
// in every required currency, all in one transaction.
func (s *WalletServiceImpl) CreateWallet(ctx context.Context) (*ports.CreatedWallet, error) {
	required := make([]domain.Currency, 0, len(s.required))
	ids := make([]int32, 0, len(s.required))
	for _, code := range s.required {
		cur, err := s.currencies.GetByCode(ctx, domain.NormalizeCurrencyCode(code))
		if err != nil {
			return nil, apperror.ErrStoreFailure(fmt.Errorf("resolve currency %s: %w", code, err))
		}
		if cur == nil {
			return nil, apperror.ErrUnknownCurrency(code)
		}
		required = append(required, *cur)
		ids = append(ids, cur.ID)
	}

	for attempt := 1; ; attempt++ {
		creds, err := s.keys.Issue()
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("issue credentials: %w", err))
		}

		w := domain.Wallet{
			Address:      creds.Address,
			SecretDigest: creds.SecretDigest,
			Status:       domain.WalletStatusActive,
			CreatedAt:    time.Now().UTC(),
		}
		err = s.persistWallet(ctx, &w, ids)
		if errors.Is(err, ports.ErrDuplicateKey) && attempt < maxIssueAttempts {
			s.log.Warn().Str("address", w.Address).Int("attempt", attempt).Msg("wallet address collision, reissuing")
			continue
		}
		if err != nil {
			return nil, classify(err)
		}

		balances := make([]domain.Balance, 0, len(required))
		for _, cur := range required {
			balances = append(balances, domain.Balance{
				WalletAddress: w.Address,
				CurrencyID:    cur.ID,
				CurrencyCode:  cur.Code,
				CurrencyName:  cur.Name,
				Amount:        decimal.Zero,
				UpdatedAt:     w.CreatedAt,
			})
		}

		s.log.Info().Str("address", w.Address).Int("currencies", len(ids)).Msg("wallet created")
		return &ports.CreatedWallet{Wallet: w, Secret: creds.Secret, Balances: balances}, nil
	}
}

func (s *WalletServiceImpl) persistWallet(ctx context.Context, w *domain.Wallet, currencyIDs []int32) error {
	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.wallets.Create(ctx, dbTx, w); err != nil {
		return fmt.Errorf("create wallet: %w", err)
	}
	if len(currencyIDs) > 0 {
		if err := s.balances.InitZero(ctx, dbTx, w.Address, currencyIDs); err != nil {
			return fmt.Errorf("init balances: %w", err)
		}
	}
	if err := dbTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *WalletServiceImpl) GetWallet(ctx context.Context, address string) (*domain.Wallet, error) {
	w, err := s.wallets.GetByAddress(ctx, address)
	if err != nil {
		return nil, apperror.ErrStoreFailure(fmt.Errorf("get wallet: %w", err))
	}
	if w == nil {
		return nil, apperror.ErrWalletNotFound()
	}
	return w, nil
}

func (s *WalletServiceImpl) ListWallets(ctx context.Context, params ports.ListParams) ([]domain.Wallet, int64, error) {
	wallets, total, err := s.wallets.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.ErrStoreFailure(fmt.Errorf("list wallets: %w", err))
	}
	return wallets, total, nil
}

// BlockWallet marks the wallet BLOCKED. Blocking an already blocked wallet is a no-op.
func (s *WalletServiceImpl) BlockWallet(ctx context.Context, address string) (*domain.Wallet, error) {
	found, err := s.wallets.UpdateStatus(ctx, address, domain.WalletStatusBlocked)
	if err != nil {
		return nil, classify(fmt.Errorf("block wallet: %w", err))
	}
	if !found {
		return nil, apperror.ErrWalletNotFound()
	}
	s.log.Info().Str("address", address).Msg("wallet blocked")
	return s.GetWallet(ctx, address)
}

func (s *WalletServiceImpl) GetBalances(ctx context.Context, address string) ([]domain.Balance, error) {
	if _, err := s.GetWallet(ctx, address); err != nil {
		return nil, err
	}
	balances, err := s.balances.ListByWallet(ctx, address)
	if err != nil {
		return nil, apperror.ErrStoreFailure(fmt.Errorf("list balances: %w", err))
	}
	return balances, nil
}

func (s *WalletServiceImpl) ListMovements(ctx context.Context, params ports.MovementListParams) ([]domain.Movement, int64, error) {
	if _, err := s.GetWallet(ctx, params.Address); err != nil {
		return nil, 0, err
	}
	movements, total, err := s.movements.ListByWallet(ctx, params)
	if err != nil {
		return nil, 0, apperror.ErrStoreFailure(fmt.Errorf("list movements: %w", err))
	}
	return movements, total, nil
}

func (s *WalletServiceImpl) ListCurrencies(ctx context.Context) ([]domain.Currency, error) {
	currencies, err := s.currencies.List(ctx)
	if err != nil {
		return nil, apperror.ErrStoreFailure(fmt.Errorf("list currencies: %w", err))
	}
	return currencies, nil
}

// GetQuote returns the current rate for a pair of catalog currencies.
func (s *WalletServiceImpl) GetQuote(ctx context.Context, from, to string) (*ports.Quote, error) {
	from, to = domain.NormalizeCurrencyCode(from), domain.NormalizeCurrencyCode(to)
	for _, code := range []string{from, to} {
		cur, err := s.currencies.GetByCode(ctx, code)
		if err != nil {
			return nil, apperror.ErrStoreFailure(fmt.Errorf("resolve currency %s: %w", code, err))
		}
		if cur == nil {
			return nil, apperror.ErrUnknownCurrency(code)
		}
	}
	if from == to {
		return nil, apperror.ErrSameCurrency()
	}

	rate, err := s.quotes.GetRate(ctx, from, to)
	if err != nil {
		return nil, apperror.ErrQuoteUnavailable(err)
	}
	if !rate.IsPositive() {
		return nil, apperror.ErrQuoteUnavailable(fmt.Errorf("non-positive rate %s", rate))
	}
	return &ports.Quote{From: from, To: to, Rate: rate, FetchedAt: time.Now().UTC()}, nil
}
