package ports

import (
	"context"
	"time"

	"wallet-ledger/internal/core/domain"

	"github.com/shopspring/decimal"
)

// SecretHasher produces and verifies digests of wallet bearer secrets.
type SecretHasher interface {
	Digest(secret string) (string, error)
	Verify(secret string, digest string) (bool, error)
}

// KeyIssuer generates a fresh wallet address and bearer secret.
type KeyIssuer interface {
	Issue() (*domain.WalletCredentials, error)
}

// QuoteProvider returns the number of destination units per one origin unit.
type QuoteProvider interface {
	GetRate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// QuoteCache caches recent quotes.
type QuoteCache interface {
	// Get returns ok=false on a cache miss.
	Get(ctx context.Context, from, to string) (rate decimal.Decimal, ok bool, err error)
	Set(ctx context.Context, from, to string, rate decimal.Decimal, ttl time.Duration) error
}

// IdempotencyCache is the Redis-layer idempotency check (fast path).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached response JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// LedgerMetrics records ledger operation outcomes.
type LedgerMetrics interface {
	ObserveOperation(kind domain.MovementKind, outcome string, elapsed time.Duration)
}

// AuditService records audit entries.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}

// --- Service Ports (Business Logic) ---

// LedgerService is the balance-mutation engine. Every operation is one atomic unit
// that locks the affected balance rows, validates, mutates and appends a movement.
type LedgerService interface {
	Deposit(ctx context.Context, req DepositRequest) (*domain.Movement, error)
	Withdraw(ctx context.Context, req WithdrawRequest) (*domain.Movement, error)
	Convert(ctx context.Context, req ConvertRequest) (*domain.Movement, error)
	Transfer(ctx context.Context, req TransferRequest) (*domain.Movement, error)
}

// DepositRequest holds validated input for a deposit.
type DepositRequest struct {
	Address          string
	Currency         string
	Amount           decimal.Decimal
	IdempotencyToken string // optional
}

// WithdrawRequest holds validated input for a withdrawal.
// Amount is what the holder receives; the fee is charged on top.
type WithdrawRequest struct {
	Address          string
	Currency         string
	Amount           decimal.Decimal
	Secret           string
	IdempotencyToken string
}

// ConvertRequest holds validated input for a conversion.
type ConvertRequest struct {
	Address          string
	FromCurrency     string
	ToCurrency       string
	Amount           decimal.Decimal // source amount
	Secret           string
	IdempotencyToken string
}

// TransferRequest holds validated input for a transfer.
// Amount is what the destination receives; the fee is charged on top to the source.
type TransferRequest struct {
	FromAddress      string
	ToAddress        string
	Currency         string
	Amount           decimal.Decimal
	Secret           string
	IdempotencyToken string
}

// WalletService orchestrates wallet issuance, queries and ledger calls.
type WalletService interface {
	CreateWallet(ctx context.Context) (*CreatedWallet, error)
	GetWallet(ctx context.Context, address string) (*domain.Wallet, error)
	ListWallets(ctx context.Context, params ListParams) ([]domain.Wallet, int64, error)
	BlockWallet(ctx context.Context, address string) (*domain.Wallet, error)
	GetBalances(ctx context.Context, address string) ([]domain.Balance, error)
	ListMovements(ctx context.Context, params MovementListParams) ([]domain.Movement, int64, error)
	ListCurrencies(ctx context.Context) ([]domain.Currency, error)
	GetQuote(ctx context.Context, from, to string) (*Quote, error)

	Deposit(ctx context.Context, req DepositRequest) (*domain.Movement, error)
	Withdraw(ctx context.Context, req WithdrawRequest) (*domain.Movement, error)
	Convert(ctx context.Context, req ConvertRequest) (*domain.Movement, error)
	Transfer(ctx context.Context, req TransferRequest) (*domain.Movement, error)
}

// CreatedWallet is the issuance result shown once.
type CreatedWallet struct {
	Wallet   domain.Wallet
	Secret   string // Plaintext, shown only at creation
	Balances []domain.Balance
}

// Quote is a snapshot of an exchange rate.
type Quote struct {
	From      string
	To        string
	Rate      decimal.Decimal
	FetchedAt time.Time
}
