package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	httpHandler "wallet-ledger/internal/adapter/http/handler"
	"wallet-ledger/internal/adapter/metrics"
	"wallet-ledger/internal/adapter/quote"
	"wallet-ledger/internal/adapter/storage/memory"
	redisStorage "wallet-ledger/internal/adapter/storage/redis"
	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/internal/service"
	"wallet-ledger/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// testApp runs the full HTTP stack against the in-memory transactional store,
// which enforces the same row locking as PostgreSQL, and miniredis for the
// idempotency and quote caches.
type testApp struct {
	server *httptest.Server
	redis  *miniredis.Miniredis
	store  *memory.Store
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log := logger.New("error", false)
	store := memory.NewStore(5*time.Second, memory.DefaultCurrencies()...)
	transactor := memory.NewTransactor(store)

	hasher, err := service.NewSecretHashService(service.HashAlgorithmSHA256, service.Argon2Params{})
	require.NoError(t, err)

	static, err := quote.NewStaticProvider(map[string]string{
		"BTC-USD": "60000",
		"ETH-USD": "3000",
		"USD-BRL": "5",
	})
	require.NoError(t, err)
	quotes := quote.NewCachedProvider(static, redisStorage.NewQuoteCache(rdb), 10*time.Second, log)

	ledger := service.NewLedgerService(service.LedgerDeps{
		Transactor:  transactor,
		Wallets:     memory.NewWalletRepo(store),
		Balances:    memory.NewBalanceRepo(store),
		Movements:   memory.NewMovementRepo(store),
		Currencies:  memory.NewCurrencyRepo(store),
		Idempotency: memory.NewIdempotencyRepo(store),
		IdempCache:  redisStorage.NewIdempotencyCache(rdb),
		Quotes:      quotes,
		Hasher:      hasher,
		Metrics:     metrics.New(),
		Fees: domain.FeeSchedule{
			Withdrawal: decimal.RequireFromString("0.01"),
			Conversion: decimal.RequireFromString("0.02"),
			Transfer:   decimal.RequireFromString("0.01"),
		},
		Logger: log,
	})
	wallets := service.NewWalletService(service.WalletDeps{
		Transactor:         transactor,
		Wallets:            memory.NewWalletRepo(store),
		Balances:           memory.NewBalanceRepo(store),
		Movements:          memory.NewMovementRepo(store),
		Currencies:         memory.NewCurrencyRepo(store),
		Keys:               service.NewKeyService(hasher),
		Quotes:             quotes,
		Ledger:             ledger,
		RequiredCurrencies: []string{"BTC", "ETH", "SOL", "USD", "BRL"},
		Logger:             log,
	})

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		WalletSvc:      wallets,
		HealthCheckers: []ports.HealthChecker{redisStorage.NewHealthCheck(rdb)},
		Logger:         log,
	})

	app := &testApp{
		server: httptest.NewServer(router),
		redis:  mr,
		store:  store,
	}
	t.Cleanup(app.close)
	return app
}

func (a *testApp) close() {
	a.server.Close()
	a.redis.Close()
}

type apiResponse struct {
	Status    int
	Data      json.RawMessage `json:"data"`
	ErrorCode string          `json:"error_code"`
	Retryable bool            `json:"retryable"`
}

func (a *testApp) call(t *testing.T, method, path string, body interface{}, headers map[string]string) apiResponse {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out apiResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	out.Status = resp.StatusCode
	return out
}

type wallet struct {
	Address    string `json:"address"`
	PrivateKey string `json:"private_key"`
}

func (a *testApp) createWallet(t *testing.T) wallet {
	t.Helper()
	resp := a.call(t, http.MethodPost, "/api/v1/wallets", nil, nil)
	require.Equal(t, http.StatusCreated, resp.Status)
	var w wallet
	require.NoError(t, json.Unmarshal(resp.Data, &w))
	return w
}

func (a *testApp) deposit(t *testing.T, address, currency, amount string) {
	t.Helper()
	resp := a.call(t, http.MethodPost, "/api/v1/wallets/"+address+"/deposits",
		map[string]string{"currency": currency, "amount": amount}, nil)
	require.Equal(t, http.StatusCreated, resp.Status, resp.ErrorCode)
}

// balance reads the committed balance directly from the store.
func (a *testApp) balance(t *testing.T, address, currency string) decimal.Decimal {
	t.Helper()
	for _, c := range memory.DefaultCurrencies() {
		if c.Code != currency {
			continue
		}
		b, ok := a.store.Snapshot()[domain.BalanceKey{WalletAddress: address, CurrencyID: c.ID}]
		if !ok {
			return decimal.Zero
		}
		return b.Amount
	}
	t.Fatalf("unknown currency %s", currency)
	return decimal.Zero
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
