package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCoinbaseURL is the public Coinbase API root.
const DefaultCoinbaseURL = "https://api.coinbase.com"

type coinbaseSpotResp struct {
	Data struct {
		Amount   string `json:"amount"`
		Base     string `json:"base"`
		Currency string `json:"currency"`
	} `json:"data"`
}

// CoinbaseProvider fetches spot prices from the Coinbase v2 prices endpoint.
type CoinbaseProvider struct {
	baseURL string
	client  *http.Client
}

// NewCoinbaseProvider creates a provider against baseURL (DefaultCoinbaseURL if empty).
func NewCoinbaseProvider(baseURL string, timeout time.Duration) *CoinbaseProvider {
	if baseURL == "" {
		baseURL = DefaultCoinbaseURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CoinbaseProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// GetRate returns units of to per one unit of from.
func (p *CoinbaseProvider) GetRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/v2/prices/%s-%s/spot", p.baseURL, from, to)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("coinbase %s-%s: %w", from, to, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return decimal.Zero, fmt.Errorf("coinbase %s-%s: status %d: %s", from, to, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var body coinbaseSpotResp
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("coinbase %s-%s: decode: %w", from, to, err)
	}
	if body.Data.Amount == "" {
		return decimal.Zero, errors.New("coinbase: empty amount")
	}
	rate, err := decimal.NewFromString(body.Data.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("coinbase %s-%s: parse amount %q: %w", from, to, body.Data.Amount, err)
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("coinbase %s-%s: non-positive rate %s", from, to, rate)
	}
	return rate, nil
}
