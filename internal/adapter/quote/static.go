package quote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrPairNotFound is returned by StaticProvider for pairs it has no rate for.
var ErrPairNotFound = errors.New("quote pair not found")

// inversePrecision is the number of decimal places kept when inverting a rate.
const inversePrecision = 18

// StaticProvider serves fixed rates, for local runs and tests.
// A configured BTC-USD rate also answers USD-BTC with its inverse.
type StaticProvider struct {
	rates map[string]decimal.Decimal
}

// NewStaticProvider parses rates keyed "FROM-TO" (case-insensitive).
func NewStaticProvider(rates map[string]string) (*StaticProvider, error) {
	parsed := make(map[string]decimal.Decimal, len(rates))
	for pair, raw := range rates {
		from, to, ok := strings.Cut(strings.ToUpper(strings.TrimSpace(pair)), "-")
		if !ok || from == "" || to == "" {
			return nil, fmt.Errorf("static rate %q: pair must be FROM-TO", pair)
		}
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("static rate %s: %w", pair, err)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("static rate %s: must be positive", pair)
		}
		parsed[from+"-"+to] = rate
	}
	return &StaticProvider{rates: parsed}, nil
}

func (p *StaticProvider) GetRate(_ context.Context, from, to string) (decimal.Decimal, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if rate, ok := p.rates[from+"-"+to]; ok {
		return rate, nil
	}
	if rate, ok := p.rates[to+"-"+from]; ok {
		return decimal.NewFromInt(1).DivRound(rate, inversePrecision), nil
	}
	return decimal.Zero, fmt.Errorf("%s-%s: %w", from, to, ErrPairNotFound)
}
