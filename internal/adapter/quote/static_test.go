package quote

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticProvider(t *testing.T) {
	p, err := NewStaticProvider(map[string]string{"btc-usd": "50000", "USD-BRL": "5"})
	require.NoError(t, err)
	ctx := context.Background()

	rate, err := p.GetRate(ctx, "BTC", "USD")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(50000).Equal(rate))

	inverse, err := p.GetRate(ctx, "BRL", "USD")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.2").Equal(inverse))

	_, err = p.GetRate(ctx, "ETH", "SOL")
	assert.ErrorIs(t, err, ErrPairNotFound)
}

func TestNewStaticProvider_Invalid(t *testing.T) {
	for _, rates := range []map[string]string{
		{"BTCUSD": "1"},
		{"BTC-USD": "lots"},
		{"BTC-USD": "0"},
		{"BTC-USD": "-3"},
	} {
		_, err := NewStaticProvider(rates)
		assert.Error(t, err, rates)
	}
}
