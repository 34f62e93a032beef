package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// QuoteCache implements ports.QuoteCache. Rates are stored as decimal strings.
type QuoteCache struct {
	client *goredis.Client
	prefix string
}

// NewQuoteCache creates a new Redis-backed quote cache.
func NewQuoteCache(client *goredis.Client) *QuoteCache {
	return &QuoteCache{client: client, prefix: "ledger:quote:"}
}

func (c *QuoteCache) key(from, to string) string {
	return c.prefix + from + "-" + to
}

func (c *QuoteCache) Get(ctx context.Context, from, to string) (decimal.Decimal, bool, error) {
	val, err := c.client.Get(ctx, c.key(from, to)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, fmt.Errorf("redis quote get: %w", err)
	}
	rate, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("redis quote %s-%s: parse %q: %w", from, to, val, err)
	}
	return rate, true, nil
}

func (c *QuoteCache) Set(ctx context.Context, from, to string, rate decimal.Decimal, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.key(from, to), rate.String(), ttl).Err(); err != nil {
		return fmt.Errorf("redis quote set: %w", err)
	}
	return nil
}
