package quote

import (
	"context"
	"fmt"
	"time"

	"wallet-ledger/internal/core/ports"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// CachedProvider serves recent quotes from a QuoteCache and collapses
// concurrent misses for the same pair into one upstream call.
type CachedProvider struct {
	next  ports.QuoteProvider
	cache ports.QuoteCache
	ttl   time.Duration
	group singleflight.Group
	log   zerolog.Logger
}

// NewCachedProvider wraps next. Cache failures degrade to calling next directly.
func NewCachedProvider(next ports.QuoteProvider, cache ports.QuoteCache, ttl time.Duration, log zerolog.Logger) *CachedProvider {
	return &CachedProvider{next: next, cache: cache, ttl: ttl, log: log}
}

func (p *CachedProvider) GetRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	rate, ok, err := p.cache.Get(ctx, from, to)
	if err != nil {
		p.log.Warn().Err(err).Str("pair", from+"-"+to).Msg("quote cache read failed")
	}
	if ok {
		return rate, nil
	}

	v, err, _ := p.group.Do(from+"-"+to, func() (any, error) {
		fresh, err := p.next.GetRate(ctx, from, to)
		if err != nil {
			return nil, err
		}
		if !fresh.IsPositive() {
			return nil, fmt.Errorf("quote %s-%s: non-positive rate %s", from, to, fresh)
		}
		if err := p.cache.Set(ctx, from, to, fresh, p.ttl); err != nil {
			p.log.Warn().Err(err).Str("pair", from+"-"+to).Msg("quote cache write failed")
		}
		return fresh, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}
