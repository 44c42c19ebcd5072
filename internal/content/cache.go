package content

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/willemschots/stockdigest/internal/auth"
)

// FetchTimeout bounds a shared upstream call.
const FetchTimeout = time.Minute

// CachedSource caches the headlines of another NewsSource per symbol.
// Concurrent lookups of the same symbol result in a single upstream call,
// which is not cancelled when one of the callers gives up.
// Failures are not cached.
type CachedSource struct {
	src   NewsSource
	cache *symbolCache[[]Article]
}

func NewCachedSource(src NewsSource, ttl time.Duration) *CachedSource {
	return &CachedSource{
		src:   src,
		cache: newSymbolCache[[]Article](ttl),
	}
}

// Headlines returns the cached headlines for symbol, fetching them when needed.
// The returned slice is shared and must not be modified.
func (s *CachedSource) Headlines(ctx context.Context, symbol auth.Symbol) ([]Article, error) {
	return s.cache.get(ctx, symbol, s.src.Headlines)
}

// CachedPriceSource caches the metrics of another PriceSource per symbol,
// the same way CachedSource does for news.
type CachedPriceSource struct {
	src   PriceSource
	cache *symbolCache[PriceMetrics]
}

func NewCachedPriceSource(src PriceSource, ttl time.Duration) *CachedPriceSource {
	return &CachedPriceSource{
		src:   src,
		cache: newSymbolCache[PriceMetrics](ttl),
	}
}

// Prices returns the cached metrics for symbol, fetching them when needed.
// The returned Performance slice is shared and must not be modified.
func (s *CachedPriceSource) Prices(ctx context.Context, symbol auth.Symbol) (PriceMetrics, error) {
	return s.cache.get(ctx, symbol, s.src.Prices)
}

type symbolCache[T any] struct {
	cache *gocache.Cache
	sf    singleflight.Group
}

func newSymbolCache[T any](ttl time.Duration) *symbolCache[T] {
	return &symbolCache[T]{
		cache: gocache.New(ttl, time.Minute),
	}
}

func (c *symbolCache[T]) get(ctx context.Context, symbol auth.Symbol, fetch func(context.Context, auth.Symbol) (T, error)) (T, error) {
	var zero T

	key := string(symbol)
	if v, ok := c.cache.Get(key); ok {
		return v.(T), nil
	}

	ch := c.sf.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), FetchTimeout)
		defer cancel()

		v, err := fetch(fetchCtx, symbol)
		if err != nil {
			return nil, err
		}

		c.cache.SetDefault(key, v)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}
