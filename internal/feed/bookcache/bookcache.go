// Package bookcache implements the Order Book Cache (spec §4.2): a lazy,
// multiplexed latest-value stream per market, replayed to late subscribers,
// auto-reestablished on disconnect, torn down a short grace period after
// the last subscriber leaves.
package bookcache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/arbitron/internal/domain"
	"github.com/alanyoungcy/arbitron/internal/streamutil"
)

// gracePeriod is how long an upstream subscription stays alive after its
// last local subscriber unsubscribes, to absorb a quick resubscribe without
// paying reconnect latency twice.
const gracePeriod = 5 * time.Second

const reconnectBackoff = 2 * time.Second

type marketCache struct {
	mu          sync.Mutex
	latest      *streamutil.Latest[domain.OrderBook]
	subscribers int
	cancel      context.CancelFunc
	teardownAt  *time.Timer
}

// Cache is a reference-counted multiplexer over one ExchangeClient's
// per-market order book stream.
type Cache struct {
	client domain.ExchangeClient
	log    *slog.Logger

	mu      sync.Mutex
	markets map[domain.Market]*marketCache
	fees    map[domain.Market]domain.FeeMultiplier
}

// New builds a Cache over client's OrderBookStream/FeeMultiplier.
func New(client domain.ExchangeClient, log *slog.Logger) *Cache {
	return &Cache{client: client, log: log, markets: make(map[domain.Market]*marketCache), fees: make(map[domain.Market]domain.FeeMultiplier)}
}

// Snapshot returns the latest known book for market, if one has arrived.
// Implements pathfind.BookSource.
func (c *Cache) Snapshot(market domain.Market) (domain.OrderBook, bool) {
	c.mu.Lock()
	mc, ok := c.markets[market]
	c.mu.Unlock()
	if !ok {
		return domain.OrderBook{}, false
	}
	return mc.latest.Get()
}

// Fee returns the last-fetched fee multiplier for market, if any.
func (c *Cache) Fee(market domain.Market) (domain.FeeMultiplier, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.fees[market]
	return f, ok
}

// Subscribe registers interest in market's book, starting the upstream
// subscription on first subscriber and cancelling any pending teardown.
// The returned unsubscribe func must be called exactly once.
func (c *Cache) Subscribe(ctx context.Context, market domain.Market) (updates *streamutil.Latest[domain.OrderBook], unsubscribe func()) {
	c.mu.Lock()
	mc, ok := c.markets[market]
	if !ok {
		mc = &marketCache{latest: streamutil.NewLatest[domain.OrderBook]()}
		c.markets[market] = mc
	}
	c.mu.Unlock()

	mc.mu.Lock()
	mc.subscribers++
	if mc.teardownAt != nil {
		mc.teardownAt.Stop()
		mc.teardownAt = nil
	}
	if mc.cancel == nil {
		upstreamCtx, cancel := context.WithCancel(context.Background())
		mc.cancel = cancel
		go c.runUpstream(upstreamCtx, market, mc)
	}
	mc.mu.Unlock()

	var once sync.Once
	return mc.latest, func() {
		once.Do(func() {
			mc.mu.Lock()
			mc.subscribers--
			if mc.subscribers <= 0 {
				mc.teardownAt = time.AfterFunc(gracePeriod, func() {
					mc.mu.Lock()
					defer mc.mu.Unlock()
					if mc.subscribers <= 0 && mc.cancel != nil {
						mc.cancel()
						mc.cancel = nil
					}
				})
			}
			mc.mu.Unlock()
		})
	}
}

// runUpstream maintains the exchange subscription for market, reconnecting
// on stream closure/error until upstreamCtx is cancelled (the grace-period
// teardown).
func (c *Cache) runUpstream(upstreamCtx context.Context, market domain.Market, mc *marketCache) {
	if fee, err := c.client.FeeMultiplier(upstreamCtx, market); err == nil {
		c.mu.Lock()
		c.fees[market] = fee
		c.mu.Unlock()
	}

	for {
		select {
		case <-upstreamCtx.Done():
			return
		default:
		}

		ch, err := c.client.OrderBookStream(upstreamCtx, market)
		if err != nil {
			if c.log != nil {
				c.log.Warn("order book subscribe failed, retrying", slog.String("market", market.String()), slog.String("error", err.Error()))
			}
			if !sleepOrDone(upstreamCtx, reconnectBackoff) {
				return
			}
			continue
		}

		c.drain(upstreamCtx, ch, mc)

		if !sleepOrDone(upstreamCtx, reconnectBackoff) {
			return
		}
	}
}

func (c *Cache) drain(ctx context.Context, ch <-chan domain.OrderBook, mc *marketCache) {
	for {
		select {
		case b, ok := <-ch:
			if !ok {
				return
			}
			mc.latest.Set(b)
		case <-ctx.Done():
			return
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
