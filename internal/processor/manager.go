package processor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/arbitron/internal/domain"
	"github.com/alanyoungcy/arbitron/internal/sched"
	"github.com/alanyoungcy/arbitron/internal/streamutil"
)

// key identifies one (market, side) Processor.
type key struct {
	market domain.Market
	side   domain.OrderSide
}

// bookSource is the book cache's Subscribe surface; internal/feed/bookcache.Cache
// satisfies it. A Manager forwards each market's updates to every Processor
// trading that market, since Processor owns no subscription of its own
// (spec §4.2's "order book cache is multiply subscribed with reference-
// counted upstream lifetime").
type bookSource interface {
	Subscribe(ctx context.Context, market domain.Market) (updates *streamutil.Latest[domain.OrderBook], unsubscribe func())
}

// Manager is the Delayed-Trade Manager (spec §4 overview): a lifecycle
// registry of Processors, one per (market, side), created lazily on first
// use and torn down with the top-level trader.
type Manager struct {
	client domain.ExchangeClient
	books  bookSource
	recov  Recovery
	log    *slog.Logger

	mu    sync.Mutex
	procs map[key]*Processor
	subs  []bookSub
}

type bookSub struct {
	cancel      context.CancelFunc
	unsubscribe func()
}

// NewManager builds an empty registry bound to one exchange client and book
// cache.
func NewManager(client domain.ExchangeClient, books bookSource, recov Recovery, log *slog.Logger) *Manager {
	return &Manager{client: client, books: books, recov: recov, log: log, procs: make(map[key]*Processor)}
}

// Get returns the Processor for (market, side), creating it on first
// access and subscribing it to that market's book updates.
func (m *Manager) Get(market domain.Market, side domain.OrderSide) *Processor {
	k := key{market, side}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.procs[k]
	if !ok {
		p = New(market, side, m.client, sched.New(side, m.log), m.recov, m.log)
		m.procs[k] = p
		if m.books != nil {
			m.wireBookUpdates(p, market)
		}
	}
	return p
}

// wireBookUpdates forwards every book update for market to p until StopAll
// unsubscribes it.
func (m *Manager) wireBookUpdates(p *Processor, market domain.Market) {
	ctx, cancel := context.WithCancel(context.Background())
	updates, unsubscribe := m.books.Subscribe(ctx, market)
	m.subs = append(m.subs, bookSub{cancel: cancel, unsubscribe: unsubscribe})
	if book, ok := updates.Get(); ok {
		p.OnBookUpdate(book)
	}
	go func() {
		for {
			select {
			case <-updates.Updates():
				if book, ok := updates.Get(); ok {
					p.OnBookUpdate(book)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Scheduler exposes the Processor's Scheduler handle for a (market, side)
// pair, the boundary the Transaction Intent's DELAYED_STEP talks to (spec
// §9's "Processor holds no intent pointer, only outputChannel references
// inside the Scheduler").
func (m *Manager) Scheduler(market domain.Market, side domain.OrderSide) *sched.Scheduler {
	return m.Get(market, side).sched
}

// PauseOpposite parks the opposite-side Processor for market for the
// duration of an Instant step: its worker is stopped and barred from
// restarting (via a paused flag EnsureWorker honors) until ResumeOpposite
// clears it, and PauseOpposite blocks until that worker has actually exited
// — which, via its own shutdown path, cancels its live order — so the
// Instant step cannot self-trade against it (spec §5: "the opposite
// Processor is guaranteed to have cancelled its open order before the
// Instant step runs, and is resumed afterwards").
func (m *Manager) PauseOpposite(ctx context.Context, market domain.Market, side domain.OrderSide) {
	opp := opposite(side)
	k := key{market, opp}
	m.mu.Lock()
	p, ok := m.procs[k]
	m.mu.Unlock()
	if !ok {
		return
	}
	p.Pause(ctx)
}

// ResumeOpposite clears the opposite-side Processor's paused flag and
// restarts its worker if the pool is non-empty, undoing PauseOpposite once
// the Instant step completes.
func (m *Manager) ResumeOpposite(ctx context.Context, market domain.Market, side domain.OrderSide) {
	m.Get(market, opposite(side)).Resume(ctx)
}

// Dispatch routes one account notification to every known Processor; each
// Processor ignores notifications that don't match its current or recently
// superseded order id (spec §4.6's ownership check in OnAccountNotification).
func (m *Manager) Dispatch(n domain.AccountNotification) {
	m.mu.Lock()
	procs := make([]*Processor, 0, len(m.procs))
	for _, p := range m.procs {
		procs = append(procs, p)
	}
	m.mu.Unlock()
	for _, p := range procs {
		p.OnAccountNotification(n)
	}
}

// StopAll cancels every live Processor worker and its book subscription,
// for shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.procs {
		p.Stop()
	}
	for _, s := range m.subs {
		s.cancel()
		s.unsubscribe()
	}
	m.subs = nil
}

func opposite(side domain.OrderSide) domain.OrderSide {
	if side == domain.OrderSideBuy {
		return domain.OrderSideSell
	}
	return domain.OrderSideBuy
}
