// Package sched implements the Trade Scheduler (spec §4.5): a per-(market,
// side) registry mapping live paths to a share of one pooled exchange order,
// and the single-writer trade attribution algorithm that disaggregates
// fills back to the paths that reserved them.
package sched

import (
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbitron/internal/domain"
)

// entry is one registered path's reservation against the pooled order.
type entry struct {
	id        string
	remaining decimal.Decimal
	out       chan domain.BareTrade
	closed    bool
}

// exitRequest is the two-phase unregister handshake: the entry is marked
// exiting immediately (so attribution skips it), but stays in the registry
// until the Processor acknowledges it has reached a safe state to drop it.
type exitRequest struct {
	id  string
	ack chan struct{}
}

// Scheduler coordinates every path competing for trades on one
// (market, side) pooled order. One Scheduler exists per Processor.
type Scheduler struct {
	mu      sync.Mutex
	side    domain.OrderSide
	order   []*entry // insertion order, for attribution and fixed-order fairness
	byID    map[string]*entry
	common  decimal.Decimal
	commonC *commonWatch
	exiting map[string]*exitRequest
	log     *slog.Logger
}

// commonWatch is a minimal conflated notifier for commonFromAmount changes;
// kept local rather than reusing streamutil.Latest because the Processor
// only ever needs a wakeup, the value is read back via CommonFromAmount().
type commonWatch struct {
	mu   sync.Mutex
	subs []chan struct{}
}

func (w *commonWatch) publish() {
	w.mu.Lock()
	subs := w.subs
	w.subs = nil
	w.mu.Unlock()
	for _, s := range subs {
		close(s)
	}
}

func (w *commonWatch) subscribe() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(chan struct{})
	w.subs = append(w.subs, ch)
	return ch
}

// New creates a Scheduler for one (market, side) pooled order.
func New(side domain.OrderSide, log *slog.Logger) *Scheduler {
	return &Scheduler{
		side:    side,
		byID:    make(map[string]*entry),
		exiting: make(map[string]*exitRequest),
		common:  decimal.Zero,
		commonC: &commonWatch{},
		log:     log,
	}
}

// CommonFromAmount returns the current pooled reservation total.
func (s *Scheduler) CommonFromAmount() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.common
}

// CommonFromAmountUpdates returns a channel that closes the next time the
// pooled total changes, for the Processor's worker loop to select on.
func (s *Scheduler) CommonFromAmountUpdates() <-chan struct{} {
	return s.commonC.subscribe()
}

// Register adds a path with a zero reservation, returning its trade output
// channel. The channel is unbounded-in-practice for this hand-off (spec §9):
// sized generously since the Scheduler is the only producer and it must
// never block on a slow Intent consumer.
func (s *Scheduler) Register(id string) <-chan domain.BareTrade {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(chan domain.BareTrade, 64)
	s.byID[id] = &entry{id: id, remaining: decimal.Zero, out: out}
	s.order = append(s.order, s.byID[id])
	return out
}

// AddAmount increases a registered path's reservation by delta, publishing
// the new pooled total. Returns false if the path is absent or already
// exiting/closed, in which case the caller must treat the delta as rejected.
func (s *Scheduler) AddAmount(id string, delta decimal.Decimal) bool {
	s.mu.Lock()
	e, ok := s.byID[id]
	if !ok || e.closed {
		s.mu.Unlock()
		return false
	}
	if _, exiting := s.exiting[id]; exiting {
		s.mu.Unlock()
		return false
	}
	e.remaining = e.remaining.Add(delta)
	s.common = s.common.Add(delta)
	s.mu.Unlock()
	s.commonC.publish()
	return true
}

// Unregister removes a path from the pool. It decrements the pooled total
// immediately (the Processor must stop counting on this path's behalf) but
// does not drop the entry or close its channel until the Processor
// acknowledges reaching a safe state via the returned ack function — the
// two-phase handshake spec §4.5 requires so a concurrently-arriving trade
// for this path is not silently dropped mid-teardown.
func (s *Scheduler) Unregister(id string) (ack func()) {
	s.mu.Lock()
	e, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return func() {}
	}
	s.common = s.common.Sub(e.remaining)
	req := &exitRequest{id: id, ack: make(chan struct{})}
	s.exiting[id] = req
	s.mu.Unlock()
	s.commonC.publish()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.exiting, id)
		delete(s.byID, id)
		for i, o := range s.order {
			if o.id == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		if !e.closed {
			e.closed = true
			close(e.out)
		}
		close(req.ack)
	}
}

// AddTrades attributes each incoming trade to the paths with the oldest
// outstanding reservation first (insertion order), splitting a trade across
// entries when it exceeds any single one (spec §4.5).
func (s *Scheduler) AddTrades(trades []domain.BareTrade) {
	for _, t := range trades {
		s.attributeOne(t)
	}
}

func (s *Scheduler) attributeOne(t domain.BareTrade) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tradeFrom := t.FromAmount(s.side)

	// Phase 1: does any single entry cover the whole trade?
	for _, e := range s.order {
		if e.closed {
			continue
		}
		if _, exiting := s.exiting[e.id]; exiting {
			continue
		}
		if tradeFrom.LessThanOrEqual(e.remaining) {
			e.remaining = e.remaining.Sub(tradeFrom)
			s.deliver(e, t)
			if e.remaining.IsZero() {
				s.closeEntryLocked(e)
			}
			return
		}
	}

	// Phase 2: trade exceeds any single entry; walk again, carving off each
	// entry's full remaining share, splitting the trade as we go.
	remainder := t
	for _, e := range s.order {
		if e.closed || remainder.QuoteAmount.IsZero() {
			continue
		}
		if _, exiting := s.exiting[e.id]; exiting {
			continue
		}
		if e.remaining.IsZero() {
			continue
		}
		left, right, adj := domain.SplitTrade(remainder, s.side, domain.AmountFrom, e.remaining)
		s.deliver(e, right)
		for _, a := range adj {
			s.deliver(e, a)
		}
		e.remaining = decimal.Zero
		s.closeEntryLocked(e)
		remainder = left
	}

	if !remainder.QuoteAmount.IsZero() && s.log != nil {
		s.log.Error("unattributable trade: processor filled quantity no path reserved",
			slog.String("side", string(s.side)),
			slog.String("residue_quote", remainder.QuoteAmount.String()),
		)
	}
}

// deliver sends to an entry's output channel. The channel is generously
// buffered (spec §9's unbounded-in-practice hand-off) but a full buffer
// means the Intent consumer has stalled; block rather than drop a trade,
// since attribution must be lossless even at the cost of stalling the
// Scheduler mutex.
func (s *Scheduler) deliver(e *entry, t domain.BareTrade) {
	if e.closed {
		return
	}
	e.out <- t
}

func (s *Scheduler) closeEntryLocked(e *entry) {
	if !e.closed {
		e.closed = true
		close(e.out)
	}
}

// UnregisterAll force-closes every live path's channel, used when
// the Processor hits a fatal, unrecoverable error.
func (s *Scheduler) UnregisterAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.order {
		s.closeEntryLocked(e)
	}
	s.order = nil
	s.byID = make(map[string]*entry)
	s.exiting = make(map[string]*exitRequest)
	s.common = decimal.Zero
}
