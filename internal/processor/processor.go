// Package processor implements the Delayed-Trade Processor (spec §4.6): one
// per (market, side), it owns exactly one live post-only order and acts as
// market maker for the pooled commonFromAmount the Scheduler tracks.
package processor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbitron/internal/domain"
	"github.com/alanyoungcy/arbitron/internal/sched"
	"github.com/alanyoungcy/arbitron/internal/streamutil"
)

// State is one node of the Processor's state machine.
type State int

const (
	StateInit State = iota
	StatePowerOnRecovery
	StatePlace
	StateLive
	StateCancelAndIdle
	StateDisconnectRecovery
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StatePowerOnRecovery:
		return "POWER_ON_RECOVERY"
	case StatePlace:
		return "PLACE"
	case StateLive:
		return "LIVE"
	case StateCancelAndIdle:
		return "CANCEL_AND_IDLE"
	case StateDisconnectRecovery:
		return "DISCONNECT_RECOVERY"
	default:
		return "UNKNOWN"
	}
}

const (
	placeConfirmTimeout  = 10 * time.Second
	postOnlyRetryDelay   = 100 * time.Millisecond
	bookTickInterval     = 4 * time.Second
	recentOrderIDsCap    = 8
)

// RecoveryOrder is what the journal remembers about a processor's last live
// order, consulted on POWER_ON_RECOVERY. Exported so a store living outside
// this package (postgres.ProcessorRecoveryStore) can implement Recovery.
type RecoveryOrder struct {
	OrderID       string
	Price         decimal.Decimal
	QuoteAmount   decimal.Decimal
	LatestSeenTID string
}

// Recovery is the narrow journal surface the Processor needs at startup and
// after a disconnect, kept separate from the full domain.Journal interface
// so a Processor can be unit-tested against a stub.
type Recovery interface {
	LoadProcessorOrder(ctx context.Context, market domain.Market, side domain.OrderSide) (RecoveryOrder, bool, error)
	SaveProcessorOrder(ctx context.Context, market domain.Market, side domain.OrderSide, order RecoveryOrder) error
}

// Processor drives one (market, side) pooled post-only order.
type Processor struct {
	market domain.Market
	side   domain.OrderSide
	client domain.ExchangeClient
	sched  *sched.Scheduler
	recov  Recovery
	log    *slog.Logger

	bookLatest *streamutil.Latest[domain.OrderBook]

	mu               sync.Mutex
	state            State
	orderID          string
	recentOrderIDs   []string
	currentPrice     decimal.Decimal
	currentQty       decimal.Decimal
	latestSeenTID    string
	bookChangeCount  int
	lastMoveAt       time.Time
	workerRunning    bool
	workerCancel     context.CancelFunc
	workerDone       chan struct{}
	paused           bool
}

// New builds a Processor for one (market, side).
func New(market domain.Market, side domain.OrderSide, client domain.ExchangeClient, s *sched.Scheduler, recov Recovery, log *slog.Logger) *Processor {
	return &Processor{
		market:     market,
		side:       side,
		client:     client,
		sched:      s,
		recov:      recov,
		log:        log,
		bookLatest: streamutil.NewLatest[domain.OrderBook](),
		state:      StateInit,
	}
}

// State returns the Processor's current state, for admin/observability.
func (p *Processor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// EnsureWorker starts the worker goroutine if commonFromAmount is non-zero
// and no worker is currently running; the worker exits on its own once the
// pool drains to zero, and EnsureWorker is expected to be called again the
// next time AddAmount succeeds (spec §4.6: "worker is absent when
// commonFromAmount == 0").
func (p *Processor) EnsureWorker(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		return
	}
	if p.workerRunning {
		return
	}
	if p.sched.CommonFromAmount().IsZero() {
		return
	}
	workerCtx, cancel := context.WithCancel(ctx)
	p.workerCancel = cancel
	p.workerRunning = true
	p.workerDone = make(chan struct{})
	go p.runWorker(workerCtx)
}

// Stop cancels the worker, if any; used on shutdown or fatal scheduler
// error. Order cancellation itself still runs under the shielded cleanup
// path inside the worker, not here.
func (p *Processor) Stop() {
	p.mu.Lock()
	cancel := p.workerCancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Pause marks the Processor paused (so EnsureWorker will not restart its
// worker), cancels the worker if one is running, and blocks until that
// worker has actually exited — which, by the worker's own ctx.Done() path,
// means its live order has been cancelled — or ctx is done. A trailing
// cancelCurrentOrder is a no-op when the worker already cancelled, but
// guards the case where Pause is called while no worker is running at all.
// Used by the Delayed-Trade Manager to give the spec §5 guarantee that the
// opposite-side Processor's order is cancelled before an Instant step runs.
func (p *Processor) Pause(ctx context.Context) {
	p.mu.Lock()
	p.paused = true
	cancel := p.workerCancel
	done := p.workerDone
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	p.cancelCurrentOrder(ctx)
}

// Resume clears the paused flag and restarts the worker if the pool is
// non-empty, undoing Pause once the Instant step that required it has
// finished.
func (p *Processor) Resume(ctx context.Context) {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	p.EnsureWorker(ctx)
}

// OnBookUpdate feeds a fresh order book snapshot into the Processor's
// conflated mailbox, waking the LIVE loop.
func (p *Processor) OnBookUpdate(book domain.OrderBook) {
	p.mu.Lock()
	p.bookChangeCount++
	p.mu.Unlock()
	p.bookLatest.Set(book)
}

// OnAccountNotification routes a trade notification to the Scheduler if it
// belongs to our current order or a recently superseded one (spec §4.6's
// short LRU of previous order ids).
func (p *Processor) OnAccountNotification(n domain.AccountNotification) {
	if n.Kind != domain.NotifyTrade {
		return
	}
	p.mu.Lock()
	owns := n.OrderID == p.orderID
	if !owns {
		for _, id := range p.recentOrderIDs {
			if id == n.OrderID {
				owns = true
				break
			}
		}
	}
	if owns {
		p.latestSeenTID = n.Trade.TradeID
	}
	p.mu.Unlock()
	if !owns {
		return
	}
	p.sched.AddTrades([]domain.BareTrade{{
		QuoteAmount:   n.Trade.Amount,
		Price:         n.Trade.Price,
		FeeMultiplier: n.Trade.FeeMultiplier,
	}})
}

func (p *Processor) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Processor) rememberOrderID(id string) {
	p.mu.Lock()
	if p.orderID != "" {
		p.recentOrderIDs = append(p.recentOrderIDs, p.orderID)
		if len(p.recentOrderIDs) > recentOrderIDsCap {
			p.recentOrderIDs = p.recentOrderIDs[len(p.recentOrderIDs)-recentOrderIDsCap:]
		}
	}
	p.orderID = id
	p.mu.Unlock()
}

// runWorker is the single worker task per Processor, the state machine
// driver described in spec §4.6.
func (p *Processor) runWorker(ctx context.Context) {
	defer func() {
		p.mu.Lock()
		p.workerRunning = false
		done := p.workerDone
		p.workerDone = nil
		p.mu.Unlock()
		if done != nil {
			close(done)
		}
	}()

	state := StateInit
	for {
		select {
		case <-ctx.Done():
			streamutil.Shield(func(shielded context.Context) error {
				p.cancelCurrentOrder(shielded)
				return nil
			})
			return
		default:
		}

		switch state {
		case StateInit:
			state = StatePowerOnRecovery
		case StatePowerOnRecovery:
			state = p.runPowerOnRecovery(ctx)
		case StatePlace:
			state = p.runPlace(ctx)
		case StateLive:
			state = p.runLive(ctx)
		case StateDisconnectRecovery:
			state = p.runDisconnectRecovery(ctx)
		case StateCancelAndIdle:
			p.runCancelAndIdle(ctx)
			return
		default:
			return
		}
		p.setState(state)
	}
}

func (p *Processor) runPowerOnRecovery(ctx context.Context) State {
	if p.recov == nil {
		return StatePlace
	}
	prior, found, err := p.recov.LoadProcessorOrder(ctx, p.market, p.side)
	if err != nil || !found {
		return StatePlace
	}
	if err := p.client.Cancel(ctx, prior.OrderID); err != nil && !errors.Is(err, domain.ErrOrderCompletedOrNotExist) {
		p.logError("power-on-recovery cancel failed", err)
	}
	trades, err := p.client.OrderTrades(ctx, prior.OrderID)
	if err == nil {
		var replay []domain.BareTrade
		for _, t := range trades {
			if prior.LatestSeenTID != "" && t.TradeID <= prior.LatestSeenTID {
				continue
			}
			replay = append(replay, domain.BareTrade{QuoteAmount: t.Amount, Price: t.Price, FeeMultiplier: t.FeeMultiplier})
		}
		if len(replay) > 0 {
			p.sched.AddTrades(replay)
		}
	}
	return StatePlace
}

func (p *Processor) runPlace(ctx context.Context) State {
	reserved := p.sched.CommonFromAmount()
	if reserved.IsZero() {
		return StateCancelAndIdle
	}

	book, ok := p.bookLatest.Get()
	if !ok {
		select {
		case <-p.bookLatest.Updates():
			book, ok = p.bookLatest.Get()
		case <-ctx.Done():
			return StateCancelAndIdle
		}
	}
	price, ok := computePrice(book, p.side)
	if !ok {
		return StatePlace
	}
	qty := reserved
	if p.side == domain.OrderSideBuy && !price.IsZero() {
		// qty requested is expressed in quote terms; convert reserved
		// base-currency from-amount into the quote quantity to place.
		qty = reserved.Div(price)
	}

	placeCtx, cancel := context.WithTimeout(ctx, placeConfirmTimeout)
	defer cancel()
	result, err := p.client.Place(placeCtx, p.market, p.side, price, qty, domain.PostOnly, uuid.NewString())
	if err != nil {
		if errors.Is(err, domain.ErrUnableToPlacePostOnly) {
			time.Sleep(postOnlyRetryDelay)
			return StatePlace
		}
		if errors.Is(err, domain.ErrDisconnected) || errors.Is(placeCtx.Err(), context.DeadlineExceeded) {
			return StateDisconnectRecovery
		}
		p.logError("place failed", err)
		return StatePlace
	}

	p.rememberOrderID(result.OrderID)
	p.mu.Lock()
	p.currentPrice = price
	p.currentQty = qty
	p.bookChangeCount = 0
	p.lastMoveAt = time.Now()
	p.mu.Unlock()

	if len(result.Trades) > 0 {
		var inline []domain.BareTrade
		for _, t := range result.Trades {
			inline = append(inline, domain.BareTrade{QuoteAmount: t.Amount, Price: t.Price, FeeMultiplier: t.FeeMultiplier})
		}
		p.sched.AddTrades(inline)
	}

	p.saveRecovery(ctx)
	return StateLive
}

func (p *Processor) runLive(ctx context.Context) State {
	ticker := time.NewTicker(bookTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return StateCancelAndIdle
		case <-p.sched.CommonFromAmountUpdates():
			if p.sched.CommonFromAmount().IsZero() {
				return StateCancelAndIdle
			}
			if next := p.reprice(ctx, true); next != StateLive {
				return next
			}
		case <-p.bookLatest.Updates():
			if next := p.reprice(ctx, false); next != StateLive {
				return next
			}
		case <-ticker.C:
			if next := p.reprice(ctx, false); next != StateLive {
				return next
			}
		}
	}
}

// reprice evaluates the pricing policy and issues a move if warranted.
// force bypasses the "would we even move" check — used when
// commonFromAmount changed and the order must be touched regardless so the
// Scheduler's pending unregister can be approved.
func (p *Processor) reprice(ctx context.Context, force bool) State {
	book, ok := p.bookLatest.Get()
	if !ok {
		return StateLive
	}
	reserved := p.sched.CommonFromAmount()

	p.mu.Lock()
	curPrice, curQty := p.currentPrice, p.currentQty
	bcc := p.bookChangeCount
	sinceMove := time.Since(p.lastMoveAt).Seconds()
	p.mu.Unlock()

	decision := decideReprice(book, p.side, curPrice, curQty, true, bcc, sinceMove)
	if !decision.shouldMove && !force {
		return StateLive
	}
	newPrice := decision.newPrice
	if newPrice.IsZero() {
		newPrice = curPrice
	}

	// An ordinary reprice (force=false) only changes price, keeping the
	// live order's existing quantity — so canMoveSafely can actually reject
	// a move that would require more base currency than is reserved. Only
	// a force reprice (commonFromAmount itself changed) resizes the order
	// to track the new reservation.
	newQty := curQty
	if force {
		newQty = reserved
		if p.side == domain.OrderSideBuy && !newPrice.IsZero() {
			newQty = reserved.Div(newPrice)
		}
	}

	if !canMoveSafely(p.side, newPrice, newQty, reserved) {
		if err := p.cancelAndAwait(ctx); err != nil {
			return StateDisconnectRecovery
		}
		return StatePlace
	}

	moveCtx, cancel := context.WithTimeout(ctx, placeConfirmTimeout)
	defer cancel()
	result, err := p.client.Move(moveCtx, p.currentOrderID(), newPrice, &newQty, domain.PostOnly, uuid.NewString())
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnableToPlacePostOnly):
			time.Sleep(postOnlyRetryDelay)
			return StateLive
		case errors.Is(err, domain.ErrOrderCompletedOrNotExist), errors.Is(err, domain.ErrInvalidOrderNumber):
			if cancelErr := p.client.Cancel(ctx, p.currentOrderID()); cancelErr != nil && !errors.Is(cancelErr, domain.ErrOrderCompletedOrNotExist) {
				p.logError("cancel before re-place failed", cancelErr)
			}
			return StatePlace
		case errors.Is(err, domain.ErrDisconnected), errors.Is(moveCtx.Err(), context.DeadlineExceeded):
			return StateDisconnectRecovery
		default:
			p.logError("move failed", err)
			return StateLive
		}
	}

	p.rememberOrderID(result.OrderID)
	p.mu.Lock()
	p.currentPrice = newPrice
	p.currentQty = newQty
	p.bookChangeCount = 0
	p.lastMoveAt = time.Now()
	p.mu.Unlock()
	p.saveRecovery(ctx)
	return StateLive
}

func (p *Processor) currentOrderID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.orderID
}

func (p *Processor) cancelAndAwait(ctx context.Context) error {
	return p.client.Cancel(ctx, p.currentOrderID())
}

func (p *Processor) runDisconnectRecovery(ctx context.Context) State {
	connCh, err := p.client.ConnectionStateStream(ctx)
	if err != nil {
		return StateDisconnectRecovery
	}
	for {
		select {
		case up, ok := <-connCh:
			if !ok {
				return StateDisconnectRecovery
			}
			if up {
				return p.runPowerOnRecovery(ctx)
			}
		case <-ctx.Done():
			return StateCancelAndIdle
		}
	}
}

func (p *Processor) runCancelAndIdle(ctx context.Context) {
	streamutil.Shield(func(shielded context.Context) error {
		p.cancelCurrentOrder(shielded)
		return nil
	})
}

func (p *Processor) cancelCurrentOrder(ctx context.Context) {
	id := p.currentOrderID()
	if id == "" {
		return
	}
	if err := p.client.Cancel(ctx, id); err != nil && !errors.Is(err, domain.ErrOrderCompletedOrNotExist) {
		p.logError("final cancel failed", err)
	}
}

func (p *Processor) saveRecovery(ctx context.Context) {
	if p.recov == nil {
		return
	}
	p.mu.Lock()
	rec := RecoveryOrder{OrderID: p.orderID, Price: p.currentPrice, QuoteAmount: p.currentQty, LatestSeenTID: p.latestSeenTID}
	p.mu.Unlock()
	if err := p.recov.SaveProcessorOrder(ctx, p.market, p.side, rec); err != nil {
		p.logError("save recovery state failed", err)
	}
}

func (p *Processor) logError(msg string, err error) {
	if p.log == nil {
		return
	}
	p.log.Error(msg, slog.String("market", p.market.String()), slog.String("side", string(p.side)), slog.String("error", err.Error()))
}
