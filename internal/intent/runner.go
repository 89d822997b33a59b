package intent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbitron/internal/domain"
	"github.com/alanyoungcy/arbitron/internal/instant"
	"github.com/alanyoungcy/arbitron/internal/pathfind"
	"github.com/alanyoungcy/arbitron/internal/processor"
	"github.com/alanyoungcy/arbitron/internal/streamutil"
)

const (
	profitMonitorInterval = 2 * time.Second
	profitMonitorTimeout  = 40 * time.Minute
)

// totalTooSmallThreshold below which a NOT_PROFITABLE intent gives up
// entirely rather than re-planning its tail (spec §4.7).
var totalTooSmallThreshold = decimal.New(1, 0)

// Deps bundles a Runner's external collaborators.
type Deps struct {
	Journal    domain.Journal
	Manager    *Manager
	Processors *processor.Manager
	Instant    *instant.Executor
	Enumerator *pathfind.Enumerator
	Blacklist  func(ctx context.Context, market domain.Market)
	Spawn      func(r *Runner) // how a child/replacement intent gets scheduled to run
	Log        *slog.Logger
}

// stateFunc is one node of the per-path state machine; returning nil means
// the intent reached a terminal outcome for this Runner (completed, hand
// off to a child, or unfillable).
type stateFunc func(ctx context.Context) stateFunc

// Runner drives one TransactionIntent through spec §4.7's state machine.
// txMu guards tx against the DELAYED_STEP trade consumer and merge acceptor
// goroutines, which both mutate it concurrently with the select in
// delayedStep reading it for logging/scheduling decisions.
type Runner struct {
	deps    Deps
	txMu    sync.Mutex
	tx      domain.TransactionIntent
	h       *handle
	mergeIn chan mergeRequest
}

func (r *Runner) currentStep() domain.TranIntentMarket {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	return r.tx.Current()
}

// NewRunner builds a Runner for a freshly created or journal-resumed
// intent.
func NewRunner(deps Deps, tx domain.TransactionIntent) *Runner {
	return &Runner{deps: deps, tx: tx, mergeIn: make(chan mergeRequest)}
}

// Run drives the intent to a terminal state. Any child/replacement intent
// spawned mid-run is handed to deps.Spawn rather than run inline, so the
// caller controls the concurrency model (e.g. one goroutine per Runner).
func (r *Runner) Run(ctx context.Context) {
	r.h = &handle{id: r.tx.ID, shapeKey: r.tx.ShapeKey(), marketIdx: r.tx.MarketIdx, mergeIn: r.mergeIn}
	r.deps.Manager.register(r.h)
	defer r.deps.Manager.unregister(r.h)

	state := r.start
	for state != nil {
		state = state(ctx)
	}
}

func (r *Runner) toActive() domain.ActiveTransaction {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	return domain.ActiveTransaction{
		ID:           r.tx.ID,
		Markets:      r.tx.Markets,
		MarketIdx:    r.tx.MarketIdx,
		FromCurrency: r.tx.FromCurrency(),
		FromAmount:   r.tx.FromAmount().String(),
	}
}

func (r *Runner) persist(ctx context.Context) {
	streamutil.Shield(func(shielded context.Context) error {
		return r.deps.Journal.UpsertActive(shielded, r.toActive())
	})
}

// start implements spec §4.7 START.
func (r *Runner) start(ctx context.Context) stateFunc {
	current := r.tx.Current()

	if r.deps.Manager.TryMerge(r.tx.ID, r.tx.ShapeKey(), r.tx.MarketIdx, decimal.Zero, current.GetFromAmount()) {
		streamutil.Shield(func(shielded context.Context) error { return r.deps.Journal.DeleteActive(shielded, r.tx.ID) })
		return nil
	}

	if rows, err := r.deps.Journal.ListUnfilled(ctx, current.FromCurrency()); err == nil {
		for _, u := range rows {
			r.tx.Markets = domain.MergeMarkets(r.tx.Markets, r.tx.MarketIdx, u.InitAmount, u.CurrentAmount)
			r.persist(ctx)
			streamutil.Shield(func(shielded context.Context) error { return r.deps.Journal.DeleteUnfilled(shielded, u.ID) })
		}
	}

	if current.Speed == domain.Instant {
		return r.instantStep
	}
	return r.delayedStep
}

// instantStep implements spec §4.7 INSTANT_STEP.
func (r *Runner) instantStep(ctx context.Context) stateFunc {
	current := r.tx.Current()
	r.deps.Processors.PauseOpposite(ctx, current.Market, current.FromCurrencyType)
	trades, err := r.deps.Instant.ExecuteInstant(ctx, current.Market, current.FromCurrencyType, current.GetFromAmount())
	r.deps.Processors.ResumeOpposite(ctx, current.Market, current.FromCurrencyType)

	if len(trades) == 0 {
		return r.stepFailed(ctx, err)
	}
	return r.afterSplit(ctx, trades, err)
}

// delayedStep implements spec §4.7 DELAYED_STEP: register/addAmount on the
// market/side Processor, then run the trade consumer, merge acceptor, and
// profit monitor concurrently until one of them decides the next state.
func (r *Runner) delayedStep(ctx context.Context) stateFunc {
	current := r.tx.Current()
	s := r.deps.Processors.Scheduler(current.Market, current.FromCurrencyType)
	out := s.Register(r.tx.ID)

	if !s.AddAmount(r.tx.ID, current.GetFromAmount()) {
		return r.unfilled
	}
	r.deps.Processors.Get(current.Market, current.FromCurrencyType).EnsureWorker(ctx)

	stepCtx, cancel := context.WithCancel(ctx)

	next := make(chan stateFunc, 1)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); r.delayedTradeConsumer(stepCtx, out, next) }()
	go func() { defer wg.Done(); r.delayedMergeAcceptor(stepCtx) }()
	go func() { defer wg.Done(); r.delayedProfitMonitor(stepCtx, next) }()

	// wg.Wait must run after cancel signals the three goroutines to stop, so
	// register it first: defers run LIFO, so cancel() fires, then wg.Wait()
	// blocks until they've actually returned, before the next stateFunc reads
	// r.tx without txMu (it runs alone in the Run loop once this returns).
	defer wg.Wait()
	defer cancel()

	select {
	case n := <-next:
		return n
	case <-ctx.Done():
		ack := s.Unregister(r.tx.ID)
		streamutil.Shield(func(shielded context.Context) error { ack(); return nil })
		return nil
	}
}

func (r *Runner) delayedTradeConsumer(ctx context.Context, out <-chan domain.BareTrade, next chan<- stateFunc) {
	for {
		select {
		case t, ok := <-out:
			if !ok {
				// Each prior trade already shrank the step's fromAmount via
				// the incremental SplitMarkets calls below; whatever is left
				// here is genuinely unfilled.
				if r.currentStep().GetFromAmount().LessThanOrEqual(decimal.Zero) {
					trySend(next, nil)
				} else {
					trySend(next, r.unfilled)
				}
				return
			}
			r.txMu.Lock()
			remaining, committed := domain.SplitMarkets(r.tx.Markets, r.tx.MarketIdx, []domain.BareTrade{t})
			r.tx.Markets = remaining
			marketIdx := r.tx.MarketIdx
			r.txMu.Unlock()
			r.persist(ctx)
			if marketIdx+1 < len(committed) {
				r.spawnChild(ctx, committed)
			}
		case <-ctx.Done():
			return
		}
	}
}

// delayedMergeAcceptor implements spec §4.7 DELAYED_STEP task B: decides
// whether an incoming merge offer can be folded into this intent's current
// reservation.
func (r *Runner) delayedMergeAcceptor(ctx context.Context) {
	current := r.currentStep()
	s := r.deps.Processors.Scheduler(current.Market, current.FromCurrencyType)
	for {
		select {
		case req := <-r.mergeIn:
			approved := s.AddAmount(r.tx.ID, req.currDelta)
			if approved {
				r.txMu.Lock()
				r.tx.Markets = domain.MergeMarkets(r.tx.Markets, r.tx.MarketIdx, req.initDelta, req.currDelta)
				r.txMu.Unlock()
				r.persist(ctx)
			}
			req.result <- approved
		case <-ctx.Done():
			return
		}
	}
}

// delayedProfitMonitor implements spec §4.7 DELAYED_STEP task C.
func (r *Runner) delayedProfitMonitor(ctx context.Context, next chan<- stateFunc) {
	ticker := time.NewTicker(profitMonitorInterval)
	defer ticker.Stop()
	start := time.Now()
	for {
		select {
		case <-ticker.C:
			if time.Since(start) > profitMonitorTimeout {
				trySend(next, r.stepFailed(ctx, domain.ErrNotProfitableTimeout))
				return
			}
			if r.predictedTargetBelowInit() {
				trySend(next, r.stepFailed(ctx, domain.ErrNotProfitableDelta))
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// predictedTargetBelowInit recomputes the path's expected final output
// against the latest market view and compares it to the initial input.
func (r *Runner) predictedTargetBelowInit() bool {
	if r.deps.Enumerator == nil {
		return false
	}
	r.txMu.Lock()
	fromCur := r.tx.CurrentFromCurrency()
	fromAmt := r.tx.CurrentFromAmount()
	targetCur := r.tx.ExpectedTargetCurrency()
	initAmt := r.tx.FromAmount()
	r.txMu.Unlock()
	paths, err := r.deps.Enumerator.Enumerate(context.Background(), fromCur, fromAmt, map[domain.Currency]bool{targetCur: true})
	if err != nil || len(paths) == 0 {
		return true
	}
	return paths[0].ToAmount().LessThan(initAmt)
}

func trySend(ch chan<- stateFunc, f stateFunc) {
	select {
	case ch <- f:
	default:
	}
}

// spawnChild persists the split and hands a child Runner off to deps.Spawn.
func (r *Runner) spawnChild(ctx context.Context, committedMarkets []domain.TranIntentMarket) {
	child := domain.TransactionIntent{ID: uuid.NewString(), Markets: committedMarkets, MarketIdx: r.tx.MarketIdx + 1}
	parentActive := r.toActive()
	childActive := domain.ActiveTransaction{ID: child.ID, Markets: child.Markets, MarketIdx: child.MarketIdx, FromCurrency: child.FromCurrency(), FromAmount: child.FromAmount().String()}
	streamutil.Shield(func(shielded context.Context) error {
		return r.deps.Journal.SplitTransaction(shielded, parentActive, childActive)
	})
	if r.deps.Spawn != nil {
		r.deps.Spawn(NewRunner(r.deps, child))
	}
}

// afterSplit finalizes the current step given the trades it produced: if
// the step consumed the whole fromAmount and there is a next step, a child
// intent was already spawned inline (delayed) or is spawned here (instant);
// if this was the last step, the transaction completes.
func (r *Runner) afterSplit(ctx context.Context, trades []domain.BareTrade, stepErr error) stateFunc {
	current := r.tx.Current()
	_, committed := domain.SplitMarkets(r.tx.Markets, r.tx.MarketIdx, trades)

	if r.tx.MarketIdx+1 < len(committed) {
		r.spawnChild(ctx, committed)
	} else {
		completed := domain.CompletedTransaction{ID: r.tx.ID, Markets: committed, CompletedAt: time.Now()}
		streamutil.Shield(func(shielded context.Context) error {
			return r.deps.Journal.CompleteTransaction(shielded, r.tx.ID, completed)
		})
	}

	consumedFrom := domain.SumFromAmount(trades, current.FromCurrencyType)
	remainingFrom := current.GetFromAmount().Sub(consumedFrom)
	if remainingFrom.GreaterThan(decimal.Zero) && r.tx.MarketIdx > 0 {
		r.tx.Markets[r.tx.MarketIdx] = domain.PartiallyCompletedStep(current.Market, current.Speed, current.FromCurrencyType, remainingFrom)
		return r.unfilled
	}

	if stepErr != nil {
		return r.stepFailed(ctx, stepErr)
	}
	return nil
}

// stepFailed classifies a step-level error per spec §7's table.
func (r *Runner) stepFailed(ctx context.Context, err error) stateFunc {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrMarketDisabled) || errors.Is(err, domain.ErrOrderMatchingDisabled) {
		if r.deps.Blacklist != nil {
			r.deps.Blacklist(ctx, r.currentStep().Market)
		}
		return r.notProfitable
	}
	if errors.Is(err, domain.ErrNotProfitableDelta) || errors.Is(err, domain.ErrNotProfitableTimeout) {
		return r.notProfitable
	}
	return r.unfilled
}

// notProfitable implements spec §4.7 NOT_PROFITABLE.
func (r *Runner) notProfitable(ctx context.Context) stateFunc {
	if r.tx.CurrentFromAmount().LessThan(totalTooSmallThreshold) {
		return r.unfilled
	}
	if r.deps.Enumerator == nil {
		return r.unfilled
	}
	paths, err := r.deps.Enumerator.Enumerate(ctx, r.tx.CurrentFromCurrency(), r.tx.CurrentFromAmount(), map[domain.Currency]bool{r.tx.ExpectedTargetCurrency(): true})
	if err != nil || len(paths) == 0 {
		return r.unfilled
	}
	best := paths[0]

	newTail := make([]domain.TranIntentMarket, 0, r.tx.MarketIdx+len(best.Chain))
	newTail = append(newTail, r.tx.Markets[:r.tx.MarketIdx]...)
	for i, step := range best.Chain {
		if i == 0 {
			newTail = append(newTail, domain.PartiallyCompletedStep(step.Market, step.Speed, step.Side, step.FromAmount))
		} else {
			newTail = append(newTail, domain.Predicted(step.Market, step.Speed, step.Side))
		}
	}

	replacement := domain.TransactionIntent{ID: r.tx.ID, Markets: newTail, MarketIdx: r.tx.MarketIdx}
	r.tx = replacement
	r.persist(ctx)

	current := r.tx.Current()
	if current.Speed == domain.Instant {
		return r.instantStep
	}
	return r.delayedStep
}

// unfilled implements spec §4.7 UNFILLED.
func (r *Runner) unfilled(ctx context.Context) stateFunc {
	current := r.tx.Current()

	if r.tx.MarketIdx == 0 {
		streamutil.Shield(func(shielded context.Context) error { return r.deps.Journal.DeleteActive(shielded, r.tx.ID) })
		return nil
	}

	if r.deps.Manager.TryMerge(r.tx.ID, r.tx.ShapeKey(), r.tx.MarketIdx, decimal.Zero, current.GetFromAmount()) {
		streamutil.Shield(func(shielded context.Context) error { return r.deps.Journal.DeleteActive(shielded, r.tx.ID) })
		return nil
	}

	residue := domain.UnfilledRemainder{
		ID:              uuid.NewString(),
		InitCurrency:    r.tx.FromCurrency(),
		InitAmount:      r.tx.FromAmount(),
		CurrentCurrency: current.FromCurrency(),
		CurrentAmount:   current.GetFromAmount(),
	}
	streamutil.Shield(func(shielded context.Context) error {
		if err := r.deps.Journal.UpsertUnfilled(shielded, residue); err != nil {
			return err
		}
		return r.deps.Journal.DeleteActive(shielded, r.tx.ID)
	})
	return nil
}
