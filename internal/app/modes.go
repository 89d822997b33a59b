package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbitron/internal/domain"
	"github.com/alanyoungcy/arbitron/internal/intent"
	"github.com/alanyoungcy/arbitron/internal/pathfind"
	"github.com/alanyoungcy/arbitron/internal/server/handler"
	"github.com/alanyoungcy/arbitron/internal/server/middleware"
	"github.com/alanyoungcy/arbitron/internal/streamutil"
)

func newIntentID() string { return uuid.NewString() }

// balanceSource is satisfied by the concrete exchange adapter but is not
// part of domain.ExchangeClient: the balance service is an external
// collaborator the core only consumes from (spec §2), so the balance-tick
// loop depends on this narrow local interface instead of widening the
// domain boundary.
type balanceSource interface {
	Available(ctx context.Context, currency domain.Currency) (decimal.Decimal, error)
}

// blacklistGuard is an in-memory, TTL-expiring view of the markets the
// Trader Top-Level currently excludes from path enumeration (spec §4.3's
// "paths already in flight [and blacklisted] are filtered out"). The
// Durability Journal remains the source of truth across restarts; this
// guard just avoids round-tripping to Postgres on every enumeration tick.
type blacklistGuard struct {
	mu    sync.Mutex
	until map[string]int64
}

func newBlacklistGuard() *blacklistGuard {
	return &blacklistGuard{until: make(map[string]int64)}
}

func (b *blacklistGuard) load(rows []domain.BlacklistedMarket) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range rows {
		b.until[r.Market.String()] = r.AddedTs + r.TTLSec
	}
}

func (b *blacklistGuard) add(market domain.Market, ttl time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.until[market.String()] = time.Now().Unix() + int64(ttl.Seconds())
}

func (b *blacklistGuard) blocked(market domain.Market) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	exp, ok := b.until[market.String()]
	if !ok {
		return false
	}
	if time.Now().Unix() >= exp {
		delete(b.until, market.String())
		return false
	}
	return true
}

func (b *blacklistGuard) filter(markets []domain.Market) []domain.Market {
	out := make([]domain.Market, 0, len(markets))
	for _, m := range markets {
		if !b.blocked(m) {
			out = append(out, m)
		}
	}
	return out
}

// TradeMode runs the full trading core: resumes journaled intents, dispatches
// account notifications to the Delayed-Trade Manager, ticks the Path
// Enumerator against available balance, and expires blacklisted markets.
// It is the Trader Top-Level (spec §4 overview).
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	release, err := deps.Lock.Acquire(ctx, leaderLockKey, leaderLockTTL)
	if err != nil {
		return fmt.Errorf("trade mode: acquire leader lock: %w", err)
	}
	defer release()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.renewLeaderLock(ctx, deps) })
	a.runTradeCore(ctx, g, deps)
	return g.Wait()
}

const (
	leaderLockKey = "arbitron:trader:leader"
	leaderLockTTL = 30 * time.Second
)

// renewLeaderLock keeps the Trader's leader-election lock alive for as long
// as TradeMode/FullMode runs, so a redundant standby instance never starts
// a second Trader against the same journal while this one is healthy.
func (a *App) renewLeaderLock(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(leaderLockTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := deps.Lock.Extend(ctx, leaderLockKey, leaderLockTTL); err != nil {
				return fmt.Errorf("renew leader lock: %w", err)
			}
		}
	}
}

// runTradeCore registers the trading core's goroutines on g. Shared by
// TradeMode and FullMode.
func (a *App) runTradeCore(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	markets, err := a.cfg.Trading.ParsedMarkets()
	if err != nil {
		a.logger.ErrorContext(ctx, "invalid trading.markets, trade core disabled", slog.String("error", err.Error()))
		return
	}

	guard := newBlacklistGuard()
	if rows, err := deps.Journal.ListBlacklist(ctx); err == nil {
		guard.load(rows)
	}

	var intentWG sync.WaitGroup
	spawn := func(r *intent.Runner) {
		intentWG.Add(1)
		go func() {
			defer intentWG.Done()
			r.Run(ctx)
		}()
	}

	blacklist := func(bctx context.Context, market domain.Market) {
		guard.add(market, a.cfg.Trading.BlacklistTTL.Duration)
		streamutil.Shield(func(shielded context.Context) error {
			return deps.Journal.UpsertBlacklist(shielded, domain.BlacklistedMarket{
				Market:  market,
				AddedTs: time.Now().Unix(),
				TTLSec:  int64(a.cfg.Trading.BlacklistTTL.Duration.Seconds()),
			})
		})
		a.logger.WarnContext(bctx, "market blacklisted", slog.String("market", market.String()))
		if deps.Notifier != nil {
			_ = deps.Notifier.Notify(bctx, "market_blacklisted", "Market blacklisted", market.String())
		}
	}

	intentDeps := intent.Deps{
		Journal:    deps.Journal,
		Manager:    deps.Intents,
		Processors: deps.Processors,
		Instant:    deps.Instant,
		Blacklist:  blacklist,
		Spawn:      spawn,
		Log:        a.logger,
	}

	// Resume journaled intents before anything else starts placing new ones,
	// so a restart finds every in-flight path exactly where it left off.
	if rows, err := deps.Journal.ListActive(ctx); err != nil {
		a.logger.ErrorContext(ctx, "list active transactions failed", slog.String("error", err.Error()))
	} else {
		for _, row := range rows {
			tx := domain.TransactionIntent{ID: row.ID, Markets: row.Markets, MarketIdx: row.MarketIdx}
			d := intentDeps
			d.Enumerator = pathfind.New(deps.Books, markets, a.cfg.Trading.MaxHops, a.cfg.Trading.SpeedOf, deps.Intents.InFlight)
			spawn(intent.NewRunner(d, tx))
		}
		a.logger.InfoContext(ctx, "resumed journaled intents", slog.Int("count", len(rows)))
	}

	// Account notifications: a single private WS stream fans out to every
	// live Processor (spec §4.6).
	g.Go(func() error {
		return a.runAccountNotifications(ctx, deps)
	})

	// Connection state: log private-stream connectivity flips. Each
	// Processor waits for reconnection on its own in DISCONNECT_RECOVERY.
	g.Go(func() error {
		return a.runConnectionState(ctx, deps)
	})

	// Blacklist expiry: drop expired rows from the durability store.
	g.Go(func() error {
		return a.runBlacklistExpiry(ctx, deps)
	})

	// Balance tick: the Trader Top-Level's periodic enumeration (spec §4,
	// "periodic tick, balance reservation, resumes journaled intents").
	g.Go(func() error {
		return a.runBalanceTick(ctx, deps, markets, guard, intentDeps)
	})

	go func() {
		<-ctx.Done()
		intentWG.Wait()
	}()
}

func (a *App) runAccountNotifications(ctx context.Context, deps *Dependencies) error {
	ch, err := deps.Exchange.AccountNotificationStream(ctx)
	if err != nil {
		return fmt.Errorf("account notification stream: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-ch:
			if !ok {
				return nil
			}
			deps.Processors.Dispatch(n)
		}
	}
}

func (a *App) runConnectionState(ctx context.Context, deps *Dependencies) error {
	ch, err := deps.Exchange.ConnectionStateStream(ctx)
	if err != nil {
		return fmt.Errorf("connection state stream: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case connected, ok := <-ch:
			if !ok {
				return nil
			}
			if connected {
				a.logger.InfoContext(ctx, "exchange connection established")
			} else {
				a.logger.WarnContext(ctx, "exchange connection lost")
			}
		}
	}
}

func (a *App) runBlacklistExpiry(ctx context.Context, deps *Dependencies) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := deps.Journal.DeleteExpiredBlacklist(ctx, time.Now().Unix()); err != nil {
				a.logger.WarnContext(ctx, "delete expired blacklist failed", slog.String("error", err.Error()))
			}
		}
	}
}

// runBalanceTick periodically checks available balance in every configured
// primary currency (minus its fixed reserve), enumerates candidate paths,
// and spawns a Runner for the most profitable one found.
func (a *App) runBalanceTick(ctx context.Context, deps *Dependencies, markets []domain.Market, guard *blacklistGuard, base intent.Deps) error {
	balSrc, ok := deps.Exchange.(balanceSource)
	if !ok {
		a.logger.WarnContext(ctx, "exchange adapter does not expose balances, balance tick disabled")
		<-ctx.Done()
		return nil
	}

	reserve, err := a.cfg.Trading.FixedReserveDecimal()
	if err != nil {
		return fmt.Errorf("balance tick: %w", err)
	}
	minTrade, err := a.cfg.Trading.MinTradeAmountDecimal()
	if err != nil {
		return fmt.Errorf("balance tick: %w", err)
	}

	endCurrencies := make(map[domain.Currency]bool, len(a.cfg.Trading.PrimaryCurrencies))
	for _, c := range a.cfg.Trading.PrimaryCurrencies {
		endCurrencies[domain.Currency(c)] = true
	}

	ticker := time.NewTicker(a.cfg.Trading.PathFindInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, c := range a.cfg.Trading.PrimaryCurrencies {
				currency := domain.Currency(c)
				avail, err := balSrc.Available(ctx, currency)
				if err != nil {
					a.logger.WarnContext(ctx, "balance lookup failed", slog.String("currency", c), slog.String("error", err.Error()))
					continue
				}
				usable := avail.Sub(reserve[c])
				if usable.LessThanOrEqual(minTrade) {
					continue
				}

				enumerator := pathfind.New(deps.Books, guard.filter(markets), a.cfg.Trading.MaxHops, a.cfg.Trading.SpeedOf, deps.Intents.InFlight)
				paths, err := enumerator.Enumerate(ctx, currency, usable, endCurrencies)
				if err != nil {
					a.logger.WarnContext(ctx, "path enumeration failed", slog.String("currency", c), slog.String("error", err.Error()))
					continue
				}
				if len(paths) == 0 || paths[0].Profit().LessThanOrEqual(decimal.Zero) {
					continue
				}

				tx := newIntentFromPath(paths[0])
				d := base
				d.Enumerator = enumerator
				streamutil.Shield(func(shielded context.Context) error {
					return deps.Journal.UpsertActive(shielded, domain.ActiveTransaction{
						ID: tx.ID, Markets: tx.Markets, MarketIdx: tx.MarketIdx,
						FromCurrency: tx.FromCurrency(), FromAmount: tx.FromAmount().String(),
					})
				})
				a.logger.InfoContext(ctx, "starting new intent",
					slog.String("from_currency", c),
					slog.String("profit", paths[0].Profit().String()),
				)
				if deps.Notifier != nil {
					_ = deps.Notifier.Notify(ctx, "intent_started", "Intent started", fmt.Sprintf("%s profit=%s", c, paths[0].Profit().String()))
				}
				base.Spawn(intent.NewRunner(d, tx))
			}
		}
	}
}

// newIntentFromPath converts an enumerated ExhaustivePath into a fresh
// TransactionIntent: the first step starts PartiallyCompleted (it is about
// to run), every following step is Predicted (spec §3's Kind tags).
func newIntentFromPath(p pathfind.ExhaustivePath) domain.TransactionIntent {
	markets := make([]domain.TranIntentMarket, len(p.Chain))
	for i, step := range p.Chain {
		if i == 0 {
			markets[i] = domain.PartiallyCompletedStep(step.Market, step.Speed, step.Side, step.FromAmount)
		} else {
			markets[i] = domain.Predicted(step.Market, step.Speed, step.Side)
		}
	}
	return domain.TransactionIntent{ID: newIntentID(), Markets: markets, MarketIdx: 0}
}

// MonitorMode runs the book cache and path enumerator read-only: no orders
// are placed, no journal writes happen. Useful for observing what the
// Trader would do without risking capital.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	markets, err := a.cfg.Trading.ParsedMarkets()
	if err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}
	endCurrencies := make(map[domain.Currency]bool, len(a.cfg.Trading.PrimaryCurrencies))
	for _, c := range a.cfg.Trading.PrimaryCurrencies {
		endCurrencies[domain.Currency(c)] = true
	}
	minTrade, err := a.cfg.Trading.MinTradeAmountDecimal()
	if err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}

	ticker := time.NewTicker(a.cfg.Trading.PathFindInterval.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, c := range a.cfg.Trading.PrimaryCurrencies {
				enumerator := pathfind.New(deps.Books, markets, a.cfg.Trading.MaxHops, a.cfg.Trading.SpeedOf, deps.Intents.InFlight)
				paths, err := enumerator.Enumerate(ctx, domain.Currency(c), minTrade, endCurrencies)
				if err != nil || len(paths) == 0 {
					continue
				}
				a.logger.InfoContext(ctx, "candidate path",
					slog.String("from_currency", c),
					slog.String("profit", paths[0].Profit().String()),
					slog.Int("hops", len(paths[0].Chain)),
				)
			}
		}
	}
}

// ServerMode runs only the admin HTTP API, for deployments that separate
// observability from the trading core.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	a.runHTTPServer(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the trading core and the admin HTTP API together under one
// supervisor, so either one failing tears down the other.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	release, err := deps.Lock.Acquire(ctx, leaderLockKey, leaderLockTTL)
	if err != nil {
		return fmt.Errorf("full mode: acquire leader lock: %w", err)
	}
	defer release()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.renewLeaderLock(ctx, deps) })
	a.runTradeCore(ctx, g, deps)
	a.runHTTPServer(ctx, g, deps)
	return g.Wait()
}

// runHTTPServer registers the admin API's HTTP server goroutine (and its
// graceful-shutdown goroutine) on g.
func (a *App) runHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		return
	}

	addr := fmt.Sprintf(":%d", a.cfg.Server.Port)
	mux := http.NewServeMux()

	health := handler.NewHealthHandler(a.logger)
	mux.HandleFunc("GET /api/health", health.HealthCheck)

	status := handler.NewStatusHandler(a.cfg.Mode)
	mux.HandleFunc("GET /api/status", status.GetStatus)

	if deps.Journal != nil {
		jh := handler.NewJournalHandler(deps.Journal, a.logger)
		mux.HandleFunc("GET /api/transactions/active", jh.ListActive)
		mux.HandleFunc("GET /api/transactions/active/{id}", jh.GetActive)
		mux.HandleFunc("GET /api/transactions/completed", jh.ListCompleted)
	}

	if deps.Audit != nil {
		ah := handler.NewAuditHandler(deps.Audit, a.logger)
		mux.HandleFunc("GET /api/audit", ah.List)
	}

	var h http.Handler = mux
	if a.cfg.Server.RateLimitPerMinute > 0 {
		h = middleware.RateLimit(deps.RateLimiter, a.cfg.Server.RateLimitPerMinute, time.Minute)(h)
	}
	if a.cfg.Server.APIKey != "" {
		h = middleware.Auth(a.cfg.Server.APIKey)(h)
	}
	if len(a.cfg.Server.CORSOrigins) > 0 {
		h = middleware.CORS(a.cfg.Server.CORSOrigins)(h)
	}
	h = middleware.Logging(a.logger)(h)

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.InfoContext(ctx, "HTTP server shutting down")
		return srv.Shutdown(shutCtx)
	})
}
