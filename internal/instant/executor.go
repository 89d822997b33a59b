// Package instant implements the Instant-Trade Executor (spec §4.4): the
// fill-or-kill taker path for Instant-speed steps, with per-error-kind
// retry/backoff exactly as specified.
package instant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbitron/internal/amount"
	"github.com/alanyoungcy/arbitron/internal/domain"
)

const maxNotEnoughCryptoRetries = 3

// AbortReason wraps a fatal error that must propagate to the Transaction
// Intent as a terminal outcome for the step.
type AbortReason struct {
	Err error
}

func (a *AbortReason) Error() string { return fmt.Sprintf("instant executor aborted: %v", a.Err) }
func (a *AbortReason) Unwrap() error { return a.Err }

// Executor runs the fill-or-kill algorithm against one ExchangeClient.
type Executor struct {
	client domain.ExchangeClient
	log    *slog.Logger
}

// New builds an Executor bound to one exchange client.
func New(client domain.ExchangeClient, log *slog.Logger) *Executor {
	return &Executor{client: client, log: log}
}

// ExecuteInstant drives one Instant step to completion or fatal abort (spec
// §4.4). It loops placing fill-or-kill orders against the simulated
// top-of-book price until fromAmount is exhausted or an AbortReason fires.
// Returns the trades accumulated so far even on abort, so a partial fill
// before a fatal error is not lost.
func (e *Executor) ExecuteInstant(ctx context.Context, market domain.Market, side domain.OrderSide, fromAmount decimal.Decimal) ([]domain.BareTrade, error) {
	var trades []domain.BareTrade
	remaining := fromAmount
	notEnoughCryptoAttempts := 0

	bookCh, err := e.client.OrderBookStream(ctx, market)
	if err != nil {
		return nil, err
	}

	for remaining.GreaterThan(decimal.Zero) {
		book, err := latestFrom(ctx, bookCh)
		if err != nil {
			return trades, err
		}

		price, quoteQty, ok := simulateLastFillingPrice(book, side, remaining)
		if !ok {
			return trades, &AbortReason{Err: domain.ErrOrderBookEmpty}
		}

		result, placeErr := e.client.Place(ctx, market, side, price, quoteQty, domain.FillOrKill, uuid.NewString())
		if placeErr != nil {
			wait, retry, abort := classify(placeErr)
			if abort {
				return trades, &AbortReason{Err: placeErr}
			}
			if errors.Is(placeErr, domain.ErrNotEnoughCrypto) {
				notEnoughCryptoAttempts++
				if notEnoughCryptoAttempts > maxNotEnoughCryptoRetries {
					return trades, &AbortReason{Err: placeErr}
				}
			}
			if retry {
				if err := sleep(ctx, wait); err != nil {
					return trades, err
				}
				continue
			}
			return trades, &AbortReason{Err: placeErr}
		}

		fee, feeErr := e.client.FeeMultiplier(ctx, market)
		if feeErr != nil {
			fee = domain.FeeMultiplier{Taker: decimal.New(1, 0)}
		}

		for _, et := range result.Trades {
			canonicalFee := fee.Taker
			if !et.FeeMultiplier.IsZero() && !et.FeeMultiplier.Equal(canonicalFee) && e.log != nil {
				e.log.Warn("exchange-reported fee diverges from canonical taker fee, using canonical",
					slog.String("market", market.String()),
					slog.String("reported", et.FeeMultiplier.String()),
					slog.String("canonical", canonicalFee.String()),
				)
			}
			trades = append(trades, domain.BareTrade{
				QuoteAmount:   et.Amount,
				Price:         et.Price,
				FeeMultiplier: canonicalFee,
			})
			remaining = remaining.Sub(domain.BareTrade{QuoteAmount: et.Amount, Price: et.Price, FeeMultiplier: canonicalFee}.FromAmount(side))
		}

		if len(result.Trades) == 0 {
			// Fill-or-kill returned no trades without an error: treat as a
			// miss and retry at the current book rather than spin forever.
			if err := sleep(ctx, 100*time.Millisecond); err != nil {
				return trades, err
			}
		}
	}

	if len(trades) == 0 {
		return nil, &AbortReason{Err: domain.ErrUnfillable}
	}
	return trades, nil
}

// latestFrom drains any already-buffered snapshots and returns the most
// recent one, blocking for the first if none has arrived yet.
func latestFrom(ctx context.Context, ch <-chan domain.OrderBook) (domain.OrderBook, error) {
	select {
	case b, ok := <-ch:
		if !ok {
			return domain.OrderBook{}, domain.ErrOrderBookEmpty
		}
		for {
			select {
			case next, ok := <-ch:
				if !ok {
					return b, nil
				}
				b = next
			default:
				return b, nil
			}
		}
	case <-ctx.Done():
		return domain.OrderBook{}, ctx.Err()
	}
}

// simulateLastFillingPrice walks the opposite side of the book for side,
// returning the worst price that must be touched to exhaust fromAmount and
// the quote quantity to request at that price, per spec §4.4 step 2.
func simulateLastFillingPrice(book domain.OrderBook, side domain.OrderSide, fromAmount decimal.Decimal) (price, quoteQty decimal.Decimal, ok bool) {
	levels := book.Secondary(side)
	if len(levels) == 0 {
		return decimal.Zero, decimal.Zero, false
	}
	remaining := fromAmount
	lastPrice := levels[0].Price
	quote := decimal.Zero
	for _, lvl := range levels {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		lastPrice = lvl.Price
		levelFrom := amount.FromAmount(sideFor(side), lvl.Size, lvl.Price)
		if levelFrom.GreaterThanOrEqual(remaining) {
			q := remaining // Sell: fromAmount == quoteAmount
			if side == domain.OrderSideBuy {
				q = amount.QuoteAmount(remaining, lvl.Price)
			}
			quote = quote.Add(q)
			remaining = decimal.Zero
			break
		}
		quote = quote.Add(lvl.Size)
		remaining = remaining.Sub(levelFrom)
	}
	if remaining.GreaterThan(decimal.Zero) {
		return decimal.Zero, decimal.Zero, false
	}
	return lastPrice, quote, true
}

func sideFor(side domain.OrderSide) amount.OrderSide {
	if side == domain.OrderSideBuy {
		return amount.Buy
	}
	return amount.Sell
}

// classify maps a Place error to the spec §4.4 retry table.
func classify(err error) (wait time.Duration, retry bool, abort bool) {
	switch {
	case errors.Is(err, domain.ErrUnableToFillOrder):
		return 100 * time.Millisecond, true, false
	case errors.Is(err, domain.ErrTransactionFailed):
		return 500 * time.Millisecond, true, false
	case errors.Is(err, domain.ErrMaxOrdersExceeded):
		return 1500 * time.Millisecond, true, false
	case errors.Is(err, domain.ErrDisconnected):
		return 2000 * time.Millisecond, true, false
	case errors.Is(err, domain.ErrNotEnoughCrypto):
		return 200 * time.Millisecond, true, false
	case errors.Is(err, domain.ErrAmountTooSmall),
		errors.Is(err, domain.ErrTotalTooSmall),
		errors.Is(err, domain.ErrRateTooHigh),
		errors.Is(err, domain.ErrOrderMatchingDisabled),
		errors.Is(err, domain.ErrMarketDisabled):
		return 0, false, true
	default:
		// Unclassified network-shaped error: treat per the spec's generic
		// "network errors" row.
		return 2000 * time.Millisecond, true, false
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
