// Package pathfind implements the Path Enumerator (spec §4.3): given a
// starting currency/amount and a set of acceptable end currencies, it
// searches the order book cache for profitable circular chains and ranks
// them by expected profit.
package pathfind

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbitron/internal/amount"
	"github.com/alanyoungcy/arbitron/internal/domain"
)

// Step is one hop of a candidate chain, annotated with its expected amounts.
type Step struct {
	Market     domain.Market
	Side       domain.OrderSide
	Speed      domain.Speed
	FromAmount decimal.Decimal
	ToAmount   decimal.Decimal
}

// ExhaustivePath is a ranked candidate chain.
type ExhaustivePath struct {
	Chain []Step
}

// FromAmount is the path's required starting input.
func (p ExhaustivePath) FromAmount() decimal.Decimal {
	if len(p.Chain) == 0 {
		return decimal.Zero
	}
	return p.Chain[0].FromAmount
}

// ToAmount is the path's expected final output.
func (p ExhaustivePath) ToAmount() decimal.Decimal {
	if len(p.Chain) == 0 {
		return decimal.Zero
	}
	return p.Chain[len(p.Chain)-1].ToAmount
}

// Profit is ToAmount - FromAmount when both legs share a currency
// (circular paths); for non-circular searches it is simply the output minus
// input in whatever units the caller is comparing.
func (p ExhaustivePath) Profit() decimal.Decimal {
	return p.ToAmount().Sub(p.FromAmount())
}

// ShapeHash identifies chain shape (sequence of market+speed), used to
// filter out paths already in flight.
func (p ExhaustivePath) ShapeHash() string {
	s := ""
	for _, st := range p.Chain {
		s += string(st.Market.Base) + "/" + string(st.Market.Quote) + ":" + st.Speed.String() + ";"
	}
	return s
}

// BookSource is the minimal order-book read surface the enumerator needs;
// internal/feed/bookcache.Cache satisfies it.
type BookSource interface {
	Snapshot(market domain.Market) (domain.OrderBook, bool)
	Fee(market domain.Market) (domain.FeeMultiplier, bool)
}

// Enumerator produces candidate paths from a static universe of markets.
type Enumerator struct {
	books      BookSource
	markets    []domain.Market
	maxHops    int
	speedOf    func(domain.Market) domain.Speed
	inFlight   func(shapeHash string) bool
}

// New builds an Enumerator over the given market universe. speedOf decides
// whether a given market's step should execute Instant or Delayed (e.g. by
// configured per-market policy); inFlight reports whether a shape hash
// already has a live intent, so it is excluded from results.
func New(books BookSource, markets []domain.Market, maxHops int, speedOf func(domain.Market) domain.Speed, inFlight func(string) bool) *Enumerator {
	if maxHops <= 0 {
		maxHops = 4
	}
	return &Enumerator{books: books, markets: markets, maxHops: maxHops, speedOf: speedOf, inFlight: inFlight}
}

// marketsOn returns every market touching currency c, with the side the
// traversal would use to leave c.
func (e *Enumerator) marketsOn(c domain.Currency) []struct {
	m    domain.Market
	side domain.OrderSide
} {
	var out []struct {
		m    domain.Market
		side domain.OrderSide
	}
	for _, m := range e.markets {
		if m.Base == c {
			out = append(out, struct {
				m    domain.Market
				side domain.OrderSide
			}{m, m.OrderType(c)})
		} else if m.Quote == c {
			out = append(out, struct {
				m    domain.Market
				side domain.OrderSide
			}{m, m.OrderType(c)})
		}
	}
	return out
}

// Enumerate performs a depth-limited search from (fromCurrency, fromAmount)
// to any currency in endCurrencies, returning paths ordered by expected
// profit descending, shorter chains breaking ties.
func (e *Enumerator) Enumerate(ctx context.Context, fromCurrency domain.Currency, fromAmount decimal.Decimal, endCurrencies map[domain.Currency]bool) ([]ExhaustivePath, error) {
	var results []ExhaustivePath
	var walk func(cur domain.Currency, amt decimal.Decimal, chain []Step, visited map[domain.Market]bool)
	walk = func(cur domain.Currency, amt decimal.Decimal, chain []Step, visited map[domain.Market]bool) {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if len(chain) > 0 && endCurrencies[cur] {
			path := ExhaustivePath{Chain: append([]Step(nil), chain...)}
			if e.inFlight == nil || !e.inFlight(path.ShapeHash()) {
				results = append(results, path)
			}
		}
		if len(chain) >= e.maxHops {
			return
		}
		for _, cand := range e.marketsOn(cur) {
			if visited[cand.m] {
				continue
			}
			book, ok := e.books.Snapshot(cand.m)
			if !ok {
				continue
			}
			fee, ok := e.books.Fee(cand.m)
			if !ok {
				fee = domain.FeeMultiplier{Maker: decimal.New(1, 0), Taker: decimal.New(1, 0)}
			}
			toAmt, ok := simulateFill(book, cand.side, amt, fee.Taker)
			if !ok || toAmt.IsZero() {
				continue
			}
			speed := domain.Instant
			if e.speedOf != nil {
				speed = e.speedOf(cand.m)
			}
			nextVisited := make(map[domain.Market]bool, len(visited)+1)
			for k, v := range visited {
				nextVisited[k] = v
			}
			nextVisited[cand.m] = true
			walk(cand.m.OtherCurrency(cur), toAmt, append(chain, Step{
				Market: cand.m, Side: cand.side, Speed: speed, FromAmount: amt, ToAmount: toAmt,
			}), nextVisited)
		}
	}
	walk(fromCurrency, fromAmount, nil, map[domain.Market]bool{})

	sort.SliceStable(results, func(i, j int) bool {
		pi, pj := results[i].Profit(), results[j].Profit()
		if !pi.Equal(pj) {
			return pi.GreaterThan(pj)
		}
		return len(results[i].Chain) < len(results[j].Chain)
	})
	return results, nil
}

// simulateFill walks the relevant side of book consuming amt (interpreted
// per side, same amount laws as the Amount Calculator) and returns the
// resulting target amount, or false if the book cannot fill it at all.
func simulateFill(book domain.OrderBook, side domain.OrderSide, amt decimal.Decimal, takerFee decimal.Decimal) (decimal.Decimal, bool) {
	// A taker consumes the opposite side from where a maker of this side
	// would rest: Buy lifts asks, Sell hits bids.
	levels := book.Secondary(side)
	if len(levels) == 0 {
		return decimal.Zero, false
	}
	remaining := amt
	target := decimal.Zero
	for _, lvl := range levels {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		levelFrom := amount.FromAmount(sideFor(side), lvl.Size, lvl.Price)
		if levelFrom.GreaterThanOrEqual(remaining) {
			quote := remaining // Sell: fromAmount == quoteAmount
			if side == domain.OrderSideBuy {
				quote = amount.QuoteAmount(remaining, lvl.Price)
			}
			target = target.Add(amount.TargetAmount(sideFor(side), quote, lvl.Price, takerFee))
			remaining = decimal.Zero
			break
		}
		target = target.Add(amount.TargetAmount(sideFor(side), lvl.Size, lvl.Price, takerFee))
		remaining = remaining.Sub(levelFrom)
	}
	if remaining.GreaterThan(decimal.Zero) {
		return decimal.Zero, false // book insufficient to fill amt at all
	}
	return target, true
}

func sideFor(side domain.OrderSide) amount.OrderSide {
	if side == domain.OrderSideBuy {
		return amount.Buy
	}
	return amount.Sell
}
