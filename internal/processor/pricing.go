package processor

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbitron/internal/domain"
)

// tick is the smallest price increment at the engine's fixed 8-decimal
// scale, used to step one tick ahead of the current best.
var tick = decimal.New(1, -8)

// gapRepriceThreshold is the fixPriceGaps heuristic's book-change count
// (spec §4.6): if we are front-of-book and have sat unmoved through this many
// book changes, or for 4 seconds (the literal in decideReprice), nudge one
// tick toward second best.
const gapRepriceThreshold = 10

// priceDecision is the outcome of evaluating the pricing policy once.
type priceDecision struct {
	shouldMove bool
	newPrice   decimal.Decimal
}

// computePrice implements the "one-point-better-unless-alone" policy (spec
// §4.6): price one tick better than the current best on our side, unless
// that would cross the opposite side's best (then sit at the best instead).
func computePrice(book domain.OrderBook, side domain.OrderSide) (decimal.Decimal, bool) {
	primary := book.Primary(side)
	if len(primary) == 0 {
		return decimal.Zero, false
	}
	bestPrimary := primary[0].Price

	var newPrice decimal.Decimal
	if side == domain.OrderSideBuy {
		newPrice = bestPrimary.Add(tick)
	} else {
		newPrice = bestPrimary.Sub(tick)
	}

	secondary := book.Secondary(side)
	if len(secondary) > 0 && secondary[0].Price.Equal(newPrice) {
		newPrice = bestPrimary
	}
	return newPrice, true
}

// decideReprice folds the "are we front, second, or behind" comparison and
// the fixPriceGaps heuristic into a single shouldMove/newPrice decision.
func decideReprice(book domain.OrderBook, side domain.OrderSide, currentPrice decimal.Decimal, currentQty decimal.Decimal, haveOrder bool, bookChangeCounter int, secondsSinceLastMove float64) priceDecision {
	newPrice, ok := computePrice(book, side)
	if !ok {
		return priceDecision{}
	}
	if !haveOrder {
		return priceDecision{shouldMove: true, newPrice: newPrice}
	}

	primary := book.Primary(side)
	bestPrimary := primary[0].Price
	frontQty := primary[0].Size

	behindBest := (side == domain.OrderSideBuy && currentPrice.LessThan(bestPrimary)) ||
		(side == domain.OrderSideSell && currentPrice.GreaterThan(bestPrimary))
	if behindBest {
		return priceDecision{shouldMove: true, newPrice: newPrice}
	}

	atBest := currentPrice.Equal(bestPrimary)
	if atBest && currentQty.LessThan(frontQty) {
		// On second position at the best price: still reprice to lead.
		return priceDecision{shouldMove: true, newPrice: newPrice}
	}

	// We are the front of book: only move if the fixPriceGaps heuristic
	// fires, and only one tick closer to second-best if that is more
	// aggressive than where we already sit.
	if bookChangeCounter >= gapRepriceThreshold || secondsSinceLastMove >= 4.0 {
		if len(primary) > 1 {
			secondBest := primary[1].Price
			var steppedPrice decimal.Decimal
			if side == domain.OrderSideBuy {
				steppedPrice = secondBest.Add(tick)
				if steppedPrice.GreaterThan(currentPrice) {
					return priceDecision{shouldMove: true, newPrice: steppedPrice}
				}
			} else {
				steppedPrice = secondBest.Sub(tick)
				if steppedPrice.LessThan(currentPrice) {
					return priceDecision{shouldMove: true, newPrice: steppedPrice}
				}
			}
		}
	}
	return priceDecision{}
}

// canMoveSafely rejects a Buy reprice that would require more from-amount
// (base currency) than is currently reserved for this pooled order (spec
// §4.6 "CantMoveSafely"). Only defined for Buy per the spec's own
// open-question note; Sell always returns true.
func canMoveSafely(side domain.OrderSide, newPrice, qty, reservedFromAmount decimal.Decimal) bool {
	if side != domain.OrderSideBuy {
		return true
	}
	required := newPrice.Mul(qty)
	return required.LessThanOrEqual(reservedFromAmount)
}
