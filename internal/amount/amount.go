// Package amount implements the exact base/quote/fee arithmetic the
// transaction engine relies on. All values are decimal.Decimal at a fixed
// 8-decimal scale; float64 never appears in amount math.
package amount

import "github.com/shopspring/decimal"

// Scale is the fixed number of decimal places every persisted and computed
// amount is rounded to.
const Scale = 8

// smallestUnit is 10^-Scale, the increment RoundUp adds when truncation
// drops a non-zero remainder.
var smallestUnit = decimal.New(1, -Scale)

// RoundDown truncates d to Scale decimal places toward zero.
func RoundDown(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(Scale)
}

// RoundUp truncates d to Scale decimal places, then bumps it up by one unit
// if truncation discarded a non-zero remainder.
func RoundUp(d decimal.Decimal) decimal.Decimal {
	t := d.Truncate(Scale)
	if t.Equal(d) {
		return t
	}
	return t.Add(smallestUnit)
}

// OrderSide is Buy or Sell, derived from which currency of a market is being
// spent.
type OrderSide int

const (
	Buy OrderSide = iota
	Sell
)

// FromAmountBuy computes the from-amount (in the market's base currency)
// spent to acquire quoteAmount at price, rounded down.
//
//	fromAmount = round_down(quote * price)
func FromAmountBuy(quoteAmount, price decimal.Decimal) decimal.Decimal {
	return RoundDown(quoteAmount.Mul(price))
}

// FromAmountSell computes the from-amount for a sell step, which is simply
// the quote amount sold (no rounding needed: it is already at scale).
func FromAmountSell(quoteAmount decimal.Decimal) decimal.Decimal {
	return quoteAmount
}

// TargetAmountBuy computes the target-amount (quote currency received) for
// a buy step after fees, rounded up.
//
//	targetAmount = round_up(quote * fee)
func TargetAmountBuy(quoteAmount, fee decimal.Decimal) decimal.Decimal {
	return RoundUp(quoteAmount.Mul(fee))
}

// TargetAmountSell computes the target-amount (base currency received) for
// a sell step after fees.
//
//	targetAmount = round_up(round_down(quote * price) * fee)
func TargetAmountSell(quoteAmount, price, fee decimal.Decimal) decimal.Decimal {
	return RoundUp(RoundDown(quoteAmount.Mul(price)).Mul(fee))
}

// QuoteAmount inverts a from-amount back to the quote quantity that would
// produce it at price. No fee is applied.
//
//	quoteAmount(baseAmount, price) = round_down(baseAmount / price)
func QuoteAmount(fromAmount, price decimal.Decimal) decimal.Decimal {
	if price.IsZero() {
		return decimal.Zero
	}
	return RoundDown(fromAmount.Div(price))
}

// FromAmount returns the from-amount contribution of a single trade given
// the market's order side. This mirrors the BareTrade amount laws in
// domain.BareTrade.FromAmount but is kept here too so callers that only
// have raw numbers (no BareTrade) can reuse the same rounding rules.
func FromAmount(side OrderSide, quoteAmount, price decimal.Decimal) decimal.Decimal {
	if side == Buy {
		return FromAmountBuy(quoteAmount, price)
	}
	return FromAmountSell(quoteAmount)
}

// TargetAmount returns the target-amount contribution of a single trade
// given the market's order side.
func TargetAmount(side OrderSide, quoteAmount, price, fee decimal.Decimal) decimal.Decimal {
	if side == Buy {
		return TargetAmountBuy(quoteAmount, fee)
	}
	return TargetAmountSell(quoteAmount, price, fee)
}
