package domain

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbitron/internal/amount"
)

// BareTrade is the only persisted trade artifact. Every derived amount
// recomputes deterministically from these three fields, so journaling a
// BareTrade is sufficient to reconstruct fromAmount/targetAmount for any
// step at any time.
type BareTrade struct {
	QuoteAmount   decimal.Decimal
	Price         decimal.Decimal
	FeeMultiplier decimal.Decimal
}

func sideToAmountSide(side OrderSide) amount.OrderSide {
	if side == OrderSideBuy {
		return amount.Buy
	}
	return amount.Sell
}

// AdjustFrom builds a synthetic trade that contributes x to fromAmount and
// zero to targetAmount. Used to reconcile split/merge rounding residue and
// to append initAmount deltas at step 0 during a merge.
func AdjustFrom(x decimal.Decimal) BareTrade {
	return BareTrade{QuoteAmount: x, Price: decimal.New(1, 0), FeeMultiplier: decimal.Zero}
}

// AdjustTarget builds a synthetic trade that contributes zero to fromAmount
// and x to targetAmount, for the given step's order side. For Buy this
// reuses the natural Buy formula (fee=1 so round_up(x*1) = x). For Sell the
// natural fromAmount=quote law would otherwise swallow x into fromAmount
// instead of targetAmount, so the price=0,fee=0 encoding is recognized as a
// sentinel by FromAmount/TargetAmount below rather than evaluated through
// the ordinary Sell formula.
func AdjustTarget(x decimal.Decimal, side OrderSide) BareTrade {
	if side == OrderSideBuy {
		return BareTrade{QuoteAmount: x, Price: decimal.Zero, FeeMultiplier: decimal.New(1, 0)}
	}
	return BareTrade{QuoteAmount: x, Price: decimal.Zero, FeeMultiplier: decimal.Zero}
}

// isTargetOnlySentinel recognizes the AdjustTarget(x, Sell) encoding, the
// one case where the ordinary per-side amount laws can't express "zero
// fromAmount, x targetAmount" on their own (Sell's fromAmount=quote law
// does not consult price at all). Real market fills never carry price=0,
// so this check cannot misfire on a genuine trade.
func isTargetOnlySentinel(t BareTrade) bool {
	return t.Price.IsZero() && t.FeeMultiplier.IsZero()
}

// FromAmount returns this trade's contribution to the step's fromAmount,
// per the amount laws in spec §3.
func (t BareTrade) FromAmount(side OrderSide) decimal.Decimal {
	if isTargetOnlySentinel(t) {
		return decimal.Zero
	}
	return amount.FromAmount(sideToAmountSide(side), t.QuoteAmount, t.Price)
}

// TargetAmount returns this trade's contribution to the step's
// targetAmount, per the amount laws in spec §3.
func (t BareTrade) TargetAmount(side OrderSide) decimal.Decimal {
	if isTargetOnlySentinel(t) {
		return t.QuoteAmount
	}
	return amount.TargetAmount(sideToAmountSide(side), t.QuoteAmount, t.Price, t.FeeMultiplier)
}

// AmountType names which of a trade's two derived amounts a split cut is
// expressed in.
type AmountType int

const (
	AmountFrom AmountType = iota
	AmountTarget
)

// SplitTrade divides a single trade into a left and right sub-trade at the
// same price/fee, sized so that right's amountType amount is as close to cut
// as the underlying quote-quantity granularity allows (right is clamped to
// the trade's own amount if cut overshoots it). Because RoundDown/RoundUp do
// not distribute over addition, left+right can miss the original trade's
// from/target amounts by a residue of at most one smallest unit per side;
// SplitTrade reconciles this by returning zero, one, or two adjustment
// trades that make left+right+adjustments exactly equal trade (spec's
// "split faithfulness" property).
func SplitTrade(trade BareTrade, side OrderSide, amountType AmountType, cut decimal.Decimal) (left, right BareTrade, adjustments []BareTrade) {
	totalQuote := trade.QuoteAmount

	var rightQuote decimal.Decimal
	switch amountType {
	case AmountFrom:
		if side == OrderSideBuy {
			rightQuote = amount.QuoteAmount(cut, trade.Price)
		} else {
			rightQuote = cut
		}
	case AmountTarget:
		if side == OrderSideBuy {
			if trade.FeeMultiplier.IsZero() {
				rightQuote = decimal.Zero
			} else {
				rightQuote = amount.RoundDown(cut.Div(trade.FeeMultiplier))
			}
		} else {
			if trade.Price.IsZero() || trade.FeeMultiplier.IsZero() {
				rightQuote = decimal.Zero
			} else {
				baseAmt := amount.RoundDown(cut.Div(trade.FeeMultiplier))
				rightQuote = amount.RoundDown(baseAmt.Div(trade.Price))
			}
		}
	}
	if rightQuote.GreaterThan(totalQuote) {
		rightQuote = totalQuote
	}
	if rightQuote.IsNegative() {
		rightQuote = decimal.Zero
	}
	leftQuote := totalQuote.Sub(rightQuote)

	left = BareTrade{QuoteAmount: leftQuote, Price: trade.Price, FeeMultiplier: trade.FeeMultiplier}
	right = BareTrade{QuoteAmount: rightQuote, Price: trade.Price, FeeMultiplier: trade.FeeMultiplier}

	fromResidue := trade.FromAmount(side).Sub(left.FromAmount(side).Add(right.FromAmount(side)))
	targetResidue := trade.TargetAmount(side).Sub(left.TargetAmount(side).Add(right.TargetAmount(side)))

	if !fromResidue.IsZero() {
		adjustments = append(adjustments, AdjustFrom(fromResidue))
	}
	if !targetResidue.IsZero() {
		adjustments = append(adjustments, AdjustTarget(targetResidue, side))
	}
	return left, right, adjustments
}

// SumFromAmount sums FromAmount across trades.
func SumFromAmount(trades []BareTrade, side OrderSide) decimal.Decimal {
	total := decimal.Zero
	for _, t := range trades {
		total = total.Add(t.FromAmount(side))
	}
	return total
}

// SumTargetAmount sums TargetAmount across trades.
func SumTargetAmount(trades []BareTrade, side OrderSide) decimal.Decimal {
	total := decimal.Zero
	for _, t := range trades {
		total = total.Add(t.TargetAmount(side))
	}
	return total
}
