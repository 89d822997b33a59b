package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

// assertSplitFaithful verifies spec §8 property 2: left+right+adjustments
// must reconstruct the original trade's from/target amounts exactly, even
// when the cut point forces a rounding residue on one or both sides.
func assertSplitFaithful(t *testing.T, trade BareTrade, side OrderSide, amountType AmountType, cut decimal.Decimal) (left, right BareTrade, adjustments []BareTrade) {
	t.Helper()
	left, right, adjustments = SplitTrade(trade, side, amountType, cut)

	gotFrom := left.FromAmount(side).Add(right.FromAmount(side))
	gotTarget := left.TargetAmount(side).Add(right.TargetAmount(side))
	for _, a := range adjustments {
		gotFrom = gotFrom.Add(a.FromAmount(side))
		gotTarget = gotTarget.Add(a.TargetAmount(side))
	}

	assert.True(t, gotFrom.Equal(trade.FromAmount(side)),
		"fromAmount not conserved: left+right+adjustments = %s, want %s", gotFrom, trade.FromAmount(side))
	assert.True(t, gotTarget.Equal(trade.TargetAmount(side)),
		"targetAmount not conserved: left+right+adjustments = %s, want %s", gotTarget, trade.TargetAmount(side))
	assert.LessOrEqual(t, len(adjustments), 2, "at most one adjustment per side")
	return left, right, adjustments
}

func TestSplitTradeFaithfulnessBuyByFrom(t *testing.T) {
	trade := BareTrade{QuoteAmount: dec("7"), Price: dec("1.333333335"), FeeMultiplier: dec("0.999")}
	assertSplitFaithful(t, trade, OrderSideBuy, AmountFrom, dec("3"))
}

func TestSplitTradeFaithfulnessSellByFrom(t *testing.T) {
	trade := BareTrade{QuoteAmount: dec("7"), Price: dec("1.333333335"), FeeMultiplier: dec("0.999")}
	assertSplitFaithful(t, trade, OrderSideSell, AmountFrom, dec("2.5"))
}

func TestSplitTradeFaithfulnessBuyByTarget(t *testing.T) {
	trade := BareTrade{QuoteAmount: dec("10"), Price: dec("2.00000003"), FeeMultiplier: dec("0.999")}
	assertSplitFaithful(t, trade, OrderSideBuy, AmountTarget, dec("4"))
}

func TestSplitTradeFaithfulnessSellByTarget(t *testing.T) {
	trade := BareTrade{QuoteAmount: dec("10"), Price: dec("2.00000003"), FeeMultiplier: dec("0.999")}
	assertSplitFaithful(t, trade, OrderSideSell, AmountTarget, dec("6"))
}

// TestSplitTradeClampsOvershootingCut covers the edge case where cut exceeds
// the trade's own amount: right must clamp to the whole trade, left empty.
func TestSplitTradeClampsOvershootingCut(t *testing.T) {
	trade := BareTrade{QuoteAmount: dec("5"), Price: dec("1"), FeeMultiplier: dec("1")}
	left, right, _ := assertSplitFaithful(t, trade, OrderSideSell, AmountFrom, dec("100"))
	assert.True(t, left.QuoteAmount.IsZero())
	assert.True(t, right.QuoteAmount.Equal(dec("5")))
}
