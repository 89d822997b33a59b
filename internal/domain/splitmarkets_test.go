package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

var testMarket = Market{Base: "BTC", Quote: "USDT"}

// TestSplitMarketsConservesFromAmount covers spec §9's amount-conservation
// property: a single step's fromAmount splits exactly between the committed
// and remaining halves, with nothing created or destroyed.
func TestSplitMarketsConservesFromAmount(t *testing.T) {
	markets := []TranIntentMarket{
		PartiallyCompletedStep(testMarket, Instant, OrderSideBuy, dec("10")),
	}
	trades := []BareTrade{{QuoteAmount: dec("3"), Price: dec("2"), FeeMultiplier: dec("1")}}

	remaining, committed := SplitMarkets(markets, 0, trades)

	require.Len(t, committed, 1)
	require.Len(t, remaining, 1)

	wantCommitted := dec("6") // round_down(3*2)
	assert.True(t, committed[0].GetFromAmount().Equal(wantCommitted), "committed fromAmount = %s", committed[0].GetFromAmount())

	total := committed[0].GetFromAmount().Add(remaining[0].GetFromAmount())
	assert.True(t, total.Equal(dec("10")), "conservation: got total %s, want 10", total)
}

// TestSplitMarketsFundsNextStep covers spec §4.7's split-faithfulness
// property: the next step's input is seeded from this step's realized
// output, not recomputed independently.
func TestSplitMarketsFundsNextStep(t *testing.T) {
	markets := []TranIntentMarket{
		PartiallyCompletedStep(testMarket, Instant, OrderSideBuy, dec("10")),
		Predicted(Market{Base: "USDT", Quote: "ETH"}, Instant, OrderSideSell),
	}
	trades := []BareTrade{{QuoteAmount: dec("3"), Price: dec("2"), FeeMultiplier: dec("1")}}

	_, committed := SplitMarkets(markets, 0, trades)

	require.Len(t, committed, 2)
	require.Equal(t, StepPartiallyCompleted, committed[1].Kind)
	assert.True(t, committed[1].FromAmount.Equal(committed[0].GetTargetAmount()),
		"next step's seeded fromAmount (%s) must equal prior step's realized targetAmount (%s)",
		committed[1].FromAmount, committed[0].GetTargetAmount())
}

// TestMergeMarketsGrowsCurrentStep covers the merge operation folding an
// incoming (initDelta, currDelta) offer into a still-running step.
func TestMergeMarketsGrowsCurrentStep(t *testing.T) {
	markets := []TranIntentMarket{
		PartiallyCompletedStep(testMarket, Instant, OrderSideBuy, dec("4")),
	}
	merged := MergeMarkets(markets, 0, dec("2"), dec("2"))

	require.Len(t, merged, 1)
	assert.True(t, merged[0].FromAmount.Equal(dec("6")), "merged fromAmount = %s, want 6", merged[0].FromAmount)
}
