package domain

import "github.com/shopspring/decimal"

// splitStepTrades partitions a completed step's trade list into a committed
// prefix whose cumulative TargetAmount is as close to cutTarget as the
// trade granularity allows, and the remaining suffix. A trade straddling the
// cut point is itself split via SplitTrade, with any rounding residue
// folded into the committed side as adjustment trades.
func splitStepTrades(origTrades []BareTrade, side OrderSide, cutTarget decimal.Decimal) (committed, remaining []BareTrade) {
	sum := decimal.Zero
	i := 0
	for ; i < len(origTrades); i++ {
		t := origTrades[i]
		tTarget := t.TargetAmount(side)
		if sum.Add(tTarget).LessThanOrEqual(cutTarget) {
			committed = append(committed, t)
			sum = sum.Add(tTarget)
			continue
		}
		need := cutTarget.Sub(sum)
		left, right, adj := SplitTrade(t, side, AmountTarget, need)
		if !right.QuoteAmount.IsZero() {
			committed = append(committed, right)
		}
		committed = append(committed, adj...)
		if !left.QuoteAmount.IsZero() {
			remaining = append(remaining, left)
		}
		i++
		break
	}
	remaining = append(remaining, origTrades[i:]...)
	return committed, remaining
}

// SplitMarkets implements the Transaction Intent split operation (spec
// §4.7/§9): step k just produced trades. committed continues as a child
// intent from k (+1 if there is a next step); remaining stays behind at k
// with whatever fromAmount the trades did not consume. Every already
// Completed step i < k is repacked so that committed[i]'s output exactly
// funds committed[i+1]'s input, with the complementary trades left in
// remaining[i] — preserving amount conservation at every step (spec's
// "amount conservation" and "split faithfulness" properties).
func SplitMarkets(markets []TranIntentMarket, k int, trades []BareTrade) (remaining, committed []TranIntentMarket) {
	committed = append([]TranIntentMarket(nil), markets...)
	remaining = append([]TranIntentMarket(nil), markets...)

	step := markets[k]
	committedStep := CompletedStep(step.Market, step.Speed, step.FromCurrencyType, trades)
	committed[k] = committedStep

	if k+1 < len(markets) {
		next := markets[k+1]
		committed[k+1] = PartiallyCompletedStep(next.Market, next.Speed, next.FromCurrencyType, committedStep.GetTargetAmount())
	}

	remainingFrom := step.GetFromAmount().Sub(committedStep.GetFromAmount())
	remaining[k] = PartiallyCompletedStep(step.Market, step.Speed, step.FromCurrencyType, remainingFrom)

	committedCut := committedStep.GetFromAmount()
	for i := k - 1; i >= 0; i-- {
		orig := markets[i]
		if orig.Kind != StepCompleted {
			continue
		}
		committedTrades, leftoverTrades := splitStepTrades(orig.Trades, orig.FromCurrencyType, committedCut)
		committed[i] = CompletedStep(orig.Market, orig.Speed, orig.FromCurrencyType, committedTrades)
		remaining[i] = CompletedStep(orig.Market, orig.Speed, orig.FromCurrencyType, leftoverTrades)

		committedCut = committed[i].GetFromAmount()
	}

	return remaining, committed
}

// MergeMarkets implements the Transaction Intent merge operation (spec
// §4.7): folding an incoming (initDelta, currDelta) into an intent at step
// k. When step 0 is Completed (k > 0), a synthetic adjustFrom(initDelta)
// trade is appended to it, and (when k > 0) an adjustTarget(currDelta, step[k-1].FromCurrencyType) trade
// is appended to step k-1 so that its recorded output grows to match;
// step k's fromAmount grows by currDelta.
func MergeMarkets(markets []TranIntentMarket, k int, initDelta, currDelta decimal.Decimal) []TranIntentMarket {
	merged := append([]TranIntentMarket(nil), markets...)

	first := merged[0]
	if first.Kind == StepCompleted {
		merged[0] = CompletedStep(first.Market, first.Speed, first.FromCurrencyType, append(append([]BareTrade(nil), first.Trades...), AdjustFrom(initDelta)))
	}

	if k > 0 {
		prev := merged[k-1]
		if prev.Kind == StepCompleted {
			adj := AdjustTarget(currDelta, prev.FromCurrencyType)
			merged[k-1] = CompletedStep(prev.Market, prev.Speed, prev.FromCurrencyType, append(append([]BareTrade(nil), prev.Trades...), adj))
		}
	}

	cur := merged[k]
	switch cur.Kind {
	case StepPartiallyCompleted:
		merged[k] = PartiallyCompletedStep(cur.Market, cur.Speed, cur.FromCurrencyType, cur.FromAmount.Add(currDelta))
	default:
		if k > 0 {
			merged[k] = PartiallyCompletedStep(cur.Market, cur.Speed, cur.FromCurrencyType, merged[k-1].GetTargetAmount())
		} else {
			merged[k] = PartiallyCompletedStep(cur.Market, cur.Speed, cur.FromCurrencyType, currDelta)
		}
	}

	return merged
}
