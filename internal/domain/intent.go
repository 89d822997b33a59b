package domain

import "github.com/shopspring/decimal"

// TransactionIntent is the per-path state: a chain of steps and an index
// into it. Invariant: exactly one step is PartiallyCompleted, at MarketIdx;
// every step before it is Completed; every step after it is Predicted.
type TransactionIntent struct {
	ID         string
	Markets    []TranIntentMarket
	MarketIdx  int
}

// FromCurrency is markets[0]'s from-currency — the currency the whole path
// started with.
func (t TransactionIntent) FromCurrency() Currency {
	return t.Markets[0].FromCurrency()
}

// FromAmount is markets[0]'s effective input amount.
func (t TransactionIntent) FromAmount() decimal.Decimal {
	return t.Markets[0].GetFromAmount()
}

// Current returns the step currently being executed.
func (t TransactionIntent) Current() TranIntentMarket {
	return t.Markets[t.MarketIdx]
}

// CurrentFromCurrency is the currency the active step is spending.
func (t TransactionIntent) CurrentFromCurrency() Currency {
	return t.Current().FromCurrency()
}

// CurrentFromAmount is the active step's input amount.
func (t TransactionIntent) CurrentFromAmount() decimal.Decimal {
	return t.Current().GetFromAmount()
}

// IsLastStep reports whether MarketIdx is the final step in the chain.
func (t TransactionIntent) IsLastStep() bool {
	return t.MarketIdx == len(t.Markets)-1
}

// ExpectedTargetCurrency is the currency the path ultimately produces.
func (t TransactionIntent) ExpectedTargetCurrency() Currency {
	last := t.Markets[len(t.Markets)-1]
	return last.TargetCurrency()
}

// ShapeKey hashes the (market, speed) sequence of every step — two intents
// with an identical ShapeKey and identical MarketIdx are merge candidates
// (see package intent's Manager).
func (t TransactionIntent) ShapeKey() string {
	s := ""
	for _, m := range t.Markets {
		s += string(m.Market.Base) + "/" + string(m.Market.Quote) + ":" + m.Speed.String() + ";"
	}
	return s
}
