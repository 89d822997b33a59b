package domain

import "github.com/shopspring/decimal"

// MarketStepKind tags which variant a TranIntentMarket currently is.
type MarketStepKind int

const (
	StepPredicted MarketStepKind = iota
	StepPartiallyCompleted
	StepCompleted
)

// TranIntentMarket is one step of a path. Exactly one kind is active per
// instance; the exhaustive switch in every consumer (splitMarkets,
// FromAmount, TargetAmount) replaces what would be virtual dispatch in an
// OO language.
type TranIntentMarket struct {
	Market           Market
	Speed            Speed
	FromCurrencyType OrderSide // which side of Market the path currency sits on

	Kind MarketStepKind

	// PartiallyCompleted
	FromAmount decimal.Decimal

	// Completed
	Trades []BareTrade
}

// Predicted builds a not-yet-reached step.
func Predicted(market Market, speed Speed, fromCurrencyType OrderSide) TranIntentMarket {
	return TranIntentMarket{Market: market, Speed: speed, FromCurrencyType: fromCurrencyType, Kind: StepPredicted}
}

// PartiallyCompletedStep builds a currently-executing step with a concrete
// input amount.
func PartiallyCompletedStep(market Market, speed Speed, fromCurrencyType OrderSide, fromAmount decimal.Decimal) TranIntentMarket {
	return TranIntentMarket{
		Market: market, Speed: speed, FromCurrencyType: fromCurrencyType,
		Kind: StepPartiallyCompleted, FromAmount: fromAmount,
	}
}

// CompletedStep builds a finished step from its trades.
func CompletedStep(market Market, speed Speed, fromCurrencyType OrderSide, trades []BareTrade) TranIntentMarket {
	return TranIntentMarket{
		Market: market, Speed: speed, FromCurrencyType: fromCurrencyType,
		Kind: StepCompleted, Trades: trades,
	}
}

// GetFromAmount returns the step's effective input amount, however it is
// currently represented.
func (m TranIntentMarket) GetFromAmount() decimal.Decimal {
	switch m.Kind {
	case StepPartiallyCompleted:
		return m.FromAmount
	case StepCompleted:
		return SumFromAmount(m.Trades, m.FromCurrencyType)
	default:
		return decimal.Zero
	}
}

// GetTargetAmount returns the step's effective output amount. Only
// meaningful once the step is Completed; Predicted/PartiallyCompleted have
// no realized output yet.
func (m TranIntentMarket) GetTargetAmount() decimal.Decimal {
	if m.Kind != StepCompleted {
		return decimal.Zero
	}
	return SumTargetAmount(m.Trades, m.FromCurrencyType)
}

// FromCurrency returns the currency this step spends. Buy spends the base
// currency (to acquire the quote currency); Sell spends the quote currency.
func (m TranIntentMarket) FromCurrency() Currency {
	if m.FromCurrencyType == OrderSideBuy {
		return m.Market.Base
	}
	return m.Market.Quote
}

// TargetCurrency returns the currency this step produces.
func (m TranIntentMarket) TargetCurrency() Currency {
	return m.Market.OtherCurrency(m.FromCurrency())
}
