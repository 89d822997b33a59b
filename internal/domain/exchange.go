package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OrderKind is the exchange time-in-force/execution modifier the core uses.
type OrderKind int

const (
	PostOnly OrderKind = iota
	FillOrKill
	ImmediateOrCancel
)

// ExchangeTrade is a single fill as reported by the exchange, either inline
// in an OrderResult or via the account notification stream / OrderTrades.
type ExchangeTrade struct {
	TradeID         string
	Amount          decimal.Decimal // quote-quantity filled
	Price           decimal.Decimal
	FeeMultiplier   decimal.Decimal
	TakerAdjustment decimal.Decimal // exchange-reported target amount, for cross-check only
}

// OrderResult is returned by Place.
type OrderResult struct {
	OrderID string
	Trades  []ExchangeTrade
}

// MoveResult is returned by Move (atomic cancel+reissue).
type MoveResult struct {
	OrderID string
}

// NotificationKind tags an AccountNotification's payload.
type NotificationKind int

const (
	NotifyTrade NotificationKind = iota
	NotifyLimitOrderCreated
	NotifyOrderUpdate
	NotifyBalanceUpdate
)

// OrderUpdateType narrows a NotifyOrderUpdate notification.
type OrderUpdateType int

const (
	OrderUpdateFilled OrderUpdateType = iota
	OrderUpdateCancelled
)

// AccountNotification is one event off the exchange's private WS channel.
type AccountNotification struct {
	Kind    NotificationKind
	OrderID string

	// NotifyTrade
	Trade ExchangeTrade

	// NotifyOrderUpdate
	NewAmount  decimal.Decimal
	UpdateType OrderUpdateType

	Timestamp time.Time
}

// ExchangeClient is the boundary the core consumes (spec §6). Out of scope
// to build a real one against any specific venue; internal/platform/poloniex
// ships a reference adapter in this shape.
type ExchangeClient interface {
	Place(ctx context.Context, market Market, side OrderSide, price, quoteAmount decimal.Decimal, kind OrderKind, clientOrderID string) (OrderResult, error)
	Move(ctx context.Context, orderID string, newPrice decimal.Decimal, newQuoteAmount *decimal.Decimal, kind OrderKind, clientOrderID string) (MoveResult, error)
	Cancel(ctx context.Context, orderID string) error
	OrderStatus(ctx context.Context, orderID string) (*OrderResult, error)
	OrderTrades(ctx context.Context, orderID string) ([]ExchangeTrade, error)

	OrderBookStream(ctx context.Context, market Market) (<-chan OrderBook, error)
	AccountNotificationStream(ctx context.Context) (<-chan AccountNotification, error)
	ConnectionStateStream(ctx context.Context) (<-chan bool, error)

	FeeMultiplier(ctx context.Context, market Market) (FeeMultiplier, error)
}
