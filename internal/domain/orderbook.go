package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is a single price+size entry in an order book.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBook is a full snapshot for one market: asks ascending by price,
// bids descending by price. Consumers read snapshots only; updates are
// applied by the feed layer and republished as a fresh snapshot.
type OrderBook struct {
	Market    Market
	Asks      []PriceLevel // ascending
	Bids      []PriceLevel // descending
	Timestamp time.Time
}

// BestAsk returns the lowest ask, or ok=false if the book has no asks.
func (b OrderBook) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// BestBid returns the highest bid, or ok=false if the book has no bids.
func (b OrderBook) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// Primary returns the side of the book a Processor of orderSide quotes into:
// bids for Buy, asks for Sell.
func (b OrderBook) Primary(side OrderSide) []PriceLevel {
	if side == OrderSideBuy {
		return b.Bids
	}
	return b.Asks
}

// Secondary returns the opposite side from Primary — the side that would be
// crossed if priced too aggressively.
func (b OrderBook) Secondary(side OrderSide) []PriceLevel {
	if side == OrderSideBuy {
		return b.Asks
	}
	return b.Bids
}

// PriceUpdate is an incremental order book delta as delivered by the
// exchange feed, before being folded into an OrderBook snapshot.
type PriceUpdate struct {
	Market    Market
	Side      OrderSide
	Price     decimal.Decimal
	Size      decimal.Decimal // 0 means remove the level
	Timestamp time.Time
}

// FeeMultiplier is (maker, taker), each already expressed as 1-fee_rate at
// 8-decimal scale so it can be multiplied directly against an amount.
type FeeMultiplier struct {
	Maker decimal.Decimal
	Taker decimal.Decimal
}
