package domain

import "github.com/shopspring/decimal"

// UnfilledRemainder is the residue when a non-first step ends with leftover
// input. It is merged into any intent that later starts at CurrentCurrency.
type UnfilledRemainder struct {
	ID              string
	InitCurrency    Currency
	InitAmount      decimal.Decimal
	CurrentCurrency Currency
	CurrentAmount   decimal.Decimal
}

// BlacklistedMarket temporarily excludes a market from path enumeration.
type BlacklistedMarket struct {
	Market  Market
	AddedTs int64 // unix seconds
	TTLSec  int64
}

// Expired reports whether the blacklist entry's TTL has elapsed as of now
// (unix seconds).
func (b BlacklistedMarket) Expired(nowUnix int64) bool {
	return nowUnix >= b.AddedTs+b.TTLSec
}
