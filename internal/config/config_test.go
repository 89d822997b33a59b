package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbitron/internal/domain"
)

func TestDefaultsFailValidationWithoutCredentials(t *testing.T) {
	c := Defaults()
	err := c.Validate()
	require.Error(t, err, "defaults ship without exchange credentials and must fail validation for mode=trade")
	assert.Contains(t, err.Error(), "api_key")
}

func TestDefaultsPassValidationOnceCredentialsAreSet(t *testing.T) {
	c := Defaults()
	c.Exchange.APIKey = "key"
	c.Exchange.APISecret = "secret"
	assert.NoError(t, c.Validate())
}

func TestMonitorModeDoesNotRequireExchangeCredentials(t *testing.T) {
	c := Defaults()
	c.Mode = "monitor"
	assert.NoError(t, c.Validate())
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	c := Defaults()
	c.Mode = "bogus"
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateRejectsEmptyMarkets(t *testing.T) {
	c := Defaults()
	c.Mode = "monitor"
	c.Trading.Markets = nil
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "markets must not be empty")
}

func TestValidateRejectsUnparsableMarket(t *testing.T) {
	c := Defaults()
	c.Mode = "monitor"
	c.Trading.Markets = []string{"NOTAMARKET"}
	err := c.Validate()
	require.Error(t, err)
}

func TestValidateRejectsPoolMinExceedingMax(t *testing.T) {
	c := Defaults()
	c.Mode = "monitor"
	c.Database.PoolMinConns = 20
	c.Database.PoolMaxConns = 10
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pool_min_conns must not exceed pool_max_conns")
}

func TestTradingParsedMarkets(t *testing.T) {
	tr := TradingConfig{Markets: []string{"BTC_USDT", "ETH_BTC"}}
	ms, err := tr.ParsedMarkets()
	require.NoError(t, err)
	assert.Equal(t, []domain.Market{
		{Base: "BTC", Quote: "USDT"},
		{Base: "ETH", Quote: "BTC"},
	}, ms)
}

func TestTradingSpeedOf(t *testing.T) {
	tr := TradingConfig{InstantMarkets: []string{"BTC_USDT"}}
	assert.Equal(t, domain.Instant, tr.SpeedOf(domain.Market{Base: "BTC", Quote: "USDT"}))
	assert.Equal(t, domain.Delayed, tr.SpeedOf(domain.Market{Base: "ETH", Quote: "USDT"}))
}

func TestTradingFixedReserveDecimal(t *testing.T) {
	tr := TradingConfig{FixedReserve: map[string]string{"USDT": "100.5"}}
	out, err := tr.FixedReserveDecimal()
	require.NoError(t, err)
	assert.True(t, out["USDT"].Equal(decimal.RequireFromString("100.5")))
}

func TestTradingMinTradeAmountDecimalDefaultsToZero(t *testing.T) {
	tr := TradingConfig{}
	d, err := tr.MinTradeAmountDecimal()
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.Zero))
}
