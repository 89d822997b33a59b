package pathfind

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbitron/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type stubBooks struct {
	books map[domain.Market]domain.OrderBook
	fees  map[domain.Market]domain.FeeMultiplier
}

func (s stubBooks) Snapshot(m domain.Market) (domain.OrderBook, bool) {
	b, ok := s.books[m]
	return b, ok
}

func (s stubBooks) Fee(m domain.Market) (domain.FeeMultiplier, bool) {
	f, ok := s.fees[m]
	return f, ok
}

// triangle builds a three-market USDT->BTC->ETH->USDT loop whose book prices
// yield an exact 2x return on the final hop, so Profit() is unambiguous.
func triangle() (stubBooks, []domain.Market) {
	btcUSDT := domain.Market{Base: "BTC", Quote: "USDT"}
	btcETH := domain.Market{Base: "BTC", Quote: "ETH"}
	ethUSDT := domain.Market{Base: "ETH", Quote: "USDT"}

	noFee := domain.FeeMultiplier{Maker: dec("1"), Taker: dec("1")}

	books := stubBooks{
		books: map[domain.Market]domain.OrderBook{
			btcUSDT: {Market: btcUSDT, Bids: []domain.PriceLevel{{Price: dec("1"), Size: dec("1000")}}},
			btcETH:  {Market: btcETH, Asks: []domain.PriceLevel{{Price: dec("1"), Size: dec("1000")}}},
			ethUSDT: {Market: ethUSDT, Asks: []domain.PriceLevel{{Price: dec("0.5"), Size: dec("1000")}}},
		},
		fees: map[domain.Market]domain.FeeMultiplier{
			btcUSDT: noFee,
			btcETH:  noFee,
			ethUSDT: noFee,
		},
	}
	return books, []domain.Market{btcUSDT, btcETH, ethUSDT}
}

func TestEnumerateFindsProfitableTriangle(t *testing.T) {
	books, markets := triangle()
	e := New(books, markets, 4, nil, nil)

	paths, err := e.Enumerate(context.Background(), "USDT", dec("100"), map[domain.Currency]bool{"USDT": true})
	require.NoError(t, err)
	require.Len(t, paths, 1)

	p := paths[0]
	assert.Len(t, p.Chain, 3)
	assert.True(t, p.FromAmount().Equal(dec("100")), "from = %s", p.FromAmount())
	assert.True(t, p.ToAmount().Equal(dec("200")), "to = %s", p.ToAmount())
	assert.True(t, p.Profit().Equal(dec("100")), "profit = %s", p.Profit())
}

func TestEnumerateExcludesInFlightShapes(t *testing.T) {
	books, markets := triangle()

	var blockedHash string
	probe := New(books, markets, 4, nil, nil)
	initial, err := probe.Enumerate(context.Background(), "USDT", dec("100"), map[domain.Currency]bool{"USDT": true})
	require.NoError(t, err)
	require.Len(t, initial, 1)
	blockedHash = initial[0].ShapeHash()

	e := New(books, markets, 4, nil, func(hash string) bool { return hash == blockedHash })
	paths, err := e.Enumerate(context.Background(), "USDT", dec("100"), map[domain.Currency]bool{"USDT": true})
	require.NoError(t, err)
	assert.Empty(t, paths, "shape already in flight must be excluded")
}

func TestEnumerateRespectsMaxHops(t *testing.T) {
	books, markets := triangle()
	e := New(books, markets, 2, nil, nil)

	paths, err := e.Enumerate(context.Background(), "USDT", dec("100"), map[domain.Currency]bool{"USDT": true})
	require.NoError(t, err)
	assert.Empty(t, paths, "the 3-hop loop must not surface when maxHops is 2")
}
