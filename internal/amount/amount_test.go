package amount

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestRoundDown(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1.123456789", "1.12345678"},
		{"1.00000001", "1.00000001"},
		{"1", "1"},
	}
	for _, c := range cases {
		got := RoundDown(dec(c.in))
		assert.True(t, got.Equal(dec(c.want)), "RoundDown(%s) = %s, want %s", c.in, got, c.want)
	}
}

func TestRoundUp(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1.123456781", "1.12345679"},
		{"1.00000001", "1.00000001"},
		{"1", "1"},
	}
	for _, c := range cases {
		got := RoundUp(dec(c.in))
		assert.True(t, got.Equal(dec(c.want)), "RoundUp(%s) = %s, want %s", c.in, got, c.want)
	}
}

func TestFromAmountBuy(t *testing.T) {
	// 2 quote units at price 1.333333335 => round_down(2.66666667)
	got := FromAmountBuy(dec("2"), dec("1.333333335"))
	assert.True(t, got.Equal(dec("2.66666667")), "got %s", got)
}

func TestFromAmountSell(t *testing.T) {
	got := FromAmountSell(dec("3.5"))
	assert.True(t, got.Equal(dec("3.5")))
}

func TestTargetAmountBuy(t *testing.T) {
	// quote=2, fee=0.999 => round_up(1.998) == 1.998
	got := TargetAmountBuy(dec("2"), dec("0.999"))
	assert.True(t, got.Equal(dec("1.998")), "got %s", got)
}

func TestTargetAmountSell(t *testing.T) {
	// quote=2, price=1.333333335, fee=0.999
	// round_down(2*1.333333335) = 2.66666667 (exact, no rounding loss)
	// 2.66666667*0.999 = 2.66400000333, round_up => 2.66400001
	got := TargetAmountSell(dec("2"), dec("1.333333335"), dec("0.999"))
	assert.True(t, got.Equal(dec("2.66400001")), "got %s", got)
}

func TestQuoteAmount(t *testing.T) {
	got := QuoteAmount(dec("10"), dec("4"))
	assert.True(t, got.Equal(dec("2.5")), "got %s", got)

	// zero price must not panic / divide by zero
	got = QuoteAmount(dec("10"), decimal.Zero)
	assert.True(t, got.Equal(decimal.Zero))
}

func TestFromAmountAndTargetAmountDispatchBySide(t *testing.T) {
	quote := dec("2")
	price := dec("10")
	fee := dec("0.999")

	buyFrom := FromAmount(Buy, quote, price)
	assert.True(t, buyFrom.Equal(FromAmountBuy(quote, price)))

	sellFrom := FromAmount(Sell, quote, price)
	assert.True(t, sellFrom.Equal(FromAmountSell(quote)))

	buyTarget := TargetAmount(Buy, quote, price, fee)
	assert.True(t, buyTarget.Equal(TargetAmountBuy(quote, fee)))

	sellTarget := TargetAmount(Sell, quote, price, fee)
	assert.True(t, sellTarget.Equal(TargetAmountSell(quote, price, fee)))
}
