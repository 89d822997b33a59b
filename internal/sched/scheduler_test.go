package sched

import (
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

func TestSchedulerPoolsReservations(t *testing.T) {
	s := New(domain.OrderSideBuy, nil)

	_ = s.Register("a")
	_ = s.Register("b")

	require.True(t, s.AddAmount("a", dec("5")))
	require.True(t, s.AddAmount("b", dec("3")))

	assert.True(t, s.CommonFromAmount().Equal(dec("8")), "pooled total = %s", s.CommonFromAmount())
}

func TestSchedulerAddAmountRejectsUnknownPath(t *testing.T) {
	s := New(domain.OrderSideBuy, nil)
	assert.False(t, s.AddAmount("ghost", dec("1")))
}

// TestSchedulerAttributesOldestFirst covers spec §4.5's single-writer
// attribution algorithm: a trade smaller than the oldest entry's remaining
// reservation is attributed entirely to that entry.
func TestSchedulerAttributesOldestFirst(t *testing.T) {
	s := New(domain.OrderSideSell, nil)

	outA := s.Register("a")
	outB := s.Register("b")
	require.True(t, s.AddAmount("a", dec("10")))
	require.True(t, s.AddAmount("b", dec("10")))

	// Sell: FromAmount == QuoteAmount, so a 4-unit trade fits inside "a"'s
	// 10-unit reservation.
	s.AddTrades([]domain.BareTrade{{QuoteAmount: dec("4"), Price: dec("1"), FeeMultiplier: dec("1")}})

	select {
	case tr := <-outA:
		assert.True(t, tr.QuoteAmount.Equal(dec("4")))
	default:
		t.Fatal("expected a trade delivered to the oldest entry")
	}
	select {
	case <-outB:
		t.Fatal("second entry should not have received anything yet")
	default:
	}
}

// TestSchedulerSplitsAcrossEntries covers the trade-exceeds-single-entry
// path: a trade larger than the oldest entry's remaining share is split,
// closing the oldest entry and carrying the remainder to the next.
func TestSchedulerSplitsAcrossEntries(t *testing.T) {
	s := New(domain.OrderSideSell, nil)

	outA := s.Register("a")
	outB := s.Register("b")
	require.True(t, s.AddAmount("a", dec("4")))
	require.True(t, s.AddAmount("b", dec("5")))

	// Neither entry alone covers 9, so phase 1 of attribution falls through
	// to phase 2, carving each entry's full remaining share off in order.
	s.AddTrades([]domain.BareTrade{{QuoteAmount: dec("9"), Price: dec("1"), FeeMultiplier: dec("1")}})

	gotA := drainSum(t, outA)
	gotB := drainSum(t, outB)

	assert.True(t, gotA.Equal(dec("4")), "entry a got %s, want 4", gotA)
	assert.True(t, gotB.Equal(dec("5")), "entry b got %s, want 5", gotB)
}

func drainSum(t *testing.T, ch <-chan domain.BareTrade) decimal.Decimal {
	t.Helper()
	total := decimal.Zero
	for {
		select {
		case tr, ok := <-ch:
			if !ok {
				return total
			}
			total = total.Add(tr.QuoteAmount)
		default:
			return total
		}
	}
}
