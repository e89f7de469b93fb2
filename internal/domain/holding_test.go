package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestNewValuation_PercentagesAndCashEntry(t *testing.T) {
	user := User{ID: "u1", Name: "ann", Cash: d("300")}
	holdings := []PositionHolding{
		{Symbol: "AAPL", Quantity: 1, AverageCost: d("100"), Price: d("700"), PriceSource: PriceSourceLive, CurrentValue: d("700")},
	}
	v := NewValuation(user, holdings, time.Now())

	require.True(t, v.Total.Equal(d("1000")))
	require.Len(t, v.Breakdown, 2)
	require.Equal(t, HoldingKindPosition, v.Breakdown[0].Kind())
	require.True(t, v.Breakdown[0].Percent().Equal(d("70")))
	require.Equal(t, HoldingKindCash, v.Breakdown[1].Kind())
	require.Equal(t, CashSymbol, v.Breakdown[1].EntrySymbol())
	require.True(t, v.Breakdown[1].Percent().Equal(d("30")))
	require.True(t, v.PositionsValue().Equal(d("700")))

	pos := v.Breakdown[0].(PositionHolding)
	require.True(t, pos.UnrealizedPnL().Equal(d("600")))
}

func TestNewValuation_ZeroTotalAndNoCash(t *testing.T) {
	v := NewValuation(User{ID: "u2"}, nil, time.Now())
	require.True(t, v.Total.IsZero())
	require.Empty(t, v.Breakdown)
	require.Equal(t, "Anonymous", v.Name)

	v = NewValuation(User{ID: "u3"}, []PositionHolding{{Symbol: "ZERO", Quantity: 1, CurrentValue: decimal.Zero}}, time.Now())
	require.Len(t, v.Breakdown, 1)
	require.True(t, v.Breakdown[0].Percent().IsZero())
}

func TestQuoteChangePercent(t *testing.T) {
	q := Quote{Current: d("110"), PreviousClose: d("100")}
	require.True(t, q.Change().Equal(d("10")))
	require.True(t, q.ChangePercent().Equal(d("10")))
	require.True(t, Quote{Current: d("5")}.ChangePercent().IsZero())
}
