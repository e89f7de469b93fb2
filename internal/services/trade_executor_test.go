package services

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/betbot/stockledger/internal/domain"
	"github.com/betbot/stockledger/internal/events"
	"github.com/betbot/stockledger/internal/ports"
	"github.com/betbot/stockledger/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTradeExecutor_BuyThenSellAll(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	newUser(t, store, "u1", "alice", "100000")
	e := NewTradeExecutor(store)

	r := buy(t, e, "u1", "aapl", 10, "150")
	assert.True(t, r.CashAfter.Equal(d("98500")))
	require.NotNil(t, r.Position)
	assert.Equal(t, "AAPL", r.Position.Symbol)
	assert.Equal(t, int64(10), r.Position.Quantity)
	assert.True(t, r.Position.AverageCost.Equal(d("150")))
	assert.Equal(t, "Successfully purchased 10 shares of AAPL at $150.00", r.Message)

	r = buy(t, e, "u1", "AAPL", 5, "160")
	assert.True(t, r.CashAfter.Equal(d("97700")))
	assert.Equal(t, int64(15), r.Position.Quantity)
	assert.Equal(t, "153.33", r.Position.AverageCost.StringFixed(2))

	r, err := e.Apply(ctx, domain.Trade{UserID: "u1", Ticker: "AAPL", Shares: 15, Price: d("170"), Type: domain.TradeTypeSell})
	require.NoError(t, err)
	assert.True(t, r.CashAfter.Equal(d("100250")))
	assert.Nil(t, r.Position)
	assert.Equal(t, "Successfully sold 15 shares of AAPL at $170.00", r.Message)

	_, err = store.GetPosition(ctx, "u1", "AAPL")
	assert.ErrorIs(t, err, ports.ErrNotFound)
	u, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, u.Cash.Equal(d("100250")))
}

func TestTradeExecutor_PartialSellKeepsAverageCost(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	newUser(t, store, "u1", "", "1000")
	e := NewTradeExecutor(store)
	buy(t, e, "u1", "MSFT", 4, "100")

	r, err := e.Apply(ctx, domain.Trade{UserID: "u1", Ticker: "MSFT", Shares: 1, Price: d("130"), Type: domain.TradeTypeSell})
	require.NoError(t, err)
	assert.True(t, r.CashAfter.Equal(d("730")))
	require.NotNil(t, r.Position)
	assert.Equal(t, int64(3), r.Position.Quantity)
	assert.True(t, r.Position.AverageCost.Equal(d("100")))
}

func TestTradeExecutor_SellMoreThanOwned(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	newUser(t, store, "u1", "", "1000")
	e := NewTradeExecutor(store)
	buy(t, e, "u1", "XYZ", 5, "10")

	_, err := e.Apply(ctx, domain.Trade{UserID: "u1", Ticker: "XYZ", Shares: 10, Price: d("10"), Type: domain.TradeTypeSell})
	require.ErrorIs(t, err, domain.ErrInsufficientShares)

	p, err := store.GetPosition(ctx, "u1", "XYZ")
	require.NoError(t, err)
	assert.Equal(t, int64(5), p.Quantity)
	u, _ := store.GetUser(ctx, "u1")
	assert.True(t, u.Cash.Equal(d("950")))

	_, err = e.Apply(ctx, domain.Trade{UserID: "u1", Ticker: "NONE", Shares: 1, Price: d("10"), Type: domain.TradeTypeSell})
	assert.ErrorIs(t, err, domain.ErrInsufficientShares)
}

func TestTradeExecutor_InsufficientFundsNoSideEffects(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	newUser(t, store, "u1", "", "100")
	e := NewTradeExecutor(store)

	_, err := e.Apply(ctx, domain.Trade{UserID: "u1", Ticker: "AAPL", Shares: 1, Price: d("100.01"), Type: domain.TradeTypeBuy})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	u, _ := store.GetUser(ctx, "u1")
	assert.True(t, u.Cash.Equal(d("100")))
	positions, _ := store.ListPositions(ctx, "u1")
	assert.Empty(t, positions)

	// 刚好用完现金是允许的
	r := buy(t, e, "u1", "AAPL", 1, "100")
	assert.True(t, r.CashAfter.IsZero())
}

func TestTradeExecutor_Rejections(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	newUser(t, store, "u1", "", "100")
	e := NewTradeExecutor(store)

	cases := []struct {
		name  string
		trade domain.Trade
		want  error
	}{
		{"zero shares", domain.Trade{UserID: "u1", Ticker: "A", Shares: 0, Price: d("1"), Type: domain.TradeTypeBuy}, domain.ErrValidation},
		{"negative price", domain.Trade{UserID: "u1", Ticker: "A", Shares: 1, Price: d("-1"), Type: domain.TradeTypeBuy}, domain.ErrValidation},
		{"blank ticker", domain.Trade{UserID: "u1", Ticker: "  ", Shares: 1, Price: d("1"), Type: domain.TradeTypeBuy}, domain.ErrValidation},
		{"bad type", domain.Trade{UserID: "u1", Ticker: "A", Shares: 1, Price: d("1"), Type: "short"}, domain.ErrUnknownTradeType},
		{"unknown user", domain.Trade{UserID: "ghost", Ticker: "A", Shares: 1, Price: d("1"), Type: domain.TradeTypeBuy}, domain.ErrUserNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Apply(ctx, tc.trade)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	u, _ := store.GetUser(ctx, "u1")
	assert.True(t, u.Cash.Equal(d("100")))
}

func TestTradeExecutor_PersistenceFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	store := &faultyStore{Store: memory.New(), failUpsert: true}
	newUser(t, store, "u1", "", "1000")
	e := NewTradeExecutor(store)

	_, err := e.Apply(ctx, domain.Trade{UserID: "u1", Ticker: "AAPL", Shares: 1, Price: d("100"), Type: domain.TradeTypeBuy})
	require.ErrorIs(t, err, domain.ErrPersistence)
	assert.ErrorIs(t, err, errDiskFull)

	// 现金的写入已在同一事务中被丢弃
	u, _ := store.GetUser(ctx, "u1")
	assert.True(t, u.Cash.Equal(d("1000")))
}

func TestTradeExecutor_ConcurrentBuysCannotOverspend(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	newUser(t, store, "u1", "", "1000")
	e := NewTradeExecutor(store)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Apply(ctx, domain.Trade{UserID: "u1", Ticker: "AAPL", Shares: 1, Price: d("200"), Type: domain.TradeTypeBuy})
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, success)
	u, _ := store.GetUser(ctx, "u1")
	assert.True(t, u.Cash.IsZero())
	p, err := store.GetPosition(ctx, "u1", "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(5), p.Quantity)
	assert.Equal(t, 0, e.locks.size())
}

func TestFormatUSD(t *testing.T) {
	assert.Equal(t, "$1,234.50", FormatUSD(d("1234.5")))
	assert.Equal(t, "$153.33", FormatUSD(d("153.3333")))
}

func TestTradeExecutor_PublishesOnlyCommittedTrades(t *testing.T) {
	store := memory.New()
	newUser(t, store, "u1", "alice", "1000")
	e := NewTradeExecutor(store)
	bus := events.NewBus()
	e.SetEventBus(bus)
	ch, cancel := bus.Subscribe(4)
	defer cancel()

	buy(t, e, "u1", "aapl", 2, "100")
	_, err := e.Apply(context.Background(), domain.Trade{UserID: "u1", Ticker: "AAPL", Shares: 100, Price: d("100"), Type: domain.TradeTypeBuy})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	require.Len(t, ch, 1)
	ev := (<-ch).(events.TradeExecutedEvent)
	assert.Equal(t, "AAPL", ev.Ticker)
	assert.True(t, ev.CashAfter.Equal(d("800")))
}

func TestTradeExecutor_RejectsPositionOverflow(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	newUser(t, store, "whale", "", "1e30")
	e := NewTradeExecutor(store)
	buy(t, e, "whale", "PENNY", math.MaxInt64-1, "0.0001")

	before, err := store.GetUser(ctx, "whale")
	require.NoError(t, err)

	_, err = e.Apply(ctx, domain.Trade{UserID: "whale", Ticker: "PENNY", Shares: 2, Price: d("0.0001"), Type: domain.TradeTypeBuy})
	require.ErrorIs(t, err, domain.ErrValidation)

	after, err := store.GetUser(ctx, "whale")
	require.NoError(t, err)
	assert.True(t, before.Cash.Equal(after.Cash))
	pos, err := store.GetPosition(ctx, "whale", "PENNY")
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64-1), pos.Quantity)

	// 恰好到上限仍然允许
	r := buy(t, e, "whale", "PENNY", 1, "0.0001")
	assert.Equal(t, int64(math.MaxInt64), r.Position.Quantity)
}
