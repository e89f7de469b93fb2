package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/betbot/stockledger/internal/domain"
	"github.com/betbot/stockledger/internal/ports"
	"github.com/betbot/stockledger/internal/storage/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// stubQuotes 固定报价表；failing 中的标的返回 ErrPriceUnavailable
type stubQuotes struct {
	mu      sync.Mutex
	prices  map[string]domain.Quote
	failing map[string]bool
}

func newStubQuotes() *stubQuotes {
	return &stubQuotes{prices: map[string]domain.Quote{}, failing: map[string]bool{}}
}

func (s *stubQuotes) set(symbol, current, prev string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = domain.Quote{Symbol: symbol, Current: d(current), PreviousClose: d(prev)}
}

func (s *stubQuotes) fail(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[symbol] = true
}

func (s *stubQuotes) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing[symbol] {
		return domain.Quote{}, domain.ErrPriceUnavailable
	}
	q, ok := s.prices[symbol]
	if !ok {
		return domain.Quote{}, domain.ErrPriceUnavailable
	}
	return q, nil
}

func newUser(t *testing.T, store ports.Store, id, name, cash string) {
	t.Helper()
	require.NoError(t, store.CreateUser(context.Background(), domain.User{ID: id, Name: name, Cash: d(cash)}))
}

func buy(t *testing.T, e *TradeExecutor, userID, ticker string, shares int64, price string) *domain.TradeResult {
	t.Helper()
	r, err := e.Apply(context.Background(), domain.Trade{UserID: userID, Ticker: ticker, Shares: shares, Price: d(price), Type: domain.TradeTypeBuy})
	require.NoError(t, err)
	return r
}

var errDiskFull = errors.New("disk full")

// faultyStore 在事务内让指定写操作失败，用于验证回滚
type faultyStore struct {
	*memory.Store
	failUpsert   bool
	failSnapshot map[string]bool
}

func (f *faultyStore) InTx(ctx context.Context, fn func(tx ports.LedgerTx) error) error {
	return f.Store.InTx(ctx, func(tx ports.LedgerTx) error {
		return fn(&faultyTx{LedgerTx: tx, failUpsert: f.failUpsert})
	})
}

func (f *faultyStore) AppendSnapshot(ctx context.Context, snap domain.Snapshot) error {
	if f.failSnapshot[snap.UserID] {
		return errDiskFull
	}
	return f.Store.AppendSnapshot(ctx, snap)
}

type faultyTx struct {
	ports.LedgerTx
	failUpsert bool
}

func (t *faultyTx) UpsertPosition(ctx context.Context, p domain.Position) error {
	if t.failUpsert {
		return errDiskFull
	}
	return t.LedgerTx.UpsertPosition(ctx, p)
}
