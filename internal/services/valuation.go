package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/betbot/stockledger/internal/domain"
	"github.com/betbot/stockledger/internal/metrics"
	"github.com/betbot/stockledger/internal/ports"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var valuationLog = logrus.WithField("component", "valuation")

const defaultValuationConcurrency = 8

// Valuator 组合估值：现金 + 各持仓按报价计价；报价失败的持仓回退到平均成本
type Valuator struct {
	store       ports.Store
	quotes      ports.QuoteGetter
	concurrency int
	now         func() time.Time
}

func NewValuator(store ports.Store, quotes ports.QuoteGetter, concurrency int) *Valuator {
	if concurrency <= 0 {
		concurrency = defaultValuationConcurrency
	}
	return &Valuator{store: store, quotes: quotes, concurrency: concurrency, now: time.Now}
}

// ComputeTotalValue 计算用户当前总值与明细。
// 只有用户不存在或存储读取失败时返回错误，报价失败永远不会导致估值失败。
func (v *Valuator) ComputeTotalValue(ctx context.Context, userID string) (*domain.Valuation, error) {
	user, err := v.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrUserNotFound, userID)
		}
		return nil, persistence("load user", err)
	}
	positions, err := v.store.ListPositions(ctx, userID)
	if err != nil {
		return nil, persistence("list positions", err)
	}

	holdings := v.priceAll(ctx, positions)
	return domain.NewValuation(*user, holdings, v.now()), nil
}

// priceAll 并发获取报价（并发数受限），结果顺序与 positions 一致
func (v *Valuator) priceAll(ctx context.Context, positions []domain.Position) []domain.PositionHolding {
	holdings := make([]domain.PositionHolding, len(positions))
	var g errgroup.Group
	g.SetLimit(v.concurrency)
	for i, p := range positions {
		i, p := i, p
		g.Go(func() error {
			holdings[i] = v.price(ctx, p)
			return nil
		})
	}
	_ = g.Wait()
	return holdings
}

func (v *Valuator) price(ctx context.Context, p domain.Position) domain.PositionHolding {
	qty := decimal.NewFromInt(p.Quantity)
	h := domain.PositionHolding{
		Symbol:      p.Symbol,
		Quantity:    p.Quantity,
		AverageCost: p.AverageCost,
	}

	q, err := v.quotes.Quote(ctx, p.Symbol)
	if err != nil {
		metrics.QuoteFallbacks.Add(1)
		valuationLog.WithFields(logrus.Fields{"user": p.UserID, "symbol": p.Symbol}).
			Debugf("price unavailable, using average cost: %v", err)
		h.Price = p.AverageCost
		h.PriceSource = domain.PriceSourceFallback
		h.CurrentValue = qty.Mul(p.AverageCost)
		return h
	}

	h.Price = q.Current
	h.PriceSource = domain.PriceSourceLive
	h.PreviousClose = q.PreviousClose
	h.DayChange = q.Change()
	h.DayChangePercent = q.ChangePercent()
	h.CurrentValue = qty.Mul(q.Current)
	return h
}
