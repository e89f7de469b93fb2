package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/betbot/stockledger/internal/domain"
	"github.com/betbot/stockledger/internal/events"
	"github.com/betbot/stockledger/internal/metrics"
	"github.com/betbot/stockledger/internal/ports"
	"github.com/sirupsen/logrus"
)

var tradeLog = logrus.WithField("component", "trade_executor")

// TradeExecutor 校验并原子地执行买卖
// 同一用户的交易先经过进程内按用户加锁，再进入存储事务；不同用户互不阻塞
type TradeExecutor struct {
	store  ports.Store
	locks  *keyedMutex
	events *events.Bus
}

func NewTradeExecutor(store ports.Store) *TradeExecutor {
	return &TradeExecutor{store: store, locks: newKeyedMutex()}
}

// SetEventBus 提交成功后发布 TradeExecutedEvent；nil 关闭发布
func (e *TradeExecutor) SetEventBus(bus *events.Bus) {
	e.events = bus
}

// Apply 执行一笔交易。业务错误（校验、资金、持仓不足）不产生任何写入；
// 存储错误包装为 domain.ErrPersistence，整笔事务回滚。
func (e *TradeExecutor) Apply(ctx context.Context, trade domain.Trade) (*domain.TradeResult, error) {
	trade.Ticker = domain.NormalizeSymbol(trade.Ticker)
	if err := trade.Validate(); err != nil {
		metrics.TradesRejected.Add(1)
		return nil, err
	}

	unlock := e.locks.Lock(trade.UserID)
	defer unlock()

	var result *domain.TradeResult
	err := e.store.InTx(ctx, func(tx ports.LedgerTx) error {
		r, err := applyInTx(ctx, tx, trade)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		err = classify(err)
		metrics.TradesRejected.Add(1)
		tradeLog.WithFields(logrus.Fields{
			"user":   trade.UserID,
			"ticker": trade.Ticker,
			"type":   trade.Type,
			"shares": trade.Shares,
		}).Infof("trade rejected: %v", err)
		return nil, err
	}

	result.Message = tradeMessage(trade)
	metrics.TradesExecuted.Add(1)
	e.events.Publish(events.TradeExecutedEvent{
		UserID:    trade.UserID,
		Ticker:    trade.Ticker,
		Type:      trade.Type,
		Shares:    trade.Shares,
		Price:     trade.Price,
		CashAfter: result.CashAfter,
		Timestamp: time.Now(),
	})
	tradeLog.WithFields(logrus.Fields{
		"user":       trade.UserID,
		"ticker":     trade.Ticker,
		"type":       trade.Type,
		"shares":     trade.Shares,
		"price":      trade.Price.String(),
		"cash_after": result.CashAfter.String(),
	}).Info("trade executed")
	return result, nil
}

func applyInTx(ctx context.Context, tx ports.LedgerTx, trade domain.Trade) (*domain.TradeResult, error) {
	user, err := tx.GetUserForUpdate(ctx, trade.UserID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrUserNotFound, trade.UserID)
		}
		return nil, persistence("load user", err)
	}

	pos, err := tx.GetPosition(ctx, trade.UserID, trade.Ticker)
	if err != nil {
		if !errors.Is(err, ports.ErrNotFound) {
			return nil, persistence("load position", err)
		}
		pos = nil
	}

	total := trade.Total()
	switch trade.Type {
	case domain.TradeTypeBuy:
		if pos != nil && trade.Shares > math.MaxInt64-pos.Quantity {
			return nil, fmt.Errorf("%w: position size overflow: own %d %s, buying %d", domain.ErrValidation, pos.Quantity, trade.Ticker, trade.Shares)
		}
		if user.Cash.LessThan(total) {
			return nil, fmt.Errorf("%w: need %s, have %s", domain.ErrInsufficientFunds, total, user.Cash)
		}
		cash := user.Cash.Sub(total)
		next := domain.ApplyBuy(pos, trade.UserID, trade.Ticker, trade.Shares, trade.Price)
		if err := tx.UpdateCash(ctx, trade.UserID, cash); err != nil {
			return nil, persistence("update cash", err)
		}
		if err := tx.UpsertPosition(ctx, next); err != nil {
			return nil, persistence("upsert position", err)
		}
		return &domain.TradeResult{Trade: trade, CashAfter: cash, Position: &next}, nil

	case domain.TradeTypeSell:
		if pos == nil || pos.Quantity < trade.Shares {
			var owned int64
			if pos != nil {
				owned = pos.Quantity
			}
			return nil, fmt.Errorf("%w: own %d %s, selling %d", domain.ErrInsufficientShares, owned, trade.Ticker, trade.Shares)
		}
		cash := user.Cash.Add(total)
		next := domain.ApplySell(*pos, trade.Shares)
		if err := tx.UpdateCash(ctx, trade.UserID, cash); err != nil {
			return nil, persistence("update cash", err)
		}
		if next == nil {
			if err := tx.DeletePosition(ctx, trade.UserID, trade.Ticker); err != nil {
				return nil, persistence("delete position", err)
			}
		} else if err := tx.UpsertPosition(ctx, *next); err != nil {
			return nil, persistence("update position", err)
		}
		return &domain.TradeResult{Trade: trade, CashAfter: cash, Position: next}, nil
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrUnknownTradeType, trade.Type)
}

func persistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, err)
}

// classify 事务开启/提交失败等未分类的错误统一视为存储错误
func classify(err error) error {
	for _, known := range []error{
		domain.ErrValidation,
		domain.ErrUserNotFound,
		domain.ErrInsufficientFunds,
		domain.ErrInsufficientShares,
		domain.ErrUnknownTradeType,
		domain.ErrPersistence,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return persistence("transaction", err)
}
