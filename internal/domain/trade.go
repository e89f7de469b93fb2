package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// TradeType 交易方向
type TradeType string

const (
	TradeTypeBuy  TradeType = "buy"
	TradeTypeSell TradeType = "sell"
)

// ParseTradeType 解析交易方向（忽略大小写与空白）
func ParseTradeType(s string) (TradeType, error) {
	switch TradeType(strings.ToLower(strings.TrimSpace(s))) {
	case TradeTypeBuy:
		return TradeTypeBuy, nil
	case TradeTypeSell:
		return TradeTypeSell, nil
	}
	return "", fmt.Errorf("%w: %q (must be buy or sell)", ErrUnknownTradeType, s)
}

// Trade 交易指令（瞬时命令，不作为实体持久化）
type Trade struct {
	UserID string
	Ticker string
	Shares int64
	Price  decimal.Decimal
	Type   TradeType
}

// NormalizeSymbol 统一标的代码格式
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Validate 校验交易参数，不涉及任何状态
func (t Trade) Validate() error {
	if strings.TrimSpace(t.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if NormalizeSymbol(t.Ticker) == "" {
		return fmt.Errorf("%w: ticker is required", ErrValidation)
	}
	if t.Shares <= 0 {
		return fmt.Errorf("%w: shares must be > 0, got %d", ErrValidation, t.Shares)
	}
	if !t.Price.IsPositive() {
		return fmt.Errorf("%w: price must be > 0, got %s", ErrValidation, t.Price)
	}
	if t.Type != TradeTypeBuy && t.Type != TradeTypeSell {
		return fmt.Errorf("%w: %q", ErrUnknownTradeType, t.Type)
	}
	return nil
}

// Total 成交金额 = Shares * Price
func (t Trade) Total() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Shares))
}

// TradeResult 已提交交易的结果
type TradeResult struct {
	Trade     Trade
	CashAfter decimal.Decimal
	Position  *Position // 交易后的持仓，全部卖出时为 nil
	Message   string
}
