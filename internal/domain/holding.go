package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CashSymbol 现金条目的合成代码
const CashSymbol = "CASH"

// HoldingKind 区分估值明细里的持仓条目与现金条目
type HoldingKind string

const (
	HoldingKindPosition HoldingKind = "position"
	HoldingKindCash     HoldingKind = "cash"
)

// PriceSource 持仓条目使用的价格来源
type PriceSource string

const (
	PriceSourceLive     PriceSource = "live"
	PriceSourceFallback PriceSource = "fallback" // 报价失败，回退到平均成本
)

// HoldingEntry 估值明细条目：PositionHolding 或 CashHolding
type HoldingEntry interface {
	Kind() HoldingKind
	EntrySymbol() string
	Value() decimal.Decimal
	Percent() decimal.Decimal
	withPercentage(total decimal.Decimal) HoldingEntry
}

// PositionHolding 按市价（或回退价）计价的持仓
type PositionHolding struct {
	Symbol           string
	Quantity         int64
	AverageCost      decimal.Decimal
	Price            decimal.Decimal // 计价所用价格
	PriceSource      PriceSource
	PreviousClose    decimal.Decimal // 回退计价时为零值
	DayChange        decimal.Decimal // 每股相对昨收
	DayChangePercent decimal.Decimal
	CurrentValue     decimal.Decimal
	Percentage       decimal.Decimal
}

func (h PositionHolding) Kind() HoldingKind        { return HoldingKindPosition }
func (h PositionHolding) EntrySymbol() string      { return h.Symbol }
func (h PositionHolding) Value() decimal.Decimal   { return h.CurrentValue }
func (h PositionHolding) Percent() decimal.Decimal { return h.Percentage }

// CostBasis 持仓成本
func (h PositionHolding) CostBasis() decimal.Decimal {
	return h.AverageCost.Mul(decimal.NewFromInt(h.Quantity))
}

// UnrealizedPnL 未实现盈亏 = 市值 - 成本
func (h PositionHolding) UnrealizedPnL() decimal.Decimal {
	return h.CurrentValue.Sub(h.CostBasis())
}

func (h PositionHolding) withPercentage(total decimal.Decimal) HoldingEntry {
	h.Percentage = percentOf(h.CurrentValue, total)
	return h
}

// CashHolding 现金条目
type CashHolding struct {
	Amount     decimal.Decimal
	Percentage decimal.Decimal
}

func (h CashHolding) Kind() HoldingKind        { return HoldingKindCash }
func (h CashHolding) EntrySymbol() string      { return CashSymbol }
func (h CashHolding) Value() decimal.Decimal   { return h.Amount }
func (h CashHolding) Percent() decimal.Decimal { return h.Percentage }

func (h CashHolding) withPercentage(total decimal.Decimal) HoldingEntry {
	h.Percentage = percentOf(h.Amount, total)
	return h
}

func percentOf(v, total decimal.Decimal) decimal.Decimal {
	if total.IsZero() {
		return decimal.Zero
	}
	return v.Div(total).Mul(decimal.NewFromInt(100))
}

// Valuation 某一时点的组合估值
type Valuation struct {
	UserID    string
	Name      string
	Cash      decimal.Decimal
	Total     decimal.Decimal
	Breakdown []HoldingEntry
	AsOf      time.Time
}

// NewValuation 汇总现金与持仓条目，计算总值与各条目占比
// 现金 > 0 时追加一条 CASH 条目
func NewValuation(user User, holdings []PositionHolding, asOf time.Time) *Valuation {
	total := user.Cash
	entries := make([]HoldingEntry, 0, len(holdings)+1)
	for _, h := range holdings {
		total = total.Add(h.CurrentValue)
		entries = append(entries, h)
	}
	if user.Cash.IsPositive() {
		entries = append(entries, CashHolding{Amount: user.Cash})
	}
	for i, e := range entries {
		entries[i] = e.withPercentage(total)
	}
	return &Valuation{
		UserID:    user.ID,
		Name:      user.DisplayName(),
		Cash:      user.Cash,
		Total:     total,
		Breakdown: entries,
		AsOf:      asOf,
	}
}

// PositionsValue 持仓市值合计（不含现金）
func (v *Valuation) PositionsValue() decimal.Decimal {
	return v.Total.Sub(v.Cash)
}

// FallbackCount 使用回退价格的持仓条目数
func (v *Valuation) FallbackCount() int {
	n := 0
	for _, e := range v.Breakdown {
		if h, ok := e.(PositionHolding); ok && h.PriceSource == PriceSourceFallback {
			n++
		}
	}
	return n
}
