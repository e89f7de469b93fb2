package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote 行情报价（每次估值时获取，不持久化）
type Quote struct {
	Symbol        string
	Current       decimal.Decimal
	PreviousClose decimal.Decimal
	AsOf          time.Time
}

// Change 相对昨收的涨跌额
func (q Quote) Change() decimal.Decimal {
	return q.Current.Sub(q.PreviousClose)
}

// ChangePercent 相对昨收的涨跌幅（%），昨收无效时为 0
func (q Quote) ChangePercent() decimal.Decimal {
	if !q.PreviousClose.IsPositive() {
		return decimal.Zero
	}
	return q.Change().Div(q.PreviousClose).Mul(decimal.NewFromInt(100))
}
