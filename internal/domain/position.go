package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position 持仓领域模型，(UserID, Symbol) 唯一
// Quantity > 0 时才存在；归零即删除，因此 AverageCost 只在持仓存在时有意义
type Position struct {
	UserID      string
	Symbol      string
	Quantity    int64           // 持仓数量
	AverageCost decimal.Decimal // 加权平均成本
	UpdatedAt   time.Time
}

// CostBasis 总成本 = Quantity * AverageCost
func (p Position) CostBasis() decimal.Decimal {
	return p.AverageCost.Mul(decimal.NewFromInt(p.Quantity))
}

// ApplyBuy 买入后的持仓：数量累加，平均成本按数量加权
// p 为 nil 表示此前无持仓（Absent -> Open）
func ApplyBuy(p *Position, userID, symbol string, shares int64, price decimal.Decimal) Position {
	if p == nil || p.Quantity <= 0 {
		return Position{UserID: userID, Symbol: symbol, Quantity: shares, AverageCost: price}
	}
	newQty := p.Quantity + shares
	return Position{
		UserID:      p.UserID,
		Symbol:      p.Symbol,
		Quantity:    newQty,
		AverageCost: weightedAvg(p.AverageCost, p.Quantity, price, shares),
	}
}

// ApplySell 卖出后的持仓；返回 nil 表示全部卖出（Open -> Absent）
// 部分卖出时平均成本保持不变，不单独记录已实现盈亏
func ApplySell(p Position, shares int64) *Position {
	remaining := p.Quantity - shares
	if remaining <= 0 {
		return nil
	}
	next := p
	next.Quantity = remaining
	return &next
}

func weightedAvg(existingAvg decimal.Decimal, existingQty int64, newPrice decimal.Decimal, newQty int64) decimal.Decimal {
	if existingQty == 0 {
		return newPrice
	}
	eq := decimal.NewFromInt(existingQty)
	nq := decimal.NewFromInt(newQty)
	return existingAvg.Mul(eq).
		Add(newPrice.Mul(nq)).
		Div(eq.Add(nq))
}
