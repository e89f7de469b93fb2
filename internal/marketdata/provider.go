package marketdata

import (
	"context"

	"github.com/betbot/stockledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Provider 外部行情源，只负责拉取一次报价；超时、缓存、错误归一化由 Oracle 负责
type Provider interface {
	Name() string
	Fetch(ctx context.Context, symbol string) (domain.Quote, error)
}

// StaticProvider 固定价格表（开发/测试）
type StaticProvider struct {
	prices map[string]decimal.Decimal
}

func NewStaticProvider(prices map[string]decimal.Decimal) *StaticProvider {
	m := make(map[string]decimal.Decimal, len(prices))
	for sym, p := range prices {
		m[domain.NormalizeSymbol(sym)] = p
	}
	return &StaticProvider{prices: m}
}

func (p *StaticProvider) Name() string { return "static" }

func (p *StaticProvider) Fetch(ctx context.Context, symbol string) (domain.Quote, error) {
	price, ok := p.prices[symbol]
	if !ok {
		return domain.Quote{}, errUnknownSymbol
	}
	return domain.Quote{Symbol: symbol, Current: price, PreviousClose: price}, nil
}
