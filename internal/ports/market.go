package ports

import (
	"context"

	"github.com/betbot/stockledger/internal/domain"
)

// QuoteGetter 估值侧依赖的报价能力；失败统一为 domain.ErrPriceUnavailable
type QuoteGetter interface {
	Quote(ctx context.Context, symbol string) (domain.Quote, error)
}
