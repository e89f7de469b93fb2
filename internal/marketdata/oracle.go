package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/betbot/stockledger/internal/domain"
	"github.com/betbot/stockledger/internal/metrics"
	"github.com/betbot/stockledger/pkg/cache"
	"github.com/betbot/stockledger/pkg/logger"
	"github.com/betbot/stockledger/pkg/ratelimit"
	"golang.org/x/sync/singleflight"
)

const DefaultQuoteTimeout = 2 * time.Second

var (
	errUnknownSymbol    = errors.New("unknown symbol")
	errNonPositivePrice = errors.New("non-positive price")
)

type OracleOptions struct {
	// Timeout 单次报价的上限，<=0 使用 DefaultQuoteTimeout
	Timeout time.Duration
	// CacheTTL 成功报价的缓存时长，0 关闭缓存
	CacheTTL time.Duration
	// Limiter 可选，保护上游配额
	Limiter ratelimit.RateLimiter
	// Breaker 可选，上游连续失败时快速失败（估值直接回退到平均成本）
	Breaker *CircuitBreaker
}

// Oracle 行情适配器：任何失败都归一化为 domain.ErrPriceUnavailable
type Oracle struct {
	provider Provider
	timeout  time.Duration
	ttl      time.Duration
	cache    *cache.InMemoryCache[string, domain.Quote]
	limiter  ratelimit.RateLimiter
	breaker  *CircuitBreaker
	group    singleflight.Group
	now      func() time.Time
}

func NewOracle(provider Provider, opts OracleOptions) *Oracle {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultQuoteTimeout
	}
	o := &Oracle{
		provider: provider,
		timeout:  opts.Timeout,
		ttl:      opts.CacheTTL,
		limiter:  opts.Limiter,
		breaker:  opts.Breaker,
		now:      time.Now,
	}
	if opts.CacheTTL > 0 {
		o.cache = cache.NewInMemoryCache[string, domain.Quote](opts.CacheTTL)
	}
	return o
}

// Close 停止缓存清理协程
func (o *Oracle) Close() {
	if o.cache != nil {
		o.cache.Close()
	}
}

// Quote 返回 symbol 的当前价与昨收；失败时返回包装了 ErrPriceUnavailable 的错误
func (o *Oracle) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	symbol = domain.NormalizeSymbol(symbol)
	if symbol == "" {
		return domain.Quote{}, fmt.Errorf("%w: empty symbol", domain.ErrPriceUnavailable)
	}
	metrics.QuoteRequests.Add(1)

	if o.cache != nil {
		if q, ok := o.cache.Get(symbol); ok {
			metrics.QuoteCacheHits.Add(1)
			return q, nil
		}
	}

	// 同一 symbol 的并发请求合并为一次上游调用；上游调用不跟随单个调用方取消
	ch := o.group.DoChan(symbol, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
		defer cancel()
		return o.fetch(fetchCtx, symbol)
	})

	select {
	case <-ctx.Done():
		metrics.QuoteFailures.Add(1)
		return domain.Quote{}, fmt.Errorf("%w: %s: %w", domain.ErrPriceUnavailable, symbol, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			metrics.QuoteFailures.Add(1)
			logger.WithField("symbol", symbol).Debugf("quote failed: %v", res.Err)
			return domain.Quote{}, fmt.Errorf("%w: %s: %w", domain.ErrPriceUnavailable, symbol, res.Err)
		}
		return res.Val.(domain.Quote), nil
	}
}

func (o *Oracle) fetch(ctx context.Context, symbol string) (domain.Quote, error) {
	if err := o.breaker.Allow(); err != nil {
		metrics.QuoteBreakerRejects.Add(1)
		return domain.Quote{}, err
	}
	// Allow 放行之后的每条退出路径都必须结算断路器：OnSuccess / OnError / Release
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			o.breaker.Release()
			return domain.Quote{}, fmt.Errorf("rate limit (remaining=%d): %w", o.limiter.GetRemaining(), err)
		}
	}

	q, err := o.provider.Fetch(ctx, symbol)
	if err != nil {
		if upstreamFailure(err) {
			o.breaker.OnError()
		} else {
			o.breaker.Release()
		}
		return domain.Quote{}, fmt.Errorf("%s: %w", o.provider.Name(), err)
	}
	o.breaker.OnSuccess()
	if !q.Current.IsPositive() {
		return domain.Quote{}, fmt.Errorf("%s: %w %s", o.provider.Name(), errNonPositivePrice, q.Current)
	}
	if !q.PreviousClose.IsPositive() {
		q.PreviousClose = q.Current
	}
	q.Symbol = symbol
	if q.AsOf.IsZero() {
		q.AsOf = o.now()
	}

	if o.cache != nil {
		o.cache.Set(symbol, q, o.ttl)
	}
	return q, nil
}
