package marketdata

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/betbot/stockledger/internal/domain"
	"github.com/betbot/stockledger/internal/ports"
	"github.com/betbot/stockledger/pkg/ratelimit"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ ports.QuoteGetter = (*Oracle)(nil)

type fakeProvider struct {
	calls int32
	delay time.Duration
	fn    func(symbol string) (domain.Quote, error)
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Fetch(ctx context.Context, symbol string) (domain.Quote, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return domain.Quote{}, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	return f.fn(symbol)
}

func priceOf(v string) func(string) (domain.Quote, error) {
	return func(symbol string) (domain.Quote, error) {
		return domain.Quote{Current: decimal.RequireFromString(v)}, nil
	}
}

func TestOracle_NormalizesSymbolAndPreviousClose(t *testing.T) {
	o := NewOracle(&fakeProvider{fn: priceOf("150")}, OracleOptions{})
	defer o.Close()

	q, err := o.Quote(context.Background(), " aapl ")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q.Symbol)
	assert.True(t, q.PreviousClose.Equal(decimal.NewFromInt(150)))
	assert.False(t, q.AsOf.IsZero())
}

func TestOracle_ErrorsAreNormalized(t *testing.T) {
	cause := errors.New("connection reset")
	p := &fakeProvider{fn: func(string) (domain.Quote, error) { return domain.Quote{}, cause }}
	o := NewOracle(p, OracleOptions{CacheTTL: time.Minute})
	defer o.Close()

	_, err := o.Quote(context.Background(), "XYZ")
	require.ErrorIs(t, err, domain.ErrPriceUnavailable)
	assert.ErrorIs(t, err, cause)

	// 失败不缓存
	_, err = o.Quote(context.Background(), "XYZ")
	require.ErrorIs(t, err, domain.ErrPriceUnavailable)
	assert.Equal(t, int32(2), atomic.LoadInt32(&p.calls))
}

func TestOracle_RejectsNonPositivePrice(t *testing.T) {
	o := NewOracle(&fakeProvider{fn: priceOf("0")}, OracleOptions{})
	defer o.Close()

	_, err := o.Quote(context.Background(), "ZERO")
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)

	_, err = o.Quote(context.Background(), "   ")
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestOracle_Timeout(t *testing.T) {
	p := &fakeProvider{delay: time.Second, fn: priceOf("1")}
	o := NewOracle(p, OracleOptions{Timeout: 20 * time.Millisecond})
	defer o.Close()

	start := time.Now()
	_, err := o.Quote(context.Background(), "SLOW")
	require.ErrorIs(t, err, domain.ErrPriceUnavailable)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestOracle_CachesSuccess(t *testing.T) {
	p := &fakeProvider{fn: priceOf("10")}
	o := NewOracle(p, OracleOptions{CacheTTL: time.Minute})
	defer o.Close()

	for i := 0; i < 3; i++ {
		_, err := o.Quote(context.Background(), "MSFT")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&p.calls))
}

func TestOracle_CoalescesConcurrentLookups(t *testing.T) {
	p := &fakeProvider{delay: 50 * time.Millisecond, fn: priceOf("10")}
	o := NewOracle(p, OracleOptions{})
	defer o.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.Quote(context.Background(), "NVDA")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, atomic.LoadInt32(&p.calls), int32(2))
}

func TestOracle_RateLimitedByContext(t *testing.T) {
	limiter := ratelimit.NewTokenBucket(1, 0)
	require.True(t, limiter.Allow())

	o := NewOracle(&fakeProvider{fn: priceOf("10")}, OracleOptions{Timeout: 20 * time.Millisecond, Limiter: limiter})
	defer o.Close()

	_, err := o.Quote(context.Background(), "AMZN")
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestStaticProvider(t *testing.T) {
	o := NewOracle(NewStaticProvider(map[string]decimal.Decimal{"aapl": decimal.NewFromInt(150)}), OracleOptions{})
	defer o.Close()

	q, err := o.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.True(t, q.Current.Equal(decimal.NewFromInt(150)))

	_, err = o.Quote(context.Background(), "XYZ")
	assert.ErrorIs(t, err, domain.ErrPriceUnavailable)
}

func TestOracle_HangingSymbolDoesNotBlockOthers(t *testing.T) {
	p := &fakeProvider{fn: priceOf("10")}
	hang := &fakeProvider{delay: time.Hour, fn: priceOf("10")}
	o := NewOracle(providerFunc(func(ctx context.Context, symbol string) (domain.Quote, error) {
		if symbol == "HANG" {
			return hang.Fetch(ctx, symbol)
		}
		return p.Fetch(ctx, symbol)
	}), OracleOptions{Timeout: 100 * time.Millisecond})
	defer o.Close()

	start := time.Now()
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i, sym := range []string{"HANG", "AAPL", "MSFT", "NVDA"} {
		i, sym := i, sym
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = o.Quote(context.Background(), sym)
		}()
	}
	wg.Wait()

	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, errs[0], domain.ErrPriceUnavailable)
	for _, err := range errs[1:] {
		assert.NoError(t, err)
	}
}

type providerFunc func(ctx context.Context, symbol string) (domain.Quote, error)

func (f providerFunc) Name() string { return "func" }

func (f providerFunc) Fetch(ctx context.Context, symbol string) (domain.Quote, error) {
	return f(ctx, symbol)
}
