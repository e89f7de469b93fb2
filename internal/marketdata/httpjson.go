package marketdata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/betbot/stockledger/internal/domain"
	"github.com/betbot/stockledger/pkg/httpclient"
	"github.com/shopspring/decimal"
)

// HTTPProvider 通用 JSON 行情接口：URL 模板中的 {symbol} 被替换，价格通过 JSONPath 提取
type HTTPProvider struct {
	client       *httpclient.Client
	urlTemplate  string
	pricePath    string
	prevPath     string
	extraHeaders map[string]string
}

type HTTPProviderConfig struct {
	URLTemplate       string
	PricePath         string
	PreviousClosePath string
	Headers           map[string]string
	Timeout           time.Duration
}

func NewHTTPProvider(cfg HTTPProviderConfig) (*HTTPProvider, error) {
	if !strings.Contains(cfg.URLTemplate, "{symbol}") {
		return nil, fmt.Errorf("url template %q must contain {symbol}", cfg.URLTemplate)
	}
	if cfg.PricePath == "" {
		cfg.PricePath = "$.data.price"
	}
	return &HTTPProvider{
		// 完整 URL 由模板给出，不设 base
		client:       httpclient.NewClient("", httpclient.Options{Timeout: cfg.Timeout, RetryCount: 1}),
		urlTemplate:  cfg.URLTemplate,
		pricePath:    cfg.PricePath,
		prevPath:     cfg.PreviousClosePath,
		extraHeaders: cfg.Headers,
	}, nil
}

func (p *HTTPProvider) Name() string { return "http" }

func (p *HTTPProvider) Fetch(ctx context.Context, symbol string) (domain.Quote, error) {
	addr := strings.ReplaceAll(p.urlTemplate, "{symbol}", url.PathEscape(symbol))
	body, err := p.client.Do(ctx, http.MethodGet, addr, &httpclient.RequestOptions{Headers: p.extraHeaders})
	if err != nil {
		return domain.Quote{}, err
	}

	// UseNumber 保留原始数字文本，价格不经过 float64
	var jobj any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&jobj); err != nil {
		return domain.Quote{}, fmt.Errorf("decode %s: %w", symbol, err)
	}

	// 响应正常但取不到价格：按标的不存在处理，不计入断路器
	current, err := lookupDecimal(jobj, p.pricePath)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("%w: price for %s: %w", errUnknownSymbol, symbol, err)
	}
	prev := current
	if p.prevPath != "" {
		// 昨收解析失败不算错误，退化为当前价
		if v, err := lookupDecimal(jobj, p.prevPath); err == nil && v.IsPositive() {
			prev = v
		}
	}
	return domain.Quote{Symbol: symbol, Current: current, PreviousClose: prev}, nil
}

func lookupDecimal(jobj any, path string) (decimal.Decimal, error) {
	jval, err := jsonpath.Get(path, jobj)
	if err != nil {
		return decimal.Zero, fmt.Errorf("jsonpath %q: %w", path, err)
	}
	// jsonpath 可能返回单元素列表，取第一个
	if jlist, ok := jval.([]any); ok {
		if len(jlist) == 0 {
			return decimal.Zero, fmt.Errorf("jsonpath %q: empty result", path)
		}
		jval = jlist[0]
	}
	switch v := jval.(type) {
	case json.Number:
		return decimal.NewFromString(v.String())
	case float64:
		return decimal.NewFromFloat(v), nil
	case string:
		return decimal.NewFromString(strings.TrimSpace(v))
	default:
		return decimal.Zero, fmt.Errorf("jsonpath %q: not a number: %v", path, jval)
	}
}
