package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/betbot/stockledger/internal/domain"
	"github.com/betbot/stockledger/pkg/httpclient"
	"github.com/shopspring/decimal"
)

const DefaultAlpacaBaseURL = "https://data.alpaca.markets/v2"

// AlpacaProvider Alpaca market-data v2 snapshots
type AlpacaProvider struct {
	client    *httpclient.Client
	keyID     string
	secretKey string
}

func NewAlpacaProvider(baseURL, keyID, secretKey string, timeout time.Duration) *AlpacaProvider {
	if baseURL == "" {
		baseURL = DefaultAlpacaBaseURL
	}
	return &AlpacaProvider{
		client:    httpclient.NewClient(baseURL, httpclient.Options{Timeout: timeout, RetryCount: 1}),
		keyID:     keyID,
		secretKey: secretKey,
	}
}

func (p *AlpacaProvider) Name() string { return "alpaca" }

type alpacaSnapshot struct {
	LatestTrade *struct {
		P decimal.Decimal `json:"p"`
	} `json:"latestTrade"`
	LatestQuote *struct {
		AP decimal.Decimal `json:"ap"`
	} `json:"latestQuote"`
	PrevDailyBar *struct {
		C decimal.Decimal `json:"c"`
	} `json:"prevDailyBar"`
}

func (p *AlpacaProvider) Fetch(ctx context.Context, symbol string) (domain.Quote, error) {
	var resp map[string]alpacaSnapshot
	err := p.client.GetJSON(ctx, "/stocks/snapshots", &httpclient.RequestOptions{
		Headers: map[string]string{
			"APCA-API-KEY-ID":     p.keyID,
			"APCA-API-SECRET-KEY": p.secretKey,
		},
		Params: map[string]any{"symbols": symbol},
	}, &resp)
	if err != nil {
		return domain.Quote{}, err
	}

	snap, ok := resp[symbol]
	if !ok {
		// Alpaca 对不存在或已退市的标的返回 200 {}
		return domain.Quote{}, fmt.Errorf("%w: no snapshot for %s", errUnknownSymbol, symbol)
	}

	// 当前价：最新成交价，其次卖一价；昨收缺失时取当前价
	current := decimal.Zero
	if snap.LatestTrade != nil && snap.LatestTrade.P.IsPositive() {
		current = snap.LatestTrade.P
	} else if snap.LatestQuote != nil {
		current = snap.LatestQuote.AP
	}
	prev := current
	if snap.PrevDailyBar != nil && snap.PrevDailyBar.C.IsPositive() {
		prev = snap.PrevDailyBar.C
	}
	return domain.Quote{Symbol: symbol, Current: current, PreviousClose: prev}, nil
}
