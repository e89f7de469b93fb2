package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/betbot/stockledger/internal/events"
	"github.com/betbot/stockledger/internal/marketdata"
	"github.com/betbot/stockledger/internal/ports"
	"github.com/betbot/stockledger/internal/services"
	"github.com/betbot/stockledger/internal/storage"
	"github.com/betbot/stockledger/pkg/config"
	"github.com/betbot/stockledger/pkg/logger"
	"github.com/betbot/stockledger/pkg/ratelimit"
	"github.com/betbot/stockledger/pkg/secretstore"
)

// App 进程内共享的组件（server 与 ledgerctl 共用）
type App struct {
	Config *config.Config

	Store    ports.Store
	Events   *events.Bus
	Oracle   *marketdata.Oracle
	Trades   *services.TradeExecutor
	Valuator *services.Valuator
	Ranking  *services.RankingService
	History  *services.HistorySnapshotter
}

// OpenSecrets 未配置路径、或只读打开时库尚不存在，返回 nil（只读环境变量）
func OpenSecrets(cfg config.SecretsConfig, readOnly bool) (*secretstore.Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, nil
	}
	if readOnly {
		if _, err := os.Stat(cfg.Path); errors.Is(err, fs.ErrNotExist) {
			logger.Warnf("secret store %s 不存在，仅使用环境变量", cfg.Path)
			return nil, nil
		}
	}
	key, err := secretstore.ParseKey(cfg.Key)
	if err != nil {
		return nil, err
	}
	return secretstore.Open(secretstore.OpenOptions{Path: cfg.Path, EncryptionKey: key, ReadOnly: readOnly})
}

// LoadConfig 读取配置、解析密钥并校验
func LoadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	ss, err := OpenSecrets(cfg.Secrets, true)
	if err != nil {
		return nil, fmt.Errorf("open secret store: %w", err)
	}
	cfg.ResolveSecrets(ss)
	if ss != nil {
		_ = ss.Close()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewProvider 按 market.provider 选择行情源
func NewProvider(cfg *config.Config) (marketdata.Provider, error) {
	m := cfg.Market
	switch m.Provider {
	case "alpaca":
		base := m.BaseURL
		if base == "" {
			base = marketdata.DefaultAlpacaBaseURL
		}
		if cfg.AlpacaAPIKey == "" {
			logger.Warnf("ALPACA_API_KEY 未配置，报价请求将失败并回退到平均成本")
		}
		return marketdata.NewAlpacaProvider(base, cfg.AlpacaAPIKey, cfg.AlpacaSecretKey, m.QuoteTimeout), nil
	case "http":
		return marketdata.NewHTTPProvider(marketdata.HTTPProviderConfig{
			URLTemplate:       m.HTTP.URLTemplate,
			PricePath:         m.HTTP.PricePath,
			PreviousClosePath: m.HTTP.PreviousClosePath,
			Timeout:           m.QuoteTimeout,
		})
	case "static":
		return marketdata.NewStaticProvider(m.StaticPrices), nil
	}
	return nil, fmt.Errorf("unknown market provider %q", m.Provider)
}

// New 打开存储并组装服务
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	store, err := storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	provider, err := NewProvider(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var limiter ratelimit.RateLimiter
	if cfg.Market.RateLimitPerSec > 0 {
		burst := int(cfg.Market.RateLimitPerSec)
		if burst < 1 {
			burst = 1
		}
		limiter = ratelimit.NewTokenBucket(burst, cfg.Market.RateLimitPerSec)
	}
	oracle := marketdata.NewOracle(provider, marketdata.OracleOptions{
		Timeout:  cfg.Market.QuoteTimeout,
		CacheTTL: cfg.Market.CacheTTL,
		Limiter:  limiter,
		Breaker:  marketdata.NewCircuitBreaker(cfg.Market.BreakerThreshold, cfg.Market.BreakerCooldown),
	})

	bus := events.NewBus()
	valuator := services.NewValuator(store, oracle, cfg.ValuationConcurrency)
	trades := services.NewTradeExecutor(store)
	trades.SetEventBus(bus)
	history := services.NewHistorySnapshotter(store, valuator, cfg.SnapshotWorkers)
	history.SetEventBus(bus)

	logger.Infof("app ready: storage=%s provider=%s cache_ttl=%s", cfg.Storage.Driver, provider.Name(), cfg.Market.CacheTTL)
	return &App{
		Config:   cfg,
		Store:    store,
		Events:   bus,
		Oracle:   oracle,
		Trades:   trades,
		Valuator: valuator,
		Ranking:  services.NewRankingService(store, valuator, cfg.ValuationConcurrency),
		History:  history,
	}, nil
}

func (a *App) Close() error {
	a.Oracle.Close()
	return a.Store.Close()
}
