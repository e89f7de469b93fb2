package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/betbot/stockledger/pkg/secretstore"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Listen        string
	MetricsListen string // 独立的 expvar/pprof 端口，空表示不启动
}

// StorageConfig 存储配置
type StorageConfig struct {
	Driver string // sqlite | postgres | memory
	DSN    string // sqlite 为文件路径，postgres 为连接串
}

// HTTPQuoteConfig 通用 JSON 行情源
type HTTPQuoteConfig struct {
	URLTemplate       string // 含 {symbol} 占位符
	PricePath         string // JSONPath，例如 $.data.price
	PreviousClosePath string
}

// MarketConfig 行情配置
type MarketConfig struct {
	Provider        string // alpaca | http | static
	BaseURL         string
	QuoteTimeout    time.Duration
	CacheTTL        time.Duration // 0 关闭缓存
	RateLimitPerSec float64       // 0 不限速
	HTTP            HTTPQuoteConfig
	StaticPrices    map[string]decimal.Decimal

	// 连续上游失败 BreakerThreshold 次后熔断 BreakerCooldown；阈值 0 关闭
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// SecretsConfig Badger 密钥库
type SecretsConfig struct {
	Path string // 为空时只读环境变量
	Key  string // 32 字节 hex/base64
}

// Config 运行配置
type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Market  MarketConfig
	Secrets SecretsConfig

	ValuationConcurrency    int
	SnapshotInterval        time.Duration // 0 关闭定时快照
	SnapshotWorkers         int
	StartingCash            decimal.Decimal
	LeaderboardPushInterval time.Duration

	LogLevel string
	LogFile  string

	// 以下由 ResolveSecrets 填充：环境变量优先，其次密钥库 env/<KEY>
	AlpacaAPIKey    string
	AlpacaSecretKey string
	CronSecret      string
}

// ConfigFile 配置文件结构（YAML/JSON）
type ConfigFile struct {
	Server struct {
		Listen        string `yaml:"listen" json:"listen"`
		MetricsListen string `yaml:"metrics_listen" json:"metrics_listen"`
	} `yaml:"server" json:"server"`
	Storage struct {
		Driver string `yaml:"driver" json:"driver"`
		DSN    string `yaml:"dsn" json:"dsn"`
	} `yaml:"storage" json:"storage"`
	Market struct {
		Provider         string  `yaml:"provider" json:"provider"`
		BaseURL          string  `yaml:"base_url" json:"base_url"`
		QuoteTimeout     string  `yaml:"quote_timeout" json:"quote_timeout"`
		CacheTTL         string  `yaml:"cache_ttl" json:"cache_ttl"`
		RateLimitPerSec  float64 `yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
		BreakerThreshold *int    `yaml:"breaker_threshold" json:"breaker_threshold"`
		BreakerCooldown  string  `yaml:"breaker_cooldown" json:"breaker_cooldown"`
		HTTP             struct {
			URLTemplate       string `yaml:"url_template" json:"url_template"`
			PricePath         string `yaml:"price_path" json:"price_path"`
			PreviousClosePath string `yaml:"previous_close_path" json:"previous_close_path"`
		} `yaml:"http" json:"http"`
		StaticPrices map[string]string `yaml:"static_prices" json:"static_prices"`
	} `yaml:"market" json:"market"`
	Valuation struct {
		Concurrency int `yaml:"concurrency" json:"concurrency"`
	} `yaml:"valuation" json:"valuation"`
	Snapshot struct {
		Interval string `yaml:"interval" json:"interval"`
		Workers  int    `yaml:"workers" json:"workers"`
	} `yaml:"snapshot" json:"snapshot"`
	Ledger struct {
		StartingCash string `yaml:"starting_cash" json:"starting_cash"`
	} `yaml:"ledger" json:"ledger"`
	API struct {
		LeaderboardPushInterval string `yaml:"leaderboard_push_interval" json:"leaderboard_push_interval"`
	} `yaml:"api" json:"api"`
	Secrets struct {
		Path string `yaml:"path" json:"path"`
		Key  string `yaml:"key" json:"key"`
	} `yaml:"secrets" json:"secrets"`
	LogLevel string `yaml:"log_level" json:"log_level"`
	LogFile  string `yaml:"log_file" json:"log_file"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Listen: ":8080"},
		Storage: StorageConfig{Driver: "sqlite", DSN: "data/stockledger.db"},
		Market: MarketConfig{
			Provider:     "alpaca",
			QuoteTimeout: 2 * time.Second,
			CacheTTL:     15 * time.Second,
			HTTP:         HTTPQuoteConfig{PricePath: "$.data.price"},

			BreakerThreshold: 5,
			BreakerCooldown:  30 * time.Second,
		},
		ValuationConcurrency:    8,
		SnapshotInterval:        time.Hour,
		SnapshotWorkers:         4,
		StartingCash:            decimal.NewFromInt(100000),
		LeaderboardPushInterval: 10 * time.Second,
		LogLevel:                "info",
	}
}

// Load 默认值 <- 配置文件（可选）<- 环境变量
func Load(filePath string) (*Config, error) {
	cfg := Default()
	if filePath != "" {
		cf, err := loadConfigFile(filePath)
		if err != nil {
			return nil, err
		}
		if err := cfg.applyFile(cf); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON）
func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var configFile ConfigFile
	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}
	return &configFile, nil
}

func (c *Config) applyFile(cf *ConfigFile) error {
	setString(&c.Server.Listen, cf.Server.Listen)
	setString(&c.Server.MetricsListen, cf.Server.MetricsListen)
	setString(&c.Storage.Driver, cf.Storage.Driver)
	setString(&c.Storage.DSN, cf.Storage.DSN)
	setString(&c.Market.Provider, cf.Market.Provider)
	setString(&c.Market.BaseURL, cf.Market.BaseURL)
	setString(&c.Market.HTTP.URLTemplate, cf.Market.HTTP.URLTemplate)
	setString(&c.Market.HTTP.PricePath, cf.Market.HTTP.PricePath)
	setString(&c.Market.HTTP.PreviousClosePath, cf.Market.HTTP.PreviousClosePath)
	setString(&c.Secrets.Path, cf.Secrets.Path)
	setString(&c.Secrets.Key, cf.Secrets.Key)
	setString(&c.LogLevel, cf.LogLevel)
	setString(&c.LogFile, cf.LogFile)

	if cf.Market.RateLimitPerSec > 0 {
		c.Market.RateLimitPerSec = cf.Market.RateLimitPerSec
	}
	if cf.Market.BreakerThreshold != nil {
		c.Market.BreakerThreshold = *cf.Market.BreakerThreshold
	}
	if cf.Valuation.Concurrency > 0 {
		c.ValuationConcurrency = cf.Valuation.Concurrency
	}
	if cf.Snapshot.Workers > 0 {
		c.SnapshotWorkers = cf.Snapshot.Workers
	}

	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"market.quote_timeout", cf.Market.QuoteTimeout, &c.Market.QuoteTimeout},
		{"market.cache_ttl", cf.Market.CacheTTL, &c.Market.CacheTTL},
		{"market.breaker_cooldown", cf.Market.BreakerCooldown, &c.Market.BreakerCooldown},
		{"snapshot.interval", cf.Snapshot.Interval, &c.SnapshotInterval},
		{"api.leaderboard_push_interval", cf.API.LeaderboardPushInterval, &c.LeaderboardPushInterval},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}

	if cf.Ledger.StartingCash != "" {
		v, err := decimal.NewFromString(cf.Ledger.StartingCash)
		if err != nil {
			return fmt.Errorf("ledger.starting_cash: %w", err)
		}
		c.StartingCash = v
	}
	if len(cf.Market.StaticPrices) > 0 {
		prices := make(map[string]decimal.Decimal, len(cf.Market.StaticPrices))
		for sym, raw := range cf.Market.StaticPrices {
			v, err := decimal.NewFromString(raw)
			if err != nil {
				return fmt.Errorf("market.static_prices.%s: %w", sym, err)
			}
			prices[strings.ToUpper(sym)] = v
		}
		c.Market.StaticPrices = prices
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Server.Listen = getEnv("STOCKLEDGER_LISTEN", c.Server.Listen)
	c.Server.MetricsListen = getEnv("METRICS_LISTEN", c.Server.MetricsListen)
	c.Storage.Driver = getEnv("STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.DSN = getEnv("STORAGE_DSN", c.Storage.DSN)
	c.Market.Provider = getEnv("MARKET_PROVIDER", c.Market.Provider)
	c.Market.BaseURL = getEnv("MARKET_BASE_URL", c.Market.BaseURL)
	c.Market.QuoteTimeout = parseDurationEnv("MARKET_QUOTE_TIMEOUT", c.Market.QuoteTimeout)
	c.Market.CacheTTL = parseDurationEnv("MARKET_CACHE_TTL", c.Market.CacheTTL)
	c.Market.RateLimitPerSec = parseFloatEnv("MARKET_RATE_LIMIT_PER_SEC", c.Market.RateLimitPerSec)
	c.Market.BreakerThreshold = parseIntEnv("MARKET_BREAKER_THRESHOLD", c.Market.BreakerThreshold)
	c.Market.BreakerCooldown = parseDurationEnv("MARKET_BREAKER_COOLDOWN", c.Market.BreakerCooldown)
	c.Market.HTTP.URLTemplate = getEnv("MARKET_HTTP_URL_TEMPLATE", c.Market.HTTP.URLTemplate)
	c.Market.HTTP.PricePath = getEnv("MARKET_HTTP_PRICE_PATH", c.Market.HTTP.PricePath)
	c.Market.HTTP.PreviousClosePath = getEnv("MARKET_HTTP_PREVIOUS_CLOSE_PATH", c.Market.HTTP.PreviousClosePath)
	c.ValuationConcurrency = parseIntEnv("VALUATION_CONCURRENCY", c.ValuationConcurrency)
	c.SnapshotInterval = parseDurationEnv("SNAPSHOT_INTERVAL", c.SnapshotInterval)
	c.SnapshotWorkers = parseIntEnv("SNAPSHOT_WORKERS", c.SnapshotWorkers)
	c.LeaderboardPushInterval = parseDurationEnv("API_LEADERBOARD_PUSH_INTERVAL", c.LeaderboardPushInterval)
	c.Secrets.Path = getEnv("SECRETS_PATH", c.Secrets.Path)
	c.Secrets.Key = getEnv("SECRETS_KEY", c.Secrets.Key)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)

	if raw := os.Getenv("LEDGER_STARTING_CASH"); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("LEDGER_STARTING_CASH: %w", err)
		}
		c.StartingCash = v
	}
	// MARKET_STATIC_PRICES=AAPL=150,MSFT=410.5
	if raw := os.Getenv("MARKET_STATIC_PRICES"); raw != "" {
		prices, err := parsePriceList(raw)
		if err != nil {
			return fmt.Errorf("MARKET_STATIC_PRICES: %w", err)
		}
		c.Market.StaticPrices = prices
	}
	return nil
}

// ResolveSecrets 填充 API 密钥：环境变量优先，其次密钥库；store 可以为 nil
func (c *Config) ResolveSecrets(store *secretstore.Store) {
	c.AlpacaAPIKey, _ = secretstore.LookupEnv(store, "ALPACA_API_KEY")
	c.AlpacaSecretKey, _ = secretstore.LookupEnv(store, "ALPACA_SECRET_KEY")
	c.CronSecret, _ = secretstore.LookupEnv(store, "CRON_SECRET")
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("storage.driver 不支持: %q", c.Storage.Driver)
	}
	if c.Storage.Driver != "memory" && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn 未配置")
	}
	switch c.Market.Provider {
	case "alpaca":
	case "http":
		if !strings.Contains(c.Market.HTTP.URLTemplate, "{symbol}") {
			return fmt.Errorf("market.http.url_template 必须包含 {symbol}")
		}
	case "static":
		if len(c.Market.StaticPrices) == 0 {
			return fmt.Errorf("market.static_prices 不能为空")
		}
	default:
		return fmt.Errorf("market.provider 不支持: %q", c.Market.Provider)
	}
	if c.Market.QuoteTimeout <= 0 {
		return fmt.Errorf("market.quote_timeout 必须大于 0")
	}
	if c.Market.CacheTTL < 0 {
		return fmt.Errorf("market.cache_ttl 不能为负数")
	}
	if c.Market.RateLimitPerSec < 0 {
		return fmt.Errorf("market.rate_limit_per_sec 不能为负数")
	}
	if c.Market.BreakerThreshold < 0 {
		return fmt.Errorf("market.breaker_threshold 不能为负数")
	}
	if c.ValuationConcurrency <= 0 {
		return fmt.Errorf("valuation.concurrency 必须大于 0")
	}
	if c.SnapshotInterval < 0 {
		return fmt.Errorf("snapshot.interval 不能为负数")
	}
	if c.SnapshotWorkers <= 0 {
		return fmt.Errorf("snapshot.workers 必须大于 0")
	}
	if c.StartingCash.IsNegative() {
		return fmt.Errorf("ledger.starting_cash 不能为负数")
	}
	return nil
}

func parsePriceList(raw string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sym, price, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("invalid entry %q (want SYMBOL=PRICE)", part)
		}
		v, err := decimal.NewFromString(strings.TrimSpace(price))
		if err != nil {
			return nil, fmt.Errorf("invalid price for %s: %w", sym, err)
		}
		out[strings.ToUpper(strings.TrimSpace(sym))] = v
	}
	return out, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseFloatEnv 解析浮点数环境变量
func parseFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseDurationEnv 解析时长环境变量，例如 15s、1h
func parseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
