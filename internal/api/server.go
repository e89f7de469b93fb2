package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/betbot/stockledger/internal/domain"
	"github.com/betbot/stockledger/internal/events"
	"github.com/betbot/stockledger/internal/metrics"
	"github.com/betbot/stockledger/internal/ports"
	"github.com/betbot/stockledger/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

var apiLog = logrus.WithField("component", "api")

type Config struct {
	StartingCash            decimal.Decimal
	CronSecret              string
	LeaderboardPushInterval time.Duration
}

// Server HTTP 层：只做参数解析与错误映射，业务全部委托给 services
type Server struct {
	cfg       Config
	store     ports.Store
	quotes    ports.QuoteGetter
	trades    *services.TradeExecutor
	valuator  *services.Valuator
	ranking   *services.RankingService
	history   *services.HistorySnapshotter
	scheduler *services.SnapshotScheduler
	events    *events.Bus

	minPushGap time.Duration
}

type Deps struct {
	Store     ports.Store
	Quotes    ports.QuoteGetter
	Trades    *services.TradeExecutor
	Valuator  *services.Valuator
	Ranking   *services.RankingService
	History   *services.HistorySnapshotter
	Scheduler *services.SnapshotScheduler // 可选
	Events    *events.Bus                 // 可选，排行榜推送在交易/快照后提前刷新
}

func New(cfg Config, deps Deps) *Server {
	if cfg.LeaderboardPushInterval <= 0 {
		cfg.LeaderboardPushInterval = 10 * time.Second
	}
	return &Server{
		cfg:       cfg,
		store:     deps.Store,
		quotes:    deps.Quotes,
		trades:    deps.Trades,
		valuator:  deps.Valuator,
		ranking:   deps.Ranking,
		history:   deps.History,
		scheduler: deps.Scheduler,
		events:    deps.Events,

		minPushGap: wsMinPushGap,
	}
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", s.wrap(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))
	r.GET("/debug/vars", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	api.POST("/users", s.wrap(s.handleUsersCreate))
	api.GET("/users", s.wrap(s.handleUsersList))

	user := api.Group("/users/:userID")
	user.GET("/balance", s.wrap(s.handleUserBalance))
	user.POST("/trades", s.wrap(s.handleUserTrade))
	user.GET("/portfolio", s.wrap(s.handleUserPortfolio))
	user.GET("/positions/:ticker", s.wrap(s.handleUserPosition))
	user.GET("/history", s.wrap(s.handleUserHistory))
	user.GET("/rank", s.wrap(s.handleUserRank))

	api.GET("/leaderboard", s.wrap(s.handleLeaderboard))
	api.GET("/movers", s.wrap(s.handleMovers))
	api.GET("/quotes/:symbol", s.wrap(s.handleQuote))

	api.POST("/cron/update-history", s.wrap(s.handleCronUpdateHistory))
	api.GET("/jobs/runs", s.wrap(s.handleJobRunsList))
	api.POST("/jobs/snapshot", s.wrap(s.handleJobSnapshotNow))

	api.GET("/ws/leaderboard", s.wrap(s.handleLeaderboardStream))
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		apiLog.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
		}).Debug("request")
	}
}

type paramsKeyType string

const paramsKey paramsKeyType = "stockledger_path_params"

// wrap 把 net/http 风格的 handler 适配到 gin，路径参数注入 request context
func (s *Server) wrap(h func(http.ResponseWriter, *http.Request)) gin.HandlerFunc {
	return func(c *gin.Context) {
		m := map[string]string{}
		for _, p := range c.Params {
			m[p.Key] = p.Value
		}
		ctx := context.WithValue(c.Request.Context(), paramsKey, m)
		c.Request = c.Request.WithContext(ctx)
		h(c.Writer, c.Request)
	}
}

func pathParam(r *http.Request, key string) string {
	m, _ := r.Context().Value(paramsKey).(map[string]string)
	return m[key]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// envelope 交易与任务类接口的统一响应
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Message: msg})
}

// statusFor 领域错误到 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrUnknownTradeType):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientFunds), errors.Is(err, domain.ErrInsufficientShares):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPriceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		apiLog.Errorf("internal error: %v", err)
		msg = "internal error"
	}
	writeError(w, status, msg)
}
