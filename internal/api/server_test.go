package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/betbot/stockledger/internal/domain"
	"github.com/betbot/stockledger/internal/events"
	"github.com/betbot/stockledger/internal/marketdata"
	"github.com/betbot/stockledger/internal/services"
	"github.com/betbot/stockledger/internal/storage/memory"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	srv   *Server
	h     http.Handler
	store *memory.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.New()
	oracle := marketdata.NewOracle(marketdata.NewStaticProvider(map[string]decimal.Decimal{
		"AAPL": decimal.RequireFromString("200"),
		"MSFT": decimal.RequireFromString("400"),
	}), marketdata.OracleOptions{Timeout: time.Second})
	t.Cleanup(oracle.Close)

	bus := events.NewBus()
	valuator := services.NewValuator(store, oracle, 4)
	trades := services.NewTradeExecutor(store)
	trades.SetEventBus(bus)
	history := services.NewHistorySnapshotter(store, valuator, 2)
	history.SetEventBus(bus)
	srv := New(Config{
		StartingCash:            decimal.NewFromInt(100000),
		CronSecret:              "s3cret",
		LeaderboardPushInterval: 50 * time.Millisecond,
	}, Deps{
		Store:    store,
		Quotes:   oracle,
		Trades:   trades,
		Valuator: valuator,
		Ranking:  services.NewRankingService(store, valuator, 4),
		History:  history,
		Events:   bus,
	})
	return &testEnv{srv: srv, h: srv.Router(), store: store}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *testEnv) createUser(t *testing.T, name string, cash float64) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/users", map[string]any{"name": name, "initial_cash": cash}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[userDTO](t, rec).ID
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateUser_DefaultsAndValidation(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/api/users", map[string]any{"name": "ann"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	u := decode[userDTO](t, rec)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, 100000.0, u.Cash)

	rec = e.do(t, http.MethodPost, "/api/users", map[string]any{"name": "bob", "initial_cash": -1}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/users", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]userDTO](t, rec), 1)
}

func TestTrade_BuyThenSell(t *testing.T) {
	e := newTestEnv(t)
	id := e.createUser(t, "ann", 10000)

	rec := e.do(t, http.MethodPost, "/api/users/"+id+"/trades",
		map[string]any{"ticker": "aapl", "shares": 10, "price": 150, "type": "buy"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	env := decode[struct {
		Success bool         `json:"success"`
		Message string       `json:"message"`
		Data    tradeDataDTO `json:"data"`
	}](t, rec)
	assert.True(t, env.Success)
	assert.Equal(t, "Successfully purchased 10 shares of AAPL at $150.00", env.Message)
	assert.Equal(t, 8500.0, env.Data.CashAfter)
	require.NotNil(t, env.Data.Position)
	assert.Equal(t, int64(10), env.Data.Position.Quantity)

	rec = e.do(t, http.MethodGet, "/api/users/"+id+"/positions/AAPL", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	pos := decode[map[string]any](t, rec)
	assert.Equal(t, 10.0, pos["ownedShares"])
	assert.Equal(t, 150.0, pos["averagePrice"])

	rec = e.do(t, http.MethodPost, "/api/users/"+id+"/trades",
		map[string]any{"ticker": "AAPL", "shares": 10, "price": "160", "type": "sell"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/api/users/"+id+"/balance", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10100.0, decode[map[string]float64](t, rec)["balance"])

	rec = e.do(t, http.MethodGet, "/api/users/"+id+"/positions/AAPL", nil, nil)
	assert.Equal(t, 0.0, decode[map[string]any](t, rec)["ownedShares"])
}

func TestTrade_ErrorMapping(t *testing.T) {
	e := newTestEnv(t)
	id := e.createUser(t, "ann", 100)

	cases := []struct {
		name   string
		path   string
		body   map[string]any
		status int
	}{
		{"zero shares", "/api/users/" + id + "/trades", map[string]any{"ticker": "AAPL", "shares": 0, "price": 1, "type": "buy"}, http.StatusBadRequest},
		{"unknown type", "/api/users/" + id + "/trades", map[string]any{"ticker": "AAPL", "shares": 1, "price": 1, "type": "short"}, http.StatusBadRequest},
		{"unknown user", "/api/users/nobody/trades", map[string]any{"ticker": "AAPL", "shares": 1, "price": 1, "type": "buy"}, http.StatusNotFound},
		{"insufficient funds", "/api/users/" + id + "/trades", map[string]any{"ticker": "AAPL", "shares": 1, "price": 101, "type": "buy"}, http.StatusConflict},
		{"insufficient shares", "/api/users/" + id + "/trades", map[string]any{"ticker": "AAPL", "shares": 1, "price": 1, "type": "sell"}, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, tc.path, tc.body, nil)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			env := decode[envelope](t, rec)
			assert.False(t, env.Success)
			assert.NotEmpty(t, env.Message)
		})
	}

	rec := e.do(t, http.MethodGet, "/api/users/"+id+"/balance", nil, nil)
	assert.Equal(t, 100.0, decode[map[string]float64](t, rec)["balance"])
}

func TestPortfolio_FallbackAndCashEntry(t *testing.T) {
	e := newTestEnv(t)
	id := e.createUser(t, "ann", 1000)
	e.do(t, http.MethodPost, "/api/users/"+id+"/trades", map[string]any{"ticker": "AAPL", "shares": 2, "price": 100, "type": "buy"}, nil)
	e.do(t, http.MethodPost, "/api/users/"+id+"/trades", map[string]any{"ticker": "ZZZZ", "shares": 1, "price": 50, "type": "buy"}, nil)

	rec := e.do(t, http.MethodGet, "/api/users/"+id+"/portfolio", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	v := decode[valuationDTO](t, rec)

	// cash 750 + AAPL 2*200 + ZZZZ 回退到成本 50
	assert.Equal(t, 1200.0, v.Total)
	assert.Equal(t, 1, v.FallbackCount)
	require.Len(t, v.Breakdown, 3)

	bySymbol := map[string]holdingDTO{}
	for _, h := range v.Breakdown {
		bySymbol[h.Symbol] = h
	}
	assert.Equal(t, string(domain.PriceSourceLive), bySymbol["AAPL"].PriceSource)
	assert.Equal(t, string(domain.PriceSourceFallback), bySymbol["ZZZZ"].PriceSource)
	cash := bySymbol[domain.CashSymbol]
	assert.Equal(t, "cash", cash.Kind)
	assert.Equal(t, int64(1), cash.Quantity)
	assert.Equal(t, 750.0, cash.CurrentValue)

	rec = e.do(t, http.MethodGet, "/api/users/missing/portfolio", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLeaderboardAndRank(t *testing.T) {
	e := newTestEnv(t)
	a := e.createUser(t, "ann", 500)
	b := e.createUser(t, "bob", 900)
	e.do(t, http.MethodPost, "/api/users/"+a+"/trades", map[string]any{"ticker": "MSFT", "shares": 1, "price": 100, "type": "buy"}, nil)

	rec := e.do(t, http.MethodGet, "/api/leaderboard", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	board := decode[[]leaderboardEntryDTO](t, rec)
	require.Len(t, board, 2)
	assert.Equal(t, b, board[0].UserID)
	assert.Equal(t, 900.0, board[0].TotalValue)
	assert.Equal(t, a, board[1].UserID)
	assert.Equal(t, 800.0, board[1].TotalValue)

	rec = e.do(t, http.MethodGet, "/api/leaderboard?top=1", nil, nil)
	assert.Len(t, decode[[]leaderboardEntryDTO](t, rec), 1)

	rec = e.do(t, http.MethodGet, "/api/leaderboard?top=x", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/users/"+a+"/rank", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[leaderboardEntryDTO](t, rec).Rank)
}

func TestCronUpdateHistory_AuthAndRun(t *testing.T) {
	e := newTestEnv(t)
	id := e.createUser(t, "ann", 1000)

	rec := e.do(t, http.MethodPost, "/api/cron/update-history", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = e.do(t, http.MethodPost, "/api/cron/update-history", nil, map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/cron/update-history", nil, map[string]string{"Authorization": "Bearer s3cret"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	env := decode[struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}](t, rec)
	assert.True(t, env.Success)
	assert.Equal(t, 1.0, env.Data["ok"])

	rec = e.do(t, http.MethodGet, "/api/users/"+id+"/history", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	hist := decode[[]snapshotDTO](t, rec)
	require.Len(t, hist, 1)
	assert.Equal(t, 1000.0, hist[0].Value)

	rec = e.do(t, http.MethodGet, "/api/jobs/runs?limit=10", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]domain.JobRun](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, services.SnapshotJobName, runs[0].JobName)
	assert.Equal(t, services.TriggerCron, runs[0].Trigger)
}

func TestCronUpdateHistory_EmptySecretRejects(t *testing.T) {
	e := newTestEnv(t)
	e.srv.cfg.CronSecret = ""
	rec := e.do(t, http.MethodPost, "/api/cron/update-history", nil, map[string]string{"Authorization": "Bearer "})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMovers(t *testing.T) {
	e := newTestEnv(t)
	id := e.createUser(t, "ann", 1000)
	e.do(t, http.MethodPost, "/api/cron/update-history", nil, map[string]string{"Authorization": "Bearer s3cret"})
	// 100 买入，市价 200：总值 1000 -> 1100
	e.do(t, http.MethodPost, "/api/users/"+id+"/trades", map[string]any{"ticker": "AAPL", "shares": 1, "price": 100, "type": "buy"}, nil)

	rec := e.do(t, http.MethodGet, "/api/movers", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	m := decode[map[string][]moverDTO](t, rec)
	require.Len(t, m["gainers"], 1)
	assert.Equal(t, 100.0, m["gainers"][0].Change)
	assert.Equal(t, 10.0, m["gainers"][0].ChangePercent)
	assert.Empty(t, m["losers"])
}

func TestQuote(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/api/quotes/msft", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	q := decode[map[string]any](t, rec)
	assert.Equal(t, "MSFT", q["symbol"])
	assert.Equal(t, 400.0, q["price"])

	rec = e.do(t, http.MethodGet, "/api/quotes/NOPE", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestJobSnapshotNow_WithoutScheduler(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodPost, "/api/jobs/snapshot", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLeaderboardStream(t *testing.T) {
	e := newTestEnv(t)
	e.createUser(t, "ann", 500)

	ts := httptest.NewServer(e.h)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws/leaderboard"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 2; i++ {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var frame leaderboardFrame
		require.NoError(t, conn.ReadJSON(&frame))
		assert.Equal(t, "leaderboard", frame.Type)
		require.Len(t, frame.Entries, 1)
		assert.Equal(t, 500.0, frame.Entries[0].TotalValue)
	}
}

func TestLeaderboardStream_PushesAfterTrade(t *testing.T) {
	e := newTestEnv(t)
	e.srv.cfg.LeaderboardPushInterval = time.Hour
	e.srv.minPushGap = 0
	id := e.createUser(t, "ann", 500)

	ts := httptest.NewServer(e.h)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws/leaderboard"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var frame leaderboardFrame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, 500.0, frame.Entries[0].TotalValue)

	// 订阅在首帧之前完成，交易事件一定会被收到
	rec := e.do(t, http.MethodPost, "/api/users/"+id+"/trades", map[string]any{"ticker": "AAPL", "shares": 1, "price": 100, "type": "buy"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, 600.0, frame.Entries[0].TotalValue)
}

func TestLeaderboardStream_DefersEventInsidePushGap(t *testing.T) {
	e := newTestEnv(t)
	e.srv.cfg.LeaderboardPushInterval = time.Hour
	e.srv.minPushGap = 300 * time.Millisecond
	id := e.createUser(t, "ann", 500)

	ts := httptest.NewServer(e.h)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws/leaderboard"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var frame leaderboardFrame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, 500.0, frame.Entries[0].TotalValue)

	// 首帧刚推送过，交易落在闸门内：应在闸门打开后补推，而不是等一小时的定时推送
	rec := e.do(t, http.MethodPost, "/api/users/"+id+"/trades", map[string]any{"ticker": "AAPL", "shares": 1, "price": 100, "type": "buy"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, 600.0, frame.Entries[0].TotalValue)
}
