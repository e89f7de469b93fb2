package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/betbot/stockledger/internal/api"
	"github.com/betbot/stockledger/internal/app"
	"github.com/betbot/stockledger/internal/metrics"
	"github.com/betbot/stockledger/internal/services"
	"github.com/betbot/stockledger/pkg/logger"
	"github.com/betbot/stockledger/pkg/shutdown"
	"github.com/joho/godotenv"
)

func main() {
	// .env 尽力加载，缺失时直接使用真实环境变量
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", os.Getenv("STOCKLEDGER_CONFIG"), "配置文件路径（.yaml/.yml/.json）")
		listenAddr = flag.String("listen", "", "HTTP 监听地址（覆盖配置）")
	)
	flag.Parse()

	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "加载配置失败:", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.Server.Listen = *listenAddr
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "初始化日志失败:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Errorf("init app failed: %v", err)
		os.Exit(1)
	}

	sd := shutdown.NewManager()
	sd.OnShutdown("app", func(context.Context) error { return a.Close() })

	scheduler := services.NewSnapshotScheduler(a.History, cfg.SnapshotInterval)
	scheduler.Start(ctx)
	sd.OnShutdown("snapshot_scheduler", func(context.Context) error {
		scheduler.Stop()
		return nil
	})

	if cfg.Server.MetricsListen != "" {
		if _, err := metrics.StartAsync(ctx, cfg.Server.MetricsListen); err != nil {
			logger.Warnf("metrics server 启动失败: %v", err)
		} else {
			logger.Infof("metrics listening on %s", cfg.Server.MetricsListen)
		}
	}

	if cfg.CronSecret == "" {
		logger.Warnf("CRON_SECRET 未配置，/api/cron/update-history 将拒绝所有请求")
	}
	srv := api.New(api.Config{
		StartingCash:            cfg.StartingCash,
		CronSecret:              cfg.CronSecret,
		LeaderboardPushInterval: cfg.LeaderboardPushInterval,
	}, api.Deps{
		Store:     a.Store,
		Quotes:    a.Oracle,
		Trades:    a.Trades,
		Valuator:  a.Valuator,
		Ranking:   a.Ranking,
		History:   a.History,
		Scheduler: scheduler,
		Events:    a.Events,
	})

	httpSrv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	sd.OnShutdown("http", httpSrv.Shutdown)

	go func() {
		logger.Infof("stockledger listening on %s", cfg.Server.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("http server error: %v", err)
			cancel()
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	select {
	case sig := <-stopCh:
		logger.Infof("收到信号 %s", sig)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	cancel()
	sd.Shutdown(shutdownCtx)
	fmt.Println("server stopped")
}
