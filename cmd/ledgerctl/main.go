package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/betbot/stockledger/internal/app"
	"github.com/betbot/stockledger/pkg/logger"
	"github.com/google/subcommands"
	"github.com/joho/godotenv"
)

var (
	configPath = flag.String("config", os.Getenv("STOCKLEDGER_CONFIG"), "配置文件路径（.yaml/.yml/.json）")
	verbose    = flag.Bool("v", false, "输出日志到控制台")
)

// stdout 命令输出；测试中替换
var stdout io.Writer = os.Stdout

func register(c *subcommands.Commander) {
	c.Register(c.HelpCommand(), "")
	c.Register(c.FlagsCommand(), "")
	c.Register(c.CommandsCommand(), "")

	c.Register(&createUserCmd{}, "users")
	c.Register(&usersCmd{}, "users")

	c.Register(&tradeCmd{}, "ledger")
	c.Register(&valueCmd{}, "ledger")
	c.Register(&leaderboardCmd{}, "ledger")
	c.Register(&historyCmd{}, "ledger")
	c.Register(&snapshotCmd{}, "ledger")

	c.Register(&quoteCmd{}, "market")
	c.Register(&setSecretCmd{}, "secrets")
	c.Register(&importEnvCmd{}, "secrets")
}

func main() {
	_ = godotenv.Load()

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	register(commander)
	flag.Parse()

	_ = logger.Init(logger.Config{Level: "info", Quiet: !*verbose})
	os.Exit(int(commander.Execute(context.Background())))
}

// openApp 每个命令直接打开配置的存储
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

// withApp 打开 App 执行 fn，错误打印到 stderr
func withApp(ctx context.Context, fn func(a *app.App) error) subcommands.ExitStatus {
	a, err := openApp(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return subcommands.ExitFailure
	}
	defer a.Close()
	if err := fn(a); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
