package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/betbot/stockledger/internal/app"
	"github.com/betbot/stockledger/internal/domain"
	"github.com/betbot/stockledger/internal/services"
	"github.com/google/subcommands"
	"github.com/shopspring/decimal"
)

type tradeCmd struct {
	user   string
	ticker string
	shares int64
	price  string
	typ    string
}

func (*tradeCmd) Name() string     { return "trade" }
func (*tradeCmd) Synopsis() string { return "buy or sell shares at a given price" }
func (*tradeCmd) Usage() string {
	return `ledgerctl trade -user <id> -type buy|sell -ticker <symbol> -shares <n> -price <p>
`
}

func (c *tradeCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "User id.")
	f.StringVar(&c.ticker, "ticker", "", "Ticker symbol.")
	f.Int64Var(&c.shares, "shares", 0, "Number of shares, must be > 0.")
	f.StringVar(&c.price, "price", "", "Execution price per share.")
	f.StringVar(&c.typ, "type", "buy", "buy or sell.")
}

func (c *tradeCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if !requireUser(c.user) {
		return subcommands.ExitUsageError
	}
	tt, err := domain.ParseTradeType(c.typ)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	price, err := decimal.NewFromString(c.price)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -price %q\n", c.price)
		return subcommands.ExitUsageError
	}
	return withApp(ctx, func(a *app.App) error {
		res, err := a.Trades.Apply(ctx, domain.Trade{UserID: c.user, Ticker: c.ticker, Shares: c.shares, Price: price, Type: tt})
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, res.Message)
		fmt.Fprintf(stdout, "cash: %s\n", services.FormatUSD(res.CashAfter))
		return nil
	})
}

type valueCmd struct {
	user string
}

func (*valueCmd) Name() string     { return "value" }
func (*valueCmd) Synopsis() string { return "value a user's portfolio at current market prices" }
func (*valueCmd) Usage() string    { return "ledgerctl value -user <id>\n" }
func (c *valueCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "User id.")
}

func (c *valueCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if !requireUser(c.user) {
		return subcommands.ExitUsageError
	}
	return withApp(ctx, func(a *app.App) error {
		v, err := a.Valuator.ComputeTotalValue(ctx, c.user)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(stdout, 0, 2, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "SYMBOL\tQTY\tPRICE\tVALUE\tWEIGHT\tSOURCE\t")
		for _, e := range v.Breakdown {
			switch h := e.(type) {
			case domain.PositionHolding:
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s%%\t%s\t\n", h.Symbol, h.Quantity, services.FormatUSD(h.Price),
					services.FormatUSD(h.CurrentValue), h.Percentage.StringFixed(2), h.PriceSource)
			case domain.CashHolding:
				fmt.Fprintf(w, "%s\t\t\t%s\t%s%%\t\t\n", domain.CashSymbol, services.FormatUSD(h.Amount), h.Percentage.StringFixed(2))
			}
		}
		fmt.Fprintf(w, "TOTAL\t\t\t%s\t\t\t\n", services.FormatUSD(v.Total))
		return w.Flush()
	})
}

type leaderboardCmd struct {
	top int
}

func (*leaderboardCmd) Name() string     { return "leaderboard" }
func (*leaderboardCmd) Synopsis() string { return "rank all users by total portfolio value" }
func (*leaderboardCmd) Usage() string    { return "ledgerctl leaderboard [-top <n>]\n" }
func (c *leaderboardCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.top, "top", 10, "Number of entries, 0 for all.")
}

func (c *leaderboardCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(a *app.App) error {
		entries, err := a.Ranking.Leaderboard(ctx, c.top)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(w, "RANK\tNAME\tUSER\tTOTAL")
		for _, e := range entries {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", e.Rank, e.Name, e.UserID, services.FormatUSD(e.TotalValue))
		}
		return w.Flush()
	})
}

type historyCmd struct {
	user string
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "print a user's portfolio value snapshots" }
func (*historyCmd) Usage() string    { return "ledgerctl history -user <id>\n" }
func (c *historyCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "User id.")
}

func (c *historyCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if !requireUser(c.user) {
		return subcommands.ExitUsageError
	}
	return withApp(ctx, func(a *app.App) error {
		snaps, err := a.History.History(ctx, c.user)
		if err != nil {
			return err
		}
		for _, s := range snaps {
			fmt.Fprintf(stdout, "%s\t%s\n", s.Timestamp.Format("2006-01-02 15:04:05"), services.FormatUSD(s.Value))
		}
		return nil
	})
}

type snapshotCmd struct{}

func (*snapshotCmd) Name() string             { return "snapshot" }
func (*snapshotCmd) Synopsis() string         { return "record a value snapshot for every user" }
func (*snapshotCmd) Usage() string            { return "ledgerctl snapshot\n" }
func (*snapshotCmd) SetFlags(f *flag.FlagSet) {}

func (*snapshotCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(a *app.App) error {
		run, err := a.History.RunForAllUsers(ctx, services.TriggerCLI)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "run %d: users=%d ok=%d failed=%d\n", run.RunID, run.Users, run.OK, run.Failed)
		return nil
	})
}

type quoteCmd struct{}

func (*quoteCmd) Name() string             { return "quote" }
func (*quoteCmd) Synopsis() string         { return "fetch current quotes for symbols" }
func (*quoteCmd) Usage() string            { return "ledgerctl quote <symbol>...\n" }
func (*quoteCmd) SetFlags(f *flag.FlagSet) {}

func (*quoteCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "at least one symbol is required")
		return subcommands.ExitUsageError
	}
	return withApp(ctx, func(a *app.App) error {
		var failed int
		for _, sym := range f.Args() {
			q, err := a.Oracle.Quote(ctx, sym)
			if err != nil {
				failed++
				fmt.Fprintf(stdout, "%s\tunavailable: %v\n", domain.NormalizeSymbol(sym), err)
				continue
			}
			fmt.Fprintf(stdout, "%s\t%s\t%s%%\n", q.Symbol, services.FormatUSD(q.Current), q.ChangePercent().StringFixed(2))
		}
		if failed == len(f.Args()) {
			return fmt.Errorf("no quotes available")
		}
		return nil
	})
}
