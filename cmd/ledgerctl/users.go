package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/betbot/stockledger/internal/app"
	"github.com/betbot/stockledger/internal/domain"
	"github.com/betbot/stockledger/internal/services"
	"github.com/google/subcommands"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type createUserCmd struct {
	name string
	cash string
	id   string
}

func (*createUserCmd) Name() string     { return "create-user" }
func (*createUserCmd) Synopsis() string { return "create a user with a starting cash balance" }
func (*createUserCmd) Usage() string {
	return `ledgerctl create-user -name <name> [-cash <amount>] [-id <uuid>]

  Creates a user. Cash defaults to ledger.starting_cash.
`
}

func (c *createUserCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.name, "name", "", "Display name.")
	f.StringVar(&c.cash, "cash", "", "Initial cash, defaults to the configured starting cash.")
	f.StringVar(&c.id, "id", "", "User id, generated when empty.")
}

func (c *createUserCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(a *app.App) error {
		cash := a.Config.StartingCash
		if c.cash != "" {
			v, err := decimal.NewFromString(c.cash)
			if err != nil {
				return fmt.Errorf("invalid -cash: %w", err)
			}
			cash = v
		}
		if cash.IsNegative() {
			return fmt.Errorf("%w: cash must be >= 0", domain.ErrValidation)
		}
		id := c.id
		if id == "" {
			id = uuid.NewString()
		}
		now := time.Now().UTC()
		if err := a.Store.CreateUser(ctx, domain.User{ID: id, Name: c.name, Cash: cash, CreatedAt: now, UpdatedAt: now}); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s\t%s\t%s\n", id, c.name, services.FormatUSD(cash))
		return nil
	})
}

type usersCmd struct{}

func (*usersCmd) Name() string             { return "users" }
func (*usersCmd) Synopsis() string         { return "list users and their cash" }
func (*usersCmd) Usage() string            { return "ledgerctl users\n" }
func (*usersCmd) SetFlags(f *flag.FlagSet) {}

func (*usersCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withApp(ctx, func(a *app.App) error {
		users, err := a.Store.ListUsers(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCASH")
		for _, u := range users {
			fmt.Fprintf(w, "%s\t%s\t%s\n", u.ID, u.DisplayName(), services.FormatUSD(u.Cash))
		}
		return w.Flush()
	})
}

func requireUser(id string) bool {
	if id == "" {
		fmt.Fprintln(os.Stderr, "-user is required")
		return false
	}
	return true
}
