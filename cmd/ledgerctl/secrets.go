package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/betbot/stockledger/internal/app"
	"github.com/betbot/stockledger/pkg/config"
	"github.com/betbot/stockledger/pkg/secretstore"
	"github.com/google/subcommands"
	"github.com/joho/godotenv"
)

type setSecretCmd struct {
	del bool
}

func (*setSecretCmd) Name() string     { return "set-secret" }
func (*setSecretCmd) Synopsis() string { return "store a secret (API keys, cron secret) in the badger store" }
func (*setSecretCmd) Usage() string {
	return `ledgerctl set-secret <NAME> <value>
ledgerctl set-secret -delete <NAME>

  Writes env/<NAME> into the store at secrets.path. Environment variables
  with the same name still take precedence at startup.
`
}

func (c *setSecretCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.del, "delete", false, "Delete the secret instead of setting it.")
}

func (c *setSecretCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	want := 2
	if c.del {
		want = 1
	}
	if f.NArg() != want {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	name := strings.TrimSpace(f.Arg(0))

	// 只需要 secrets 配置，不校验存储/行情
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return subcommands.ExitFailure
	}
	ss, err := app.OpenSecrets(cfg.Secrets, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return subcommands.ExitFailure
	}
	if ss == nil {
		fmt.Fprintln(os.Stderr, "error: secrets.path is not configured")
		return subcommands.ExitFailure
	}
	defer ss.Close()

	if c.del {
		err = ss.Delete(secretstore.EnvPrefix + name)
	} else {
		err = ss.SetString(secretstore.EnvPrefix+name, f.Arg(1))
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return subcommands.ExitFailure
	}
	fmt.Fprintf(stdout, "ok %s\n", name)
	return subcommands.ExitSuccess
}

type importEnvCmd struct {
	in     string
	prefix string
}

func (*importEnvCmd) Name() string     { return "import-env" }
func (*importEnvCmd) Synopsis() string { return "copy every key of a .env file into the badger secret store" }
func (*importEnvCmd) Usage() string {
	return `ledgerctl import-env [-in .env] [-prefix env/]
`
}

func (c *importEnvCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.in, "in", ".env", "Input .env file.")
	f.StringVar(&c.prefix, "prefix", secretstore.EnvPrefix, "Key prefix inside the store.")
}

func (c *importEnvCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	kv, err := godotenv.Read(c.in)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return subcommands.ExitFailure
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return subcommands.ExitFailure
	}
	ss, err := app.OpenSecrets(cfg.Secrets, false)
	if err != nil || ss == nil {
		fmt.Fprintln(os.Stderr, "error: open secret store:", err)
		return subcommands.ExitFailure
	}
	defer ss.Close()

	written := 0
	for k, v := range kv {
		if err := ss.SetString(c.prefix+k, v); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return subcommands.ExitFailure
		}
		written++
	}
	fmt.Fprintf(stdout, "imported %d keys into %s (prefix %s)\n", written, cfg.Secrets.Path, c.prefix)
	if keys, err := ss.Keys(c.prefix); err == nil {
		fmt.Fprintf(stdout, "%d keys under %s\n", len(keys), c.prefix)
	}
	return subcommands.ExitSuccess
}
