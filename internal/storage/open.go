package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/betbot/stockledger/internal/ports"
	"github.com/betbot/stockledger/internal/storage/memory"
	"github.com/betbot/stockledger/internal/storage/postgres"
	"github.com/betbot/stockledger/internal/storage/sqlite"
)

// Open 按 driver 打开存储：sqlite（默认）/ postgres / memory
func Open(ctx context.Context, driver, dsn string) (ports.Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		return sqlite.Open(dsn)
	case "postgres", "postgresql", "pg":
		return postgres.Open(ctx, dsn)
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
