package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/betbot/stockledger/internal/domain"
	"github.com/betbot/stockledger/internal/ports"
	"github.com/shopspring/decimal"
)

// InTx 在一个 SQLite 事务内执行 fn（单连接下写事务串行）
func (s *Store) InTx(ctx context.Context, fn func(tx ports.LedgerTx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&ledgerTx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type ledgerTx struct {
	tx *sql.Tx
}

// GetUserForUpdate SQLite 没有行锁，事务本身已是独占写
func (t *ledgerTx) GetUserForUpdate(ctx context.Context, userID string) (*domain.User, error) {
	return getUser(ctx, t.tx, userID)
}

func (t *ledgerTx) UpdateCash(ctx context.Context, userID string, cash decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx, `
UPDATE users SET cash=?, updated_at=? WHERE id=?
`, cash.String(), fmtTime(time.Now()), userID)
	if err != nil {
		return fmt.Errorf("update cash: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func (t *ledgerTx) GetPosition(ctx context.Context, userID, symbol string) (*domain.Position, error) {
	return getPosition(ctx, t.tx, userID, symbol)
}

func (t *ledgerTx) UpsertPosition(ctx context.Context, p domain.Position) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO positions (user_id, symbol, quantity, average_cost, updated_at)
VALUES (?,?,?,?,?)
ON CONFLICT(user_id, symbol) DO UPDATE SET
  quantity=excluded.quantity,
  average_cost=excluded.average_cost,
  updated_at=excluded.updated_at
`, p.UserID, p.Symbol, p.Quantity, p.AverageCost.String(), fmtTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

func (t *ledgerTx) DeletePosition(ctx context.Context, userID, symbol string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM positions WHERE user_id=? AND symbol=?`, userID, symbol)
	if err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	return nil
}
