package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/betbot/stockledger/internal/domain"
	"github.com/betbot/stockledger/internal/ports"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Store 基于 PostgreSQL 的账本存储，NUMERIC 列直接映射 decimal.Decimal
type Store struct {
	pool *pgxpool.Pool
}

var _ ports.Store = (*Store)(nil)

// Open 连接数据库、注册 decimal 类型并执行迁移
func Open(ctx context.Context, dsn string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL DEFAULT '',
  cash NUMERIC NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS positions (
  user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  symbol TEXT NOT NULL,
  quantity BIGINT NOT NULL CHECK (quantity > 0),
  average_cost NUMERIC NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (user_id, symbol)
);`,
		`
CREATE TABLE IF NOT EXISTS portfolio_snapshots (
  id BIGSERIAL PRIMARY KEY,
  user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  value NUMERIC NOT NULL,
  ts TIMESTAMPTZ NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_portfolio_snapshots_user_ts ON portfolio_snapshots(user_id, ts DESC);`,
		`
CREATE TABLE IF NOT EXISTS job_runs (
  id BIGSERIAL PRIMARY KEY,
  job_name TEXT NOT NULL,
  run_trigger TEXT NOT NULL,
  started_at TIMESTAMPTZ NOT NULL,
  finished_at TIMESTAMPTZ,
  ok BOOLEAN,
  error TEXT,
  meta_json TEXT
);`,
		`CREATE INDEX IF NOT EXISTS idx_job_runs_started_at ON job_runs(started_at DESC);`,
	}
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("migrate exec failed: %w", err)
		}
	}
	return nil
}

func (s *Store) CreateUser(ctx context.Context, u domain.User) error {
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO users (id, name, cash, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5)
`, u.ID, u.Name, u.Cash, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `
SELECT id, name, cash, created_at, updated_at FROM users WHERE id=$1
`, userID))
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Name, &u.Cash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ports.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, name, cash, created_at, updated_at FROM users ORDER BY created_at ASC, id ASC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Cash, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) ListPositions(ctx context.Context, userID string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx, `
SELECT user_id, symbol, quantity, average_cost, updated_at
FROM positions WHERE user_id=$1 ORDER BY symbol ASC
`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(&p.UserID, &p.Symbol, &p.Quantity, &p.AverageCost, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetPosition(ctx context.Context, userID, symbol string) (*domain.Position, error) {
	return scanPosition(s.pool.QueryRow(ctx, `
SELECT user_id, symbol, quantity, average_cost, updated_at
FROM positions WHERE user_id=$1 AND symbol=$2
`, userID, symbol))
}

func scanPosition(row pgx.Row) (*domain.Position, error) {
	var p domain.Position
	if err := row.Scan(&p.UserID, &p.Symbol, &p.Quantity, &p.AverageCost, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ports.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) AppendSnapshot(ctx context.Context, snap domain.Snapshot) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO portfolio_snapshots (user_id, value, ts) VALUES ($1,$2,$3)
`, snap.UserID, snap.Value, snap.Timestamp)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (s *Store) ListSnapshots(ctx context.Context, userID string) ([]domain.Snapshot, error) {
	rows, err := s.pool.Query(ctx, `
SELECT user_id, value, ts FROM portfolio_snapshots
WHERE user_id=$1 ORDER BY ts ASC, id ASC
`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Snapshot
	for rows.Next() {
		var snap domain.Snapshot
		if err := rows.Scan(&snap.UserID, &snap.Value, &snap.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *Store) LatestSnapshot(ctx context.Context, userID string) (*domain.Snapshot, error) {
	var snap domain.Snapshot
	err := s.pool.QueryRow(ctx, `
SELECT user_id, value, ts FROM portfolio_snapshots
WHERE user_id=$1 ORDER BY ts DESC, id DESC LIMIT 1
`, userID).Scan(&snap.UserID, &snap.Value, &snap.Timestamp)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ports.ErrNotFound
		}
		return nil, err
	}
	return &snap, nil
}

func (s *Store) InsertJobRun(ctx context.Context, jobName, trigger string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
INSERT INTO job_runs (job_name, run_trigger, started_at) VALUES ($1,$2,$3) RETURNING id
`, jobName, trigger, time.Now()).Scan(&id)
	return id, err
}

func (s *Store) FinishJobRun(ctx context.Context, runID int64, ok bool, errMsg *string, metaJSON *string) error {
	_, err := s.pool.Exec(ctx, `
UPDATE job_runs SET finished_at=$1, ok=$2, error=$3, meta_json=$4 WHERE id=$5
`, time.Now(), ok, errMsg, metaJSON, runID)
	return err
}

func (s *Store) ListJobRuns(ctx context.Context, limit int) ([]domain.JobRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, job_name, run_trigger, started_at, finished_at, ok, error, meta_json
FROM job_runs ORDER BY id DESC LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.JobRun
	for rows.Next() {
		var j domain.JobRun
		if err := rows.Scan(&j.ID, &j.JobName, &j.Trigger, &j.StartedAt, &j.FinishedAt, &j.OK, &j.Error, &j.MetaJSON); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// InTx 读已提交 + 行锁：并发交易在 GetUserForUpdate 处排队
func (s *Store) InTx(ctx context.Context, fn func(tx ports.LedgerTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) GetUserForUpdate(ctx context.Context, userID string) (*domain.User, error) {
	return scanUser(t.tx.QueryRow(ctx, `
SELECT id, name, cash, created_at, updated_at FROM users WHERE id=$1 FOR UPDATE
`, userID))
}

func (t *ledgerTx) UpdateCash(ctx context.Context, userID string, cash decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `UPDATE users SET cash=$1, updated_at=$2 WHERE id=$3`, cash, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("update cash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func (t *ledgerTx) GetPosition(ctx context.Context, userID, symbol string) (*domain.Position, error) {
	return scanPosition(t.tx.QueryRow(ctx, `
SELECT user_id, symbol, quantity, average_cost, updated_at
FROM positions WHERE user_id=$1 AND symbol=$2 FOR UPDATE
`, userID, symbol))
}

func (t *ledgerTx) UpsertPosition(ctx context.Context, p domain.Position) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	_, err := t.tx.Exec(ctx, `
INSERT INTO positions (user_id, symbol, quantity, average_cost, updated_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (user_id, symbol) DO UPDATE SET
  quantity=EXCLUDED.quantity,
  average_cost=EXCLUDED.average_cost,
  updated_at=EXCLUDED.updated_at
`, p.UserID, p.Symbol, p.Quantity, p.AverageCost, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}

func (t *ledgerTx) DeletePosition(ctx context.Context, userID, symbol string) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM positions WHERE user_id=$1 AND symbol=$2`, userID, symbol); err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	return nil
}
