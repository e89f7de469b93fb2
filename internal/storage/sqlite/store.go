package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/betbot/stockledger/internal/domain"
	"github.com/betbot/stockledger/internal/ports"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// Store 基于 SQLite 的账本存储
type Store struct {
	db *sql.DB
}

var _ ports.Store = (*Store)(nil)

// Open 打开（必要时创建）数据库文件并执行迁移
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定，写事务天然串行
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// queryer 让同一套读写 SQL 同时服务 *sql.DB 与 *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func (s *Store) CreateUser(ctx context.Context, u domain.User) error {
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO users (id, name, cash, created_at, updated_at)
VALUES (?,?,?,?,?)
`, u.ID, u.Name, u.Cash.String(), fmtTime(u.CreatedAt), fmtTime(u.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return getUser(ctx, s.db, userID)
}

func getUser(ctx context.Context, q queryer, userID string) (*domain.User, error) {
	row := q.QueryRowContext(ctx, `
SELECT id, name, cash, created_at, updated_at
FROM users WHERE id=?
`, userID)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ports.ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		u                domain.User
		cash             string
		created, updated string
	)
	if err := row.Scan(&u.ID, &u.Name, &cash, &created, &updated); err != nil {
		return nil, err
	}
	c, err := parseDecimal(cash)
	if err != nil {
		return nil, fmt.Errorf("parse cash for %s: %w", u.ID, err)
	}
	u.Cash = c
	u.CreatedAt = parseTime(created)
	u.UpdatedAt = parseTime(updated)
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, cash, created_at, updated_at
FROM users ORDER BY created_at ASC, id ASC
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (s *Store) ListPositions(ctx context.Context, userID string) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT user_id, symbol, quantity, average_cost, updated_at
FROM positions
WHERE user_id=?
ORDER BY symbol ASC
`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) GetPosition(ctx context.Context, userID, symbol string) (*domain.Position, error) {
	return getPosition(ctx, s.db, userID, symbol)
}

func getPosition(ctx context.Context, q queryer, userID, symbol string) (*domain.Position, error) {
	row := q.QueryRowContext(ctx, `
SELECT user_id, symbol, quantity, average_cost, updated_at
FROM positions
WHERE user_id=? AND symbol=?
`, userID, symbol)
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ports.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func scanPosition(row rowScanner) (*domain.Position, error) {
	var (
		p       domain.Position
		avg     string
		updated string
	)
	if err := row.Scan(&p.UserID, &p.Symbol, &p.Quantity, &avg, &updated); err != nil {
		return nil, err
	}
	a, err := parseDecimal(avg)
	if err != nil {
		return nil, fmt.Errorf("parse average_cost for %s/%s: %w", p.UserID, p.Symbol, err)
	}
	p.AverageCost = a
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}

func (s *Store) AppendSnapshot(ctx context.Context, snap domain.Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO portfolio_snapshots (user_id, value, ts_unix_nano)
VALUES (?,?,?)
`, snap.UserID, snap.Value.String(), snap.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (s *Store) ListSnapshots(ctx context.Context, userID string) ([]domain.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT user_id, value, ts_unix_nano
FROM portfolio_snapshots
WHERE user_id=?
ORDER BY ts_unix_nano ASC, id ASC
`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}

func (s *Store) LatestSnapshot(ctx context.Context, userID string) (*domain.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT user_id, value, ts_unix_nano
FROM portfolio_snapshots
WHERE user_id=?
ORDER BY ts_unix_nano DESC, id DESC
LIMIT 1
`, userID)
	snap, err := scanSnapshot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ports.ErrNotFound
		}
		return nil, err
	}
	return snap, nil
}

func scanSnapshot(row rowScanner) (*domain.Snapshot, error) {
	var (
		snap  domain.Snapshot
		value string
		ts    int64
	)
	if err := row.Scan(&snap.UserID, &value, &ts); err != nil {
		return nil, err
	}
	v, err := parseDecimal(value)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot value: %w", err)
	}
	snap.Value = v
	snap.Timestamp = time.Unix(0, ts).UTC()
	return &snap, nil
}
