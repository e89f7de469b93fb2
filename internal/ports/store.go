package ports

import (
	"context"
	"errors"

	"github.com/betbot/stockledger/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrNotFound 行不存在
var ErrNotFound = errors.New("not found")

// Store 事务型持久化存储（sqlite / postgres / memory 三种实现）
type Store interface {
	CreateUser(ctx context.Context, u domain.User) error
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)

	ListPositions(ctx context.Context, userID string) ([]domain.Position, error)
	GetPosition(ctx context.Context, userID, symbol string) (*domain.Position, error)

	// AppendSnapshot 只追加，不提供修改/删除
	AppendSnapshot(ctx context.Context, snap domain.Snapshot) error
	// ListSnapshots 按时间升序返回
	ListSnapshots(ctx context.Context, userID string) ([]domain.Snapshot, error)
	LatestSnapshot(ctx context.Context, userID string) (*domain.Snapshot, error)

	InsertJobRun(ctx context.Context, jobName, trigger string) (int64, error)
	FinishJobRun(ctx context.Context, runID int64, ok bool, errMsg *string, metaJSON *string) error
	ListJobRuns(ctx context.Context, limit int) ([]domain.JobRun, error)

	// InTx 在单个事务中执行 fn：fn 返回 nil 则提交，否则整体回滚
	InTx(ctx context.Context, fn func(tx LedgerTx) error) error

	Close() error
}

// LedgerTx 交易事务内可用的读写操作
type LedgerTx interface {
	// GetUserForUpdate 读取并锁定用户行（postgres: SELECT ... FOR UPDATE）
	GetUserForUpdate(ctx context.Context, userID string) (*domain.User, error)
	UpdateCash(ctx context.Context, userID string, cash decimal.Decimal) error
	GetPosition(ctx context.Context, userID, symbol string) (*domain.Position, error)
	UpsertPosition(ctx context.Context, p domain.Position) error
	DeletePosition(ctx context.Context, userID, symbol string) error
}
