package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot 组合总值快照，只追加、写入后不可变
type Snapshot struct {
	UserID    string
	Timestamp time.Time
	Value     decimal.Decimal
}

// SnapshotRun 一次全量快照任务的统计
type SnapshotRun struct {
	RunID    int64
	Trigger  string
	Users    int
	OK       int
	Failed   int
	Started  time.Time
	Finished time.Time
}

// JobRun 后台任务运行记录
type JobRun struct {
	ID         int64      `json:"id"`
	JobName    string     `json:"job_name"`
	Trigger    string     `json:"trigger"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	OK         *bool      `json:"ok,omitempty"`
	Error      *string    `json:"error,omitempty"`
	MetaJSON   *string    `json:"meta_json,omitempty"`
}

// LeaderboardEntry 排行榜条目
type LeaderboardEntry struct {
	Rank       int
	UserID     string
	Name       string
	TotalValue decimal.Decimal
}

// Mover 相对上一次快照的组合变化
type Mover struct {
	UserID        string
	Name          string
	CurrentValue  decimal.Decimal
	PreviousValue decimal.Decimal
	Change        decimal.Decimal
	ChangePercent decimal.Decimal
}

// Movers 涨幅榜与跌幅榜
type Movers struct {
	Gainers []Mover
	Losers  []Mover
}
