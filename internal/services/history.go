package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/betbot/stockledger/internal/domain"
	"github.com/betbot/stockledger/internal/events"
	"github.com/betbot/stockledger/internal/metrics"
	"github.com/betbot/stockledger/internal/ports"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var historyLog = logrus.WithField("component", "history_snapshotter")

const (
	SnapshotJobName       = "portfolio_snapshot"
	defaultSnapshotWorker = 4
)

// 快照任务的触发来源
const (
	TriggerInterval = "interval"
	TriggerCron     = "cron"
	TriggerManual   = "manual"
	TriggerCLI      = "cli"
)

// HistorySnapshotter 为每个用户追加一条总值快照；快照只追加，不修改、不删除
type HistorySnapshotter struct {
	store    ports.Store
	valuator *Valuator
	workers  int
	events   *events.Bus
	now      func() time.Time
}

func NewHistorySnapshotter(store ports.Store, valuator *Valuator, workers int) *HistorySnapshotter {
	if workers <= 0 {
		workers = defaultSnapshotWorker
	}
	return &HistorySnapshotter{store: store, valuator: valuator, workers: workers, now: time.Now}
}

// SetEventBus 每次运行结束后发布 SnapshotRunFinishedEvent
func (h *HistorySnapshotter) SetEventBus(bus *events.Bus) {
	h.events = bus
}

// RunForAllUsers 对全部用户做一次快照。单个用户失败只计数，不影响其他用户；
// 只有列出用户失败时返回错误。每次运行记录到 job_runs。
func (h *HistorySnapshotter) RunForAllUsers(ctx context.Context, trigger string) (domain.SnapshotRun, error) {
	run := domain.SnapshotRun{Trigger: trigger, Started: h.now()}
	metrics.SnapshotRuns.Add(1)

	runID, err := h.store.InsertJobRun(ctx, SnapshotJobName, trigger)
	if err != nil {
		// job 日志写失败不阻止快照本身
		historyLog.Warnf("insert job run: %v", err)
	}
	run.RunID = runID

	users, err := h.store.ListUsers(ctx)
	if err != nil {
		err = persistence("list users", err)
		h.finish(ctx, &run, err)
		return run, err
	}
	run.Users = len(users)

	var ok, failed int64
	var g errgroup.Group
	g.SetLimit(h.workers)
	for _, u := range users {
		u := u
		g.Go(func() error {
			if err := h.snapshotUser(ctx, u.ID); err != nil {
				atomic.AddInt64(&failed, 1)
				metrics.SnapshotFailures.Add(1)
				historyLog.WithField("user", u.ID).Warnf("snapshot failed: %v", err)
				return nil
			}
			atomic.AddInt64(&ok, 1)
			metrics.SnapshotsWritten.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	run.OK = int(ok)
	run.Failed = int(failed)
	h.finish(ctx, &run, nil)
	h.events.Publish(events.SnapshotRunFinishedEvent{Run: run, Timestamp: run.Finished})
	historyLog.Infof("snapshot run done: trigger=%s users=%d ok=%d failed=%d", trigger, run.Users, run.OK, run.Failed)
	return run, nil
}

func (h *HistorySnapshotter) snapshotUser(ctx context.Context, userID string) error {
	val, err := h.valuator.ComputeTotalValue(ctx, userID)
	if err != nil {
		return err
	}
	return h.store.AppendSnapshot(ctx, domain.Snapshot{
		UserID:    userID,
		Timestamp: h.now(),
		Value:     val.Total,
	})
}

func (h *HistorySnapshotter) finish(ctx context.Context, run *domain.SnapshotRun, runErr error) {
	run.Finished = h.now()
	if run.RunID == 0 {
		return
	}
	meta, _ := json.Marshal(map[string]any{
		"trigger": run.Trigger,
		"users":   run.Users,
		"ok":      run.OK,
		"failed":  run.Failed,
	})
	metaStr := string(meta)

	var errMsg *string
	switch {
	case runErr != nil:
		msg := runErr.Error()
		errMsg = &msg
	case run.Failed > 0:
		msg := fmt.Sprintf("%d users failed", run.Failed)
		errMsg = &msg
	}
	// ctx 可能已取消，job 记录仍然要落盘
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := h.store.FinishJobRun(finishCtx, run.RunID, errMsg == nil, errMsg, &metaStr); err != nil {
		historyLog.Warnf("finish job run %d: %v", run.RunID, err)
	}
}

// History 用户的快照序列，按时间升序
func (h *HistorySnapshotter) History(ctx context.Context, userID string) ([]domain.Snapshot, error) {
	if _, err := h.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrUserNotFound, userID)
		}
		return nil, persistence("load user", err)
	}
	snaps, err := h.store.ListSnapshots(ctx, userID)
	if err != nil {
		return nil, persistence("list snapshots", err)
	}
	return snaps, nil
}
