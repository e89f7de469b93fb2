package services

import (
	"context"
	"sync"
	"time"

	"github.com/betbot/stockledger/pkg/sigchan"
	"github.com/betbot/stockledger/pkg/syncgroup"
	"github.com/sirupsen/logrus"
)

var schedulerLog = logrus.WithField("component", "snapshot_scheduler")

// SnapshotScheduler 周期触发 HistorySnapshotter；也支持手动 Trigger。
// 同一时刻最多只有一次运行，运行期间到来的触发会合并。
type SnapshotScheduler struct {
	snapshotter *HistorySnapshotter
	interval    time.Duration
	runTimeout  time.Duration
	stopWait    time.Duration

	trigger *sigchan.Chan
	sg      *syncgroup.SyncGroup

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool

	// onRun 测试钩子：每次运行结束后调用
	onRun func(trigger string)
}

// NewSnapshotScheduler interval <= 0 时只响应手动触发
func NewSnapshotScheduler(snapshotter *HistorySnapshotter, interval time.Duration) *SnapshotScheduler {
	return &SnapshotScheduler{
		snapshotter: snapshotter,
		interval:    interval,
		runTimeout:  10 * time.Minute,
		stopWait:    30 * time.Second,
		trigger:     sigchan.New(1),
		sg:          syncgroup.NewSyncGroup(),
	}
}

// Start 启动调度循环（非阻塞）；重复调用无效果
func (s *SnapshotScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.sg.Go(func() { s.loop(loopCtx) })
	schedulerLog.Infof("snapshot scheduler started: interval=%s", s.interval)
}

// Trigger 请求一次立即运行；返回 false 表示已有待处理的触发
func (s *SnapshotScheduler) Trigger() bool {
	return s.trigger.Emit()
}

// Stop 停止循环并等待当前运行结束（最多 stopWait），未消费的手动触发被丢弃
func (s *SnapshotScheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if !s.sg.WaitTimeout(s.stopWait) {
		schedulerLog.Warnf("snapshot run still in flight after %s", s.stopWait)
	}
	s.trigger.Drain()
}

func (s *SnapshotScheduler) loop(ctx context.Context) {
	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			s.runOnce(ctx, TriggerInterval)
		case <-s.trigger.C():
			s.runOnce(ctx, TriggerManual)
		}
	}
}

func (s *SnapshotScheduler) runOnce(ctx context.Context, trigger string) {
	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	if _, err := s.snapshotter.RunForAllUsers(runCtx, trigger); err != nil {
		schedulerLog.Errorf("snapshot run failed: %v", err)
	}
	if s.onRun != nil {
		s.onRun(trigger)
	}
}
