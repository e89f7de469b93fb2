package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/betbot/stockledger/internal/domain"
	"github.com/betbot/stockledger/internal/metrics"
	"github.com/shopspring/decimal"
)

// Event 进程内事件
type Event interface {
	EventName() string
}

// TradeExecutedEvent 交易已提交
type TradeExecutedEvent struct {
	UserID    string
	Ticker    string
	Type      domain.TradeType
	Shares    int64
	Price     decimal.Decimal
	CashAfter decimal.Decimal
	Timestamp time.Time
}

func (TradeExecutedEvent) EventName() string { return "trade_executed" }

// SnapshotRunFinishedEvent 一次全量快照结束
type SnapshotRunFinishedEvent struct {
	Run       domain.SnapshotRun
	Timestamp time.Time
}

func (SnapshotRunFinishedEvent) EventName() string { return "snapshot_run_finished" }

// Bus 事件分发：每个订阅者一个缓冲队列，队列满时丢弃，发布方不阻塞。
// nil Bus 上的 Publish 是空操作。
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	next    int
	dropped atomic.Int64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe 返回事件通道与取消函数；取消后通道关闭
func (b *Bus) Subscribe(buf int) (<-chan Event, func()) {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan Event, buf)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
			metrics.EventsDropped.Add(1)
		}
	}
}

// Dropped 因订阅者队列满而丢弃的事件数
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Subscribers 当前订阅者数量
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
