package common

import (
	"sync"
	"time"
)

// Debouncer 时间闸门：距离上次 Mark 超过 interval 才放行。并发安全。
type Debouncer struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{interval: interval}
}

// Ready 是否可以执行；不修改状态
func (d *Debouncer) Ready(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readyLocked(now)
}

func (d *Debouncer) readyLocked(now time.Time) bool {
	return d.interval <= 0 || d.last.IsZero() || now.Sub(d.last) >= d.interval
}

// Remaining 距离下次 Ready 还需等待的时间，已 Ready 时为 0
func (d *Debouncer) Remaining(now time.Time) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readyLocked(now) {
		return 0
	}
	return d.interval - now.Sub(d.last)
}

// Mark 记录一次执行时间
func (d *Debouncer) Mark(now time.Time) {
	d.mu.Lock()
	d.last = now
	d.mu.Unlock()
}

// TryMark Ready 时立即 Mark 并返回 true（原子地检查并占用）
func (d *Debouncer) TryMark(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.readyLocked(now) {
		return false
	}
	d.last = now
	return true
}

// Reset 清空上次执行时间，下次 Ready 必然为 true
func (d *Debouncer) Reset() {
	d.mu.Lock()
	d.last = time.Time{}
	d.mu.Unlock()
}
