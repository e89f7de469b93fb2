package marketdata

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/betbot/stockledger/pkg/httpclient"
)

// ErrBreakerOpen 上游连续失败，冷却期内直接拒绝报价请求
var ErrBreakerOpen = errors.New("quote provider circuit open")

// CircuitBreaker 行情源断路器。
// 连续失败达到阈值后打开；冷却期过后放行一次试探请求（半开），
// 试探成功则关闭，失败则重新计时。阈值 <= 0 表示关闭断路器。
type CircuitBreaker struct {
	threshold int64
	cooldown  time.Duration

	consecutive atomic.Int64
	openedAt    atomic.Int64 // unix nano，0 表示关闭
	probing     atomic.Bool

	now func() time.Time
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{threshold: int64(threshold), cooldown: cooldown, now: time.Now}
}

// Allow 快路径检查；nil 断路器总是放行
func (cb *CircuitBreaker) Allow() error {
	if cb == nil || cb.threshold <= 0 {
		return nil
	}
	opened := cb.openedAt.Load()
	if opened == 0 {
		return nil
	}
	if cb.now().UnixNano()-opened < int64(cb.cooldown) {
		return ErrBreakerOpen
	}
	// 冷却结束：只放行一个试探请求
	if cb.probing.CompareAndSwap(false, true) {
		return nil
	}
	return ErrBreakerOpen
}

// OnSuccess 清空连续失败计数并关闭断路器
func (cb *CircuitBreaker) OnSuccess() {
	if cb == nil {
		return
	}
	cb.consecutive.Store(0)
	cb.openedAt.Store(0)
	cb.probing.Store(false)
}

// OnError 累计一次上游失败，达到阈值时打开
func (cb *CircuitBreaker) OnError() {
	if cb == nil || cb.threshold <= 0 {
		return
	}
	n := cb.consecutive.Add(1)
	if n >= cb.threshold || cb.probing.Load() {
		cb.openedAt.Store(cb.now().UnixNano())
		cb.probing.Store(false)
	}
}

// Release 放行的请求没有得出上游可用与否的结论（标的不存在、4xx、本地限流），
// 归还试探名额；打开状态不变，下一次请求可以立即重新试探。
func (cb *CircuitBreaker) Release() {
	if cb == nil {
		return
	}
	cb.probing.Store(false)
}

// IsOpen 是否处于打开状态（含冷却结束但尚未试探）
func (cb *CircuitBreaker) IsOpen() bool {
	return cb != nil && cb.openedAt.Load() != 0
}

// upstreamFailure 只有上游整体不可用的错误计入断路器；
// 单个标的不存在或 4xx（429 除外）不算。
func upstreamFailure(err error) bool {
	if err == nil || errors.Is(err, errUnknownSymbol) || errors.Is(err, errNonPositivePrice) {
		return false
	}
	var se *httpclient.StatusError
	if errors.As(err, &se) {
		return se.StatusCode == 429 || se.StatusCode >= 500
	}
	return true
}
