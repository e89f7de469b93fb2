package sigchan

// Chan 非阻塞的信号 channel：只通知“有事发生”，不传递数据
type Chan struct {
	c chan struct{}
}

// New bufferSize<=0 时按 1 处理，多次 Emit 在被消费前合并为一次
func New(bufferSize int) *Chan {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Chan{c: make(chan struct{}, bufferSize)}
}

// Emit 发送信号，channel 已满时丢弃；返回是否入队
func (c *Chan) Emit() bool {
	select {
	case c.c <- struct{}{}:
		return true
	default:
		return false
	}
}

// C 用于 select
func (c *Chan) C() <-chan struct{} {
	return c.c
}

// Drain 丢弃所有积压的信号
func (c *Chan) Drain() {
	for {
		select {
		case <-c.c:
		default:
			return
		}
	}
}
