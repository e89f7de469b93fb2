package syncgroup

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSyncGroup_Wait(t *testing.T) {
	g := NewSyncGroup()
	var n int32
	for i := 0; i < 5; i++ {
		g.Go(func() { atomic.AddInt32(&n, 1) })
	}
	g.Wait()
	assert.Equal(t, int32(5), atomic.LoadInt32(&n))
}

func TestSyncGroup_WaitTimeout(t *testing.T) {
	g := NewSyncGroup()
	release := make(chan struct{})
	g.Go(func() { <-release })

	assert.False(t, g.WaitTimeout(10*time.Millisecond))
	close(release)
	assert.True(t, g.WaitTimeout(time.Second))
}
