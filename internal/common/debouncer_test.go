package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncer(t *testing.T) {
	d := NewDebouncer(time.Second)
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, d.TryMark(t0))
	assert.False(t, d.Ready(t0.Add(500*time.Millisecond)))
	assert.False(t, d.TryMark(t0.Add(500*time.Millisecond)))
	assert.True(t, d.Ready(t0.Add(time.Second)))

	d.Mark(t0.Add(2 * time.Second))
	assert.False(t, d.Ready(t0.Add(2500*time.Millisecond)))
	d.Reset()
	assert.True(t, d.Ready(t0))

	assert.True(t, NewDebouncer(0).TryMark(t0))
	assert.True(t, NewDebouncer(0).Ready(t0))
}

func TestDebouncer_Remaining(t *testing.T) {
	d := NewDebouncer(time.Second)
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Duration(0), d.Remaining(t0))

	d.Mark(t0)
	assert.Equal(t, 700*time.Millisecond, d.Remaining(t0.Add(300*time.Millisecond)))
	assert.Equal(t, time.Duration(0), d.Remaining(t0.Add(time.Second)))
}
