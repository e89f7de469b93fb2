package services

import (
	"context"
	"testing"
	"time"

	"github.com/betbot/stockledger/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotScheduler_ManualTrigger(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	newUser(t, store, "u1", "", "100")

	s := NewSnapshotScheduler(NewHistorySnapshotter(store, NewValuator(store, newStubQuotes(), 1), 1), 0)
	ran := make(chan string, 4)
	s.onRun = func(trigger string) { ran <- trigger }

	s.Start(ctx)
	defer s.Stop()
	require.True(t, s.Trigger())

	select {
	case trigger := <-ran:
		assert.Equal(t, TriggerManual, trigger)
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot run not triggered")
	}

	snaps, err := store.ListSnapshots(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestSnapshotScheduler_IntervalAndStop(t *testing.T) {
	store := memory.New()
	newUser(t, store, "u1", "", "100")

	s := NewSnapshotScheduler(NewHistorySnapshotter(store, NewValuator(store, newStubQuotes(), 1), 1), 10*time.Millisecond)
	ran := make(chan string, 64)
	s.onRun = func(trigger string) {
		select {
		case ran <- trigger:
		default:
		}
	}

	s.Start(context.Background())
	select {
	case trigger := <-ran:
		assert.Equal(t, TriggerInterval, trigger)
	case <-time.After(2 * time.Second):
		t.Fatal("interval run not observed")
	}
	s.Stop()
}
