package services

import (
	"context"
	"testing"
	"time"

	"github.com/betbot/stockledger/internal/domain"
	"github.com/betbot/stockledger/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistorySnapshotter_IsolatesFailingUser(t *testing.T) {
	ctx := context.Background()
	store := &faultyStore{Store: memory.New(), failSnapshot: map[string]bool{"bad": true}}
	newUser(t, store, "good", "", "100")
	newUser(t, store, "bad", "", "200")
	newUser(t, store, "also-good", "", "300")

	h := NewHistorySnapshotter(store, NewValuator(store, newStubQuotes(), 2), 2)
	run, err := h.RunForAllUsers(ctx, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 3, run.Users)
	assert.Equal(t, 2, run.OK)
	assert.Equal(t, 1, run.Failed)

	snaps, err := h.History(ctx, "also-good")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.True(t, snaps[0].Value.Equal(d("300")))

	runs, err := store.ListJobRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, SnapshotJobName, runs[0].JobName)
	require.NotNil(t, runs[0].OK)
	assert.False(t, *runs[0].OK)
}

func TestHistorySnapshotter_AppendsInOrder(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	newUser(t, store, "u1", "", "100")

	h := NewHistorySnapshotter(store, NewValuator(store, newStubQuotes(), 1), 1)
	clock := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	h.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	for i := 0; i < 3; i++ {
		_, err := h.RunForAllUsers(ctx, TriggerInterval)
		require.NoError(t, err)
	}

	snaps, err := h.History(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, snaps, 3)
	for i := 1; i < len(snaps); i++ {
		assert.True(t, snaps[i-1].Timestamp.Before(snaps[i].Timestamp))
	}

	_, err = h.History(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}
