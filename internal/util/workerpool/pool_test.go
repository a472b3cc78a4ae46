package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPool_RunsTasks(t *testing.T) {
	pool := New(Config{Name: "test", MaxWorkers: 2, QueueSize: 8, Logger: zap.NewNop()})
	defer pool.Stop(context.Background())

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		require.True(t, pool.TrySubmit(Task{ID: "t", Fn: func(context.Context) error {
			ran.Add(1)
			return nil
		}}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, pool.Wait(ctx))

	assert.Equal(t, int32(5), ran.Load())
	stats := pool.Stats()
	assert.Equal(t, uint64(5), stats.Submitted)
	assert.Equal(t, uint64(5), stats.Completed)
}

func TestPool_FailuresAndPanicsAreCounted(t *testing.T) {
	pool := New(Config{Name: "test", MaxWorkers: 1, QueueSize: 4})
	defer pool.Stop(context.Background())

	require.True(t, pool.TrySubmit(Task{ID: "err", Fn: func(context.Context) error {
		return errors.New("boom")
	}}))
	require.True(t, pool.TrySubmit(Task{ID: "panic", Fn: func(context.Context) error {
		panic("boom")
	}}))

	require.NoError(t, pool.Wait(context.Background()))
	assert.Equal(t, uint64(2), pool.Stats().Failed)
}

func TestPool_RejectsWhenFull(t *testing.T) {
	pool := New(Config{Name: "test", MaxWorkers: 1, QueueSize: 1})
	defer pool.Stop(context.Background())

	release := make(chan struct{})
	started := make(chan struct{})
	require.True(t, pool.TrySubmit(Task{ID: "block", Fn: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started

	require.True(t, pool.TrySubmit(Task{ID: "queued", Fn: func(context.Context) error { return nil }}))
	assert.False(t, pool.TrySubmit(Task{ID: "dropped", Fn: func(context.Context) error { return nil }}))

	close(release)
	require.NoError(t, pool.Wait(context.Background()))
	assert.Equal(t, uint64(1), pool.Stats().Rejected)
}

func TestPool_StopRejectsNewTasks(t *testing.T) {
	pool := New(Config{Name: "test", MaxWorkers: 1, QueueSize: 1})
	require.NoError(t, pool.Stop(context.Background()))

	assert.False(t, pool.TrySubmit(Task{ID: "late", Fn: func(context.Context) error { return nil }}))
	assert.NoError(t, pool.Stop(context.Background()))
}

func TestPool_TaskTimeout(t *testing.T) {
	pool := New(Config{Name: "test", MaxWorkers: 1, QueueSize: 1, TaskTimeout: 10 * time.Millisecond})
	defer pool.Stop(context.Background())

	var sawDeadline atomic.Bool
	require.True(t, pool.TrySubmit(Task{ID: "slow", Fn: func(ctx context.Context) error {
		<-ctx.Done()
		sawDeadline.Store(errors.Is(ctx.Err(), context.DeadlineExceeded))
		return ctx.Err()
	}}))

	require.NoError(t, pool.Wait(context.Background()))
	assert.True(t, sawDeadline.Load())
}

func TestPool_QueueCallback(t *testing.T) {
	var calls atomic.Int32
	pool := New(Config{Name: "test", MaxWorkers: 1, QueueSize: 2, OnQueueChange: func(int) { calls.Add(1) }})
	defer pool.Stop(context.Background())

	require.True(t, pool.TrySubmit(Task{ID: "t", Fn: func(context.Context) error { return nil }}))
	require.NoError(t, pool.Wait(context.Background()))

	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}
