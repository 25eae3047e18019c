package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vincentbai/browsetrace/internal/logger"
)

func TestDispatcherRunsInOrder(t *testing.T) {
	d := newDispatcher(logger.NewNop())

	var order []int
	for i := range 5 {
		require.NoError(t, d.post("step", func() { order = append(order, i) }))
	}
	d.stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.wait(ctx))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestDispatcherBacklogFull(t *testing.T) {
	d := newDispatcher(logger.NewNop())

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, d.post("block", func() {
		close(started)
		<-release
	}))
	<-started

	for range maxPendingTasks {
		require.NoError(t, d.post("fill", func() {}))
	}
	err := d.post("overflow", func() {})
	assert.True(t, errors.Is(err, errBacklogFull), "got %v", err)

	close(release)
	d.stop()
	require.NoError(t, d.wait(context.Background()))
}

func TestDispatcherRefusesAfterStop(t *testing.T) {
	d := newDispatcher(logger.NewNop())
	d.stop()

	err := d.post("late", func() {})
	assert.True(t, errors.Is(err, errDispatcherClosed))
	require.NoError(t, d.wait(context.Background()))
}

func TestDispatcherContainsPanics(t *testing.T) {
	d := newDispatcher(logger.NewNop())

	ran := false
	require.NoError(t, d.post("boom", func() { panic("boom") }))
	require.NoError(t, d.post("after", func() { ran = true }))
	d.stop()

	require.NoError(t, d.wait(context.Background()))
	assert.True(t, ran)
}
