package claude

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestQueueKeepsOrderAndDrainsAfterClose(t *testing.T) {
	q := newMessageQueue()
	for i := range 3 {
		require.True(t, q.push(streamItem{msg: map[string]any{"n": i}}))
	}
	require.True(t, q.push(streamItem{err: errors.New("end"), terminal: true}))
	q.close()
	assert.False(t, q.push(streamItem{}))
	assert.Equal(t, 4, q.len())

	ctx := context.Background()
	for i := range 3 {
		it, ok := q.pop(ctx)
		require.True(t, ok)
		assert.Equal(t, i, it.msg["n"])
	}
	it, ok := q.pop(ctx)
	require.True(t, ok)
	assert.True(t, it.terminal)

	_, ok = q.pop(ctx)
	assert.False(t, ok)
}

func TestQueuePopWaitsForPush(t *testing.T) {
	q := newMessageQueue()
	got := make(chan streamItem, 1)
	go func() {
		it, _ := q.pop(context.Background())
		got <- it
	}()

	time.Sleep(20 * time.Millisecond)
	q.push(streamItem{msg: map[string]any{"type": "late"}})
	select {
	case it := <-got:
		assert.Equal(t, "late", it.msg["type"])
	case <-time.After(waitFor):
		t.Fatal("pop did not wake")
	}
}

func TestQueuePopHonorsContext(t *testing.T) {
	q := newMessageQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok := q.pop(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
}

func TestQueueCloseWakesAllConsumers(t *testing.T) {
	q := newMessageQueue()
	var g errgroup.Group
	for range 8 {
		g.Go(func() error {
			if _, ok := q.pop(context.Background()); ok {
				return errors.New("pop returned an item from an empty queue")
			}
			return nil
		})
	}
	time.Sleep(20 * time.Millisecond)
	q.close()
	q.close()
	require.NoError(t, g.Wait())
}

func TestQueuePushNeverBlocks(t *testing.T) {
	q := newMessageQueue()
	done := make(chan struct{})
	go func() {
		for i := range 100_000 {
			q.push(streamItem{msg: map[string]any{"n": i}})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("push blocked without a consumer")
	}
	assert.Equal(t, 100_000, q.len())
}
