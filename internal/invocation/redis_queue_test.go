package invocation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// listClient serves BRPOP from an in-memory list and overrides nothing else.
type listClient struct {
	redis.UniversalClient

	mu    sync.Mutex
	items []string
	err   error
}

func (c *listClient) BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd {
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return redis.NewStringSliceResult(nil, err)
	}
	if len(c.items) > 0 {
		id := c.items[0]
		c.items = c.items[1:]
		c.mu.Unlock()
		return redis.NewStringSliceResult([]string{keys[0], id}, nil)
	}
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return redis.NewStringSliceResult(nil, ctx.Err())
	case <-time.After(10 * time.Millisecond):
		return redis.NewStringSliceResult(nil, redis.Nil)
	}
}

func TestRedisQueueConsumeWaitsForRunningHandler(t *testing.T) {
	client := &listClient{items: []string{"inv-1"}}
	queue := NewRedisQueueFromClient(client, RedisQueueConfig{BlockWait: time.Second})

	started := make(chan struct{})
	release := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- queue.Consume(ctx, 2, func(context.Context, string) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	cancel()
	select {
	case err := <-done:
		t.Fatalf("consume returned while a handler was running: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("consume did not return after the handler finished")
	}
}

func TestRedisQueueConsumeReportsTransportFailure(t *testing.T) {
	client := &listClient{err: errors.New("connection refused")}
	queue := NewRedisQueueFromClient(client, RedisQueueConfig{})

	err := queue.Consume(context.Background(), 3, func(context.Context, string) error { return nil })
	require.Error(t, err)
	require.ErrorContains(t, err, "connection refused")
}
