package status

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishKeepsLatest(t *testing.T) {
	n := NewNotifier(time.Hour)
	ch, cancel := n.Subscribe()
	defer cancel()

	n.Publish(true)
	n.Publish(false)
	n.Publish(true)

	assert.True(t, <-ch)
	select {
	case v := <-ch:
		t.Fatalf("unexpected extra value %v", v)
	default:
	}
	assert.True(t, n.Connected())
}

func TestUnsubscribe(t *testing.T) {
	n := NewNotifier(time.Hour)
	ch, cancel := n.Subscribe()
	cancel()
	cancel()

	n.Publish(true)
	select {
	case <-ch:
		t.Fatal("value delivered after unsubscribe")
	default:
	}
}

func TestRunHeartbeat(t *testing.T) {
	n := NewNotifier(10 * time.Millisecond)
	ch, cancel := n.Subscribe()
	defer cancel()

	n.Publish(false)
	<-ch

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	// 没有状态变化也会按间隔重发
	for i := 0; i < 3; i++ {
		select {
		case v := <-ch:
			assert.False(t, v)
		case <-time.After(time.Second):
			t.Fatal("heartbeat not delivered")
		}
	}

	stop()
	require.NoError(t, <-done)
}

func TestDefaultInterval(t *testing.T) {
	assert.Equal(t, DefaultInterval, NewNotifier(0).interval)
}
