package events

import (
	"context"
	"testing"
	"time"

	"github.com/shhac/grpcdesk/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, l *Listener) domain.StreamEvent {
	t.Helper()
	select {
	case evt := <-l.C:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return domain.StreamEvent{}
	}
}

func TestBus_DeliversInPublishOrder(t *testing.T) {
	bus := NewBus(0)
	l, err := bus.Subscribe(context.Background())
	require.NoError(t, err)
	defer l.Cancel()

	for i := 0; i < 3; i++ {
		bus.Publish(domain.StreamEvent{TabID: "T", Index: i, Data: "m"})
	}

	for i := 0; i < 3; i++ {
		evt := receive(t, l)
		assert.Equal(t, i, evt.Index)
		assert.False(t, evt.Timestamp.IsZero())
	}
}

func TestBus_FansOutToAllListeners(t *testing.T) {
	bus := NewBus(1)
	a, err := bus.Subscribe(context.Background())
	require.NoError(t, err)
	b, err := bus.Subscribe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, bus.Len())

	bus.Publish(domain.StreamEvent{TabID: "T", Data: "x"})
	assert.Equal(t, "x", receive(t, a).Data)
	assert.Equal(t, "x", receive(t, b).Data)
}

func TestListener_CancelIsIdempotent(t *testing.T) {
	bus := NewBus(0)
	l, err := bus.Subscribe(context.Background())
	require.NoError(t, err)

	l.Cancel()
	l.Cancel()

	select {
	case <-l.Done():
	default:
		t.Fatal("done not closed after cancel")
	}
	assert.Equal(t, 0, bus.Len())

	// Publishing after cancel must not block.
	bus.Publish(domain.StreamEvent{TabID: "T"})
}

func TestBus_PublishDoesNotBlockOnCancelledFullListener(t *testing.T) {
	bus := NewBus(1)
	l, err := bus.Subscribe(context.Background())
	require.NoError(t, err)

	bus.Publish(domain.StreamEvent{Index: 0})

	finished := make(chan struct{})
	go func() {
		bus.Publish(domain.StreamEvent{Index: 1})
		close(finished)
	}()

	l.Cancel()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a cancelled listener")
	}
}

func TestBus_SubscribeFollowsContext(t *testing.T) {
	bus := NewBus(0)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := bus.Subscribe(cancelled)
	assert.ErrorIs(t, err, context.Canceled)

	ctx, cancel := context.WithCancel(context.Background())
	l, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("listener not cancelled with its context")
	}
}

func TestBus_Close(t *testing.T) {
	bus := NewBus(0)
	l, err := bus.Subscribe(context.Background())
	require.NoError(t, err)

	bus.Close()
	<-l.Done()

	_, err = bus.Subscribe(context.Background())
	assert.ErrorIs(t, err, ErrBusClosed)
}
