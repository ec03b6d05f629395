// Package events carries streamed call messages from the backend to the
// session manager. Each subscriber gets its own buffered channel; publishing
// blocks until every live subscriber accepted the event, so a single
// publisher's events arrive in the order they were published.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shhac/grpcdesk/internal/domain"
)

// ErrBusClosed is returned by Subscribe after Close.
var ErrBusClosed = errors.New("event bus closed")

const defaultBuffer = 64

// Bus fans stream events out to subscribers.
type Bus struct {
	mu        sync.RWMutex
	listeners map[int]*Listener
	nextID    int
	buffer    int
	closed    bool
}

// Listener is one subscription. C is never closed; select on Done to learn
// that the subscription ended.
type Listener struct {
	C <-chan domain.StreamEvent

	ch        chan domain.StreamEvent
	done      chan struct{}
	closeOnce sync.Once
	remove    func()
}

// NewBus creates a bus. buffer <= 0 selects the default per-listener buffer.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Bus{
		listeners: make(map[int]*Listener),
		buffer:    buffer,
	}
}

// Subscribe registers a listener. The listener is cancelled when ctx ends.
func (b *Bus) Subscribe(ctx context.Context) (*Listener, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}
	id := b.nextID
	b.nextID++
	ch := make(chan domain.StreamEvent, b.buffer)
	l := &Listener{
		C:    ch,
		ch:   ch,
		done: make(chan struct{}),
	}
	l.remove = func() { b.remove(id) }
	b.listeners[id] = l
	b.mu.Unlock()

	stop := context.AfterFunc(ctx, l.Cancel)
	go func() {
		<-l.done
		stop()
	}()
	return l, nil
}

// Publish delivers evt to every live listener. A zero timestamp is set to now.
func (b *Bus) Publish(evt domain.StreamEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	listeners := make([]*Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}
	b.mu.RUnlock()

	for _, l := range listeners {
		select {
		case l.ch <- evt:
		case <-l.done:
		}
	}
}

// Len reports the number of live listeners.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Close cancels every listener and rejects further subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	listeners := make([]*Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}
	b.mu.Unlock()

	for _, l := range listeners {
		l.Cancel()
	}
}

func (b *Bus) remove(id int) {
	b.mu.Lock()
	delete(b.listeners, id)
	b.mu.Unlock()
}

// Cancel ends the subscription. Safe to call more than once.
func (l *Listener) Cancel() {
	l.closeOnce.Do(func() {
		close(l.done)
		l.remove()
	})
}

// Done is closed once the listener is cancelled.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}
