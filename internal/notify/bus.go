package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultBuffer is the per-subscriber queue length of the in-process bus.
const DefaultBuffer = 128

// Bus is the in-process Channel used when no broker is configured. Publish
// never blocks: a subscriber whose queue is full misses the event, and the
// OnDrop hook (if set) is told about it.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan Event
	buffer int
	log    zerolog.Logger

	// OnDrop is called for every event a slow subscriber missed.
	OnDrop func(Event)
}

// NewBus returns a bus whose subscribers queue up to buffer events.
func NewBus(buffer int, log zerolog.Logger) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{buffer: buffer, log: log}
}

// Publish hands ev to every subscriber without waiting.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	subs := append([]chan Event(nil), b.subs...)
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sub <- ev:
		default:
			b.log.Warn().
				Str("poll_id", ev.PollID).
				Str("kind", string(ev.Kind)).
				Msg("dropping event for slow subscriber")
			if b.OnDrop != nil {
				b.OnDrop(ev)
			}
		}
	}
	return nil
}

// Subscribe starts a goroutine delivering events to h until ctx ends.
func (b *Bus) Subscribe(ctx context.Context, h Handler) error {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				b.remove(ch)
				return
			case ev := <-ch:
				h(ctx, ev)
			}
		}
	}()
	return nil
}

func (b *Bus) remove(target chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	filtered := b.subs[:0]
	for _, s := range b.subs {
		if s != target {
			filtered = append(filtered, s)
		}
	}
	b.subs = filtered
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
