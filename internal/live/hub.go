// Package live keeps in-memory tallies for polls that are being watched and
// pushes a fresh snapshot to every watcher when votes arrive.
//
// Each watched poll is owned by one unit goroutine with a bounded inbox. The
// unit is the only code that touches the poll's tally.State, so there is no
// lock around tally data and no cross-poll shared state. Vote submission
// never waits on a unit: notifications are offered to the inbox without
// blocking and an overflow only marks the unit for a full reload.
package live

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-poll-backend/internal/notify"
	"github.com/tbourn/go-poll-backend/internal/observability"
	"github.com/tbourn/go-poll-backend/internal/tally"
)

// ErrClosed is returned once the hub has been shut down.
var ErrClosed = errors.New("live: hub closed")

// Options tunes unit behaviour.
type Options struct {
	InboxSize      int
	IdleTTL        time.Duration
	ResyncInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.InboxSize <= 0 {
		o.InboxSize = 256
	}
	if o.IdleTTL <= 0 {
		o.IdleTTL = 30 * time.Second
	}
	if o.ResyncInterval <= 0 {
		o.ResyncInterval = 15 * time.Second
	}
	return o
}

// Hub owns the per-poll units.
type Hub struct {
	store Store
	opts  Options
	log   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	units  map[string]*unit
	closed bool
}

// NewHub creates a hub reading from store.
func NewHub(store Store, opts Options, log zerolog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		store:  store,
		opts:   opts.withDefaults(),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		units:  make(map[string]*unit),
	}
}

// Listen subscribes the hub to ch until ctx ends.
func (h *Hub) Listen(ctx context.Context, ch notify.Channel) error {
	return ch.Subscribe(ctx, func(_ context.Context, ev notify.Event) { h.Notify(ev) })
}

// Notify routes an event to the poll's unit, if one is resident. It never
// blocks; when the inbox is full the unit is flagged to reload.
func (h *Hub) Notify(ev notify.Event) {
	u := h.resident(ev.PollID)
	if u == nil {
		return
	}
	select {
	case u.inbox <- message{kind: msgEvent, event: ev}:
	default:
		h.lost(u, ev, "live inbox full; unit will reload")
	}
}

// Dropped reports an event the channel failed to deliver to the hub, as
// wired to notify.Bus.OnDrop. A resident unit reloads from the store on its
// next loop turn, which is triggered right away when the inbox has room.
func (h *Hub) Dropped(ev notify.Event) {
	u := h.resident(ev.PollID)
	if u == nil {
		observability.NotificationsDropped.Inc()
		return
	}
	h.lost(u, ev, "notification dropped upstream; unit will reload")
	select {
	case u.inbox <- message{kind: msgWake}:
	default:
	}
}

func (h *Hub) lost(u *unit, ev notify.Event, msg string) {
	u.overflow.Store(true)
	observability.NotificationsDropped.Inc()
	h.log.Warn().Str("poll_id", ev.PollID).Msg(msg)
}

func (h *Hub) resident(pollID string) *unit {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.units[pollID]
}

// acquire returns the unit for pollID with one reference held, starting it
// if needed. create=false returns nil when no unit is resident.
func (h *Hub) acquire(pollID string, create bool) (*unit, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	u := h.units[pollID]
	if u == nil {
		if !create {
			return nil, nil
		}
		u = newUnit(h, pollID)
		h.units[pollID] = u
		h.wg.Add(1)
		observability.LiveUnits.Inc()
		go u.run()
	}
	u.refs++
	return u, nil
}

func (h *Hub) release(u *unit) {
	h.mu.Lock()
	u.refs--
	h.mu.Unlock()
}

// tryEvict removes u from the registry if nobody holds it.
func (h *Hub) tryEvict(u *unit) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if u.refs > 0 || h.units[u.pollID] != u {
		return false
	}
	delete(h.units, u.pollID)
	observability.LiveUnits.Dec()
	return true
}

// Subscription is a live feed of snapshots for one poll. C always holds the
// most recent snapshot not yet read; intermediate ones may be skipped. C is
// closed after Close or when the hub shuts down.
type Subscription struct {
	C <-chan *tally.Snapshot

	once   sync.Once
	hub    *Hub
	unit   *unit
	sub    *subscriber
	cancel context.CancelFunc
}

// Subscribe registers a watcher of pollID. The first snapshot is available
// on C as soon as Subscribe returns. The subscription ends when ctx is done
// or Close is called.
func (h *Hub) Subscribe(ctx context.Context, pollID string) (*Subscription, error) {
	u, err := h.acquire(pollID, true)
	if err != nil {
		return nil, err
	}

	sub := &subscriber{ch: make(chan *tally.Snapshot, 1)}
	reply := make(chan result, 1)
	if err := u.send(ctx, message{kind: msgSubscribe, sub: sub, reply: reply}); err != nil {
		h.release(u)
		return nil, err
	}
	var res result
	select {
	case res = <-reply:
	case <-u.done:
		h.release(u)
		return nil, ErrClosed
	case <-ctx.Done():
		// The unit will still register sub; undo that once it answers.
		go func() {
			select {
			case r := <-reply:
				if r.err == nil {
					_ = u.send(context.Background(), message{kind: msgUnsubscribe, sub: sub})
				}
			case <-u.done:
			}
			h.release(u)
		}()
		return nil, ctx.Err()
	}
	if res.err != nil {
		h.release(u)
		return nil, res.err
	}

	subCtx, cancel := context.WithCancel(ctx)
	s := &Subscription{C: sub.ch, hub: h, unit: u, sub: sub, cancel: cancel}
	go func() {
		<-subCtx.Done()
		s.Close()
	}()
	return s, nil
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.cancel()
		// The unit stays alive while we hold a reference, so the send below
		// can only fail if the hub is shutting down.
		_ = s.unit.send(context.Background(), message{kind: msgUnsubscribe, sub: s.sub})
		s.hub.release(s.unit)
	})
}

// Snapshot returns the current tally. A resident unit answers from memory;
// otherwise the tally is computed from the store without creating a unit.
func (h *Hub) Snapshot(ctx context.Context, pollID string) (*tally.Snapshot, error) {
	u, err := h.acquire(pollID, false)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return h.compute(ctx, pollID)
	}
	defer h.release(u)

	reply := make(chan result, 1)
	if err := u.send(ctx, message{kind: msgSnapshot, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case res := <-reply:
		return res.snap, res.err
	case <-u.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) compute(ctx context.Context, pollID string) (*tally.Snapshot, error) {
	def, err := h.store.LoadDefinition(ctx, pollID)
	if err != nil {
		return nil, err
	}
	votes, err := h.store.ListVotes(ctx, pollID)
	if err != nil {
		return nil, err
	}
	st, _ := tally.Compute(def, votes)
	return st.Snapshot(), nil
}

// Resident reports whether a unit for pollID is currently in memory.
func (h *Hub) Resident(pollID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.units[pollID]
	return ok
}

// Close stops every unit and closes all subscription channels.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()
}
