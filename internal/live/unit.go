package live

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/tbourn/go-poll-backend/internal/notify"
	"github.com/tbourn/go-poll-backend/internal/observability"
	"github.com/tbourn/go-poll-backend/internal/tally"
)

type msgKind int

const (
	msgEvent msgKind = iota
	msgSubscribe
	msgUnsubscribe
	msgSnapshot
	// msgWake only runs the loop so a pending overflow reload happens now.
	msgWake
)

type message struct {
	kind  msgKind
	event notify.Event
	sub   *subscriber
	reply chan result
}

type result struct {
	snap *tally.Snapshot
	err  error
}

type subscriber struct {
	ch chan *tally.Snapshot
}

// push replaces whatever the subscriber has not read yet with snap. Only
// the owning unit sends on ch, so the second attempt cannot block.
func (s *subscriber) push(snap *tally.Snapshot) {
	select {
	case s.ch <- snap:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- snap:
	default:
	}
}

// unit is the single writer of one poll's tally.
type unit struct {
	hub    *Hub
	pollID string
	inbox  chan message
	done   chan struct{}

	// overflow is set by Notify when the inbox was full.
	overflow atomic.Bool

	// refs is guarded by hub.mu.
	refs int

	// Owned by the run goroutine.
	state *tally.State
	stale bool
	subs  map[*subscriber]struct{}
}

func newUnit(h *Hub, pollID string) *unit {
	return &unit{
		hub:    h,
		pollID: pollID,
		inbox:  make(chan message, h.opts.InboxSize),
		done:   make(chan struct{}),
		subs:   make(map[*subscriber]struct{}),
	}
}

// send enqueues m, waiting for room. Used only for requests whose caller
// holds a reference, so the unit cannot be evicted underneath.
func (u *unit) send(ctx context.Context, m message) error {
	select {
	case u.inbox <- m:
		return nil
	case <-u.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (u *unit) run() {
	h := u.hub
	log := h.log.With().Str("poll_id", u.pollID).Logger()
	defer h.wg.Done()
	defer close(u.done)

	resync := time.NewTicker(h.opts.ResyncInterval)
	defer resync.Stop()
	idle := time.NewTimer(h.opts.IdleTTL)
	defer idle.Stop()

	log.Debug().Msg("live unit started")
	for {
		select {
		case <-h.ctx.Done():
			for s := range u.subs {
				close(s.ch)
				observability.LiveSubscribers.Dec()
			}
			observability.LiveUnits.Dec()
			log.Debug().Msg("live unit stopped")
			return

		case m := <-u.inbox:
			u.handle(m)
			if len(u.subs) == 0 {
				idle.Reset(h.opts.IdleTTL)
			} else {
				idle.Stop()
			}

		case <-resync.C:
			u.resync()

		case <-idle.C:
			if len(u.subs) == 0 && h.tryEvict(u) {
				log.Debug().Msg("live unit evicted")
				return
			}
			idle.Reset(h.opts.IdleTTL)
		}

		if u.overflow.Swap(false) && u.state != nil {
			u.reload("overflow")
		}
	}
}

func (u *unit) handle(m message) {
	switch m.kind {
	case msgEvent:
		u.apply(m.event)

	case msgSubscribe:
		if err := u.ensureLoaded(); err != nil {
			m.reply <- result{err: err}
			return
		}
		u.subs[m.sub] = struct{}{}
		observability.LiveSubscribers.Inc()
		m.sub.push(u.state.Snapshot())
		m.reply <- result{}

	case msgUnsubscribe:
		if _, ok := u.subs[m.sub]; ok {
			delete(u.subs, m.sub)
			close(m.sub.ch)
			observability.LiveSubscribers.Dec()
		}

	case msgSnapshot:
		if err := u.ensureLoaded(); err != nil {
			m.reply <- result{err: err}
			return
		}
		m.reply <- result{snap: u.state.Snapshot()}
	}
}

func (u *unit) ensureLoaded() error {
	if u.state != nil && !u.stale {
		return nil
	}
	cause := "initial"
	if u.state != nil {
		cause = "stale"
	}
	if err := u.rebuild(cause); err != nil {
		if u.state == nil {
			return err
		}
		// Serve the last good tally; the next tick retries.
	}
	return nil
}

// apply folds an event into the tally. Events arriving before the first
// load are ignored; the load will include their rows.
func (u *unit) apply(ev notify.Event) {
	if u.state == nil {
		return
	}
	if ev.Kind == notify.KindPollChanged {
		u.reload("poll_changed")
		return
	}

	changed := false
	for _, v := range ev.Votes {
		ok, err := u.state.Apply(v)
		if errors.Is(err, tally.ErrUnknownReference) {
			// Definition is behind the votes; incremental update is unsafe.
			u.reload("unknown_reference")
			return
		}
		changed = changed || ok
	}
	if changed {
		u.broadcast()
	}
}

// resync compares the stored row count with what has been applied and
// reloads when they differ, catching notifications that never arrived.
func (u *unit) resync() {
	if u.state == nil || len(u.subs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(u.hub.ctx, u.hub.opts.ResyncInterval)
	defer cancel()
	n, err := u.hub.store.CountVotes(ctx, u.pollID)
	if err != nil {
		u.hub.log.Warn().Err(err).Str("poll_id", u.pollID).Msg("live resync count failed")
		return
	}
	if u.stale || int(n) != u.state.Rows() {
		u.reload("resync")
	}
}

func (u *unit) reload(cause string) {
	if err := u.rebuild(cause); err != nil {
		return
	}
	u.broadcast()
}

// rebuild replaces the tally with a full recomputation. On failure the old
// tally is kept and the unit stays stale.
func (u *unit) rebuild(cause string) error {
	ctx, cancel := context.WithTimeout(u.hub.ctx, 2*u.hub.opts.ResyncInterval)
	defer cancel()

	observability.TallyReloads.WithLabelValues(cause).Inc()
	def, err := u.hub.store.LoadDefinition(ctx, u.pollID)
	if err != nil {
		u.stale = true
		u.hub.log.Error().Err(err).Str("poll_id", u.pollID).Str("cause", cause).Msg("live reload failed")
		return err
	}
	votes, err := u.hub.store.ListVotes(ctx, u.pollID)
	if err != nil {
		u.stale = true
		u.hub.log.Error().Err(err).Str("poll_id", u.pollID).Str("cause", cause).Msg("live reload failed")
		return err
	}
	st, skipped := tally.Compute(def, votes)
	if skipped > 0 {
		u.hub.log.Warn().Str("poll_id", u.pollID).Int("skipped", skipped).Msg("votes outside loaded definition")
	}
	u.state = st
	u.stale = false
	u.hub.log.Debug().Str("poll_id", u.pollID).Str("cause", cause).Int("rows", st.Rows()).Msg("tally rebuilt")
	return nil
}

func (u *unit) broadcast() {
	if len(u.subs) == 0 {
		return
	}
	snap := u.state.Snapshot()
	for s := range u.subs {
		s.push(snap)
	}
}
