// Package dispatch delivers change notifications to subscribers.
//
// Writes are reported with Notify. Time travel is reported with
// DispatchTime, which re-resolves only the subscribed keys whose cached
// validity window no longer covers the new cursor. Delivery is synchronous,
// in subscription order.
package dispatch

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/tempograph/internal/ir"
	"github.com/roach88/tempograph/internal/metrics"
)

// Handler receives one change.
type Handler func(ir.Change)

// Resolver looks up (ref, key) at t and reports how long the result holds.
type Resolver func(ref ir.EntityRef, key string, t ir.Time) (ir.Result, ir.Validity, error)

type watchKey struct {
	ref ir.EntityRef
	key string
}

// watched is the last result delivered for a key and where it holds.
type watched struct {
	result   ir.Result
	validity ir.Validity
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id     int64
	all    bool
	target watchKey
	fn     Handler
	d      *Dispatcher
	gone   bool
}

// Unsubscribe stops delivery. Safe to call more than once, including from
// inside a handler.
func (s *Subscription) Unsubscribe() {
	s.d.remove(s)
}

// Dispatcher fans changes out to subscribers.
// Not safe for concurrent use.
type Dispatcher struct {
	logger  *slog.Logger
	nextID  int64
	subs    []*Subscription
	windows map[watchKey]watched
}

// New returns a dispatcher. A nil logger discards.
func New(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{
		logger:  logger,
		windows: make(map[watchKey]watched),
	}
}

// Subscribe registers fn for changes to (ref, key).
func (d *Dispatcher) Subscribe(ref ir.EntityRef, key string, fn Handler) *Subscription {
	return d.add(&Subscription{target: watchKey{ref, key}, fn: fn})
}

// SubscribeAll registers fn for every change. On time travel it sees the
// changes of keys that have at least one keyed subscriber.
func (d *Dispatcher) SubscribeAll(fn Handler) *Subscription {
	return d.add(&Subscription{all: true, fn: fn})
}

func (d *Dispatcher) add(s *Subscription) *Subscription {
	d.nextID++
	s.id = d.nextID
	s.d = d
	d.subs = append(d.subs, s)
	return s
}

func (d *Dispatcher) remove(s *Subscription) {
	i := slices.Index(d.subs, s)
	if i < 0 {
		return
	}
	s.gone = true
	d.subs = slices.Delete(slices.Clone(d.subs), i, i+1)
	if !s.all && !d.watching(s.target) {
		delete(d.windows, s.target)
	}
}

func (d *Dispatcher) watching(k watchKey) bool {
	for _, s := range d.subs {
		if !s.all && s.target == k {
			return true
		}
	}
	return false
}

// Len returns the number of live subscriptions.
func (d *Dispatcher) Len() int {
	return len(d.subs)
}

// Notify delivers a change caused by a write and forgets the key's
// validity window, since the write may have moved its bounds.
func (d *Dispatcher) Notify(c ir.Change) {
	delete(d.windows, watchKey{c.Ref, c.Key})
	d.deliver(c, "write")
}

// Invalidate forgets the validity window of (ref, key) without
// delivering anything.
func (d *Dispatcher) Invalidate(ref ir.EntityRef, key string) {
	delete(d.windows, watchKey{ref, key})
}

// Reset forgets every validity window.
func (d *Dispatcher) Reset() {
	clear(d.windows)
}

func (d *Dispatcher) deliver(c ir.Change, cause string) {
	// Handlers may subscribe or unsubscribe. remove never mutates the
	// backing array, so ranging over the current slice is stable.
	for _, s := range d.subs {
		if s.gone {
			continue
		}
		if s.all || s.target == (watchKey{c.Ref, c.Key}) {
			s.fn(c)
			metrics.Dispatches.WithLabelValues(cause).Inc()
		}
	}
}

// DispatchTime reports the changes a move of the cursor from then to now
// makes visible to keyed subscribers. Keys whose last known result still
// holds at now are skipped without a lookup.
func (d *Dispatcher) DispatchTime(then, now ir.Time, resolve Resolver) error {
	var targets []watchKey
	for _, s := range d.subs {
		if !s.all && !slices.Contains(targets, s.target) {
			targets = append(targets, s.target)
		}
	}

	for _, k := range targets {
		prev, ok := d.windows[k]
		if ok && prev.validity.Covers(now) {
			continue
		}
		if !ok {
			r, v, err := resolve(k.ref, k.key, then)
			if err != nil {
				return fmt.Errorf("dispatch time: %s %q at %s: %w", k.ref, k.key, then, err)
			}
			prev = watched{result: r, validity: v}
			if v.Covers(now) {
				d.windows[k] = prev
				continue
			}
		}

		metrics.Recomputes.Inc()
		r, v, err := resolve(k.ref, k.key, now)
		if err != nil {
			return fmt.Errorf("dispatch time: %s %q at %s: %w", k.ref, k.key, now, err)
		}
		d.windows[k] = watched{result: r, validity: v}
		if sameResult(prev.result, r) {
			continue
		}
		d.logger.Debug("dispatching time change",
			"entity", k.ref.String(), "key", k.key,
			"branch", now.Branch, "turn", now.Turn, "tick", now.Tick)
		d.deliver(ir.Change{Ref: k.ref, Key: k.key, Value: presentValue(r), Time: now}, "travel")
	}
	return nil
}

func presentValue(r ir.Result) ir.Value {
	if r.State != ir.Present {
		return nil
	}
	return r.Value
}

// sameResult reports whether two results show the same observable value.
// Absent and Deleted both read as unset.
func sameResult(a, b ir.Result) bool {
	return ir.Equal(presentValue(a), presentValue(b))
}
