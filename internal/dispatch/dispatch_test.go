package dispatch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tempograph/internal/ir"
)

var kobold = ir.NodeRef("world", "kobold")

// stepHistory resolves against a single-branch history of (turn, value)
// steps and counts lookups.
type stepHistory struct {
	steps []struct {
		turn  int64
		value ir.Value
	}
	calls int
}

func (h *stepHistory) set(turn int64, v ir.Value) {
	h.steps = append(h.steps, struct {
		turn  int64
		value ir.Value
	}{turn, v})
}

func (h *stepHistory) resolve(_ ir.EntityRef, _ string, t ir.Time) (ir.Result, ir.Validity, error) {
	h.calls++
	res := ir.Result{}
	v := ir.Validity{Branch: t.Branch, SinceTurn: -1 << 62, Open: true}
	for _, s := range h.steps {
		if s.turn <= t.Turn {
			res = ir.Result{Value: s.value, State: ir.Present, From: ir.At(t.Branch, s.turn, 0)}
			v.SinceTurn = s.turn
			continue
		}
		v.UntilTurn, v.Open = s.turn, false
		break
	}
	return res, v, nil
}

func TestNotify_RegistrationOrder(t *testing.T) {
	d := New(nil)
	var got []string
	d.SubscribeAll(func(ir.Change) { got = append(got, "all-1") })
	d.Subscribe(kobold, "hp", func(ir.Change) { got = append(got, "hp") })
	d.Subscribe(kobold, "mp", func(ir.Change) { got = append(got, "mp") })
	d.SubscribeAll(func(ir.Change) { got = append(got, "all-2") })

	d.Notify(ir.Change{Ref: kobold, Key: "hp", Value: ir.Int(1)})

	assert.Equal(t, []string{"all-1", "hp", "all-2"}, got)
}

func TestUnsubscribe(t *testing.T) {
	d := New(nil)
	calls := 0
	sub := d.Subscribe(kobold, "hp", func(ir.Change) { calls++ })

	d.Notify(ir.Change{Ref: kobold, Key: "hp"})
	sub.Unsubscribe()
	sub.Unsubscribe()
	d.Notify(ir.Change{Ref: kobold, Key: "hp"})

	assert.Equal(t, 1, calls)
	assert.Zero(t, d.Len())
}

func TestUnsubscribeDuringDelivery(t *testing.T) {
	d := New(nil)
	var second *Subscription
	calls := 0
	d.SubscribeAll(func(ir.Change) { second.Unsubscribe() })
	second = d.SubscribeAll(func(ir.Change) { calls++ })

	d.Notify(ir.Change{Ref: kobold, Key: "hp"})

	assert.Zero(t, calls)
}

func TestDispatchTime_SingleChangeAcrossWrite(t *testing.T) {
	h := &stepHistory{}
	h.set(3, ir.Int(7))

	d := New(nil)
	var changes []ir.Change
	d.Subscribe(kobold, "hp", func(c ir.Change) { changes = append(changes, c) })

	require.NoError(t, d.DispatchTime(ir.At("trunk", 0, 0), ir.At("trunk", 5, 0), h.resolve))

	require.Len(t, changes, 1)
	assert.Equal(t, ir.Int(7), changes[0].Value)
	assert.Equal(t, ir.At("trunk", 5, 0), changes[0].Time)
}

func TestDispatchTime_SkipsCoveredKeys(t *testing.T) {
	h := &stepHistory{}
	h.set(3, ir.Int(7))
	h.set(10, ir.Int(1))

	d := New(nil)
	changes := 0
	d.Subscribe(kobold, "hp", func(ir.Change) { changes++ })

	require.NoError(t, d.DispatchTime(ir.At("trunk", 0, 0), ir.At("trunk", 4, 0), h.resolve))
	calls := h.calls

	for turn := int64(5); turn < 10; turn++ {
		require.NoError(t, d.DispatchTime(ir.At("trunk", turn-1, 0), ir.At("trunk", turn, 0), h.resolve))
	}
	assert.Equal(t, calls, h.calls, "no lookups while the window covers the cursor")
	assert.Equal(t, 1, changes)

	require.NoError(t, d.DispatchTime(ir.At("trunk", 9, 0), ir.At("trunk", 10, 0), h.resolve))
	assert.Equal(t, 2, changes)
}

func TestDispatchTime_NoChangeNoDelivery(t *testing.T) {
	h := &stepHistory{}
	h.set(3, ir.Int(7))
	h.set(6, ir.Int(7))

	d := New(nil)
	changes := 0
	d.Subscribe(kobold, "hp", func(ir.Change) { changes++ })

	require.NoError(t, d.DispatchTime(ir.At("trunk", 4, 0), ir.At("trunk", 8, 0), h.resolve))
	assert.Zero(t, changes)
}

func TestDispatchTime_UnsetIsNil(t *testing.T) {
	h := &stepHistory{}
	h.set(3, ir.Int(7))

	d := New(nil)
	var changes []ir.Change
	d.Subscribe(kobold, "hp", func(c ir.Change) { changes = append(changes, c) })

	require.NoError(t, d.DispatchTime(ir.At("trunk", 5, 0), ir.At("trunk", 1, 0), h.resolve))
	require.Len(t, changes, 1)
	assert.Nil(t, changes[0].Value)
}

func TestNotify_InvalidatesWindow(t *testing.T) {
	h := &stepHistory{}
	d := New(nil)
	changes := 0
	d.Subscribe(kobold, "hp", func(ir.Change) { changes++ })

	require.NoError(t, d.DispatchTime(ir.At("trunk", 0, 0), ir.At("trunk", 1, 0), h.resolve))
	assert.Zero(t, changes)

	h.set(2, ir.Int(2))
	d.Notify(ir.Change{Ref: kobold, Key: "hp", Value: ir.Int(2), Time: ir.At("trunk", 2, 0)})
	assert.Equal(t, 1, changes)

	require.NoError(t, d.DispatchTime(ir.At("trunk", 1, 0), ir.At("trunk", 3, 0), h.resolve))
	assert.Equal(t, 2, changes)
}

func TestDispatchTime_ResolverError(t *testing.T) {
	d := New(nil)
	d.Subscribe(kobold, "hp", func(ir.Change) {})
	boom := errors.New("boom")

	err := d.DispatchTime(ir.At("trunk", 0, 0), ir.At("trunk", 1, 0),
		func(ir.EntityRef, string, ir.Time) (ir.Result, ir.Validity, error) {
			return ir.Result{}, ir.Validity{}, boom
		})
	assert.ErrorIs(t, err, boom)
}

func TestDispatchTime_BranchSwitchRecomputes(t *testing.T) {
	h := &stepHistory{}
	h.set(1, ir.Int(1))
	d := New(nil)
	d.Subscribe(kobold, "hp", func(ir.Change) {})

	require.NoError(t, d.DispatchTime(ir.At("trunk", 0, 0), ir.At("trunk", 2, 0), h.resolve))
	before := h.calls
	require.NoError(t, d.DispatchTime(ir.At("trunk", 2, 0), ir.At("alt", 2, 0), h.resolve))
	assert.Greater(t, h.calls, before)
}
