package window

import (
	"fmt"
	"iter"
	"slices"
	"sort"

	"github.com/roach88/tempograph/internal/ir"
)

// seekSteps bounds how far Seek walks entry by entry before it falls back
// to binary search.
const seekSteps = 8

// Entry is one recorded revision of a value.
// Deleted entries are tombstones; Value is the zero value for them.
type Entry[V any] struct {
	Rev     int64
	Value   V
	Deleted bool
}

// HistoryError reports a lookup with no value in effect.
type HistoryError struct {
	Rev     int64
	Deleted bool
}

// Error implements the error interface.
func (e *HistoryError) Error() string {
	if e.Deleted {
		return fmt.Sprintf("revision %d: set, then deleted", e.Rev)
	}
	return fmt.Sprintf("revision %d is before the start of history", e.Rev)
}

// Dict is the ordered history of one value.
//
// Entries are kept sorted by revision with unique revisions. The cursor
// splits them into the past (revisions <= the last sought revision) and
// the future (the rest).
type Dict[V any] struct {
	entries []Entry[V]
	pos     int // entries[:pos] is the past
}

// New returns a Dict holding the given entries, with the cursor after
// the last one. Later duplicates of a revision win.
func New[V any](entries ...Entry[V]) *Dict[V] {
	d := &Dict[V]{entries: make([]Entry[V], 0, len(entries))}
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(a, b Entry[V]) int {
		return compareRev(a.Rev, b.Rev)
	})
	for _, e := range sorted {
		if n := len(d.entries); n > 0 && d.entries[n-1].Rev == e.Rev {
			d.entries[n-1] = e
			continue
		}
		d.entries = append(d.entries, e)
	}
	d.pos = len(d.entries)
	return d
}

func compareRev(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Len returns the number of stored revisions, tombstones included.
func (d *Dict[V]) Len() int {
	return len(d.entries)
}

// Empty reports whether nothing was ever recorded.
func (d *Dict[V]) Empty() bool {
	return len(d.entries) == 0
}

// Seek moves the cursor so that the past holds exactly the entries with
// revision <= rev. Nearby revisions are reached by stepping, distant ones
// by binary search.
func (d *Dict[V]) Seek(rev int64) {
	n := len(d.entries)
	if d.pos > 0 && d.entries[d.pos-1].Rev <= rev && (d.pos == n || d.entries[d.pos].Rev > rev) {
		return
	}
	for i := 0; i < seekSteps; i++ {
		switch {
		case d.pos < n && d.entries[d.pos].Rev <= rev:
			d.pos++
		case d.pos > 0 && d.entries[d.pos-1].Rev > rev:
			d.pos--
		default:
			return
		}
	}
	d.pos = d.upper(rev)
}

// upper returns the index of the first entry with revision > rev.
func (d *Dict[V]) upper(rev int64) int {
	return sort.Search(len(d.entries), func(i int) bool {
		return d.entries[i].Rev > rev
	})
}

// Set records v at rev, replacing any entry already at rev.
// The cursor ends up at rev.
func (d *Dict[V]) Set(rev int64, v V) {
	d.put(Entry[V]{Rev: rev, Value: v})
}

// SetDeleted records a tombstone at rev.
func (d *Dict[V]) SetDeleted(rev int64) {
	d.put(Entry[V]{Rev: rev, Deleted: true})
}

func (d *Dict[V]) put(e Entry[V]) {
	if n := len(d.entries); n == 0 || d.entries[n-1].Rev < e.Rev {
		d.entries = append(d.entries, e)
		d.pos = len(d.entries)
		return
	}
	d.Seek(e.Rev)
	if d.pos > 0 && d.entries[d.pos-1].Rev == e.Rev {
		d.entries[d.pos-1] = e
		return
	}
	d.entries = slices.Insert(d.entries, d.pos, e)
	d.pos++
}

// Lookup returns the entry in effect at rev and whether it holds a value.
// The returned entry's Rev is the revision it was recorded at.
func (d *Dict[V]) Lookup(rev int64) (Entry[V], ir.State) {
	d.Seek(rev)
	if d.pos == 0 {
		return Entry[V]{}, ir.Absent
	}
	e := d.entries[d.pos-1]
	if e.Deleted {
		return e, ir.Deleted
	}
	return e, ir.Present
}

// Get returns the value in effect at rev, or a *HistoryError.
func (d *Dict[V]) Get(rev int64) (V, error) {
	e, state := d.Lookup(rev)
	switch state {
	case ir.Present:
		return e.Value, nil
	case ir.Deleted:
		var zero V
		return zero, &HistoryError{Rev: rev, Deleted: true}
	default:
		var zero V
		return zero, &HistoryError{Rev: rev}
	}
}

// Has reports whether an entry is stored at exactly rev.
func (d *Dict[V]) Has(rev int64) bool {
	if len(d.entries) == 0 || rev < d.entries[0].Rev {
		return false
	}
	d.Seek(rev)
	return d.pos > 0 && d.entries[d.pos-1].Rev == rev
}

// Gettable reports whether rev is at or after the first stored revision.
func (d *Dict[V]) Gettable(rev int64) bool {
	return len(d.entries) > 0 && rev >= d.entries[0].Rev
}

// RevBefore returns the latest stored revision <= rev.
func (d *Dict[V]) RevBefore(rev int64) (int64, bool) {
	d.Seek(rev)
	if d.pos == 0 {
		return 0, false
	}
	return d.entries[d.pos-1].Rev, true
}

// RevAfter returns the earliest stored revision > rev.
func (d *Dict[V]) RevAfter(rev int64) (int64, bool) {
	d.Seek(rev)
	if d.pos == len(d.entries) {
		return 0, false
	}
	return d.entries[d.pos].Rev, true
}

// Beginning returns the first stored revision.
func (d *Dict[V]) Beginning() (int64, bool) {
	if len(d.entries) == 0 {
		return 0, false
	}
	return d.entries[0].Rev, true
}

// End returns the last stored revision.
func (d *Dict[V]) End() (int64, bool) {
	if len(d.entries) == 0 {
		return 0, false
	}
	return d.entries[len(d.entries)-1].Rev, true
}

// Last returns the last stored entry.
func (d *Dict[V]) Last() (Entry[V], bool) {
	if len(d.entries) == 0 {
		return Entry[V]{}, false
	}
	return d.entries[len(d.entries)-1], true
}

// Truncate deletes every entry after rev.
func (d *Dict[V]) Truncate(rev int64) {
	d.Seek(rev)
	clear(d.entries[d.pos:])
	d.entries = d.entries[:d.pos]
}

// Delete physically removes the entry at exactly rev.
// Use SetDeleted to record a deletion in history.
func (d *Dict[V]) Delete(rev int64) error {
	if !d.Has(rev) {
		return fmt.Errorf("revision %d not present", rev)
	}
	d.entries = slices.Delete(d.entries, d.pos-1, d.pos)
	d.pos--
	return nil
}

// Keys yields every stored revision in increasing order.
func (d *Dict[V]) Keys() iter.Seq[int64] {
	return func(yield func(int64) bool) {
		for _, e := range d.entries {
			if !yield(e.Rev) {
				return
			}
		}
	}
}

// Items yields every stored entry in increasing revision order.
func (d *Dict[V]) Items() iter.Seq[Entry[V]] {
	return func(yield func(Entry[V]) bool) {
		for _, e := range d.entries {
			if !yield(e) {
				return
			}
		}
	}
}

// Past yields the entries at or before the cursor, latest first.
// The sequence reads the cursor when iteration starts, so it can be
// ranged over again after a Seek.
func (d *Dict[V]) Past() iter.Seq2[int64, Entry[V]] {
	return func(yield func(int64, Entry[V]) bool) {
		for i := d.pos - 1; i >= 0; i-- {
			if !yield(d.entries[i].Rev, d.entries[i]) {
				return
			}
		}
	}
}

// Future yields the entries after the cursor, earliest first.
func (d *Dict[V]) Future() iter.Seq2[int64, Entry[V]] {
	return func(yield func(int64, Entry[V]) bool) {
		for i := d.pos; i < len(d.entries); i++ {
			if !yield(d.entries[i].Rev, d.entries[i]) {
				return
			}
		}
	}
}

// Slice yields the entries with from <= rev < to in increasing order.
// The cursor is not moved.
func (d *Dict[V]) Slice(from, to int64) iter.Seq[Entry[V]] {
	return func(yield func(Entry[V]) bool) {
		start := sort.Search(len(d.entries), func(i int) bool {
			return d.entries[i].Rev >= from
		})
		for i := start; i < len(d.entries) && d.entries[i].Rev < to; i++ {
			if !yield(d.entries[i]) {
				return
			}
		}
	}
}
