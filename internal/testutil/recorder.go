package testutil

import (
	"fmt"
	"sync"

	"github.com/roach88/tempograph/internal/ir"
)

// ChangeRecorder collects delivered changes in order.
type ChangeRecorder struct {
	mu      sync.Mutex
	changes []ir.Change
}

// Record appends c. Its method value is a dispatch handler.
func (r *ChangeRecorder) Record(c ir.Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

// Changes returns a copy of everything recorded so far.
func (r *ChangeRecorder) Changes() []ir.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ir.Change(nil), r.changes...)
}

// Lines renders the recorded changes one per line, for golden files and
// readable assertions: "world/hero hp=5 at trunk@3.0".
func (r *ChangeRecorder) Lines() []string {
	changes := r.Changes()
	out := make([]string, len(changes))
	for i, c := range changes {
		out[i] = fmt.Sprintf("%s %s=%s at %s", c.Ref, c.Key, ir.Format(c.Value), c.Time)
	}
	return out
}

// Reset forgets everything recorded.
func (r *ChangeRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = nil
}
