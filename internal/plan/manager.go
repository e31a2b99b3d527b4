package plan

import "github.com/roach88/tempograph/internal/ir"

// Scope is one Start call's handle on a plan. Closing the outermost scope
// decides the plan's fate; closing an inner scope only ends that scope.
type Scope struct {
	plan      *Plan
	outermost bool
	closed    bool
}

// Plan returns the plan the scope writes into.
func (s *Scope) Plan() *Plan {
	return s.plan
}

// Outermost reports whether closing this scope closes the plan.
func (s *Scope) Outermost() bool {
	return s.outermost
}

// Closed reports whether the scope, or the plan under it, is closed.
func (s *Scope) Closed() bool {
	return s.closed || s.plan.status != Active
}

// Manager tracks the active plan.
type Manager struct {
	newID  func() string
	active *Plan
	depth  int
}

// NewManager returns a manager that names plans with newID.
func NewManager(newID func() string) *Manager {
	return &Manager{newID: newID}
}

// Planning reports whether a plan is active.
func (m *Manager) Planning() bool {
	return m.active != nil
}

// Active returns the active plan, or nil.
func (m *Manager) Active() *Plan {
	return m.active
}

// Start opens a plan scope at now. If a plan is already active the new
// scope nests inside it.
func (m *Manager) Start(now ir.Time) *Scope {
	if m.active != nil {
		m.depth++
		return &Scope{plan: m.active}
	}
	m.active = newPlan(m.newID(), now)
	m.depth = 1
	return &Scope{plan: m.active, outermost: true}
}

// Close ends a scope. For the outermost scope the plan takes the given
// final status and done is true; the caller then applies or drops the
// writes. Closing a scope twice fails with STALE_PLAN.
func (m *Manager) Close(s *Scope, final Status) (done bool, err error) {
	if s.closed {
		return false, ir.NewTimeError(ir.ErrCodeStalePlan, s.plan.Start(), "scope of plan %s is already closed", s.plan.ID)
	}
	if s.plan.status != Active {
		return false, ir.NewTimeError(ir.ErrCodeStalePlan, s.plan.Start(), "plan %s is already %s", s.plan.ID, s.plan.status)
	}
	s.closed = true
	if !s.outermost {
		m.depth--
		return false, nil
	}
	s.plan.status = final
	m.active = nil
	m.depth = 0
	return true, nil
}

// Abandon discards the active plan whatever scopes are still open and
// returns it, or nil if none is active. Every open scope becomes stale.
func (m *Manager) Abandon() *Plan {
	p := m.active
	if p == nil {
		return nil
	}
	p.status = Discarded
	m.active = nil
	m.depth = 0
	return p
}
