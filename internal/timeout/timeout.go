// Package timeout enforces per-connection idle and hard lifetimes.
//
// Every tracked connection has at most one pending hard timer, armed once
// when the connection is registered, and at most one pending idle timer,
// restarted on each activity. Timers carry a generation number so a timer
// that fires after being cancelled or replaced is ignored.
package timeout

import (
	"sync"
	"time"

	"github.com/vyrodovalexey/avawsgw/internal/observability"
)

// Kind identifies which lifetime limit expired.
type Kind int

const (
	// KindIdle fires after a period without activity.
	KindIdle Kind = iota
	// KindHard fires at a fixed time after registration.
	KindHard
)

// String returns the kind name used in logs and metric labels.
func (k Kind) String() string {
	if k == KindHard {
		return "hard"
	}
	return "idle"
}

// ExpireFunc is called, outside the manager lock, when a timer fires.
type ExpireFunc func(connectionID string, kind Kind)

type connTimers struct {
	idle    *time.Timer
	hard    *time.Timer
	idleGen uint64
	hardGen uint64
}

// Manager owns the idle and hard timers of all live connections.
type Manager struct {
	hard     time.Duration
	idle     time.Duration
	onExpire ExpireFunc
	logger   observability.Logger

	mu     sync.Mutex
	conns  map[string]*connTimers
	gen    uint64
	closed bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger for timer diagnostics.
func WithLogger(logger observability.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager. A non-positive duration disables that
// kind of timer.
func NewManager(hard, idle time.Duration, onExpire ExpireFunc, opts ...Option) *Manager {
	m := &Manager{
		hard:     hard,
		idle:     idle,
		onExpire: onExpire,
		logger:   observability.NopLogger(),
		conns:    make(map[string]*connTimers),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ArmHard starts tracking id and arms its hard timer. It is a no-op for
// an id that is already tracked.
func (m *Manager) ArmHard(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if _, ok := m.conns[id]; ok {
		return
	}

	t := &connTimers{}
	m.conns[id] = t

	if m.hard <= 0 {
		return
	}
	m.gen++
	gen := m.gen
	t.hardGen = gen
	t.hard = time.AfterFunc(m.hard, func() { m.fire(id, KindHard, gen) })
}

// Touch restarts the idle timer of a tracked id. Untracked ids are
// ignored, so activity racing with Clear cannot resurrect a timer.
func (m *Manager) Touch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.conns[id]
	if !ok || m.idle <= 0 {
		return
	}
	if t.idle != nil {
		t.idle.Stop()
	}
	m.gen++
	gen := m.gen
	t.idleGen = gen
	t.idle = time.AfterFunc(m.idle, func() { m.fire(id, KindIdle, gen) })

	m.logger.Debug("timeout:idle:"+id+":reset", observability.String("connection_id", id))
}

// Clear cancels both timers of id and stops tracking it.
func (m *Manager) Clear(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.conns[id]
	if !ok {
		return
	}
	stopTimers(t)
	delete(m.conns, id)
}

// Pending reports which timers of id are currently armed.
func (m *Manager) Pending(id string) (idle, hard bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.conns[id]
	if !ok {
		return false, false
	}
	return t.idle != nil, t.hard != nil
}

// Len returns the number of tracked connections.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Close cancels every timer. Later calls to ArmHard are ignored.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, t := range m.conns {
		stopTimers(t)
		delete(m.conns, id)
	}
	m.closed = true
}

func (m *Manager) fire(id string, kind Kind, gen uint64) {
	m.mu.Lock()
	t, ok := m.conns[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	switch kind {
	case KindHard:
		if t.hardGen != gen || t.hard == nil {
			m.mu.Unlock()
			return
		}
		t.hard = nil
	default:
		if t.idleGen != gen || t.idle == nil {
			m.mu.Unlock()
			return
		}
		t.idle = nil
	}
	m.mu.Unlock()

	if kind == KindHard {
		m.logger.Debug("timeout:hard:"+id, observability.String("connection_id", id))
	} else {
		m.logger.Debug("timeout:idle:"+id+":trigger", observability.String("connection_id", id))
	}

	if m.onExpire != nil {
		m.onExpire(id, kind)
	}
}

func stopTimers(t *connTimers) {
	if t.idle != nil {
		t.idle.Stop()
		t.idle = nil
	}
	if t.hard != nil {
		t.hard.Stop()
		t.hard = nil
	}
}
