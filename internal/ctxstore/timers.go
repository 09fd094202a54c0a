package ctxstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TimerKind distinguishes one-shot timers from repeating tickers.
type TimerKind string

const (
	TimerOneShot   TimerKind = "timeout"
	TimerRepeating TimerKind = "interval"
)

// TimerInfo describes a live timer for diagnostics.
type TimerInfo struct {
	ID    uint64
	Kind  TimerKind
	Scope *Scope
}

// Timer is a handle for a scheduled callback. Clear cancels it; clearing an
// already-fired or already-cleared timer is a no-op.
type Timer struct {
	info TimerInfo
	mgr  *TimerManager

	mu      sync.Mutex
	stop    func()
	cleared bool
}

// ID returns the timer's registry id.
func (t *Timer) ID() uint64 { return t.info.ID }

// Clear cancels the timer and deregisters it. Reports whether the timer was
// still live.
func (t *Timer) Clear() bool {
	t.mu.Lock()
	if t.cleared {
		t.mu.Unlock()
		return false
	}
	t.cleared = true
	stop := t.stop
	t.mu.Unlock()

	if stop != nil {
		stop()
	}
	t.mgr.deregister(t.info.ID)
	return true
}

// markFired flags a one-shot timer as done so a later Clear is a no-op.
func (t *Timer) markFired() {
	t.mu.Lock()
	t.cleared = true
	t.mu.Unlock()
	t.mgr.deregister(t.info.ID)
}

// setStop installs the cancel func. If Clear won the race during setup, the
// timer is stopped immediately instead.
func (t *Timer) setStop(stop func()) {
	t.mu.Lock()
	if t.cleared {
		t.mu.Unlock()
		stop()
		return
	}
	t.stop = stop
	t.mu.Unlock()
}

// TimerManager creates context-carrying timers and tracks every live one,
// so tests and shutdown paths can enumerate and cancel them. A context
// going out of scope does NOT cancel timers spawned within it; that is the
// caller's job, via Clear or ClearAll.
type TimerManager struct {
	store Store

	mu     sync.Mutex
	nextID uint64
	timers map[uint64]*Timer
}

// NewTimerManager creates a manager binding callbacks through store.
// A nil store fails: a timer that loses its scope is worse than no timer.
func NewTimerManager(store Store) (*TimerManager, error) {
	if store == nil {
		return nil, fmt.Errorf("ctxstore: timer manager requires a store")
	}
	return &TimerManager{
		store:  store,
		timers: make(map[uint64]*Timer),
	}, nil
}

// AfterFunc schedules fn to run once after d, with scope active inside the
// callback regardless of what goroutine the runtime fires it on.
func (m *TimerManager) AfterFunc(scope *Scope, d time.Duration, fn func(ctx context.Context)) *Timer {
	t := m.register(TimerOneShot, scope)
	bound := m.store.Bind(scope, fn)

	timer := time.AfterFunc(d, func() {
		// Deregister first so ActiveCount is accurate even if fn blocks.
		t.markFired()
		bound(context.Background())
	})
	t.setStop(func() { timer.Stop() })
	return t
}

// Every schedules fn to run every d until cleared, with scope active on
// each tick. The timer stays registered until Clear or ClearAll.
func (m *TimerManager) Every(scope *Scope, d time.Duration, fn func(ctx context.Context)) *Timer {
	t := m.register(TimerRepeating, scope)
	bound := m.store.Bind(scope, fn)

	ticker := time.NewTicker(d)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				bound(context.Background())
			}
		}
	}()
	t.setStop(func() {
		ticker.Stop()
		close(done)
	})
	return t
}

// ActiveCount returns the number of live timers.
func (m *TimerManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Active returns a snapshot of the live timers, for diagnostics and tests.
func (m *TimerManager) Active() []TimerInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TimerInfo, 0, len(m.timers))
	for _, t := range m.timers {
		out = append(out, t.info)
	}
	return out
}

// ClearAll cancels every tracked timer and returns the count cleared.
func (m *TimerManager) ClearAll() int {
	m.mu.Lock()
	live := make([]*Timer, 0, len(m.timers))
	for _, t := range m.timers {
		live = append(live, t)
	}
	m.mu.Unlock()

	cleared := 0
	for _, t := range live {
		if t.Clear() {
			cleared++
		}
	}
	return cleared
}

func (m *TimerManager) register(kind TimerKind, scope *Scope) *Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	t := &Timer{
		info: TimerInfo{ID: m.nextID, Kind: kind, Scope: scope},
		mgr:  m,
	}
	m.timers[t.info.ID] = t
	return t
}

func (m *TimerManager) deregister(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.timers, id)
}
