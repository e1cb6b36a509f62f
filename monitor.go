package auth

import (
	"sync"
	"time"
)

// ExpireFunc is invoked exactly once when the idle window elapses with no
// activity. The monitor only detects expiry; signing out, notifying the
// user, and navigation are the callback's reactions.
type ExpireFunc func()

// SessionMonitor owns a single idle-activity countdown. Every qualifying
// activity signal cancels the outstanding countdown and schedules a fresh
// one; at most one timer handle is ever live. Stop cancels the countdown so
// a stray expiry cannot fire after the session is already gone.
type SessionMonitor struct {
	mu       sync.Mutex
	window   time.Duration
	onExpire ExpireFunc
	timer    *time.Timer
	running  bool
	expired  bool
	logger   Logger
}

// NewSessionMonitor builds a monitor for the given idle window. A zero or
// negative window falls back to DefaultIdleTimeout.
func NewSessionMonitor(window time.Duration, onExpire ExpireFunc) *SessionMonitor {
	if window <= 0 {
		window = DefaultIdleTimeout
	}
	return &SessionMonitor{
		window:   window,
		onExpire: onExpire,
		logger:   defLogger{},
	}
}

func (m *SessionMonitor) WithLogger(logger Logger) *SessionMonitor {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// Start arms the countdown. Starting an already-running monitor resets it,
// same as Activity.
func (m *SessionMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.expired = false
	m.running = true
	m.reschedule()
}

// Activity registers a qualifying activity signal: cancel-then-reschedule,
// never start-another. Signals on a stopped or expired monitor are ignored.
func (m *SessionMonitor) Activity() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running || m.expired {
		return
	}
	m.reschedule()
}

// Stop cancels the outstanding countdown. Idempotent; safe to call after
// expiry or on a monitor that never started.
func (m *SessionMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.running = false
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// Running reports whether a countdown is armed.
func (m *SessionMonitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Expired reports whether the countdown fired.
func (m *SessionMonitor) Expired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expired
}

// reschedule replaces the single owned timer handle. Callers hold m.mu.
func (m *SessionMonitor) reschedule() {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.window, m.expire)
}

func (m *SessionMonitor) expire() {
	m.mu.Lock()
	if !m.running || m.expired {
		m.mu.Unlock()
		return
	}
	m.expired = true
	m.running = false
	m.timer = nil
	onExpire := m.onExpire
	m.mu.Unlock()

	// Invoked outside the lock so the reaction can call back into the
	// monitor (e.g. Stop) without deadlocking.
	if onExpire != nil {
		onExpire()
	}
}
