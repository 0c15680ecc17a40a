package ratelimit

import (
	"sync"
	"time"
)

// Rule defines a sliding-window rate constraint.
type Rule struct {
	MaxCalls int           `yaml:"max_calls" json:"max_calls"`
	Window   time.Duration `yaml:"window" json:"window"`
}

// Enabled reports whether the rule constrains anything.
func (r Rule) Enabled() bool {
	return r.MaxCalls > 0 && r.Window > 0
}

// Window counts calls per key inside a sliding time window.
// Each key has its own lock; the key map is only locked to find or create an entry.
type Window struct {
	mu   sync.Mutex
	keys map[string]*keyWindow
	now  func() time.Time
}

type keyWindow struct {
	mu    sync.Mutex
	calls []time.Time
}

// NewWindow creates an empty limiter.
func NewWindow() *Window {
	return &Window{
		keys: make(map[string]*keyWindow),
		now:  time.Now,
	}
}

// NewWindowWithClock creates a limiter with a custom clock (for testing).
func NewWindowWithClock(now func() time.Time) *Window {
	w := NewWindow()
	w.now = now
	return w
}

func (w *Window) entry(key string) *keyWindow {
	w.mu.Lock()
	defer w.mu.Unlock()
	kw, ok := w.keys[key]
	if !ok {
		kw = &keyWindow{}
		w.keys[key] = kw
	}
	return kw
}

// Allow records a call for key and reports whether it fits the rule.
// A rejected call is not recorded. A disabled rule always allows.
func (w *Window) Allow(key string, rule Rule) bool {
	if !rule.Enabled() {
		return true
	}
	kw := w.entry(key)
	now := w.now()

	kw.mu.Lock()
	defer kw.mu.Unlock()

	kw.prune(now, rule.Window)
	if len(kw.calls) >= rule.MaxCalls {
		return false
	}
	kw.calls = append(kw.calls, now)
	return true
}

// Count returns the number of calls for key inside the window ending now.
func (w *Window) Count(key string, window time.Duration) int {
	kw := w.entry(key)
	now := w.now()

	kw.mu.Lock()
	defer kw.mu.Unlock()

	kw.prune(now, window)
	return len(kw.calls)
}

// Reset forgets all calls recorded for key.
func (w *Window) Reset(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.keys, key)
}

// prune drops calls older than window. Caller holds kw.mu.
func (kw *keyWindow) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(kw.calls) && !kw.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		kw.calls = append(kw.calls[:0], kw.calls[i:]...)
	}
}
