package safety

import (
	"sync"
	"time"
)

// Defaults for the violation counter.
const (
	DefaultViolationMax = 3
	DefaultDecayWindow  = time.Hour
)

// ViolationRecord is a user's violation state.
type ViolationRecord struct {
	Count         int       `json:"count"`
	LastViolation time.Time `json:"last_violation"`
}

// ViolationTracker keeps per-user violation counters that reset once the
// decay window has elapsed since the last violation. Each user has its own
// lock; the user map is only locked to find or create an entry.
type ViolationTracker struct {
	mu     sync.Mutex
	users  map[string]*userViolations
	max    int
	window time.Duration
	now    func() time.Time
}

type userViolations struct {
	mu     sync.Mutex
	record ViolationRecord
}

// NewViolationTracker creates a tracker. Non-positive arguments fall back to defaults.
func NewViolationTracker(max int, window time.Duration, now func() time.Time) *ViolationTracker {
	if max <= 0 {
		max = DefaultViolationMax
	}
	if window <= 0 {
		window = DefaultDecayWindow
	}
	if now == nil {
		now = time.Now
	}
	return &ViolationTracker{
		users:  make(map[string]*userViolations),
		max:    max,
		window: window,
		now:    now,
	}
}

func (t *ViolationTracker) entry(userID string) *userViolations {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.users[userID]
	if !ok {
		u = &userViolations{}
		t.users[userID] = u
	}
	return u
}

// decay resets the record when the window has elapsed. Caller holds u.mu.
func (t *ViolationTracker) decay(u *userViolations, now time.Time) {
	if u.record.Count > 0 && now.Sub(u.record.LastViolation) > t.window {
		u.record = ViolationRecord{}
	}
}

// Record increments the user's counter and returns the new record.
func (t *ViolationTracker) Record(userID string) ViolationRecord {
	u := t.entry(userID)
	now := t.now()

	u.mu.Lock()
	defer u.mu.Unlock()

	t.decay(u, now)
	u.record.Count++
	u.record.LastViolation = now
	return u.record
}

// Get returns the user's record after applying decay.
func (t *ViolationTracker) Get(userID string) ViolationRecord {
	u := t.entry(userID)
	now := t.now()

	u.mu.Lock()
	defer u.mu.Unlock()

	t.decay(u, now)
	return u.record
}

// Escalated reports whether the user's counter has reached the maximum
// inside the decay window.
func (t *ViolationTracker) Escalated(userID string) bool {
	return t.Get(userID).Count >= t.max
}

// Clear resets the user's counter.
func (t *ViolationTracker) Clear(userID string) {
	u := t.entry(userID)
	u.mu.Lock()
	u.record = ViolationRecord{}
	u.mu.Unlock()
}

// Max returns the configured maximum.
func (t *ViolationTracker) Max() int {
	return t.max
}
