// Package clock supplies the current time to the security services.  The
// services never call time.Now directly so that expiry windows can be
// exercised deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// System is the wall clock.  All times are returned in UTC.
type System struct{}

// Now returns the current UTC time.
func (System) Now() time.Time { return time.Now().UTC() }

// Mock is a manually driven clock.  It is safe for concurrent use.
type Mock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMock returns a Mock frozen at t.
func NewMock(t time.Time) *Mock { return &Mock{now: t.UTC()} }

// Now returns the frozen time.
func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t.
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	m.now = t.UTC()
	m.mu.Unlock()
}

// Advance moves the clock forward by d.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Deadline returns now+ttl rounded up to the next whole second.  Expiry
// columns store whole seconds, so rounding down would shorten the ttl.
func Deadline(now time.Time, ttl time.Duration) time.Time {
	d := now.Add(ttl).UTC()
	if t := d.Truncate(time.Second); !t.Equal(d) {
		return t.Add(time.Second)
	}
	return d
}
