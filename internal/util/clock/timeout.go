package clock

import "time"

// TimeoutHelper tracks the remaining budget of one operation attempt
type TimeoutHelper struct {
	clock   Clock
	start   time.Time
	timeout time.Duration
}

// NewTimeoutHelper starts a budget of timeout measured on c
func NewTimeoutHelper(c Clock, timeout time.Duration) *TimeoutHelper {
	if c == nil {
		c = NewReal()
	}
	return &TimeoutHelper{clock: c, start: c.Now(), timeout: timeout}
}

// IsElapsed reports whether the budget is used up
func (t *TimeoutHelper) IsElapsed() bool {
	return t.Elapsed() >= t.timeout
}

// Elapsed returns the time spent since the budget started
func (t *TimeoutHelper) Elapsed() time.Duration {
	return t.clock.Now().Sub(t.start)
}

// RemainingTime returns the unused budget, never negative
func (t *TimeoutHelper) RemainingTime() time.Duration {
	remaining := t.timeout - t.Elapsed()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Timeout returns the total budget
func (t *TimeoutHelper) Timeout() time.Duration {
	return t.timeout
}
