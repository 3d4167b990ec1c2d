package clock

import "time"

// FakeClock is a manually controlled Clock for tests. It only moves when
// Advance is called.
type FakeClock struct {
	current time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{current: start.UTC()}
}

func (f *FakeClock) Now() time.Time {
	return f.current
}

// Advance moves the clock forward by d.
func (f *FakeClock) Advance(d time.Duration) {
	f.current = f.current.Add(d)
}
