package clock

import "time"

// Clock abstracts time for services that schedule or retry work.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now().UTC()
}

func NewReal() Clock {
	return realClock{}
}
