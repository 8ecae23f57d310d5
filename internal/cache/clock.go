package cache

import "time"

// Clock provides time operations for the cache. The default implementation
// uses time.Now; tests inject a fake to exercise TTL behavior without
// sleeping.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}
