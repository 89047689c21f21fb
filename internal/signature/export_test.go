package signature

import "time"

// WithTimeNow overrides the clock used for tolerance checks in tests.
func WithTimeNow(now func() time.Time) Options {
	return func(o *options) {
		o.timeNow = now
	}
}
