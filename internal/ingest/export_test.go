package ingest

import "time"

// WithMaxDegradedDuration overrides how long Run waits for straggling
// sub-services before giving up.
func WithMaxDegradedDuration(d time.Duration) Option {
	return func(o *options) {
		o.maxDegradedDuration = d
	}
}
