// Package overload implements server-side admission control: fixed-window
// and sliding-window rate limiters driven by timer ticks, composed into a
// generic per-service/per-method controller that a filter consults before
// a request is scheduled to a handler.
//
// Convention: every Limiter and Controller in this package returns
// true-on-admit (false means reject). Some overload-control call sites
// elsewhere favor the opposite, true-on-reject convention for the same
// kind of check; this package picks true-on-admit uniformly and
// documents it here once rather than per call site.
package overload

import "context"

// Limiter is a single rate-limit admission object, identified elsewhere
// by a string key (service name, or "/service/method").
type Limiter interface {
	// Allow reports whether the caller may proceed: true = admit.
	Allow(ctx context.Context) bool
	CurrentCount() int64
	MaxCount() int64
}
