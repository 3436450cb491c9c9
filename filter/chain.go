package filter

// Chain is an ordered list of filters applicable to one or more points.
// Filters fire in insertion order at each point; for every request, a
// given point fires at most once, and paired points fire in (pre, ..., post)
// order — the chain itself does not enforce pairing, callers invoke Run
// once per point as the request lifecycle reaches it.
type Chain struct {
	filters []*Filter
}

// NewChain builds a chain from filters in registration order.
func NewChain(filters ...*Filter) *Chain {
	return &Chain{filters: filters}
}

// Add appends a filter to the chain.
func (c *Chain) Add(f *Filter) { c.filters = append(c.filters, f) }

// Run invokes, in order, every filter registered for point. It stops and
// returns StatusReject as soon as a filter sets the status to reject —
// subsequent filters at a LATER point still run (the reject is a
// per-point short-circuit of the chain, not a kill of the whole request):
// handler invocation for this point is skipped, but later points proceed.
func (c *Chain) Run(point Point, payload any) Status {
	status := StatusOK
	for _, f := range c.filters {
		if !f.Points[point] {
			continue
		}
		f.Handle(&status, point, payload)
		if status == StatusReject {
			break
		}
	}
	return status
}
