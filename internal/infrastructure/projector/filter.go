// Package projector builds read models from published event records.
package projector

// Filter selects records by event name. The zero Filter matches everything.
type Filter struct {
	names map[string]struct{}
}

// NewFilter returns a filter matching the given event names, or every event
// when none are given.
func NewFilter(eventNames ...string) Filter {
	if len(eventNames) == 0 {
		return Filter{}
	}
	names := make(map[string]struct{}, len(eventNames))
	for _, n := range eventNames {
		names[n] = struct{}{}
	}
	return Filter{names: names}
}

// Match reports whether records named eventName pass the filter.
func (f Filter) Match(eventName string) bool {
	if len(f.names) == 0 {
		return true
	}
	_, ok := f.names[eventName]
	return ok
}
