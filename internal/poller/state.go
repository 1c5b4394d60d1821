package poller

// State is the outcome of the most recent cycle.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateSuccess
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Trigger names what started a cycle. Used as a metrics label.
type Trigger int

const (
	TriggerStart Trigger = iota
	TriggerShortPoll
	TriggerLongPoll
	TriggerQuery
)

func (t Trigger) String() string {
	switch t {
	case TriggerStart:
		return "start"
	case TriggerShortPoll:
		return "short_poll"
	case TriggerLongPoll:
		return "long_poll"
	case TriggerQuery:
		return "query"
	default:
		return "unknown"
	}
}
