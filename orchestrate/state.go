package orchestrate

// State is the lifecycle stage of one mission-computation pair.
type State string

// Lifecycle states. Success path: Pending → Fetching → Normalizing →
// Aggregating → Cached. Any pre-terminal state may transition to Failed.
const (
	StatePending     State = "pending"
	StateFetching    State = "fetching"
	StateNormalizing State = "normalizing"
	StateAggregating State = "aggregating"
	StateCached      State = "cached"
	StateFailed      State = "failed"
)

var transitions = map[State][]State{
	StatePending:     {StateFetching, StateCached, StateFailed},
	StateFetching:    {StateNormalizing, StateFailed},
	StateNormalizing: {StateAggregating, StateFailed},
	StateAggregating: {StateCached, StateFailed},
	StateCached:      {},
	StateFailed:      {},
}

// CanTransition reports whether the state machine permits moving from s
// to next. Pending may jump straight to Cached on a cache hit.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}
