package types

// State is a rank's position in the run lifecycle. States only move forward.
type State int

const (
	StateIdle State = iota
	StateAssigned
	StateComputing
	StateReporting
	StateAssembling  // coordinator only
	StateAggregating // coordinator only
	StateDone
)

var stateNames = [...]string{"idle", "assigned", "computing", "reporting", "assembling", "aggregating", "done"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "invalid"
	}
	return stateNames[s]
}

// CoordinatorOnly reports whether only rank 0 may enter s.
func (s State) CoordinatorOnly() bool {
	return s == StateAssembling || s == StateAggregating
}
