package engine

import (
	"fmt"
	"log/slog"

	"github.com/meshfield/meshfield/pkg/types"
)

// lifecycle tracks one rank's state. Transitions are forward-only and
// coordinator states are refused on every other rank.
type lifecycle struct {
	rank  int
	state types.State
	log   *slog.Logger
}

func newLifecycle(rank int, log *slog.Logger) *lifecycle {
	return &lifecycle{rank: rank, state: types.StateIdle, log: log}
}

func (l *lifecycle) advance(to types.State) error {
	if !l.legal(to) {
		return fmt.Errorf("engine: rank %d: illegal transition %s -> %s", l.rank, l.state, to)
	}
	l.log.Debug("engine: state", "from", l.state.String(), "to", to.String())
	l.state = to
	return nil
}

func (l *lifecycle) legal(to types.State) bool {
	if to.CoordinatorOnly() && l.rank != 0 {
		return false
	}
	if to == l.state+1 {
		return true
	}
	// Peers skip the coordinator states.
	return l.rank != 0 && l.state == types.StateReporting && to == types.StateDone
}
