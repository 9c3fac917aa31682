// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

package twin

import "github.com/device-amqp/amqpcore/messenger"

// State is TM's top-level state, projected from the embedded AM's state
// (base spec §4.3 Construction: "Subscribes a private handler to AM's
// state-change sink, which projects AM states onto TM states").
type State int

const (
	StateStopped State = iota
	StateStarting
	StateStarted
	StateStopping
	StateError
)

var stateNames = map[State]string{
	StateStopped:  "STOPPED",
	StateStarting: "STARTING",
	StateStarted:  "STARTED",
	StateStopping: "STOPPING",
	StateError:    "ERROR",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// projectAMState maps an AM state 1:1 onto a TM state; the two enums are
// kept as distinct tagged types per SPEC_FULL.md §9's design note against
// collapsing AM and TM state machines onto one type.
func projectAMState(am messenger.State) State {
	switch am {
	case messenger.StateStopped:
		return StateStopped
	case messenger.StateStarting:
		return StateStarting
	case messenger.StateStarted:
		return StateStarted
	case messenger.StateStopping:
		return StateStopping
	default:
		return StateError
	}
}

// StateChangeFunc is invoked exactly once per observed TM state change
// (invariant I5, projected through TM).
type StateChangeFunc func(previous, current State)
