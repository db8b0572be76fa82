// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package codec

import "github.com/ManuGH/aacpress/internal/fsm"

// State is the lifecycle position of a Session.
type State string

const (
	StateCreated     State = "created"
	StateConfigured  State = "configured"
	StateStarted     State = "started"
	StateFeeding     State = "feeding"
	StateDraining    State = "draining"
	StateEndOfStream State = "end_of_stream"
	StateStopped     State = "stopped"
	StateReleased    State = "released"
)

type event string

const (
	evConfigure event = "configure"
	evStart     event = "start"
	evFeed      event = "feed"
	evDrain     event = "drain"
	evEOS       event = "eos"
	evStop      event = "stop"
	evRelease   event = "release"
)

func lifecycle() []fsm.Transition[State, event] {
	t := []fsm.Transition[State, event]{
		{From: StateCreated, Event: evConfigure, To: StateConfigured},
		{From: StateConfigured, Event: evStart, To: StateStarted},

		{From: StateStarted, Event: evFeed, To: StateFeeding},
		{From: StateStarted, Event: evDrain, To: StateDraining},
		{From: StateFeeding, Event: evFeed, To: StateFeeding},
		{From: StateFeeding, Event: evDrain, To: StateDraining},
		{From: StateDraining, Event: evFeed, To: StateFeeding},
		{From: StateDraining, Event: evDrain, To: StateDraining},

		{From: StateStarted, Event: evEOS, To: StateEndOfStream},
		{From: StateFeeding, Event: evEOS, To: StateEndOfStream},
		{From: StateDraining, Event: evEOS, To: StateEndOfStream},
		{From: StateEndOfStream, Event: evDrain, To: StateEndOfStream},
	}

	// Teardown is legal from every live state.
	for _, s := range []State{StateCreated, StateConfigured, StateStarted, StateFeeding, StateDraining, StateEndOfStream} {
		t = append(t,
			fsm.Transition[State, event]{From: s, Event: evStop, To: StateStopped},
			fsm.Transition[State, event]{From: s, Event: evRelease, To: StateReleased},
		)
	}
	t = append(t, fsm.Transition[State, event]{From: StateStopped, Event: evRelease, To: StateReleased})
	return t
}

func newLifecycle() *fsm.Machine[State, event] {
	return fsm.MustNew(StateCreated, lifecycle())
}
