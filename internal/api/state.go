// Markerforge - Out-of-Band Marker Editor for Plex Media Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/markerforge

package api

import (
	"sync"

	"github.com/tomtom215/markerforge/internal/apperr"
	"github.com/tomtom215/markerforge/internal/logging"
)

// State is the server lifecycle position.
type State int

const (
	StateFirstBoot State = iota
	StateRunning
	StateSuspended
	StateReInit
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateFirstBoot:
		return "firstBoot"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateReInit:
		return "reInit"
	case StateShuttingDown:
		return "shuttingDown"
	default:
		return "unknown"
	}
}

// transitions is the legal edge set. ShuttingDown is terminal.
var transitions = map[State][]State{
	StateFirstBoot: {StateRunning, StateShuttingDown},
	StateRunning:   {StateSuspended, StateReInit, StateShuttingDown},
	StateSuspended: {StateRunning, StateShuttingDown},
	StateReInit:    {StateRunning, StateShuttingDown},
}

// FSM guards lifecycle transitions. Every command handler consults it
// before doing work.
type FSM struct {
	mu    sync.RWMutex
	state State
}

// NewFSM starts in FirstBoot.
func NewFSM() *FSM {
	return &FSM{state: StateFirstBoot}
}

// State returns the current state.
func (f *FSM) State() State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// Transition moves to the target state if the edge is legal.
func (f *FSM) Transition(to State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, allowed := range transitions[f.state] {
		if allowed == to {
			logging.Info().
				Str("from", f.state.String()).
				Str("to", to.String()).
				Msg("Lifecycle transition")
			f.state = to
			return nil
		}
	}
	return apperr.Newf(apperr.KindInvalidInput,
		"cannot move from %s to %s", f.state, to)
}

// gate rejects a command the current state does not admit. Suspended
// admits only the commands that can get the server out of suspension.
func (f *FSM) gate(command string) error {
	switch f.State() {
	case StateRunning:
		return nil
	case StateSuspended:
		switch command {
		case "resume", "shutdown":
			return nil
		}
		return apperr.New(apperr.KindSuspended, "server is suspended")
	case StateShuttingDown:
		return apperr.New(apperr.KindShuttingDown, "server is shutting down")
	default:
		// FirstBoot and ReInit: the HTTP layer is not serving
		// commands yet, but guard anyway.
		return apperr.New(apperr.KindShuttingDown, "server is not ready")
	}
}
