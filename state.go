// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package fhesession

import "github.com/luxfi/fhesession/crypto/fhe"

// State is the lifecycle tag of a session. Exactly one tag is active at any
// time and transitions are totally ordered per initialization attempt.
type State uint8

const (
	// StateIdle - no engine, no error
	StateIdle State = iota
	// StateInitializing - an initialization attempt is in flight
	StateInitializing
	// StateReady - the engine instance is live
	StateReady
	// StateError - the last attempt failed
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable view of the session handed to listeners on every
// transition. Progress is meaningful only while Initializing, Engine only
// when Ready, and Err only in the Error state.
type Snapshot struct {
	State    State
	Progress string
	Engine   fhe.Engine
	Err      error
}
