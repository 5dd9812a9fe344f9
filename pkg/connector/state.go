// Copyright 2024-2026 Aiku AI

package connector

import (
	"sync"
	"sync/atomic"
	"time"
)

// ConnState is the connectivity of the WhatsApp session.
type ConnState int

const (
	StateInitializing ConnState = iota
	StateAwaitingScan
	StateConnected
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateAwaitingScan:
		return "awaiting_scan"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// DisconnectReason classifies why a session closed.
type DisconnectReason string

const (
	ReasonLoggedOut      DisconnectReason = "logged_out"
	ReasonConnectionLost DisconnectReason = "connection_lost"
	ReasonStreamReplaced DisconnectReason = "stream_replaced"
	ReasonConnectFailure DisconnectReason = "connect_failure"
	ReasonClientOutdated DisconnectReason = "client_outdated"
	ReasonTemporaryBan   DisconnectReason = "temporary_ban"
	ReasonScanTimeout    DisconnectReason = "scan_timeout"
)

// Snapshot is an immutable view of the session. A new Snapshot replaces the
// old one on every change, so readers never observe a half-applied update.
type Snapshot struct {
	State      ConnState
	ScanCode   string
	Reason     DisconnectReason
	Code       int
	Final      bool
	Since      time.Time
	Generation uint64
}

// IsFinal reports whether the session ended in a state that is never retried.
func (s Snapshot) IsFinal() bool {
	return s.State == StateDisconnected && s.Final
}

// canTransition reports whether an upstream signal may move the session
// from the current snapshot to the given state.
func canTransition(from *Snapshot, to ConnState) bool {
	if from.IsFinal() {
		return false
	}
	switch to {
	case StateInitializing:
		return from.State == StateDisconnected
	case StateAwaitingScan:
		return from.State == StateInitializing ||
			from.State == StateAwaitingScan ||
			from.State == StateDisconnected
	case StateConnected:
		return from.State == StateInitializing || from.State == StateAwaitingScan
	case StateDisconnected:
		return true
	default:
		return false
	}
}

// stateStore holds the current Snapshot. Reads are lock-free; writers are
// serialised by mu.
type stateStore struct {
	mu  sync.Mutex
	ptr atomic.Pointer[Snapshot]
	now func() time.Time
}

func newStateStore(now func() time.Time) *stateStore {
	s := &stateStore{now: now}
	s.ptr.Store(&Snapshot{State: StateInitializing, Since: now()})
	return s
}

func (s *stateStore) load() *Snapshot {
	return s.ptr.Load()
}

// reset starts a new generation in StateInitializing regardless of the
// current state. Only explicit (re)starts use it.
func (s *stateStore) reset() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen := s.ptr.Load().Generation + 1
	s.ptr.Store(&Snapshot{State: StateInitializing, Since: s.now(), Generation: gen})
	return gen
}

// transition applies a state change for the given generation. Signals from
// an older generation or disallowed by canTransition are dropped.
func (s *stateStore) transition(gen uint64, next Snapshot) (prev *Snapshot, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev = s.ptr.Load()
	if prev.Generation != gen || !canTransition(prev, next.State) {
		return prev, false
	}
	next.Generation = gen
	next.Since = s.now()
	if next.State != StateAwaitingScan {
		next.ScanCode = ""
	}
	s.ptr.Store(&next)
	return prev, true
}
