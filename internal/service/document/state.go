// Package document provides per-document validation sequencing and the
// lifecycle of a single validation task.
package document

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a validation task.
type State int

const (
	// StateIdle - Task created, nothing checked yet.
	StateIdle State = iota
	// StateSyntaxChecking - Syntax validation running.
	StateSyntaxChecking
	// StateSchemaChecking - Syntax valid, schema resolution and validation running.
	StateSchemaChecking
	// StateDone - Diagnostics computed and published.
	StateDone
	// StateAbandoned - Task superseded by a newer trigger or stopped by a
	// validator fault. Nothing is published.
	StateAbandoned
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSyntaxChecking:
		return "SYNTAX_CHECKING"
	case StateSchemaChecking:
		return "SCHEMA_CHECKING"
	case StateDone:
		return "DONE"
	case StateAbandoned:
		return "ABANDONED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal (DONE or ABANDONED).
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateAbandoned
}

// Errors for invalid state transitions.
var (
	ErrTaskFinished      = errors.New("validation task already finished")
	ErrInvalidTransition = errors.New("invalid validation state transition")
)

// Lifecycle manages the state machine for one validation task.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	IDLE → SYNTAX_CHECKING ─┬─ (valid) ──→ SCHEMA_CHECKING → DONE
//	                        └─ (invalid) ─────────────────→ DONE
//
// Any non-terminal state may move to ABANDONED.
type Lifecycle struct {
	mu    sync.RWMutex
	uri   string
	seq   uint64
	state State
}

// NewLifecycle creates a task lifecycle in IDLE state.
func NewLifecycle(uri string, seq uint64) *Lifecycle {
	return &Lifecycle{
		uri:   uri,
		seq:   seq,
		state: StateIdle,
	}
}

// URI returns the document URI.
func (l *Lifecycle) URI() string {
	return l.uri
}

// Sequence returns the task's sequence number.
func (l *Lifecycle) Sequence() uint64 {
	return l.seq
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// IsAbandoned returns true if the task was abandoned.
func (l *Lifecycle) IsAbandoned() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateAbandoned
}

// BeginSyntax transitions IDLE → SYNTAX_CHECKING.
func (l *Lifecycle) BeginSyntax() error {
	return l.transition(StateSyntaxChecking, StateIdle)
}

// BeginSchema transitions SYNTAX_CHECKING → SCHEMA_CHECKING.
func (l *Lifecycle) BeginSchema() error {
	return l.transition(StateSchemaChecking, StateSyntaxChecking)
}

// Finish transitions a checking state to DONE.
func (l *Lifecycle) Finish() error {
	return l.transition(StateDone, StateSyntaxChecking, StateSchemaChecking)
}

// Abandon transitions the task to ABANDONED.
// Returns true if the task was abandoned, false if already in a terminal state.
func (l *Lifecycle) Abandon() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateAbandoned
	return true
}

func (l *Lifecycle) transition(to State, from ...State) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.IsTerminal() {
		return ErrTaskFinished
	}
	for _, f := range from {
		if l.state == f {
			l.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %v → %v", ErrInvalidTransition, l.state, to)
}
