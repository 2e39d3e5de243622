package domain

import (
	"fmt"
	"sync"
	"time"
)

// JobStatus is the lifecycle state of a single active symbol.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobComplete  JobStatus = "COMPLETE"
	JobError     JobStatus = "ERROR"
	JobPaused    JobStatus = "PAUSED"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobPending: {JobRunning, JobComplete},
	JobRunning: {JobComplete, JobError, JobPaused},
}

// JobTransition records one state change with the reason it happened, for
// diagnostics surfaced by the dashboard and the exit summary.
type JobTransition struct {
	From      JobStatus
	To        JobStatus
	Reason    string
	Timestamp time.Time
}

// JobStateMachine tracks one symbol's Job lifecycle. It is not safe to share
// across symbols; the Scheduler owns exactly one per active symbol.
type JobStateMachine struct {
	mu          sync.Mutex
	state       JobStatus
	transitions []JobTransition
	now         func() time.Time
}

// NewJobStateMachine returns a machine starting in PENDING.
func NewJobStateMachine() *JobStateMachine {
	return &JobStateMachine{state: JobPending, now: time.Now}
}

// State returns the current status.
func (m *JobStateMachine) State() JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves the machine to `to`, recording `reason`. It returns an
// error if the transition is not in the allowed table; the caller is
// expected to treat that as a programmer error, not a runtime condition.
func (m *JobStateMachine) Transition(to JobStatus, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !isAllowed(jobTransitions, m.state, to) {
		return fmt.Errorf("domain: invalid job transition %s -> %s", m.state, to)
	}
	m.transitions = append(m.transitions, JobTransition{
		From: m.state, To: to, Reason: reason, Timestamp: m.now(),
	})
	m.state = to
	return nil
}

// Transitions returns a copy of the recorded history.
func (m *JobStateMachine) Transitions() []JobTransition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]JobTransition, len(m.transitions))
	copy(out, m.transitions)
	return out
}

// ShutdownState is the Shutdown Controller's lifecycle, per SPEC_FULL.md
// §4.9: RUNNING -> STOP_REQUESTED -> STOPPING -> STOPPED.
type ShutdownState string

const (
	ShutdownRunning       ShutdownState = "RUNNING"
	ShutdownStopRequested ShutdownState = "STOP_REQUESTED"
	ShutdownStopping      ShutdownState = "STOPPING"
	ShutdownStopped       ShutdownState = "STOPPED"
)

var shutdownTransitions = map[ShutdownState][]ShutdownState{
	ShutdownRunning:       {ShutdownStopRequested},
	ShutdownStopRequested: {ShutdownStopping},
	ShutdownStopping:      {ShutdownStopped},
}

// ShutdownStateMachine tracks the controller's lifecycle. Safe for
// concurrent use: the signal handler, the forced-stop timer and the
// scheduler all observe and drive it from different goroutines.
type ShutdownStateMachine struct {
	mu    sync.Mutex
	state ShutdownState
	now   func() time.Time
}

// NewShutdownStateMachine returns a machine starting in RUNNING.
func NewShutdownStateMachine() *ShutdownStateMachine {
	return &ShutdownStateMachine{state: ShutdownRunning, now: time.Now}
}

// State returns the current status.
func (m *ShutdownStateMachine) State() ShutdownState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves the machine forward one step in the lifecycle. Repeated
// calls to the same target state (e.g. a second STOP_REQUESTED trigger) are
// tolerated as no-ops rather than errors, since multiple signals or Stop()
// calls racing in is expected, not exceptional.
func (m *ShutdownStateMachine) Transition(to ShutdownState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == to {
		return nil
	}
	if !isAllowed(shutdownTransitions, m.state, to) {
		return fmt.Errorf("domain: invalid shutdown transition %s -> %s", m.state, to)
	}
	m.state = to
	return nil
}

func isAllowed[S comparable](table map[S][]S, from, to S) bool {
	for _, candidate := range table[from] {
		if candidate == to {
			return true
		}
	}
	return false
}
