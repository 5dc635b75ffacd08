package task

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a state change is not allowed by
// the task lifecycle.
var ErrInvalidTransition = errors.New("invalid task state transition")

// State is the lifecycle position of a task:
//
//	Pending -> Running -> Completed | Cancelled | Failed
//
// A pending task may also be cancelled before it ever runs. Terminal
// states are final.
type State int32

const (
	Pending State = iota
	Running
	Completed
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == Completed || s == Cancelled || s == Failed
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to State) bool {
	switch from {
	case Pending:
		return to == Running || to == Cancelled
	case Running:
		return to == Completed || to == Cancelled || to == Failed
	default:
		return false
	}
}

// DisconnectPolicy decides what happens to a task whose client goes away.
type DisconnectPolicy int

const (
	// CancelOnDisconnect cancels the task: its result could only have been
	// observed through the lost reply channel.
	CancelOnDisconnect DisconnectPolicy = iota
	// KeepOnDisconnect lets the task run to completion because its effect
	// is persisted elsewhere (for example an export written to disk).
	KeepOnDisconnect
)

func (p DisconnectPolicy) String() string {
	if p == KeepOnDisconnect {
		return "keep"
	}
	return "cancel"
}
