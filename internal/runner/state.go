package runner

import "github.com/ingestcore/streamtask/internal/appenderator"

// State is one point in the runner's state machine:
// NotStarted -> Starting -> Reading <-> Paused -> Publishing ->
// terminal. Transitions are monotonic except Reading<->Paused.
type State int

const (
	NotStarted State = iota
	Starting
	Reading
	Paused
	Publishing
	Success
	Failure
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NOT_STARTED"
	case Starting:
		return "STARTING"
	case Reading:
		return "READING"
	case Paused:
		return "PAUSED"
	case Publishing:
		return "PUBLISHING"
	case Success:
		return "SUCCESS"
	case Failure:
		return "FAILURE"
	default:
		return "UNKNOWN"
	}
}

func (s State) IsTerminal() bool { return s == Success || s == Failure }

// CompletionReport is written once a task reaches a terminal state:
// a status of SUCCESS or FAILURE, plus row stats and the final error
// message if any.
type CompletionReport struct {
	TaskID       string                `json:"taskId"`
	Status       string                `json:"status"`
	RowStats     appenderator.RowStats `json:"rowStats"`
	ErrorMessage string                `json:"errorMessage,omitempty"`
}
