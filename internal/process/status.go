package process

import "time"

// State is the lifecycle position of a relay process.
type State string

const (
	StateRunning     State = "running"
	StateTerminating State = "terminating" // SIGTERM sent, grace period running
	StateTerminated  State = "terminated"  // exited within the grace period
	StateKilled      State = "killed"      // SIGKILL after the grace period
	StateExited      State = "exited"      // died without a stop request
)

// StopOutcome reports how Stop ended.
type StopOutcome int

const (
	OutcomeAlreadyExited StopOutcome = iota
	OutcomeTerminated
	OutcomeKilled
)

func (o StopOutcome) String() string {
	switch o {
	case OutcomeAlreadyExited:
		return "already_exited"
	case OutcomeTerminated:
		return "terminated"
	case OutcomeKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// Status is a point-in-time copy of a handle's state.
type Status struct {
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	Args      []string  `json:"args"`
	State     State     `json:"state"`
	Running   bool      `json:"running"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at,omitempty"`
	ExitErr   string    `json:"exit_error,omitempty"`
}
