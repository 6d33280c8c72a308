package pipeline

import "errors"

var (
	// ErrAlreadyRunning is returned by Start when the pipeline is not Stopped.
	ErrAlreadyRunning = errors.New("pipeline: already running")

	// ErrNotRunning is returned by Stop when there is nothing to stop.
	ErrNotRunning = errors.New("pipeline: not running")

	// ErrStartAborted is returned by a Start that was interrupted by Stop.
	ErrStartAborted = errors.New("pipeline: start aborted by stop")
)

// State is the controller lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name, so JSON snapshots read "running"
// rather than 2.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
