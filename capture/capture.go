// Package capture runs one external capture process per job and drives it
// through its lifecycle: launch, progress relay, reconnect on transient
// failures, and a single terminal transition.
package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/whisper-darkly/kickclient/events"
)

// Kind selects the argument profile and retry policy of a job.
type Kind int

const (
	KindLive Kind = iota
	KindVOD
)

func (k Kind) String() string {
	if k == KindVOD {
		return "vod"
	}
	return "live"
}

// State is a job lifecycle state.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateReconnecting
	StateCompleted
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateReconnecting:
		return "reconnecting"
	case StateCompleted:
		return "completed"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateStopped || s == StateFailed
}

// Policy bounds reconnect behaviour of live jobs. The zero Policy never
// reconnects.
type Policy struct {
	MaxReconnects  int           // attempts before a transient error becomes terminal
	ReconnectDelay time.Duration // flat wait before every relaunch
}

// Spec is everything a Runner needs to launch one process.
type Spec struct {
	Kind      Kind
	Input     string // media URL
	Output    string // file the process writes
	UserAgent string
	Cookies   string
}

// Runner launches capture processes.
type Runner interface {
	// Start launches a process and returns once it is running. ctx only
	// bounds the launch; the process lives until it exits or is interrupted.
	Start(ctx context.Context, spec Spec) (Process, error)
}

// Process is one running capture process.
type Process interface {
	// Progress is closed once the process stops reporting.
	Progress() <-chan events.Progress
	// Wait blocks until exit. nil means the input ended normally.
	Wait() error
	// Interrupt asks the process to finalize and exit, forcing it after a grace period.
	Interrupt() error
}

// Sink receives job events. Publish must not block.
type Sink interface {
	Publish(events.Event)
}

// Deregisterer removes a job's registration once it reaches a terminal state.
type Deregisterer interface {
	Remove(id string)
}

// LaunchError reports that the capture process could not be started.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string { return fmt.Sprintf("launch capture process: %v", e.Err) }
func (e *LaunchError) Unwrap() error { return e.Err }
