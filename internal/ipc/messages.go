package ipc

import (
	"time"

	"github.com/Canejo/vault-state-plugin/internal/types"
)

// DaemonState is what the snapshot daemon is doing right now
type DaemonState string

const (
	StateIdle     DaemonState = "idle"
	StateRunning  DaemonState = "running"
	StateWaiting  DaemonState = "waiting" // between ticks
	StateStopping DaemonState = "stopping"
)

// Method names for JSON-RPC
const (
	MethodStatusGet   = "status.get"
	MethodRunTrigger  = "run.trigger"
	MethodControlStop = "control.stop"
)

// StatusResponse is the response for "status.get"
type StatusResponse struct {
	State     DaemonState       `json:"state"`
	PID       int               `json:"pid"`
	StartedAt *time.Time        `json:"started_at,omitempty"`
	Interval  string            `json:"interval,omitempty"`
	NextRunAt *time.Time        `json:"next_run_at,omitempty"`
	RunCount  int               `json:"run_count"`
	LastRun   *types.RunSummary `json:"last_run,omitempty"`
	LastError string            `json:"last_error,omitempty"`
}

// TriggerResponse is the response for "run.trigger"
type TriggerResponse struct {
	Accepted bool   `json:"accepted"`
	Message  string `json:"message"`
}

// StopResponse is the response for "control.stop"
type StopResponse struct {
	Acknowledged bool   `json:"acknowledged"`
	Message      string `json:"message"`
}
