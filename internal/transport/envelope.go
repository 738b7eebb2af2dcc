// Package transport implements the optional, remote-control Transport
// port: a framed bidirectional message channel carrying the wire envelope.
// The kernel core never imports this package — the Runtime is driven
// through the envelope only by a host that chooses to expose remote
// control.
package transport

import (
	"encoding/json"
	"time"

	"github.com/corewire/agentkernel/pkg/kernel"
)

// Action is the closed set of wire envelope actions.
type Action string

const (
	ActionStartExecution   Action = "start_execution"
	ActionSubscribeEvents  Action = "subscribe_events"
	ActionInjectMemory     Action = "inject_memory"
	ActionApproveCheckpoint Action = "approve_checkpoint"
	ActionAbortExecution   Action = "abort_execution"
	ActionHeartbeat        Action = "heartbeat"
)

// IsValid reports whether a is a member of the closed action enum.
func (a Action) IsValid() bool {
	switch a {
	case ActionStartExecution, ActionSubscribeEvents, ActionInjectMemory,
		ActionApproveCheckpoint, ActionAbortExecution, ActionHeartbeat:
		return true
	default:
		return false
	}
}

// requiresSignedToken reports whether a carries an authenticated Token when
// dispatched over a Transport: heartbeat and approve_checkpoint can change
// or merely keep alive a remote session, so they must be signed — an
// unauthenticated party cannot approve a HUMAN_APPROVAL checkpoint or
// spoof liveness.
func (a Action) requiresSignedToken() bool {
	return a == ActionHeartbeat || a == ActionApproveCheckpoint
}

// Envelope is the wire message envelope.
type Envelope struct {
	Action      Action         `json:"action"`
	ExecutionID string         `json:"executionId,omitempty"`
	Payload     map[string]any `json:"payload"`
	Timestamp   time.Time      `json:"timestamp"`
	// Token is a signed JWT required on Heartbeat and ApproveCheckpoint
	// actions (see jwt.go); absent on the others.
	Token string `json:"token,omitempty"`
}

// ErrorInfo is the response's {code, message, details?} shape.
type ErrorInfo struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Response is the wire response envelope: success plus either a data
// object or a structured {code, message, details?} error.
type Response struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   *ErrorInfo     `json:"error,omitempty"`
}

// OK builds a successful Response.
func OK(data map[string]any) Response {
	return Response{Success: true, Data: data}
}

// Fail builds a failed Response from a kernel error, collapsing its Kind
// and Message into the wire {code, message, details?} shape.
func Fail(err error) Response {
	info := &ErrorInfo{Message: err.Error()}
	if kind, ok := kernel.KindOf(err); ok {
		info.Code = string(kind)
	} else {
		info.Code = "Unknown"
	}
	if kerr, ok := err.(*kernel.Error); ok {
		info.Details = kerr.Details
	}
	return Response{Success: false, Error: info}
}

// Marshal encodes e as the wire JSON representation.
func (e Envelope) Marshal() ([]byte, error) { return json.Marshal(e) }

// Unmarshal decodes data into an Envelope.
func Unmarshal(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, kernel.Wrap(kernel.KindTransportError, "decode envelope", err)
	}
	if !e.Action.IsValid() {
		return Envelope{}, kernel.NewError(kernel.KindValidationError, "unknown envelope action: "+string(e.Action))
	}
	return e, nil
}
