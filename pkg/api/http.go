package api

import "encoding/json"

type (
	// ErrorResponse is the body of every unsuccessful HTTP response
	ErrorResponse struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}

	// HealthResponse reports the service and its journal connectivity
	HealthResponse struct {
		Service string `json:"service"`
		Version string `json:"version"`
		Status  string `json:"status"`
		Error   string `json:"error,omitempty"`
	}

	// StartExecutionRequest starts a registered program. A blank
	// ExecutionID is generated by the engine
	StartExecutionRequest struct {
		Input       json.RawMessage `json:"input,omitempty"`
		Program     ProgramName     `json:"program"`
		ExecutionID ExecutionID     `json:"execution_id,omitempty"`
	}

	// ProgramsResponse lists the registered programs
	ProgramsResponse struct {
		Programs []ProgramName `json:"programs"`
		Count    int           `json:"count"`
	}

	// ResolveRequest carries a resolution payload. A blank schema is read
	// as untyped JSON
	ResolveRequest struct {
		Schema Schema          `json:"schema,omitempty"`
		Data   json.RawMessage `json:"data"`
	}

	// RejectRequest carries the error a callback is settled with
	RejectRequest struct {
		Error string `json:"error"`
	}

	// SettledResponse reports the outcome of a resolve or reject call.
	// AlreadySettled is set when the callback was terminal beforehand and
	// Callback then holds the outcome that won
	SettledResponse struct {
		Callback       *CallbackRecord `json:"callback"`
		AlreadySettled bool            `json:"already_settled"`
	}

	// EventsResponse lists journal events of an execution
	EventsResponse struct {
		Events []*JournalEvent `json:"events"`
		Count  int             `json:"count"`
	}

	// JournalEvent is the wire form of one journal event
	JournalEvent struct {
		Type      EventType       `json:"type"`
		Data      json.RawMessage `json:"data"`
		Timestamp int64           `json:"timestamp"`
		Sequence  int64           `json:"sequence"`
	}

	// WatchMessage is sent over an execution watch socket
	WatchMessage struct {
		Type      string          `json:"type"`
		Execution *ExecutionState `json:"execution"`
	}
)

const (
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"

	WatchTypeState = "state"
)

// Payload returns the resolution as a tagged payload
func (r *ResolveRequest) Payload() Payload {
	schema := r.Schema
	if schema == "" {
		schema = SchemaJSON
	}
	return Payload{Schema: schema, Data: r.Data}
}
