package protocol

import "encoding/json"

// Event names understood by the agent.
const (
	EventEnvironment  = "environment"
	EventExec         = "exec"
	EventWrite        = "write"
	EventReadLine     = "read_line"
	EventLoadingStart = "loading_start"
	EventLoadingStop  = "loading_stop"
	EventTerminate    = "terminate"
)

// MaxMessageSize caps WebSocket messages in both directions. Exec output
// travels whole inside a single ack, so this also bounds how much a
// command may print.
const MaxMessageSize = 1 << 20

// Envelope is a controller->agent request. Terminate envelopes carry no
// ID because they are never acknowledged.
type Envelope struct {
	Event   string          `json:"event"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Ack is an agent->controller acknowledgment. Exactly one is sent per
// envelope that carries an ID. Error is set when the agent could not
// perform the action, in which case Payload is empty.
type Ack struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ExecRequest runs one shell command to completion. Stdin distinguishes
// absent (nil, the child sees no input) from empty (attach and close
// immediately). TimeoutMS of 0 means no deadline.
type ExecRequest struct {
	Command   string  `json:"command"`
	Stdin     *string `json:"stdin,omitempty"`
	TimeoutMS int64   `json:"timeoutMs,omitempty"`
}

// ExecResult reports one command execution. ExitCode is -1 when the
// process could not be started or was killed before exiting on its own;
// the wire format does not distinguish the two.
type ExecResult struct {
	ExitCode   int    `json:"exitCode"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	DurationMS int64  `json:"durationMs"`
}

// EnvInfo is a point-in-time snapshot of the agent process.
type EnvInfo struct {
	Argv []string          `json:"argv"`
	Env  map[string]string `json:"env"`
	Cwd  string            `json:"cwd"`
	PID  int               `json:"pid"`
}

// LoadingRequest shows the loading indicator with the given status text.
// TimeoutMS of 0 means the indicator stays up until explicitly stopped.
type LoadingRequest struct {
	Text      string `json:"text"`
	TimeoutMS int64  `json:"timeoutMs,omitempty"`
}
