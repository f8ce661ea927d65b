package gateway

import (
	"encoding/json"
	"time"
)

// Event names. The catalog is the wire contract with the browser.
const (
	EvConnected      = "connected"
	EvError          = "error"
	EvPing           = "ping"
	EvPong           = "pong"
	EvReconnect      = "reconnect"
	EvReconnectReply = "reconnect:response"

	EvSessionCreate       = "session:create"
	EvSessionCreated      = "session:created"
	EvSessionTerminate    = "session:terminate"
	EvSessionTerminated   = "session:terminated"
	EvSessionError        = "session:error"
	EvSessionStatusChange = "session:status-change"
	EvSessionList         = "session:list"
	EvSessionListResponse = "session:list:response"

	EvTerminalInput          = "terminal:input"
	EvTerminalOutput         = "terminal:output"
	EvTerminalResize         = "terminal:resize"
	EvTerminalReconnect      = "terminal:reconnect"
	EvTerminalReconnectReply = "terminal:reconnect:response"
	EvTerminalBuffer         = "terminal:buffer"
	EvTerminalClear          = "terminal:clear"

	EvStatusChange        = "status:change"
	EvStatusPatternAdd    = "status:pattern:add"
	EvStatusPatternRemove = "status:pattern:remove"
	EvStatusPatternsList  = "status:patterns:list"

	EvSSHConnect             = "ssh:connect"
	EvSSHConnected           = "ssh:connected"
	EvSSHInput               = "ssh:input"
	EvSSHOutput              = "ssh:output"
	EvSSHError               = "ssh:error"
	EvSSHClose               = "ssh:close"
	EvSSHResize              = "ssh:resize"
	EvSSHKeyboardInteractive = "ssh:keyboard-interactive"
	EvSSHKeyboardResponse    = "ssh:keyboard-interactive-response"
)

// Stable error codes surfaced in error replies.
const (
	CodeSessionNotFound   = "SESSION_NOT_FOUND"
	CodeSessionTerminated = "SESSION_TERMINATED"
	CodeProjectNotFound   = "PROJECT_NOT_FOUND"
	CodePTYSpawnFailed    = "PTY_SPAWN_FAILED"
	CodePTYWriteFailed    = "PTY_WRITE_FAILED"
	CodeSSHConnFailed     = "SSH_CONNECTION_FAILED"
	CodeSSHAuthFailed     = "SSH_AUTH_FAILED"
	CodeSSHTimeout        = "SSH_TIMEOUT"
	CodeBufferNotFound    = "BUFFER_NOT_FOUND"
	CodeInvalidMessage    = "WS_INVALID_MESSAGE"
	CodeRateLimited       = "WS_RATE_LIMITED"
	CodeValidationFailed  = "VALIDATION_FAILED"
	CodeInternal          = "INTERNAL_ERROR"
)

// Message is the JSON envelope in both directions. Timestamp is filled
// by the server on every outbound message, milliseconds since epoch.
type Message struct {
	Event         string          `json:"event"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Timestamp     int64           `json:"timestamp,omitempty"`
}

// ErrorPayload is the body of an error reply.
type ErrorPayload struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
