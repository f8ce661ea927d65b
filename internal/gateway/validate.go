package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/gluk-w/termhub/internal/session"
	"github.com/gluk-w/termhub/internal/status"
)

// validationError pins the offending field so the client reply can name
// it. All payload validation failures surface as VALIDATION_FAILED.
type validationError struct {
	field  string
	reason string
}

func (e *validationError) Error() string {
	return fmt.Sprintf("field %q %s", e.field, e.reason)
}

func missing(field string) error {
	return &validationError{field: field, reason: "is required"}
}

// decode parses a payload into dst and runs its validate method.
func decode(raw json.RawMessage, dst interface{ validate() error }) error {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &validationError{field: "payload", reason: "is not a valid object"}
	}
	return dst.validate()
}

type sessionCreatePayload struct {
	ProjectID string                 `json:"projectId"`
	Type      string                 `json:"type"`
	Terminal  session.TerminalConfig `json:"terminal"`
	SSH       session.SSHConfig      `json:"ssh"`
}

func (p *sessionCreatePayload) validate() error {
	if p.ProjectID == "" {
		return missing("projectId")
	}
	switch p.Type {
	case "", string(session.TypeLocalTerminal), string(session.TypeRemoteShell):
	default:
		return &validationError{field: "type", reason: "must be local-terminal or remote-shell"}
	}
	if p.Type == string(session.TypeRemoteShell) && p.SSH.Host == "" && p.SSH.CredentialID == "" {
		return missing("ssh.host")
	}
	return nil
}

type sessionIDPayload struct {
	SessionID string `json:"sessionId"`
}

func (p *sessionIDPayload) validate() error {
	if p.SessionID == "" {
		return missing("sessionId")
	}
	return nil
}

type sessionListPayload struct {
	ProjectID string `json:"projectId"`
}

func (p *sessionListPayload) validate() error { return nil }

type terminalInputPayload struct {
	SessionID string `json:"sessionId"`
	Data      string `json:"data"`
}

func (p *terminalInputPayload) validate() error {
	if p.SessionID == "" {
		return missing("sessionId")
	}
	if p.Data == "" {
		return missing("data")
	}
	return nil
}

type terminalResizePayload struct {
	SessionID string `json:"sessionId"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
}

func (p *terminalResizePayload) validate() error {
	if p.SessionID == "" {
		return missing("sessionId")
	}
	if p.Cols <= 0 || p.Cols > 1000 {
		return &validationError{field: "cols", reason: "must be between 1 and 1000"}
	}
	if p.Rows <= 0 || p.Rows > 1000 {
		return &validationError{field: "rows", reason: "must be between 1 and 1000"}
	}
	return nil
}

type reconnectPayload struct {
	SessionIDs []string `json:"sessionIds"`
}

func (p *reconnectPayload) validate() error {
	if len(p.SessionIDs) == 0 {
		return missing("sessionIds")
	}
	return nil
}

type patternAddPayload struct {
	status.Pattern
}

func (p *patternAddPayload) validate() error {
	if p.Name == "" {
		return missing("name")
	}
	if p.Pattern.Pattern == "" {
		return missing("pattern")
	}
	switch p.Status {
	case status.Idle, status.Working, status.Waiting, status.Error:
	default:
		return &validationError{field: "status", reason: "must be idle, working, waiting or error"}
	}
	return nil
}

type patternRemovePayload struct {
	ID string `json:"id"`
}

func (p *patternRemovePayload) validate() error {
	if p.ID == "" {
		return missing("id")
	}
	return nil
}

type sshConnectPayload struct {
	ProjectID string            `json:"projectId"`
	SSH       session.SSHConfig `json:"ssh"`
}

func (p *sshConnectPayload) validate() error {
	if p.ProjectID == "" {
		return missing("projectId")
	}
	if p.SSH.CredentialID == "" {
		if p.SSH.Host == "" {
			return missing("ssh.host")
		}
		if p.SSH.Username == "" {
			return missing("ssh.username")
		}
	}
	return nil
}

type keyboardResponsePayload struct {
	RequestID string   `json:"requestId"`
	Answers   []string `json:"answers"`
}

func (p *keyboardResponsePayload) validate() error {
	if p.RequestID == "" {
		return missing("requestId")
	}
	return nil
}
