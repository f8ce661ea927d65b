// Package session owns the authoritative session table: lifecycle,
// restart recovery through the shell host, and routing of shell output
// into the scrollback buffer, the status detector, and the gateway.
package session

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gluk-w/termhub/internal/status"
)

// Type distinguishes what backs a session.
type Type string

const (
	TypeLocalTerminal Type = "local-terminal"
	TypeRemoteShell   Type = "remote-shell"
	TypeBrowser       Type = "browser-automation"
)

// State is the lifecycle status of a session. Terminated is absorbing.
type State string

const (
	StateCreating     State = "creating"
	StateActive       State = "active"
	StatePaused       State = "paused"
	StateDisconnected State = "disconnected"
	StateReconnecting State = "reconnecting"
	StateTerminating  State = "terminating"
	StateTerminated   State = "terminated"
	StateError        State = "error"
)

// Stable error values surfaced to the gateway's error-code mapping.
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionTerminated = errors.New("session terminated")
	ErrProjectNotFound   = errors.New("project not found")
	ErrSpawnFailed       = errors.New("pty spawn failed")
	ErrWriteFailed       = errors.New("pty write failed")
)

// TerminalConfig describes a local-terminal session to create.
type TerminalConfig struct {
	Shell   string            `json:"shell"`
	WorkDir string            `json:"work_dir"`
	Env     map[string]string `json:"env"`
	Cols    int               `json:"cols"`
	Rows    int               `json:"rows"`
}

// SSHConfig describes a remote-shell session to create. CredentialID
// optionally references a vault record supplying the secrets.
type SSHConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Username     string `json:"username"`
	AuthMethod   string `json:"auth_method"`
	Password     string `json:"password,omitempty"`
	PrivateKey   string `json:"private_key,omitempty"`
	Passphrase   string `json:"passphrase,omitempty"`
	CredentialID string `json:"credential_id,omitempty"`
	Cols         int    `json:"cols"`
	Rows         int    `json:"rows"`
}

// Session is one live entry in the manager's table. Lifecycle state and
// ownership are guarded by mu; the byte stream is written by the
// gateway path and read by the session's dedicated reader goroutine.
type Session struct {
	ID        string `json:"id"`
	Type      Type   `json:"type"`
	ProjectID string `json:"project_id"`

	mu           sync.Mutex
	state        State
	clientID     string // owning client, "" when disconnected
	cols, rows   int
	createdAt    time.Time
	updatedAt    time.Time
	lastActiveAt time.Time
	exitCode     *int
	metadata     map[string]string
	descriptor   any // *TerminalConfig or *SSHConfig (secrets blanked)

	stream     io.ReadWriteCloser
	readerDone chan struct{}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Owner returns the owning client id, or "" when none.
func (s *Session) Owner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

// LastActiveAt returns the time of the last input, output or resize.
func (s *Session) LastActiveAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActiveAt
}

// ExitCode returns the program's exit code when known.
func (s *Session) ExitCode() *int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

func (s *Session) touch() {
	now := time.Now()
	s.lastActiveAt = now
	s.updatedAt = now
}

// setState transitions the lifecycle state, refusing to leave the
// absorbing terminated state. Returns the previous state and whether
// the transition happened.
func (s *Session) setState(next State) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state
	if prev == StateTerminated {
		return prev, false
	}
	if prev == next {
		return prev, false
	}
	s.state = next
	s.updatedAt = time.Now()
	return prev, true
}

// Info is the wire representation of a session.
type Info struct {
	ID           string          `json:"id"`
	Type         Type            `json:"type"`
	ProjectID    string          `json:"project_id"`
	Status       State           `json:"status"`
	Activity     status.Activity `json:"activity_status"`
	Cols         int             `json:"cols"`
	Rows         int             `json:"rows"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	LastActiveAt time.Time       `json:"last_active_at"`
	ExitCode     *int            `json:"exit_code,omitempty"`
}

func (s *Session) info(activity status.Activity) Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:           s.ID,
		Type:         s.Type,
		ProjectID:    s.ProjectID,
		Status:       s.state,
		Activity:     activity,
		Cols:         s.cols,
		Rows:         s.rows,
		CreatedAt:    s.createdAt,
		UpdatedAt:    s.updatedAt,
		LastActiveAt: s.lastActiveAt,
		ExitCode:     s.exitCode,
	}
}

// descriptorJSON serializes the shell descriptor for persistence.
// Remote-shell secrets are never written.
func (s *Session) descriptorJSON() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.descriptor == nil {
		return "{}"
	}
	if ssh, ok := s.descriptor.(*SSHConfig); ok {
		cp := *ssh
		cp.Password = ""
		cp.PrivateKey = ""
		cp.Passphrase = ""
		data, _ := json.Marshal(&cp)
		return string(data)
	}
	data, _ := json.Marshal(s.descriptor)
	return string(data)
}
