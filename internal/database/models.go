package database

import "time"

// Project groups sessions and notes. Deleting a project terminates all
// of its sessions.
type Project struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	Path      string    `json:"path"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// SessionRecord is the durable form of a session. The live session
// table is owned by the session manager; this row lets sessions be
// rehydrated after a server restart as long as the shell host kept
// the backing shell alive.
type SessionRecord struct {
	ID           string    `gorm:"primaryKey;size:64" json:"id"`
	Type         string    `gorm:"not null" json:"type"`
	ProjectID    string    `gorm:"index;not null" json:"project_id"`
	Status       string    `gorm:"not null;default:creating" json:"status"`
	Descriptor   string    `gorm:"type:text" json:"-"` // serialized shell descriptor (JSON)
	ExitCode     *int      `json:"exit_code,omitempty"`
	Metadata     string    `gorm:"type:text;default:'{}'" json:"-"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}

// BufferRecord persists a session's scrollback so reconnecting clients
// can be served after a restart. Content is the joined line buffer.
type BufferRecord struct {
	SessionID   string    `gorm:"primaryKey;size:64" json:"session_id"`
	Content     string    `gorm:"type:text" json:"-"`
	TotalLines  int64     `gorm:"not null;default:0" json:"total_lines"`
	LastFlushAt time.Time `json:"last_flush_at"`
}

// Note is a free-form project note.
type Note struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	ProjectID string    `gorm:"index;not null" json:"project_id"`
	Title     string    `json:"title"`
	Body      string    `gorm:"type:text" json:"body"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Setting is a key/value row for deployment-level state.
type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
