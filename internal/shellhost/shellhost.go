// Package shellhost abstracts the external host that owns long-lived
// shells. Shells are addressable by name and survive a restart of this
// process; the tmux implementation is the production host.
package shellhost

import (
	"context"
	"io"
)

// SpawnConfig describes the shell to start.
type SpawnConfig struct {
	Shell   string            // shell binary, e.g. /bin/bash
	WorkDir string            // initial working directory
	Env     map[string]string // frozen environment
	Cols    int
	Rows    int
}

// Host is the capability surface the session manager depends on.
// Spawn creates a named shell; Attach yields the byte stream used for
// both input and output until closed.
type Host interface {
	Spawn(ctx context.Context, name string, cfg SpawnConfig) error
	Attach(name string) (io.ReadWriteCloser, error)
	Resize(name string, cols, rows int) error
	Kill(name string) error
	List(ctx context.Context) ([]string, error)
	Alive(name string) bool
}
