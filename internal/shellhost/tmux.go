package shellhost

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/creack/pty"
)

// NamePrefix namespaces this deployment's tmux sessions so List never
// reports (or Kill never touches) a user's own tmux sessions.
const NamePrefix = "termhub_"

// TmuxHost runs shells inside detached tmux sessions. The tmux server
// keeps shells alive across restarts of this process; Attach opens a
// PTY running `tmux attach` so raw bytes flow in both directions.
type TmuxHost struct {
	mu       sync.Mutex
	attached map[string]*tmuxAttachment
}

// NewTmuxHost verifies the tmux binary is reachable.
func NewTmuxHost() (*TmuxHost, error) {
	if _, err := exec.LookPath("tmux"); err != nil {
		return nil, fmt.Errorf("tmux not found in PATH: %w", err)
	}
	return &TmuxHost{attached: make(map[string]*tmuxAttachment)}, nil
}

func tmuxName(name string) string {
	if strings.HasPrefix(name, NamePrefix) {
		return name
	}
	return NamePrefix + name
}

// Spawn creates a detached tmux session running the configured shell.
func (h *TmuxHost) Spawn(ctx context.Context, name string, cfg SpawnConfig) error {
	shell := cfg.Shell
	if shell == "" {
		shell = "/bin/bash"
	}
	args := []string{"new-session", "-d", "-s", tmuxName(name)}
	if cfg.WorkDir != "" {
		args = append(args, "-c", cfg.WorkDir)
	}
	if cfg.Cols > 0 && cfg.Rows > 0 {
		args = append(args, "-x", fmt.Sprint(cfg.Cols), "-y", fmt.Sprint(cfg.Rows))
	}
	args = append(args, shell)

	cmd := exec.CommandContext(ctx, "tmux", args...)
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tmux new-session: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// tmuxAttachment wraps the attach PTY so Close also reaps the attach
// process without touching the tmux session itself.
type tmuxAttachment struct {
	ptmx *os.File
	cmd  *exec.Cmd
}

func (a *tmuxAttachment) Read(p []byte) (int, error)  { return a.ptmx.Read(p) }
func (a *tmuxAttachment) Write(p []byte) (int, error) { return a.ptmx.Write(p) }

func (a *tmuxAttachment) Close() error {
	err := a.ptmx.Close()
	if a.cmd.Process != nil {
		a.cmd.Process.Kill()
	}
	a.cmd.Wait()
	return err
}

// Attach opens a PTY running `tmux attach` against the named session.
func (h *TmuxHost) Attach(name string) (io.ReadWriteCloser, error) {
	cmd := exec.Command("tmux", "attach-session", "-t", tmuxName(name))
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("tmux attach %s: %w", name, err)
	}
	att := &tmuxAttachment{ptmx: ptmx, cmd: cmd}

	h.mu.Lock()
	if prev, ok := h.attached[name]; ok {
		prev.Close()
	}
	h.attached[name] = att
	h.mu.Unlock()

	return att, nil
}

// Resize adjusts both the attach PTY and the tmux window.
func (h *TmuxHost) Resize(name string, cols, rows int) error {
	h.mu.Lock()
	att := h.attached[name]
	h.mu.Unlock()
	if att != nil {
		if err := pty.Setsize(att.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
			return fmt.Errorf("pty resize %s: %w", name, err)
		}
	}
	cmd := exec.Command("tmux", "resize-window", "-t", tmuxName(name),
		"-x", fmt.Sprint(cols), "-y", fmt.Sprint(rows))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tmux resize-window: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Kill destroys the tmux session and any local attachment.
func (h *TmuxHost) Kill(name string) error {
	h.mu.Lock()
	if att, ok := h.attached[name]; ok {
		att.Close()
		delete(h.attached, name)
	}
	h.mu.Unlock()

	cmd := exec.Command("tmux", "kill-session", "-t", tmuxName(name))
	if out, err := cmd.CombinedOutput(); err != nil {
		msg := strings.TrimSpace(string(out))
		// Already-gone sessions are not an error for Kill.
		if strings.Contains(msg, "can't find session") || strings.Contains(msg, "no server running") {
			return nil
		}
		return fmt.Errorf("tmux kill-session: %w: %s", err, msg)
	}
	return nil
}

// List enumerates this deployment's tmux sessions, prefix stripped.
func (h *TmuxHost) List(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, "tmux", "list-sessions", "-F", "#{session_name}")
	out, err := cmd.CombinedOutput()
	if err != nil {
		if strings.Contains(string(out), "no server running") {
			return nil, nil
		}
		return nil, fmt.Errorf("tmux list-sessions: %w: %s", err, strings.TrimSpace(string(out)))
	}
	var names []string
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if strings.HasPrefix(line, NamePrefix) {
			names = append(names, strings.TrimPrefix(line, NamePrefix))
		}
	}
	return names, nil
}

// Alive reports whether the named tmux session exists.
func (h *TmuxHost) Alive(name string) bool {
	return exec.Command("tmux", "has-session", "-t", tmuxName(name)).Run() == nil
}
