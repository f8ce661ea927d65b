// Package sshclient opens interactive PTY-backed shells on remote
// hosts. It is the remote-shell counterpart of the tmux shell host:
// the session manager treats both as byte streams.
package sshclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// Sentinel errors let callers map failures onto stable gateway codes.
var (
	ErrAuth       = errors.New("ssh authentication failed")
	ErrTimeout    = errors.New("ssh connect timeout")
	ErrConnection = errors.New("ssh connection failed")
)

// DefaultConnectTimeout bounds the TCP+handshake phase of Dial.
const DefaultConnectTimeout = 15 * time.Second

// Config describes a remote shell target.
type Config struct {
	Host       string
	Port       int
	Username   string
	AuthMethod string // "password", "key" or "keyboard-interactive"
	Password   string
	PrivateKey []byte
	Passphrase string
	Cols       int
	Rows       int
	Timeout    time.Duration
}

// InteractiveFunc answers multi-round keyboard-interactive prompts.
// The gateway holds the continuation while the browser user types.
type InteractiveFunc func(name, instruction string, questions []string, echos []bool) ([]string, error)

// RemoteShell is a live PTY shell on a remote host. Read yields shell
// output, Write feeds shell input.
type RemoteShell struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	done    chan struct{}
	exitErr error
}

// Dial connects, authenticates and starts a login shell with a PTY.
func Dial(ctx context.Context, cfg Config, interactive InteractiveFunc) (*RemoteShell, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	var methods []ssh.AuthMethod
	switch cfg.AuthMethod {
	case "password", "":
		methods = append(methods, ssh.Password(cfg.Password))
	case "key":
		var signer ssh.Signer
		var err error
		if cfg.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(cfg.PrivateKey, []byte(cfg.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(cfg.PrivateKey)
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	case "keyboard-interactive":
		if interactive == nil {
			return nil, fmt.Errorf("%w: no interactive callback provided", ErrAuth)
		}
		methods = append(methods, ssh.KeyboardInteractive(ssh.KeyboardInteractiveChallenge(interactive)))
	default:
		return nil, fmt.Errorf("unknown auth method %q", cfg.AuthMethod)
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            methods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port))
	client, err := dialContext(ctx, addr, clientCfg, timeout)
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: new session: %v", ErrConnection, err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	cols, rows := cfg.Cols, cfg.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	if err := session.RequestPty("xterm-256color", rows, cols, modes); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("%w: request pty: %v", ErrConnection, err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("%w: start shell: %v", ErrConnection, err)
	}

	rs := &RemoteShell{
		client:  client,
		session: session,
		stdin:   stdin,
		stdout:  stdout,
		done:    make(chan struct{}),
	}
	go func() {
		rs.exitErr = session.Wait()
		close(rs.done)
	}()
	return rs, nil
}

// dialContext runs the blocking ssh.Dial under the caller's context so
// a cancelled request does not leak a hung handshake goroutine's result.
func dialContext(ctx context.Context, addr string, cfg *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, error) {
	type result struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := ssh.Dial("tcp", addr, cfg)
		ch <- result{c, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.client != nil {
				r.client.Close()
			}
		}()
		return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, classifyDialError(r.err)
		}
		return r.client, nil
	}
}

func classifyDialError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "no supported methods remain"),
		strings.Contains(msg, "permission denied"):
		return fmt.Errorf("%w: %v", ErrAuth, err)
	case strings.Contains(msg, "i/o timeout"),
		strings.Contains(msg, "deadline exceeded"):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
}

func (rs *RemoteShell) Read(p []byte) (int, error)  { return rs.stdout.Read(p) }
func (rs *RemoteShell) Write(p []byte) (int, error) { return rs.stdin.Write(p) }

// Resize changes the remote PTY dimensions.
func (rs *RemoteShell) Resize(cols, rows int) error {
	return rs.session.WindowChange(rows, cols)
}

// Done is closed when the remote shell exits.
func (rs *RemoteShell) Done() <-chan struct{} { return rs.done }

// ExitCode returns the remote command's exit code once Done is closed,
// or -1 when unknown.
func (rs *RemoteShell) ExitCode() int {
	select {
	case <-rs.done:
	default:
		return -1
	}
	if rs.exitErr == nil {
		return 0
	}
	var exitErr *ssh.ExitError
	if errors.As(rs.exitErr, &exitErr) {
		return exitErr.ExitStatus()
	}
	return -1
}

// Close tears down the session and transport.
func (rs *RemoteShell) Close() error {
	rs.session.Close()
	return rs.client.Close()
}
