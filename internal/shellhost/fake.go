package shellhost

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// FakeHost is an in-memory Host for tests. Output is injected via
// Feed; input written through Attach is captured per shell.
type FakeHost struct {
	mu     sync.Mutex
	shells map[string]*fakeShell

	// FailSpawn makes Spawn return an error, for spawn-failure paths.
	FailSpawn bool
}

type fakeShell struct {
	cfg    SpawnConfig
	input  []byte
	out    chan []byte
	closed bool
}

func NewFakeHost() *FakeHost {
	return &FakeHost{shells: make(map[string]*fakeShell)}
}

func (h *FakeHost) Spawn(ctx context.Context, name string, cfg SpawnConfig) error {
	if h.FailSpawn {
		return fmt.Errorf("spawn refused")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.shells[name]; ok {
		return fmt.Errorf("shell %q already exists", name)
	}
	h.shells[name] = &fakeShell{cfg: cfg, out: make(chan []byte, 256)}
	return nil
}

// AddShell registers a shell without going through Spawn, mimicking a
// host entry that predates this process (restart recovery, orphans).
func (h *FakeHost) AddShell(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shells[name] = &fakeShell{out: make(chan []byte, 256)}
}

// Feed injects output bytes as if the shell produced them.
func (h *FakeHost) Feed(name string, data []byte) {
	h.mu.Lock()
	sh := h.shells[name]
	h.mu.Unlock()
	if sh == nil || sh.closed {
		return
	}
	sh.out <- data
}

// Input returns everything written to the shell's stdin so far.
func (h *FakeHost) Input(name string) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sh := h.shells[name]; sh != nil {
		out := make([]byte, len(sh.input))
		copy(out, sh.input)
		return out
	}
	return nil
}

type fakeAttachment struct {
	host *FakeHost
	name string
	sh   *fakeShell
	buf  []byte
}

func (a *fakeAttachment) Read(p []byte) (int, error) {
	if len(a.buf) == 0 {
		data, ok := <-a.sh.out
		if !ok {
			return 0, io.EOF
		}
		a.buf = data
	}
	n := copy(p, a.buf)
	a.buf = a.buf[n:]
	return n, nil
}

func (a *fakeAttachment) Write(p []byte) (int, error) {
	a.host.mu.Lock()
	defer a.host.mu.Unlock()
	if a.sh.closed {
		return 0, io.ErrClosedPipe
	}
	a.sh.input = append(a.sh.input, p...)
	return len(p), nil
}

func (a *fakeAttachment) Close() error { return nil }

func (h *FakeHost) Attach(name string) (io.ReadWriteCloser, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sh, ok := h.shells[name]
	if !ok {
		return nil, fmt.Errorf("shell %q not found", name)
	}
	return &fakeAttachment{host: h, name: name, sh: sh}, nil
}

func (h *FakeHost) Resize(name string, cols, rows int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	sh, ok := h.shells[name]
	if !ok {
		return fmt.Errorf("shell %q not found", name)
	}
	sh.cfg.Cols, sh.cfg.Rows = cols, rows
	return nil
}

func (h *FakeHost) Kill(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	sh, ok := h.shells[name]
	if !ok {
		return nil
	}
	if !sh.closed {
		sh.closed = true
		close(sh.out)
	}
	delete(h.shells, name)
	return nil
}

func (h *FakeHost) List(ctx context.Context) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.shells))
	for name := range h.shells {
		names = append(names, name)
	}
	return names, nil
}

func (h *FakeHost) Alive(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.shells[name]
	return ok
}
