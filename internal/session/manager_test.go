package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gluk-w/termhub/internal/buffer"
	"github.com/gluk-w/termhub/internal/database"
	"github.com/gluk-w/termhub/internal/shellhost"
	"github.com/gluk-w/termhub/internal/status"
)

type fixture struct {
	host *shellhost.FakeHost
	bufs *buffer.Engine
	mgr  *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	if err := database.InitMemory(); err != nil {
		t.Fatalf("InitMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := database.DB.Create(&database.Project{ID: "prj_test01", Name: "test"}).Error; err != nil {
		t.Fatalf("create project: %v", err)
	}

	detector, err := status.NewDetector(status.Options{})
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}

	host := shellhost.NewFakeHost()
	bufs := buffer.NewEngine(1000, false)
	mgr := NewManager(host, bufs, detector)
	t.Cleanup(mgr.Destroy)
	return &fixture{host: host, bufs: bufs, mgr: mgr}
}

// waitFor polls until the condition holds, failing the test on timeout.
// The reader goroutine delivers output asynchronously.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCreateTerminalSession(t *testing.T) {
	f := newFixture(t)

	s, err := f.mgr.CreateTerminalSession(context.Background(), "client1", "prj_test01", TerminalConfig{Shell: "bash"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.State() != StateActive {
		t.Errorf("state = %s", s.State())
	}
	if s.Owner() != "client1" {
		t.Errorf("owner = %q", s.Owner())
	}
	if !f.host.Alive(s.ID) {
		t.Error("no backing shell")
	}

	rec, err := database.GetSession(s.ID)
	if err != nil {
		t.Fatalf("persisted record: %v", err)
	}
	if rec.Status != string(StateActive) {
		t.Errorf("persisted status = %s", rec.Status)
	}
}

func TestCreateTerminalSession_EmitsStateChange(t *testing.T) {
	f := newFixture(t)

	type hop struct{ prev, next State }
	var mu sync.Mutex
	var hops []hop
	f.mgr.Callbacks.OnStateChange = func(sessionID string, prev, next State) {
		mu.Lock()
		hops = append(hops, hop{prev, next})
		mu.Unlock()
	}

	if _, err := f.mgr.CreateTerminalSession(context.Background(), "c1", "prj_test01", TerminalConfig{}); err != nil {
		t.Fatalf("create: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(hops) != 1 || hops[0].prev != StateCreating || hops[0].next != StateActive {
		t.Errorf("transitions = %+v", hops)
	}
}

func TestCreateTerminalSession_UnknownProject(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.CreateTerminalSession(context.Background(), "c1", "prj_missing", TerminalConfig{})
	if !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestCreateTerminalSession_SpawnFailure(t *testing.T) {
	f := newFixture(t)
	f.host.FailSpawn = true

	_, err := f.mgr.CreateTerminalSession(context.Background(), "c1", "prj_test01", TerminalConfig{})
	if !errors.Is(err, ErrSpawnFailed) {
		t.Fatalf("err = %v", err)
	}
	// The pre-spawn record must not linger.
	recs, _ := database.ListSessions()
	if len(recs) != 0 {
		t.Errorf("leftover records: %d", len(recs))
	}
}

func TestOutputFlowsToBufferAndCallback(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	var got []byte
	f.mgr.Callbacks.OnOutput = func(sessionID string, data []byte) {
		mu.Lock()
		got = append(got, data...)
		mu.Unlock()
	}

	s, err := f.mgr.CreateTerminalSession(context.Background(), "c1", "prj_test01", TerminalConfig{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	f.host.Feed(s.ID, []byte("hello\n"))
	waitFor(t, "output callback", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return string(got) == "hello\n"
	})

	full, ok := f.bufs.GetFull(s.ID)
	if !ok || full != "hello" {
		t.Errorf("buffer = %q ok=%v", full, ok)
	}
}

func TestWrite(t *testing.T) {
	f := newFixture(t)
	s, _ := f.mgr.CreateTerminalSession(context.Background(), "c1", "prj_test01", TerminalConfig{})

	if err := f.mgr.Write(s.ID, []byte("ls -la\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := string(f.host.Input(s.ID)); got != "ls -la\n" {
		t.Errorf("shell received %q", got)
	}

	if err := f.mgr.Write("ses_nope", []byte("x")); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown session err = %v", err)
	}
}

func TestTerminateSession(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	terminated := map[string]bool{}
	f.mgr.Callbacks.OnTermination = func(sessionID string, exitCode *int) {
		mu.Lock()
		terminated[sessionID] = true
		mu.Unlock()
	}

	s, _ := f.mgr.CreateTerminalSession(context.Background(), "c1", "prj_test01", TerminalConfig{})
	if err := f.mgr.TerminateSession(s.ID); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if s.State() != StateTerminated {
		t.Errorf("state = %s", s.State())
	}
	if f.host.Alive(s.ID) {
		t.Error("shell survived termination")
	}
	mu.Lock()
	fired := terminated[s.ID]
	mu.Unlock()
	if !fired {
		t.Error("termination callback missing")
	}

	// Terminated is absorbing: writes fail, repeat terminate is a no-op.
	if err := f.mgr.Write(s.ID, []byte("x")); !errors.Is(err, ErrSessionTerminated) {
		t.Errorf("write after terminate: %v", err)
	}
	if err := f.mgr.TerminateSession(s.ID); err != nil {
		t.Errorf("second terminate: %v", err)
	}
}

func TestDisconnectAndReconnect(t *testing.T) {
	f := newFixture(t)
	s, _ := f.mgr.CreateTerminalSession(context.Background(), "c1", "prj_test01", TerminalConfig{})

	f.host.Feed(s.ID, []byte("before\n"))
	waitFor(t, "pre-disconnect output", func() bool {
		full, _ := f.bufs.GetFull(s.ID)
		return full == "before"
	})

	f.mgr.HandleClientDisconnect("c1")
	if s.State() != StateDisconnected {
		t.Fatalf("state = %s", s.State())
	}
	if s.Owner() != "" {
		t.Errorf("owner survived disconnect: %q", s.Owner())
	}

	f.host.Feed(s.ID, []byte("while-away\n"))
	waitFor(t, "offline output", func() bool {
		full, _ := f.bufs.GetFull(s.ID)
		return full == "before\nwhile-away"
	})

	res := f.mgr.HandleClientReconnect("c2", []string{s.ID})
	if len(res.ActiveSessions) != 1 {
		t.Fatalf("active = %d", len(res.ActiveSessions))
	}
	if s.State() != StateActive {
		t.Errorf("state = %s", s.State())
	}
	if s.Owner() != "c2" {
		t.Errorf("owner = %q, want the reconnecting client", s.Owner())
	}
	if len(res.Buffers) != 1 || res.Buffers[0].OutputSinceDisconnect != "while-away" {
		t.Errorf("buffers = %+v", res.Buffers)
	}
}

func TestReconnect_TerminatedSessionsReported(t *testing.T) {
	f := newFixture(t)
	s, _ := f.mgr.CreateTerminalSession(context.Background(), "c1", "prj_test01", TerminalConfig{})
	f.mgr.TerminateSession(s.ID)

	res := f.mgr.HandleClientReconnect("c1", []string{s.ID, "ses_ghost"})
	if len(res.TerminatedSessions) != 2 {
		t.Errorf("terminated = %v", res.TerminatedSessions)
	}
	if len(res.ActiveSessions) != 0 {
		t.Errorf("active = %v", res.ActiveSessions)
	}
}

func TestReconnect_StealsOwnership(t *testing.T) {
	f := newFixture(t)
	s, _ := f.mgr.CreateTerminalSession(context.Background(), "c1", "prj_test01", TerminalConfig{})

	f.mgr.HandleClientReconnect("c2", []string{s.ID})
	if s.Owner() != "c2" {
		t.Fatalf("owner = %q", s.Owner())
	}

	// The first client's disconnect must not detach the new owner.
	f.mgr.HandleClientDisconnect("c1")
	if s.Owner() != "c2" {
		t.Errorf("owner lost after stale disconnect: %q", s.Owner())
	}
	if s.State() != StateActive {
		t.Errorf("state = %s", s.State())
	}
}

func TestInitialize_RecoversPersistedSessions(t *testing.T) {
	f := newFixture(t)

	// A previous process left a live shell and its record behind.
	f.host.AddShell("ses_recov01")
	rec := &database.SessionRecord{
		ID: "ses_recov01", Type: string(TypeLocalTerminal), ProjectID: "prj_test01",
		Status: string(StateActive), Metadata: "{}", LastActiveAt: time.Now(),
	}
	if err := database.SaveSession(rec); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	if err := f.mgr.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	s := f.mgr.Get("ses_recov01")
	if s == nil {
		t.Fatal("session not recovered")
	}
	if s.State() != StateDisconnected {
		t.Errorf("state = %s, want disconnected until a client claims it", s.State())
	}

	// Output produced before reconnect lands in the replay delta.
	f.host.Feed("ses_recov01", []byte("recovered output\n"))
	waitFor(t, "recovered output", func() bool {
		full, _ := f.bufs.GetFull("ses_recov01")
		return full == "recovered output"
	})
	res := f.mgr.HandleClientReconnect("c1", []string{"ses_recov01"})
	if len(res.Buffers) != 1 || res.Buffers[0].OutputSinceDisconnect != "recovered output" {
		t.Errorf("replay = %+v", res.Buffers)
	}
}

func TestInitialize_OrphansAndDeadRecords(t *testing.T) {
	f := newFixture(t)

	// Shell without a record: orphan.
	f.host.AddShell("ses_orphan1")
	// Record without a shell: must be marked terminated.
	dead := &database.SessionRecord{
		ID: "ses_dead01", Type: string(TypeLocalTerminal), ProjectID: "prj_test01",
		Status: string(StateActive), Metadata: "{}", LastActiveAt: time.Now(),
	}
	if err := database.SaveSession(dead); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	if err := f.mgr.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	orphans := f.mgr.Orphans()
	if len(orphans) != 1 || orphans[0] != "ses_orphan1" {
		t.Errorf("orphans = %v", orphans)
	}

	rec, err := database.GetSession("ses_dead01")
	if err != nil {
		t.Fatalf("dead record: %v", err)
	}
	if rec.Status != string(StateTerminated) {
		t.Errorf("dead record status = %s", rec.Status)
	}

	if err := f.mgr.RemoveOrphan("ses_orphan1"); err != nil {
		t.Fatalf("RemoveOrphan: %v", err)
	}
	if len(f.mgr.Orphans()) != 0 {
		t.Error("orphan list not pruned")
	}
	if f.host.Alive("ses_orphan1") {
		t.Error("orphan shell survived")
	}
}

func TestTerminateProjectSessions(t *testing.T) {
	f := newFixture(t)
	s1, _ := f.mgr.CreateTerminalSession(context.Background(), "c1", "prj_test01", TerminalConfig{})
	s2, _ := f.mgr.CreateTerminalSession(context.Background(), "c1", "prj_test01", TerminalConfig{})

	f.mgr.TerminateProjectSessions("prj_test01")
	if s1.State() != StateTerminated || s2.State() != StateTerminated {
		t.Errorf("states = %s, %s", s1.State(), s2.State())
	}
}

func TestGC(t *testing.T) {
	f := newFixture(t)
	s, _ := f.mgr.CreateTerminalSession(context.Background(), "c1", "prj_test01", TerminalConfig{})

	// GC refuses live sessions.
	f.mgr.GC(s.ID)
	if f.mgr.Get(s.ID) == nil {
		t.Fatal("live session collected")
	}

	f.mgr.TerminateSession(s.ID)
	f.mgr.GC(s.ID)
	if f.mgr.Get(s.ID) != nil {
		t.Error("terminated session not collected")
	}
	if _, ok := f.bufs.GetFull(s.ID); ok {
		t.Error("buffer not collected")
	}
	if _, err := database.GetSession(s.ID); err == nil {
		t.Error("record not collected")
	}
}

func TestExpirePaused(t *testing.T) {
	f := newFixture(t)
	stale, _ := f.mgr.CreateTerminalSession(context.Background(), "c1", "prj_test01", TerminalConfig{})
	owned, _ := f.mgr.CreateTerminalSession(context.Background(), "c2", "prj_test01", TerminalConfig{})

	f.mgr.HandleClientDisconnect("c1")
	time.Sleep(5 * time.Millisecond)

	// The first sweep parks the ownerless session; owned sessions are
	// never touched no matter how old they are.
	if n := f.mgr.ExpirePaused(time.Millisecond); n != 0 {
		t.Fatalf("first sweep terminated %d", n)
	}
	if stale.State() != StatePaused {
		t.Fatalf("state = %s, want paused", stale.State())
	}
	if owned.State() != StateActive {
		t.Errorf("owned session swept: %s", owned.State())
	}

	// Paused sessions stay reclaimable until the terminating sweep.
	res := f.mgr.HandleClientReconnect("c3", []string{stale.ID})
	if len(res.ActiveSessions) != 1 || stale.State() != StateActive {
		t.Fatalf("paused session not reclaimed: %s", stale.State())
	}

	f.mgr.HandleClientDisconnect("c3")
	time.Sleep(5 * time.Millisecond)
	f.mgr.ExpirePaused(time.Millisecond)
	if n := f.mgr.ExpirePaused(time.Millisecond); n != 1 {
		t.Fatalf("second sweep terminated %d", n)
	}
	if stale.State() != StateTerminated {
		t.Errorf("state = %s", stale.State())
	}
}

func TestShellDeathTerminatesSession(t *testing.T) {
	f := newFixture(t)
	s, _ := f.mgr.CreateTerminalSession(context.Background(), "c1", "prj_test01", TerminalConfig{})

	// Killing the backing shell closes the output stream; the reader
	// must drive the session to terminated on its own.
	f.host.Kill(s.ID)
	waitFor(t, "termination via reader", func() bool {
		return s.State() == StateTerminated
	})
}
