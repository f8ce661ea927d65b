package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gluk-w/termhub/internal/buffer"
	"github.com/gluk-w/termhub/internal/database"
	"github.com/gluk-w/termhub/internal/ids"
	"github.com/gluk-w/termhub/internal/shellhost"
	"github.com/gluk-w/termhub/internal/sshclient"
	"github.com/gluk-w/termhub/internal/status"
)

// Callbacks are the gateway hooks the manager invokes. They are passed
// at construction time rather than via a global event bus so ownership
// of every message is explicit.
type Callbacks struct {
	// OnOutput receives raw shell output for fanout to the owning client.
	OnOutput func(sessionID string, data []byte)
	// OnStatusChange receives activity transitions from the detector.
	OnStatusChange func(change *status.Change)
	// OnStateChange receives lifecycle transitions.
	OnStateChange func(sessionID string, previous, next State)
	// OnTermination fires once per session when it reaches terminated.
	OnTermination func(sessionID string, exitCode *int)
	// OnSessionError reports unrecoverable I/O errors on a live session.
	OnSessionError func(sessionID string, err error)
}

// Manager holds the authoritative session table plus reverse indices by
// project and by owning client.
type Manager struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	byProject map[string]map[string]*Session
	byClient  map[string]map[string]*Session
	orphans   []string

	host     shellhost.Host
	buffers  *buffer.Engine
	detector *status.Detector

	// Callbacks must be set before Initialize or the first session is
	// created; nil hooks are skipped.
	Callbacks Callbacks
}

// NewManager wires the manager to its collaborators. The buffer
// engine's append event is routed straight to the gateway fanout.
func NewManager(host shellhost.Host, buffers *buffer.Engine, detector *status.Detector) *Manager {
	m := &Manager{
		sessions:  make(map[string]*Session),
		byProject: make(map[string]map[string]*Session),
		byClient:  make(map[string]map[string]*Session),
		host:      host,
		buffers:   buffers,
		detector:  detector,
	}
	buffers.OnOutput = func(sessionID string, data []byte) {
		if m.Callbacks.OnOutput != nil {
			m.Callbacks.OnOutput(sessionID, data)
		}
	}
	return m
}

// Initialize recovers sessions after a restart: every shell the host
// still has with a matching persisted record is rehydrated in
// disconnected state; host entries with no record are orphans.
func (m *Manager) Initialize(ctx context.Context) error {
	names, err := m.host.List(ctx)
	if err != nil {
		return fmt.Errorf("enumerate shell host: %w", err)
	}

	alive := make(map[string]bool, len(names))
	for _, name := range names {
		alive[name] = true
		rec, err := database.GetSession(name)
		if err != nil {
			m.mu.Lock()
			m.orphans = append(m.orphans, name)
			m.mu.Unlock()
			log.Printf("[session-mgr] orphan shell %s (no persisted record)", name)
			continue
		}
		if rec.Status == string(StateTerminated) {
			continue
		}
		if err := m.rehydrate(rec); err != nil {
			log.Printf("[session-mgr] rehydrate %s: %v", rec.ID, err)
		}
	}

	// Records whose shell is gone can never come back.
	recs, err := database.ListSessions()
	if err != nil {
		return fmt.Errorf("list persisted sessions: %w", err)
	}
	for i := range recs {
		rec := &recs[i]
		if rec.Status == string(StateTerminated) || alive[rec.ID] || rec.Type != string(TypeLocalTerminal) {
			if rec.Type == string(TypeRemoteShell) && rec.Status != string(StateTerminated) {
				// Remote shells do not survive a restart.
				rec.Status = string(StateTerminated)
				database.SaveSession(rec)
			}
			continue
		}
		rec.Status = string(StateTerminated)
		if err := database.SaveSession(rec); err != nil {
			log.Printf("[session-mgr] mark %s terminated: %v", rec.ID, err)
		}
	}

	m.mu.RLock()
	n := len(m.sessions)
	o := len(m.orphans)
	m.mu.RUnlock()
	log.Printf("[session-mgr] initialized: %d recovered sessions, %d orphan shells", n, o)
	return nil
}

func (m *Manager) rehydrate(rec *database.SessionRecord) error {
	stream, err := m.host.Attach(rec.ID)
	if err != nil {
		return fmt.Errorf("attach shell: %w", err)
	}

	s := &Session{
		ID:           rec.ID,
		Type:         Type(rec.Type),
		ProjectID:    rec.ProjectID,
		state:        StateDisconnected,
		createdAt:    rec.CreatedAt,
		updatedAt:    time.Now(),
		lastActiveAt: rec.LastActiveAt,
		metadata:     make(map[string]string),
		stream:       stream,
		readerDone:   make(chan struct{}),
	}

	if !m.buffers.LoadBuffer(rec.ID) {
		m.buffers.Create(rec.ID)
	}
	m.buffers.MarkDisconnect(rec.ID)

	m.index(s)
	go m.readLoop(s)

	rec.Status = string(StateDisconnected)
	if err := database.SaveSession(rec); err != nil {
		log.Printf("[session-mgr] persist rehydrated %s: %v", rec.ID, err)
	}
	return nil
}

func (m *Manager) index(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	if m.byProject[s.ProjectID] == nil {
		m.byProject[s.ProjectID] = make(map[string]*Session)
	}
	m.byProject[s.ProjectID][s.ID] = s
}

// CreateTerminalSession spawns a new local shell on the host and
// registers it to the creating client.
func (m *Manager) CreateTerminalSession(ctx context.Context, clientID, projectID string, cfg TerminalConfig) (*Session, error) {
	var proj database.Project
	if err := database.DB.First(&proj, "id = ?", projectID).Error; err != nil {
		return nil, ErrProjectNotFound
	}

	if cfg.Cols <= 0 {
		cfg.Cols = 80
	}
	if cfg.Rows <= 0 {
		cfg.Rows = 24
	}

	id := ids.New(ids.Session)
	s := &Session{
		ID:           id,
		Type:         TypeLocalTerminal,
		ProjectID:    projectID,
		state:        StateCreating,
		clientID:     clientID,
		cols:         cfg.Cols,
		rows:         cfg.Rows,
		createdAt:    time.Now(),
		updatedAt:    time.Now(),
		lastActiveAt: time.Now(),
		metadata:     make(map[string]string),
		descriptor:   &cfg,
		readerDone:   make(chan struct{}),
	}

	if err := m.persist(s); err != nil {
		return nil, err
	}

	if err := m.host.Spawn(ctx, id, shellhost.SpawnConfig{
		Shell:   cfg.Shell,
		WorkDir: cfg.WorkDir,
		Env:     cfg.Env,
		Cols:    cfg.Cols,
		Rows:    cfg.Rows,
	}); err != nil {
		database.DeleteSession(id)
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	stream, err := m.host.Attach(id)
	if err != nil {
		m.host.Kill(id)
		database.DeleteSession(id)
		return nil, fmt.Errorf("%w: attach: %v", ErrSpawnFailed, err)
	}
	s.stream = stream

	m.buffers.Create(id)
	m.detector.SetShell(id, cfg.Shell)
	m.index(s)
	m.bindClient(clientID, s)
	go m.readLoop(s)

	m.transition(s, StateActive)
	m.persist(s)

	log.Printf("[session-mgr] created terminal session %s (project=%s client=%s shell=%s)",
		id, projectID, clientID, cfg.Shell)
	return s, nil
}

// CreateRemoteSession dials an SSH shell and registers it like a local
// session. Remote shells are not host-backed and do not survive a
// restart. interactive answers keyboard-interactive prompts.
func (m *Manager) CreateRemoteSession(ctx context.Context, clientID, projectID string, cfg SSHConfig, interactive sshclient.InteractiveFunc) (*Session, error) {
	var proj database.Project
	if err := database.DB.First(&proj, "id = ?", projectID).Error; err != nil {
		return nil, ErrProjectNotFound
	}

	if cfg.Port <= 0 {
		cfg.Port = 22
	}
	if cfg.Cols <= 0 {
		cfg.Cols = 80
	}
	if cfg.Rows <= 0 {
		cfg.Rows = 24
	}

	shell, err := sshclient.Dial(ctx, sshclient.Config{
		Host:       cfg.Host,
		Port:       cfg.Port,
		Username:   cfg.Username,
		AuthMethod: cfg.AuthMethod,
		Password:   cfg.Password,
		PrivateKey: []byte(cfg.PrivateKey),
		Passphrase: cfg.Passphrase,
		Cols:       cfg.Cols,
		Rows:       cfg.Rows,
	}, interactive)
	if err != nil {
		return nil, err
	}

	id := ids.New(ids.Session)
	s := &Session{
		ID:           id,
		Type:         TypeRemoteShell,
		ProjectID:    projectID,
		state:        StateCreating,
		clientID:     clientID,
		cols:         cfg.Cols,
		rows:         cfg.Rows,
		createdAt:    time.Now(),
		updatedAt:    time.Now(),
		lastActiveAt: time.Now(),
		metadata:     make(map[string]string),
		descriptor:   &cfg,
		stream:       shell,
		readerDone:   make(chan struct{}),
	}

	m.buffers.Create(id)
	m.index(s)
	m.bindClient(clientID, s)
	go m.readLoop(s)
	go func() {
		<-shell.Done()
		code := shell.ExitCode()
		m.finishTermination(s, &code)
	}()

	m.transition(s, StateActive)
	if err := m.persist(s); err != nil {
		log.Printf("[session-mgr] persist remote session %s: %v", id, err)
	}

	log.Printf("[session-mgr] created remote session %s (%s@%s:%d)", id, cfg.Username, cfg.Host, cfg.Port)
	return s, nil
}

// readLoop is the session's dedicated reader task: one per session so a
// stalled shell never blocks the others. Output flows synchronously
// into the buffer (which emits the fanout event) and the detector.
func (m *Manager) readLoop(s *Session) {
	defer close(s.readerDone)
	buf := make([]byte, 32*1024)
	for {
		n, err := s.stream.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])

			s.mu.Lock()
			s.touch()
			s.mu.Unlock()

			m.buffers.Append(s.ID, data)
			if change := m.detector.Detect(s.ID, data); change != nil && m.Callbacks.OnStatusChange != nil {
				m.Callbacks.OnStatusChange(change)
			}
		}
		if err != nil {
			if s.State() != StateTerminated && s.State() != StateTerminating {
				log.Printf("[session-mgr] session %s output stream ended: %v", s.ID, err)
				m.finishTermination(s, nil)
			}
			return
		}
	}
}

// Write forwards client input to the backing shell.
func (m *Manager) Write(sessionID string, data []byte) error {
	s := m.lookup(sessionID)
	if s == nil {
		return ErrSessionNotFound
	}
	if s.State() == StateTerminated {
		return ErrSessionTerminated
	}
	if _, err := s.stream.Write(data); err != nil {
		m.degrade(s, err)
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	s.mu.Lock()
	s.touch()
	s.mu.Unlock()
	return nil
}

// Resize updates stored dimensions and forwards to the backing shell.
func (m *Manager) Resize(sessionID string, cols, rows int) error {
	s := m.lookup(sessionID)
	if s == nil {
		return ErrSessionNotFound
	}
	if s.State() == StateTerminated {
		return ErrSessionTerminated
	}

	s.mu.Lock()
	s.cols, s.rows = cols, rows
	s.touch()
	s.mu.Unlock()

	switch s.Type {
	case TypeRemoteShell:
		if rs, ok := s.stream.(*sshclient.RemoteShell); ok {
			return rs.Resize(cols, rows)
		}
	default:
		return m.host.Resize(sessionID, cols, rows)
	}
	return nil
}

// degrade moves a session to the error state after an unrecoverable
// I/O failure. The shell itself is left alive for the operator.
func (m *Manager) degrade(s *Session, cause error) {
	if prev, ok := s.setState(StateError); ok {
		m.notifyState(s, prev, StateError)
		m.persist(s)
		if m.Callbacks.OnSessionError != nil {
			m.Callbacks.OnSessionError(s.ID, cause)
		}
	}
}

// TerminateSession kills the backing shell and moves the session to the
// absorbing terminated state. The buffer stays readable until the
// session record is garbage-collected.
func (m *Manager) TerminateSession(sessionID string) error {
	s := m.lookup(sessionID)
	if s == nil {
		return ErrSessionNotFound
	}
	if s.State() == StateTerminated {
		return nil
	}

	if prev, ok := s.setState(StateTerminating); ok {
		m.notifyState(s, prev, StateTerminating)
	}

	if s.Type == TypeLocalTerminal {
		if err := m.host.Kill(sessionID); err != nil {
			log.Printf("[session-mgr] kill shell %s: %v", sessionID, err)
		}
	} else if s.stream != nil {
		s.stream.Close()
	}

	m.finishTermination(s, nil)
	return nil
}

// finishTermination completes the transition to terminated exactly once.
func (m *Manager) finishTermination(s *Session, exitCode *int) {
	prev, ok := s.setState(StateTerminated)
	if !ok {
		return
	}
	if exitCode != nil {
		s.mu.Lock()
		s.exitCode = exitCode
		s.mu.Unlock()
	}

	if err := m.buffers.Flush(); err != nil {
		log.Printf("[session-mgr] flush on terminate %s: %v", s.ID, err)
	}
	m.persist(s)
	m.notifyState(s, prev, StateTerminated)
	if m.Callbacks.OnTermination != nil {
		m.Callbacks.OnTermination(s.ID, s.ExitCode())
	}
	log.Printf("[session-mgr] session %s terminated", s.ID)
}

// TerminateProjectSessions terminates every session in a project,
// best-effort and in parallel.
func (m *Manager) TerminateProjectSessions(projectID string) {
	m.mu.RLock()
	var targets []*Session
	for _, s := range m.byProject[projectID] {
		targets = append(targets, s)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range targets {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := m.TerminateSession(s.ID); err != nil && !errors.Is(err, ErrSessionNotFound) {
				log.Printf("[session-mgr] terminate %s: %v", s.ID, err)
			}
		}(s)
	}
	wg.Wait()
}

// HandleClientDisconnect detaches every session the client owns: the
// shells stay alive, buffers record the disconnect boundary.
func (m *Manager) HandleClientDisconnect(clientID string) {
	m.mu.Lock()
	owned := m.byClient[clientID]
	delete(m.byClient, clientID)
	m.mu.Unlock()

	for _, s := range owned {
		s.mu.Lock()
		if s.clientID == clientID {
			s.clientID = ""
		}
		s.mu.Unlock()

		m.buffers.MarkDisconnect(s.ID)
		if prev, ok := s.setState(StateDisconnected); ok {
			m.notifyState(s, prev, StateDisconnected)
		}
		m.persist(s)
	}
	if len(owned) > 0 {
		log.Printf("[session-mgr] client %s disconnected, detached %d sessions", clientID, len(owned))
	}
}

// ReconnectResult is the reply payload for the reconnect protocol.
type ReconnectResult struct {
	ActiveSessions     []Info             `json:"activeSessions"`
	TerminatedSessions []string           `json:"terminatedSessions"`
	StatusChanges      []status.Change    `json:"statusChanges"`
	Buffers            []*buffer.Snapshot `json:"buffers"`
}

// HandleClientReconnect re-binds the requested sessions to the new
// client and extracts their disconnect-delta snapshots.
func (m *Manager) HandleClientReconnect(clientID string, sessionIDs []string) *ReconnectResult {
	res := &ReconnectResult{
		ActiveSessions:     []Info{},
		TerminatedSessions: []string{},
		StatusChanges:      []status.Change{},
		Buffers:            []*buffer.Snapshot{},
	}

	for _, id := range sessionIDs {
		s := m.lookup(id)
		if s == nil || s.State() == StateTerminated {
			res.TerminatedSessions = append(res.TerminatedSessions, id)
			continue
		}

		m.rebind(s, clientID)
		if prev, ok := s.setState(StateActive); ok {
			m.notifyState(s, prev, StateActive)
		}
		m.persist(s)

		activity := m.detector.GetStatus(id)
		res.ActiveSessions = append(res.ActiveSessions, s.info(activity))
		res.StatusChanges = append(res.StatusChanges, status.Change{
			SessionID: id,
			NewStatus: activity,
			Timestamp: time.Now(),
		})
		if snap, ok := m.buffers.GetSnapshot(id); ok {
			res.Buffers = append(res.Buffers, snap)
		}
	}
	return res
}

// rebind atomically hands session ownership to a new client.
func (m *Manager) rebind(s *Session, clientID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.mu.Lock()
	old := s.clientID
	s.clientID = clientID
	s.mu.Unlock()

	if old != "" && m.byClient[old] != nil {
		delete(m.byClient[old], s.ID)
	}
	if m.byClient[clientID] == nil {
		m.byClient[clientID] = make(map[string]*Session)
	}
	m.byClient[clientID][s.ID] = s
}

func (m *Manager) bindClient(clientID string, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byClient[clientID] == nil {
		m.byClient[clientID] = make(map[string]*Session)
	}
	m.byClient[clientID][s.ID] = s
}

func (m *Manager) lookup(sessionID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID]
}

// Get returns the session, or nil.
func (m *Manager) Get(sessionID string) *Session { return m.lookup(sessionID) }

// Owner returns the session's owning client id, or "".
func (m *Manager) Owner(sessionID string) string {
	if s := m.lookup(sessionID); s != nil {
		return s.Owner()
	}
	return ""
}

// List returns infos for every tracked session.
func (m *Manager) List() []Info {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	out := make([]Info, 0, len(all))
	for _, s := range all {
		out = append(out, s.info(m.detector.GetStatus(s.ID)))
	}
	return out
}

// ListProject returns infos for one project's sessions.
func (m *Manager) ListProject(projectID string) []Info {
	m.mu.RLock()
	var all []*Session
	for _, s := range m.byProject[projectID] {
		all = append(all, s)
	}
	m.mu.RUnlock()

	out := make([]Info, 0, len(all))
	for _, s := range all {
		out = append(out, s.info(m.detector.GetStatus(s.ID)))
	}
	return out
}

// Orphans returns shell-host entries found without a session record.
func (m *Manager) Orphans() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.orphans))
	copy(out, m.orphans)
	return out
}

// RemoveOrphan deletes an orphan shell from the host and forgets it.
func (m *Manager) RemoveOrphan(name string) error {
	if err := m.host.Kill(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, o := range m.orphans {
		if o == name {
			m.orphans = append(m.orphans[:i], m.orphans[i+1:]...)
			break
		}
	}
	return nil
}

// GC drops a terminated session's record and buffer.
func (m *Manager) GC(sessionID string) {
	s := m.lookup(sessionID)
	if s == nil || s.State() != StateTerminated {
		return
	}
	m.mu.Lock()
	delete(m.sessions, sessionID)
	if m.byProject[s.ProjectID] != nil {
		delete(m.byProject[s.ProjectID], sessionID)
	}
	m.mu.Unlock()

	m.buffers.DeleteBuffer(sessionID)
	m.detector.ClearSession(sessionID)
	database.DeleteSession(sessionID)
}

// ExpirePaused ages ownerless sessions in two stages: a session left
// disconnected past the timeout is parked in the paused state, and a
// paused session that stays unclaimed past the timeout is terminated.
// Either state remains reclaimable through the reconnect protocol until
// the terminating sweep runs. Returns how many sessions were terminated.
func (m *Manager) ExpirePaused(timeout time.Duration) int {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	cutoff := time.Now().Add(-timeout)
	terminated := 0
	for _, s := range all {
		if s.Owner() != "" || s.LastActiveAt().After(cutoff) {
			continue
		}
		switch s.State() {
		case StateDisconnected:
			m.transition(s, StatePaused)
			m.persist(s)
		case StatePaused:
			if err := m.TerminateSession(s.ID); err != nil {
				log.Printf("[session-mgr] expire paused %s: %v", s.ID, err)
				continue
			}
			terminated++
		}
	}
	return terminated
}

// transition applies a state change and fires the lifecycle hook when
// the state actually moved.
func (m *Manager) transition(s *Session, next State) {
	if prev, ok := s.setState(next); ok {
		m.notifyState(s, prev, next)
	}
}

func (m *Manager) notifyState(s *Session, prev, next State) {
	if m.Callbacks.OnStateChange != nil {
		m.Callbacks.OnStateChange(s.ID, prev, next)
	}
}

func (m *Manager) persist(s *Session) error {
	s.mu.Lock()
	rec := &database.SessionRecord{
		ID:           s.ID,
		Type:         string(s.Type),
		ProjectID:    s.ProjectID,
		Status:       string(s.state),
		ExitCode:     s.exitCode,
		CreatedAt:    s.createdAt,
		LastActiveAt: s.lastActiveAt,
		Metadata:     "{}",
	}
	s.mu.Unlock()
	rec.Descriptor = s.descriptorJSON()

	if err := database.SaveSession(rec); err != nil {
		return fmt.Errorf("persist session %s: %w", s.ID, err)
	}
	return nil
}

// Destroy closes every stream and waits briefly for reader tasks.
func (m *Manager) Destroy() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.byProject = make(map[string]map[string]*Session)
	m.byClient = make(map[string]map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		if s.stream != nil {
			s.stream.Close()
		}
	}
	for _, s := range all {
		select {
		case <-s.readerDone:
		case <-time.After(2 * time.Second):
		}
	}
}
