// Package buffer implements the per-session scrollback engine: a bounded
// line buffer with disconnect markers for reconnect replay, plus periodic
// persistence to the database.
package buffer

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gluk-w/termhub/internal/database"
	"github.com/robfig/cron/v3"
)

// DefaultMaxLines is the scrollback cap used when no deployment value
// is configured.
const DefaultMaxLines = 50000

// noDisconnect marks an unset disconnect index.
const noDisconnect = -1

// Stats describes a buffer's current usage.
type Stats struct {
	SessionID   string  `json:"session_id"`
	Lines       int     `json:"lines"`
	MaxLines    int     `json:"max_lines"`
	PercentUsed float64 `json:"percent_used"`
	TotalLines  int64   `json:"total_lines_written"`
	MemoryBytes int     `json:"memory_bytes"`
}

// Snapshot is the payload handed to a reconnecting client. If no
// disconnect marker was set it carries the full buffer.
type Snapshot struct {
	SessionID             string     `json:"session_id"`
	OutputSinceDisconnect string     `json:"output_since_disconnect"`
	DisconnectTime        *time.Time `json:"disconnect_time,omitempty"`
	ReconnectTime         time.Time  `json:"reconnect_time"`
}

// sessionBuffer holds one session's scrollback. All fields are guarded
// by mu so that append, markDisconnect and snapshot extraction on the
// same session are serialized.
type sessionBuffer struct {
	mu             sync.Mutex
	lines          []string
	tail           string // open partial line, no trailing newline seen yet
	maxLines       int
	totalLines     int64 // closed lines ever written, never reset
	disconnectIdx  int
	disconnectTail int // open-tail bytes already delivered before disconnect
	disconnectAt   time.Time
	dirty          bool
	lastFlushAt    time.Time
}

// Engine owns every session's scrollback buffer and the periodic flush
// schedule. OnOutput, when set, is invoked after every append with the
// unmodified bytes so the caller can broadcast them.
type Engine struct {
	mu      sync.RWMutex
	buffers map[string]*sessionBuffer

	maxLines int
	persist  bool
	sched    *cron.Cron

	// OnOutput is called synchronously from Append with the raw bytes.
	OnOutput func(sessionID string, data []byte)
}

// NewEngine creates a buffer engine. If persist is true, Start must be
// called to begin the flush schedule.
func NewEngine(maxLines int, persist bool) *Engine {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	return &Engine{
		buffers:  make(map[string]*sessionBuffer),
		maxLines: maxLines,
		persist:  persist,
	}
}

// Start begins the periodic flush using the given interval.
func (e *Engine) Start(interval time.Duration) {
	if !e.persist || e.sched != nil {
		return
	}
	e.sched = cron.New()
	e.sched.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		if err := e.Flush(); err != nil {
			log.Printf("[buffer] flush: %v", err)
		}
	})
	e.sched.Start()
}

// Create registers a buffer for the session. Idempotent: an existing
// buffer is preserved.
func (e *Engine) Create(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.buffers[sessionID]; ok {
		return
	}
	e.buffers[sessionID] = &sessionBuffer{
		maxLines:      e.maxLines,
		disconnectIdx: noDisconnect,
	}
}

func (e *Engine) get(sessionID string) *sessionBuffer {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.buffers[sessionID]
}

// Append incorporates output bytes into the session's buffer. Bytes are
// split on '\n': the first fragment extends the open tail, every
// newline closes a line, and any trailing fragment becomes the new
// tail. When a closed line would exceed the cap the oldest line is
// evicted and the disconnect index re-anchored. Appending to an unknown
// session is a no-op.
func (e *Engine) Append(sessionID string, data []byte) {
	b := e.get(sessionID)
	if b == nil {
		log.Printf("[buffer] append to unknown session %s (%d bytes dropped)", sessionID, len(data))
		return
	}

	b.mu.Lock()
	parts := strings.Split(string(data), "\n")
	// parts[0] extends the tail; every subsequent boundary closes a line.
	b.tail += parts[0]
	for i := 1; i < len(parts); i++ {
		b.lines = append(b.lines, b.tail)
		b.totalLines++
		b.tail = parts[i]
		if len(b.lines) > b.maxLines {
			b.lines = b.lines[1:]
			if b.disconnectIdx > 0 {
				b.disconnectIdx--
			} else if b.disconnectIdx == 0 {
				// The line holding the pre-disconnect tail prefix was
				// evicted; the delta degrades to the retained window.
				b.disconnectTail = 0
			}
		}
	}
	b.dirty = true
	b.mu.Unlock()

	if e.OnOutput != nil {
		e.OnOutput(sessionID, data)
	}
}

// GetFull returns the whole buffer: closed lines joined by '\n' with
// the open tail appended.
func (e *Engine) GetFull(sessionID string) (string, bool) {
	b := e.get(sessionID)
	if b == nil {
		return "", false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return joinWithTail(b.lines, b.tail), true
}

// GetLastLines returns the last n closed lines joined by '\n'.
func (e *Engine) GetLastLines(sessionID string, n int) (string, bool) {
	b := e.get(sessionID)
	if b == nil {
		return "", false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	lines := b.lines
	if n < len(lines) {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n"), true
}

// MarkDisconnect records the current end of the buffer as the
// disconnect boundary. Any open partial line is recorded by length so
// the snapshot replays only bytes that arrived after the mark.
func (e *Engine) MarkDisconnect(sessionID string) {
	b := e.get(sessionID)
	if b == nil {
		return
	}
	b.mu.Lock()
	b.disconnectIdx = len(b.lines)
	b.disconnectTail = len(b.tail)
	b.disconnectAt = time.Now()
	b.mu.Unlock()
}

// ClearDisconnect unsets the disconnect marker without reading.
func (e *Engine) ClearDisconnect(sessionID string) {
	b := e.get(sessionID)
	if b == nil {
		return
	}
	b.mu.Lock()
	b.disconnectIdx = noDisconnect
	b.disconnectTail = 0
	b.mu.Unlock()
}

// GetSnapshot returns everything that arrived after the disconnect
// marker, or the full buffer when no marker is set, and clears the
// marker atomically with the read.
func (e *Engine) GetSnapshot(sessionID string) (*Snapshot, bool) {
	b := e.get(sessionID)
	if b == nil {
		return nil, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := &Snapshot{
		SessionID:     sessionID,
		ReconnectTime: time.Now(),
	}
	if b.disconnectIdx == noDisconnect {
		snap.OutputSinceDisconnect = joinWithTail(b.lines, b.tail)
	} else {
		// The first replayed line may begin with the partial line that
		// was already on screen when the mark was set; strip it.
		delta := joinWithTail(b.lines[b.disconnectIdx:], b.tail)
		if b.disconnectTail <= len(delta) {
			delta = delta[b.disconnectTail:]
		}
		snap.OutputSinceDisconnect = delta
		dt := b.disconnectAt
		snap.DisconnectTime = &dt
	}
	b.disconnectIdx = noDisconnect
	b.disconnectTail = 0
	return snap, true
}

// GetStats returns current usage counters for the session's buffer.
func (e *Engine) GetStats(sessionID string) (*Stats, bool) {
	b := e.get(sessionID)
	if b == nil {
		return nil, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	mem := len(b.tail)
	for _, l := range b.lines {
		mem += len(l)
	}
	return &Stats{
		SessionID:   sessionID,
		Lines:       len(b.lines),
		MaxLines:    b.maxLines,
		PercentUsed: float64(len(b.lines)) / float64(b.maxLines) * 100,
		TotalLines:  b.totalLines,
		MemoryBytes: mem,
	}, true
}

// Clear empties the session's scrollback while keeping the buffer
// registered. The total-lines counter is preserved.
func (e *Engine) Clear(sessionID string) bool {
	b := e.get(sessionID)
	if b == nil {
		return false
	}
	b.mu.Lock()
	b.lines = nil
	b.tail = ""
	b.disconnectIdx = noDisconnect
	b.disconnectTail = 0
	b.dirty = true
	b.mu.Unlock()
	return true
}

// DeleteBuffer removes the buffer and its persisted row.
func (e *Engine) DeleteBuffer(sessionID string) {
	e.mu.Lock()
	delete(e.buffers, sessionID)
	e.mu.Unlock()

	if e.persist {
		if err := database.DeleteBuffer(sessionID); err != nil {
			log.Printf("[buffer] delete persisted buffer %s: %v", sessionID, err)
		}
	}
}

// Flush persists every dirty buffer, one transaction per session.
// Persistence failures are logged and retried on the next tick.
func (e *Engine) Flush() error {
	if !e.persist {
		return nil
	}

	e.mu.RLock()
	type entry struct {
		id string
		b  *sessionBuffer
	}
	all := make([]entry, 0, len(e.buffers))
	for id, b := range e.buffers {
		all = append(all, entry{id, b})
	}
	e.mu.RUnlock()

	var firstErr error
	for _, en := range all {
		en.b.mu.Lock()
		if !en.b.dirty {
			en.b.mu.Unlock()
			continue
		}
		rec := &database.BufferRecord{
			SessionID:   en.id,
			Content:     joinWithTail(en.b.lines, en.b.tail),
			TotalLines:  en.b.totalLines,
			LastFlushAt: time.Now(),
		}
		en.b.mu.Unlock()

		if err := database.SaveBuffer(rec); err != nil {
			log.Printf("[buffer] persist %s: %v", en.id, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		en.b.mu.Lock()
		en.b.dirty = false
		en.b.lastFlushAt = rec.LastFlushAt
		en.b.mu.Unlock()
	}
	return firstErr
}

// LoadBuffer rehydrates a buffer from the database. Returns true when a
// persisted buffer existed and was loaded.
func (e *Engine) LoadBuffer(sessionID string) bool {
	if !e.persist {
		return false
	}
	rec, err := database.GetBuffer(sessionID)
	if err != nil {
		return false
	}

	e.Create(sessionID)
	b := e.get(sessionID)
	b.mu.Lock()
	defer b.mu.Unlock()

	if rec.Content != "" {
		b.lines = strings.Split(rec.Content, "\n")
		if len(b.lines) > b.maxLines {
			b.lines = b.lines[len(b.lines)-b.maxLines:]
		}
	}
	b.totalLines = rec.TotalLines
	b.lastFlushAt = rec.LastFlushAt
	b.dirty = false
	return true
}

// Destroy stops the flush schedule and drops all in-memory state. It
// does not flush; callers that need durability flush first.
func (e *Engine) Destroy() {
	if e.sched != nil {
		e.sched.Stop()
		e.sched = nil
	}
	e.mu.Lock()
	e.buffers = make(map[string]*sessionBuffer)
	e.mu.Unlock()
}

func joinWithTail(lines []string, tail string) string {
	joined := strings.Join(lines, "\n")
	if tail == "" {
		return joined
	}
	if joined == "" {
		return tail
	}
	return joined + "\n" + tail
}
