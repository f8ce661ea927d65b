// Package status infers a session's activity state (idle, working,
// waiting, error) from its output stream using a priority-ordered
// pattern registry.
package status

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// windowSize is the number of ANSI-stripped characters of recent
	// output kept per session for matching.
	windowSize = 2000
	// DefaultLookbackLines is how many trailing lines of the window are
	// matched against patterns.
	DefaultLookbackLines = 5
	// DefaultDebounce is the default transition debounce.
	DefaultDebounce = 100 * time.Millisecond
)

// Change describes a single activity transition.
type Change struct {
	SessionID      string    `json:"session_id"`
	PreviousStatus Activity  `json:"previous_status"`
	NewStatus      Activity  `json:"new_status"`
	MatchedPattern string    `json:"matched_pattern,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

type compiledPattern struct {
	Pattern
	re  *regexp.Regexp
	seq int // insertion order, tiebreak for equal priority
}

type sessionState struct {
	window  string
	current Activity
	shell   string
}

// Options configures a Detector.
type Options struct {
	DisabledPatterns []string
	CustomPatterns   []Pattern
	LookbackLines    int
	Debounce         time.Duration
}

// Detector holds the compiled pattern registry and per-session match
// state. All methods are safe for concurrent use.
type Detector struct {
	mu       sync.Mutex
	patterns []*compiledPattern
	nextSeq  int
	sessions map[string]*sessionState

	lookbackLines int
	debounce      time.Duration
}

// NewDetector compiles the default pattern set plus any custom
// patterns. A pattern that fails to compile is reported immediately so
// the registry is known valid before the first match.
func NewDetector(opts Options) (*Detector, error) {
	if opts.LookbackLines <= 0 {
		opts.LookbackLines = DefaultLookbackLines
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	disabled := make(map[string]bool, len(opts.DisabledPatterns))
	for _, id := range opts.DisabledPatterns {
		disabled[id] = true
	}

	d := &Detector{
		sessions:      make(map[string]*sessionState),
		lookbackLines: opts.LookbackLines,
		debounce:      opts.Debounce,
	}

	for _, p := range DefaultPatterns() {
		if disabled[p.ID] {
			p.Enabled = false
		}
		if err := d.AddPattern(p); err != nil {
			return nil, fmt.Errorf("default pattern %s: %w", p.ID, err)
		}
	}
	for _, p := range opts.CustomPatterns {
		if err := d.AddPattern(p); err != nil {
			return nil, fmt.Errorf("custom pattern %s: %w", p.ID, err)
		}
	}
	return d, nil
}

// LoadPatternFile reads custom patterns from a YAML file. Used at
// startup when STATUS_PATTERNS_FILE is set.
func LoadPatternFile(path string) ([]Pattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pattern file: %w", err)
	}
	var out struct {
		Patterns []Pattern `yaml:"patterns"`
	}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse pattern file: %w", err)
	}
	return out.Patterns, nil
}

// AddPattern compiles and inserts a pattern, replacing any existing
// pattern with the same ID, and re-sorts the registry by priority
// descending with insertion-order tiebreak.
func (d *Detector) AddPattern(p Pattern) error {
	// (?m) so $ anchors to line ends within the lookback tail.
	re, err := regexp.Compile("(?m)" + p.Pattern)
	if err != nil {
		return fmt.Errorf("compile pattern %q: %w", p.Pattern, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for i, cp := range d.patterns {
		if cp.ID == p.ID {
			d.patterns = append(d.patterns[:i], d.patterns[i+1:]...)
			break
		}
	}
	d.patterns = append(d.patterns, &compiledPattern{Pattern: p, re: re, seq: d.nextSeq})
	d.nextSeq++
	sort.SliceStable(d.patterns, func(i, j int) bool {
		if d.patterns[i].Priority != d.patterns[j].Priority {
			return d.patterns[i].Priority > d.patterns[j].Priority
		}
		return d.patterns[i].seq < d.patterns[j].seq
	})
	return nil
}

// RemovePattern deletes a pattern by ID, reporting whether one existed.
func (d *Detector) RemovePattern(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, cp := range d.patterns {
		if cp.ID == id {
			d.patterns = append(d.patterns[:i], d.patterns[i+1:]...)
			return true
		}
	}
	return false
}

// GetPatterns returns a snapshot of the registry without compiled state.
func (d *Detector) GetPatterns() []Pattern {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Pattern, len(d.patterns))
	for i, cp := range d.patterns {
		out[i] = cp.Pattern
	}
	return out
}

func (d *Detector) ensure(sessionID string) *sessionState {
	st, ok := d.sessions[sessionID]
	if !ok {
		st = &sessionState{current: Idle}
		d.sessions[sessionID] = st
	}
	return st
}

// SetShell records the session's shell kind so shell-scoped patterns
// apply only where they belong.
func (d *Detector) SetShell(sessionID, shell string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ensure(sessionID).shell = shell
}

// Detect runs the detection pipeline over new output bytes and returns
// the transition, or nil when the status did not change. At most one
// transition is produced per call.
func (d *Detector) Detect(sessionID string, data []byte) *Change {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := d.ensure(sessionID)

	stripped := StripANSI(string(data))
	st.window += stripped
	if len(st.window) > windowSize {
		st.window = st.window[len(st.window)-windowSize:]
	}

	tail := lastLines(st.window, d.lookbackLines)

	for _, cp := range d.patterns {
		if !cp.Enabled {
			continue
		}
		if cp.Shell != "all" && cp.Shell != "" && st.shell != "" && cp.Shell != st.shell {
			continue
		}
		if !cp.re.MatchString(tail) {
			continue
		}
		// Highest-priority match decides: either it forces a new status
		// or confirms the current one.
		if cp.Status == st.current {
			return nil
		}
		prev := st.current
		st.current = cp.Status
		return &Change{
			SessionID:      sessionID,
			PreviousStatus: prev,
			NewStatus:      cp.Status,
			MatchedPattern: cp.Name,
			Timestamp:      time.Now(),
		}
	}

	// New output after a waiting state means the program accepted input
	// and is doing something again.
	if st.current == Waiting && strings.TrimSpace(stripped) != "" {
		prev := st.current
		st.current = Working
		return &Change{
			SessionID:      sessionID,
			PreviousStatus: prev,
			NewStatus:      Working,
			Timestamp:      time.Now(),
		}
	}

	return nil
}

// SetStatus forces a session's activity status, returning the
// transition or nil when it is already current.
func (d *Detector) SetStatus(sessionID string, status Activity) *Change {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := d.ensure(sessionID)
	if st.current == status {
		return nil
	}
	prev := st.current
	st.current = status
	return &Change{
		SessionID:      sessionID,
		PreviousStatus: prev,
		NewStatus:      status,
		Timestamp:      time.Now(),
	}
}

// GetStatus returns the session's current activity status, idle by
// default.
func (d *Detector) GetStatus(sessionID string) Activity {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.sessions[sessionID]; ok {
		return st.current
	}
	return Idle
}

// ClearSession drops the session's window and status memory.
func (d *Detector) ClearSession(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, sessionID)
}

func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
