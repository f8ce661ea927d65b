// Package cleanup periodically expires idle shells and enforces the
// max-live-shell cap.
package cleanup

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/gluk-w/termhub/internal/session"
	"github.com/gluk-w/termhub/internal/shellhost"
	"github.com/robfig/cron/v3"
)

// Stats reports what the last run saw and did. Counters accumulate
// across runs except LastRun and ShellsExamined, which reflect the
// latest tick.
type Stats struct {
	LastRun          time.Time `json:"last_run"`
	ShellsExamined   int       `json:"shells_examined"`
	OrphansFound     int       `json:"orphans_found"`
	OrphansCleaned   int       `json:"orphans_cleaned"`
	TerminatedByIdle int       `json:"terminated_by_idle"`
	TerminatedByCap  int       `json:"terminated_by_cap"`
	ExpiredPaused    int       `json:"expired_paused"`
}

// Service runs the periodic sweep.
type Service struct {
	mgr  *session.Manager
	host shellhost.Host

	idleTimeout   time.Duration
	maxSessions   int
	checkInterval time.Duration

	// Paused-session expiry, enabled by ConfigureSessionExpiry.
	pausedTimeout   time.Duration
	sessionInterval time.Duration

	mu    sync.Mutex
	stats Stats
	sched *cron.Cron
}

// NewService configures the sweep thresholds. Zero values fall back to
// the documented defaults (48h idle, 400 sessions, 5m interval).
func NewService(mgr *session.Manager, host shellhost.Host, idleTimeout time.Duration, maxSessions int, checkInterval time.Duration) *Service {
	if idleTimeout <= 0 {
		idleTimeout = 48 * time.Hour
	}
	if maxSessions <= 0 {
		maxSessions = 400
	}
	if checkInterval <= 0 {
		checkInterval = 5 * time.Minute
	}
	return &Service{
		mgr:           mgr,
		host:          host,
		idleTimeout:   idleTimeout,
		maxSessions:   maxSessions,
		checkInterval: checkInterval,
	}
}

// ConfigureSessionExpiry enables the paused-session sweep: sessions
// that sit without an owner past the timeout are parked and then
// terminated. Zero values fall back to a 1h timeout and 5m interval.
func (s *Service) ConfigureSessionExpiry(timeout, interval time.Duration) {
	if timeout <= 0 {
		timeout = time.Hour
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	s.pausedTimeout = timeout
	s.sessionInterval = interval
}

// Start schedules the periodic sweeps.
func (s *Service) Start() {
	if s.sched != nil {
		return
	}
	s.sched = cron.New()
	s.sched.AddFunc(fmt.Sprintf("@every %s", s.checkInterval), func() {
		s.Run(context.Background())
	})
	if s.pausedTimeout > 0 {
		s.sched.AddFunc(fmt.Sprintf("@every %s", s.sessionInterval), func() {
			s.ExpireSessions()
		})
	}
	s.sched.Start()
}

// Stop cancels the schedule. Idempotent.
func (s *Service) Stop() {
	if s.sched != nil {
		s.sched.Stop()
		s.sched = nil
	}
}

// Run executes one sweep: count orphans, expire idle sessions, then
// enforce the live cap oldest-first.
func (s *Service) Run(ctx context.Context) Stats {
	names, err := s.host.List(ctx)
	if err != nil {
		log.Printf("[cleanup] enumerate shells: %v", err)
	}

	orphans := 0
	for _, name := range names {
		if s.mgr.Get(name) == nil {
			orphans++
		}
	}

	var live []session.Info
	for _, info := range s.mgr.List() {
		if info.Status != session.StateTerminated {
			live = append(live, info)
		}
	}

	idleKilled := 0
	cutoff := time.Now().Add(-s.idleTimeout)
	remaining := live[:0]
	for _, info := range live {
		if info.LastActiveAt.Before(cutoff) {
			if err := s.mgr.TerminateSession(info.ID); err != nil {
				log.Printf("[cleanup] terminate idle %s: %v", info.ID, err)
				remaining = append(remaining, info)
				continue
			}
			idleKilled++
			continue
		}
		remaining = append(remaining, info)
	}
	live = remaining

	capKilled := 0
	if len(live) > s.maxSessions {
		sort.Slice(live, func(i, j int) bool {
			return live[i].LastActiveAt.Before(live[j].LastActiveAt)
		})
		for _, info := range live[:len(live)-s.maxSessions] {
			if err := s.mgr.TerminateSession(info.ID); err != nil {
				log.Printf("[cleanup] terminate for cap %s: %v", info.ID, err)
				continue
			}
			capKilled++
		}
	}

	s.mu.Lock()
	s.stats.LastRun = time.Now()
	s.stats.ShellsExamined = len(names)
	s.stats.OrphansFound = orphans
	s.stats.TerminatedByIdle += idleKilled
	s.stats.TerminatedByCap += capKilled
	out := s.stats
	s.mu.Unlock()

	if idleKilled > 0 || capKilled > 0 || orphans > 0 {
		log.Printf("[cleanup] sweep: examined=%d orphans=%d idle_killed=%d cap_killed=%d",
			len(names), orphans, idleKilled, capKilled)
	}
	return out
}

// ExpireSessions runs one paused-session sweep and returns how many
// sessions were terminated by it.
func (s *Service) ExpireSessions() int {
	timeout := s.pausedTimeout
	if timeout <= 0 {
		timeout = time.Hour
	}
	n := s.mgr.ExpirePaused(timeout)
	if n > 0 {
		log.Printf("[cleanup] expired %d paused sessions", n)
	}
	s.mu.Lock()
	s.stats.ExpiredPaused += n
	s.mu.Unlock()
	return n
}

// CleanOrphans kills every orphan shell the manager reported at startup.
func (s *Service) CleanOrphans() int {
	cleaned := 0
	for _, name := range s.mgr.Orphans() {
		if err := s.mgr.RemoveOrphan(name); err != nil {
			log.Printf("[cleanup] remove orphan %s: %v", name, err)
			continue
		}
		cleaned++
	}
	s.mu.Lock()
	s.stats.OrphansCleaned += cleaned
	s.mu.Unlock()
	return cleaned
}

// Stats returns a copy of the accumulated counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
