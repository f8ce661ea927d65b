package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Settings holds all environment-driven configuration. Durations that
// arrive as millisecond counts keep the _MS suffix of their env keys.
type Settings struct {
	Port       int    `envconfig:"PORT" default:"8080"`
	Host       string `envconfig:"HOST" default:"0.0.0.0"`
	CORSOrigin string `envconfig:"CORS_ORIGIN" default:""`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogPath  string `envconfig:"LOG_PATH" default:""`

	DataPath     string `envconfig:"DATA_PATH" default:"./data"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:""`

	// Scrollback buffer settings
	ScrollbackLines         int `envconfig:"SCROLLBACK_LINES" default:"50000"`
	BufferPersistIntervalMs int `envconfig:"BUFFER_PERSIST_INTERVAL_MS" default:"5000"`

	// Session expiry
	SessionCleanupIntervalMs int `envconfig:"SESSION_CLEANUP_INTERVAL_MS" default:"300000"`
	PausedSessionTimeoutMs   int `envconfig:"PAUSED_SESSION_TIMEOUT_MS" default:"3600000"`

	// Shell host cleanup thresholds
	TmuxIdleTimeoutMs   int `envconfig:"TMUX_IDLE_TIMEOUT_MS" default:"172800000"`
	TmuxMaxSessions     int `envconfig:"TMUX_MAX_SESSIONS" default:"400"`
	TmuxCleanupInterval int `envconfig:"TMUX_CLEANUP_INTERVAL_MS" default:"300000"`

	// Status detector
	StatusPatternsFile string `envconfig:"STATUS_PATTERNS_FILE" default:""`

	// Credential vault. The vault stays disabled until a master
	// password is provided.
	VaultPath           string `envconfig:"VAULT_PATH" default:""`
	VaultSalt           string `envconfig:"VAULT_SALT" default:"termhub-vault-v1"`
	VaultMasterPassword string `envconfig:"VAULT_MASTER_PASSWORD" default:""`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}

// FlushInterval returns the buffer persistence tick as a duration.
func (s *Settings) FlushInterval() time.Duration {
	return time.Duration(s.BufferPersistIntervalMs) * time.Millisecond
}

// PausedTimeout returns how long an ownerless session may linger
// before the paused-session sweep expires it.
func (s *Settings) PausedTimeout() time.Duration {
	return time.Duration(s.PausedSessionTimeoutMs) * time.Millisecond
}

// SessionSweepInterval returns the paused-session sweep tick.
func (s *Settings) SessionSweepInterval() time.Duration {
	return time.Duration(s.SessionCleanupIntervalMs) * time.Millisecond
}

// IdleTimeout returns the shell idle expiry threshold as a duration.
func (s *Settings) IdleTimeout() time.Duration {
	return time.Duration(s.TmuxIdleTimeoutMs) * time.Millisecond
}

// CleanupInterval returns the cleanup service tick as a duration.
func (s *Settings) CleanupInterval() time.Duration {
	return time.Duration(s.TmuxCleanupInterval) * time.Millisecond
}
