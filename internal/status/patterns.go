package status

// Activity is the inferred semantic state of a session, decoupled from
// its lifecycle status.
type Activity string

const (
	Idle    Activity = "idle"
	Working Activity = "working"
	Waiting Activity = "waiting"
	Error   Activity = "error"
)

// Pattern is a registry entry: a named regex that forces an activity
// status when it matches recent output. Higher priority wins; ties
// resolve by insertion order.
type Pattern struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	Shell    string   `json:"shell" yaml:"shell"` // shell kind scope, or "all"
	Pattern  string   `json:"pattern" yaml:"pattern"`
	Status   Activity `json:"status" yaml:"status"`
	Priority int      `json:"priority" yaml:"priority"`
	Enabled  bool     `json:"enabled" yaml:"enabled"`
}

// DefaultPatterns is the pattern set baked into the binary. More
// specific prompts carry higher priority than generic ones so an SSH
// password prompt beats "anything ending in a colon".
func DefaultPatterns() []Pattern {
	return []Pattern{
		// SSH and auth prompts
		{ID: "pat_ssh_password", Name: "SSH password prompt", Shell: "all", Pattern: `(?i)password\s*:\s*$`, Status: Waiting, Priority: 900, Enabled: true},
		{ID: "pat_ssh_passphrase", Name: "SSH key passphrase prompt", Shell: "all", Pattern: `(?i)enter passphrase.*:\s*$`, Status: Waiting, Priority: 900, Enabled: true},
		{ID: "pat_ssh_hostkey", Name: "SSH host key confirmation", Shell: "all", Pattern: `\(yes/no(/\[fingerprint\])?\)\??\s*$`, Status: Waiting, Priority: 890, Enabled: true},
		{ID: "pat_ssh_mfa", Name: "MFA code prompt", Shell: "all", Pattern: `(?i)(verification|authentication|mfa|2fa) code\s*:?\s*$`, Status: Waiting, Priority: 880, Enabled: true},
		{ID: "pat_sudo_password", Name: "sudo password prompt", Shell: "all", Pattern: `(?i)\[sudo\] password for .+:\s*$`, Status: Waiting, Priority: 880, Enabled: true},

		// Claude Code markers
		{ID: "pat_claude_awaiting", Name: "Claude Code awaiting response", Shell: "all", Pattern: `(?i)awaiting (your )?response`, Status: Waiting, Priority: 820, Enabled: true},
		{ID: "pat_claude_thinking", Name: "Claude Code thinking", Shell: "all", Pattern: `(?i)(thinking|pondering|mulling|brewing)(…|\.\.\.)`, Status: Working, Priority: 810, Enabled: true},
		{ID: "pat_claude_spinner", Name: "Claude Code spinner", Shell: "all", Pattern: `[✶✻✽✳⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏] `, Status: Working, Priority: 800, Enabled: true},
		{ID: "pat_claude_done", Name: "Claude Code success", Shell: "all", Pattern: `(?i)^\s*(done|completed|finished)[.!]?\s*$`, Status: Idle, Priority: 780, Enabled: true},
		{ID: "pat_claude_question", Name: "Claude Code question", Shell: "all", Pattern: `\?\s*$`, Status: Waiting, Priority: 300, Enabled: true},

		// Editors and pagers
		{ID: "pat_vim_insert", Name: "vim insert mode", Shell: "all", Pattern: `-- INSERT --`, Status: Waiting, Priority: 600, Enabled: true},
		{ID: "pat_nano_help", Name: "nano help bar", Shell: "all", Pattern: `\^G\s*(Get\s*)?Help`, Status: Waiting, Priority: 600, Enabled: true},
		{ID: "pat_pager", Name: "pager prompt", Shell: "all", Pattern: `(\(END\)|--More--|lines \d+-\d+)\s*$`, Status: Waiting, Priority: 590, Enabled: true},

		// Error phrases
		{ID: "pat_npm_err", Name: "npm error", Shell: "all", Pattern: `npm ERR!`, Status: Error, Priority: 470, Enabled: true},
		{ID: "pat_rust_err", Name: "rust compile error", Shell: "all", Pattern: `error\[E\d+\]`, Status: Error, Priority: 470, Enabled: true},
		{ID: "pat_permission_denied", Name: "permission denied", Shell: "all", Pattern: `(?i)permission denied`, Status: Error, Priority: 460, Enabled: true},
		{ID: "pat_cmd_not_found", Name: "command not found", Shell: "all", Pattern: `(?i)command not found`, Status: Error, Priority: 460, Enabled: true},
		{ID: "pat_merge_conflict", Name: "git merge conflict", Shell: "all", Pattern: `(?i)(merge conflict|CONFLICT \()`, Status: Error, Priority: 460, Enabled: true},

		// Package and build tools
		{ID: "pat_npm_install", Name: "npm install", Shell: "all", Pattern: `(?i)\b(npm|yarn|pnpm) (install|ci|add|run)\b`, Status: Working, Priority: 400, Enabled: true},
		{ID: "pat_pip", Name: "pip install", Shell: "all", Pattern: `(Collecting |Installing collected packages)`, Status: Working, Priority: 400, Enabled: true},
		{ID: "pat_cargo", Name: "cargo build", Shell: "all", Pattern: `^\s*(Compiling|Downloading|Updating) `, Status: Working, Priority: 400, Enabled: true},
		{ID: "pat_gomod", Name: "go module download", Shell: "all", Pattern: `go: downloading `, Status: Working, Priority: 400, Enabled: true},

		// Shell prompts (low priority: most output ends up here)
		{ID: "pat_shell_prompt", Name: "shell prompt", Shell: "all", Pattern: "[$#%❯➜]\\s*$", Status: Idle, Priority: 200, Enabled: true},
		{ID: "pat_generic_colon", Name: "generic input prompt", Shell: "all", Pattern: `:\s*$`, Status: Waiting, Priority: 100, Enabled: true},
	}
}
