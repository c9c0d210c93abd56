// Package config defines the daemon's persisted configuration and its
// defaults.
package config

// Mode selects which Sources/Sinks the orchestrator drives.
type Mode string

const (
	ModeEmail  Mode = "email"
	ModeCloud  Mode = "cloud"
	ModeHybrid Mode = "hybrid"
)

// EmailConfig holds IMAP/SMTP credentials. Password is stored encrypted on
// disk (EncryptedPassword) and decrypted into Password at load time; it is
// never serialized back out in plaintext (the field is tagged json:"-" and
// config_load.go's Save clears it before marshaling).
type EmailConfig struct {
	ImapHost          string `json:"imapHost"`
	ImapPort          int    `json:"imapPort"`
	SmtpHost          string `json:"smtpHost"`
	SmtpPort          int    `json:"smtpPort"`
	Address           string `json:"address"`
	EncryptedPassword string `json:"encryptedPassword,omitempty"`
	Password          string `json:"-"`
}

// CloudConfig holds the optional cloud control-plane credentials. Email and
// Password authenticate once against POST /auth to obtain DeviceKey; once
// issued, DeviceKey alone authenticates every subsequent call; the account
// credentials are used again only to re-register after the cloud answers a
// heartbeat with 401.
type CloudConfig struct {
	ApiBaseUrl        string `json:"apiBaseUrl"`
	Email             string `json:"email,omitempty"`
	EncryptedPassword string `json:"encryptedPassword,omitempty"`
	Password          string `json:"-"`
	DeviceKey         string `json:"deviceKey,omitempty"`
}

// SecurityConfig is the on-disk form of policy.Policy. Order of the slices
// is meaningful: allow-prefixes and deny-substrings are matched in list
// order, first match wins within each list, but deny as a whole always
// evaluates before allow.
type SecurityConfig struct {
	AllowedSenders        []string `json:"allowedSenders"`
	CommandAllowPrefixes  []string `json:"commandAllowPrefixes"`
	CommandDenySubstrings []string `json:"commandDenySubstrings"`
	MaxCommandLength      int      `json:"maxCommandLength,omitempty"`
}

// RetryConfig configures the cloud client's reportResult backoff.
type RetryConfig struct {
	MaxAttempts  int `json:"maxAttempts,omitempty"`
	BaseDelayMs  int `json:"baseDelayMs,omitempty"`
	MaxDelayMs   int `json:"maxDelayMs,omitempty"`
}

// DaemonConfig is the root configuration, persisted at
// <home>/.ccjk/daemon-config.json and read-only once loaded.
type DaemonConfig struct {
	Mode                 Mode            `json:"mode"`
	Email                EmailConfig     `json:"email"`
	Cloud                CloudConfig     `json:"cloud,omitempty"`
	Security             SecurityConfig  `json:"security"`
	ProjectPath          string          `json:"projectPath"`
	CheckIntervalSec     int             `json:"checkIntervalSec,omitempty"`
	TaskTimeoutSec       int             `json:"taskTimeoutSec,omitempty"`
	HeartbeatIntervalSec int             `json:"heartbeatIntervalSec,omitempty"`
	MaxConcurrentTasks   int             `json:"maxConcurrentTasks,omitempty"`
	ResultRetry          RetryConfig     `json:"resultRetry,omitempty"`
}

// Default returns a DaemonConfig with conservative out-of-the-box defaults.
func Default() *DaemonConfig {
	return &DaemonConfig{
		Mode: ModeEmail,
		Security: SecurityConfig{
			CommandAllowPrefixes: []string{
				"npm ", "git status", "pnpm ", "echo ",
			},
			CommandDenySubstrings: []string{
				"rm -rf", "sudo ", ":(){", "| sh", " curl ", "dd if=", "mkfs", "> /dev/",
			},
			MaxCommandLength: 4096,
		},
		CheckIntervalSec:     30,
		TaskTimeoutSec:       300,
		HeartbeatIntervalSec: 30,
		MaxConcurrentTasks:   1,
		ResultRetry: RetryConfig{
			MaxAttempts: 6,
			BaseDelayMs: 100,
			MaxDelayMs:  1600,
		},
	}
}

// EmailEnabled reports whether the orchestrator should run the email
// source/sink for this mode.
func (c *DaemonConfig) EmailEnabled() bool {
	return c.Mode == ModeEmail || c.Mode == ModeHybrid
}

// CloudEnabled reports whether the orchestrator should run the cloud
// client for this mode.
func (c *DaemonConfig) CloudEnabled() bool {
	return c.Mode == ModeCloud || c.Mode == ModeHybrid
}

// Validate rejects configurations that would break an invariant the
// orchestrator relies on before it starts any loop.
func (c *DaemonConfig) Validate() error {
	if c.MaxConcurrentTasks < 1 {
		return errConfig("maxConcurrentTasks must be >= 1, got %d", c.MaxConcurrentTasks)
	}
	if c.Mode != ModeEmail && c.Mode != ModeCloud && c.Mode != ModeHybrid {
		return errConfig("mode must be one of email|cloud|hybrid, got %q", c.Mode)
	}
	if c.CloudEnabled() && c.Cloud.ApiBaseUrl == "" {
		return errConfig("cloud.apiBaseUrl is required in mode %q", c.Mode)
	}
	if c.CloudEnabled() && c.Cloud.DeviceKey == "" && (c.Cloud.Email == "" || c.Cloud.Password == "") {
		return errConfig("cloud.email and cloud.password are required to register a device when no deviceKey is set")
	}
	if c.EmailEnabled() && (c.Email.ImapHost == "" || c.Email.SmtpHost == "" || c.Email.Address == "") {
		return errConfig("email.imapHost, smtpHost, and address are required in mode %q", c.Mode)
	}
	return nil
}
