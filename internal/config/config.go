// Package config handles loading and managing recoverybot configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Microsoft identity platform defaults. The tenant segment is substituted
// when the endpoints are left empty in config.toml.
const (
	defaultTenant        = "common"
	authorizeURLTemplate = "https://login.microsoftonline.com/%s/oauth2/v2.0/authorize"
	tokenURLTemplate     = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
	DefaultGraphBaseURL  = "https://graph.microsoft.com/v1.0"
)

// Mailbox backends.
const (
	BackendGraph = "graph"
	BackendIMAP  = "imap"
)

// Duration is a time.Duration that decodes from strings such as "1500ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ProviderConfig holds the OAuth client registration.
type ProviderConfig struct {
	Name              string   `toml:"name"` // provider id stored with each credential
	ClientID          string   `toml:"client_id"`
	ClientSecret      string   `toml:"client_secret"`
	Tenant            string   `toml:"tenant"`
	TokenEndpoint     string   `toml:"token_endpoint"`
	AuthorizeEndpoint string   `toml:"authorize_endpoint"`
	RedirectURL       string   `toml:"redirect_url"`
	Scopes            []string `toml:"scopes"`
	UserIdentity      string   `toml:"user_identity"` // mailbox owner used by scheduled refresh and CLI defaults
}

// MailboxConfig controls how recent messages are read.
type MailboxConfig struct {
	Backend          string   `toml:"backend"` // "graph" or "imap"
	GraphBaseURL     string   `toml:"graph_base_url"`
	Count            int      `toml:"count"`
	SenderMarker     string   `toml:"sender_marker"`
	FreshnessMinutes int      `toml:"freshness_minutes"`
	Fields           []string `toml:"fields"`
	RateLimitQPS     float64  `toml:"rate_limit_qps"`
}

// IMAPConfig holds the alternative IMAP reader connection settings.
type IMAPConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	TLS      bool   `toml:"tls"`
	STARTTLS bool   `toml:"starttls"`
	Username string `toml:"username"`
	Mailbox  string `toml:"mailbox"`        // defaults to INBOX
	AuthMech string `toml:"auth_mechanism"` // "XOAUTH2" (default) or "OAUTHBEARER"
}

// RetryConfig holds the fixed retry schedule for mailbox reads.
type RetryConfig struct {
	Schedule []Duration `toml:"schedule"`
}

// TokensConfig holds token lifecycle thresholds.
type TokensConfig struct {
	RefreshWarningMinutes int    `toml:"refresh_warning_minutes"`
	RefreshSchedule       string `toml:"refresh_schedule"` // cron expression, empty disables
	StateTTLMinutes       int    `toml:"state_ttl_minutes"`
}

// CategoryConfig defines one classification category.
type CategoryConfig struct {
	Name    string `toml:"name"`
	Subject string `toml:"subject"` // case-insensitive substring
	Pattern string `toml:"pattern"` // regexp with exactly one capture group
}

// SheetConfig enables mirroring credentials into a workbook.
type SheetConfig struct {
	Enabled       bool   `toml:"enabled"`
	OwnerIdentity string `toml:"owner_identity"`
	DriveID       string `toml:"drive_id"`
	ItemID        string `toml:"item_id"`
	Worksheet     string `toml:"worksheet"`
	MaxRows       int    `toml:"max_rows"`
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	APIPort          int      `toml:"api_port"`
	BindAddr         string   `toml:"bind_addr"`
	APIKey           string   `toml:"api_key"`
	GateSecret       string   `toml:"gate_secret"`
	SessionSecret    string   `toml:"session_secret"`
	ArtifactKey      string   `toml:"artifact_key"`
	PortalTTLMinutes int      `toml:"portal_ttl_minutes"`
	CORSOrigins      []string `toml:"cors_origins"`
	RateLimitRPS     float64  `toml:"rate_limit_rps"`
	RateLimitBurst   int      `toml:"rate_limit_burst"`
}

// PortalEnabled reports whether the gate/portal handshake is configured.
func (s ServerConfig) PortalEnabled() bool {
	return s.GateSecret != "" && s.SessionSecret != "" && s.ArtifactKey != ""
}

// LogConfig selects the logger output.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir string `toml:"data_dir"`
}

// Config represents the recoverybot configuration.
type Config struct {
	Data       DataConfig       `toml:"data"`
	Provider   ProviderConfig   `toml:"provider"`
	Mailbox    MailboxConfig    `toml:"mailbox"`
	IMAP       IMAPConfig       `toml:"imap"`
	Retry      RetryConfig      `toml:"retry"`
	Tokens     TokensConfig     `toml:"tokens"`
	Categories []CategoryConfig `toml:"categories"`
	Sheet      SheetConfig      `toml:"sheet"`
	Server     ServerConfig     `toml:"server"`
	Log        LogConfig        `toml:"log"`

	// Computed paths (not from config file)
	HomeDir    string `toml:"-"`
	configPath string
}

// DefaultCategories returns the built-in category table.
func DefaultCategories() []CategoryConfig {
	return []CategoryConfig{
		{
			Name:    "signInCode",
			Subject: "código de inicio de sesión",
			Pattern: `(?i)c[oó]digo\D{0,40}?(\d{4,8})`,
		},
		{
			Name:    "temporarySignInLink",
			Subject: "código de acceso temporal",
			Pattern: `(https?://\S*travel/verify\S*)`,
		},
		{
			Name:    "confirmHomeUpdate",
			Subject: "actualizar tu hogar",
			Pattern: `(https?://\S*update-primary-location\S*)`,
		},
	}
}

// DefaultHome returns the default recoverybot home directory.
// Respects RECOVERYBOT_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("RECOVERYBOT_HOME"); h != "" {
		return expandPath(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".recoverybot"
	}
	return filepath.Join(home, ".recoverybot")
}

// NewDefault returns a configuration populated with defaults rooted at homeDir.
func NewDefault(homeDir string) *Config {
	return &Config{
		HomeDir: homeDir,
		Data:    DataConfig{DataDir: homeDir},
		Provider: ProviderConfig{
			Name:   "microsoft",
			Tenant: defaultTenant,
			Scopes: []string{"User.Read", "Mail.Read", "offline_access"},
		},
		Mailbox: MailboxConfig{
			Backend:          BackendGraph,
			GraphBaseURL:     DefaultGraphBaseURL,
			Count:            10,
			SenderMarker:     "netflix",
			FreshnessMinutes: 15,
			Fields:           []string{"subject", "from", "receivedDateTime", "body", "bodyPreview"},
			RateLimitQPS:     4,
		},
		Retry: RetryConfig{
			Schedule: []Duration{{time.Second}, {2 * time.Second}},
		},
		Tokens: TokensConfig{
			RefreshWarningMinutes: 30,
			RefreshSchedule:       "*/10 * * * *",
			StateTTLMinutes:       10,
		},
		Sheet: SheetConfig{
			Worksheet: "Sheet1",
			MaxRows:   200,
		},
		Server: ServerConfig{
			APIPort:          3035,
			BindAddr:         "127.0.0.1",
			PortalTTLMinutes: 60,
			RateLimitRPS:     5,
			RateLimitBurst:   10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the configuration from the specified file.
// If path is empty, uses <home>/config.toml. homeOverride, when set, takes
// precedence over RECOVERYBOT_HOME.
func Load(path, homeOverride string) (*Config, error) {
	homeDir := DefaultHome()
	if homeOverride != "" {
		homeDir = expandPath(homeOverride)
	}

	if path == "" {
		path = filepath.Join(homeDir, "config.toml")
	}
	path = expandPath(path)

	cfg := NewDefault(homeDir)
	cfg.configPath = path

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat config: %w", err)
	}

	if len(cfg.Categories) == 0 {
		cfg.Categories = DefaultCategories()
	}

	cfg.applyEnv()
	cfg.Data.DataDir = expandPath(cfg.Data.DataDir)
	cfg.Provider.fillEndpoints()

	return cfg, nil
}

// applyEnv overrides secrets from the environment.
func (c *Config) applyEnv() {
	overrides := []struct {
		env string
		dst *string
	}{
		{"RECOVERYBOT_CLIENT_ID", &c.Provider.ClientID},
		{"RECOVERYBOT_CLIENT_SECRET", &c.Provider.ClientSecret},
		{"RECOVERYBOT_API_KEY", &c.Server.APIKey},
		{"RECOVERYBOT_GATE_SECRET", &c.Server.GateSecret},
		{"RECOVERYBOT_SESSION_SECRET", &c.Server.SessionSecret},
		{"RECOVERYBOT_ARTIFACT_KEY", &c.Server.ArtifactKey},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
}

func (p *ProviderConfig) fillEndpoints() {
	tenant := p.Tenant
	if tenant == "" {
		tenant = defaultTenant
	}
	if p.AuthorizeEndpoint == "" {
		p.AuthorizeEndpoint = fmt.Sprintf(authorizeURLTemplate, tenant)
	}
	if p.TokenEndpoint == "" {
		p.TokenEndpoint = fmt.Sprintf(tokenURLTemplate, tenant)
	}
}

// Validate checks the settings the core pipeline depends on.
func (c *Config) Validate() error {
	var problems []string

	if c.Provider.ClientID == "" {
		problems = append(problems, "provider.client_id is required")
	}
	if c.Provider.Name == "" {
		problems = append(problems, "provider.name is required")
	}
	switch c.Mailbox.Backend {
	case BackendGraph:
	case BackendIMAP:
		if c.IMAP.Host == "" || c.IMAP.Username == "" {
			problems = append(problems, "imap.host and imap.username are required for the imap backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown mailbox.backend %q", c.Mailbox.Backend))
	}
	if c.Mailbox.Count <= 0 {
		problems = append(problems, "mailbox.count must be positive")
	}
	if c.Mailbox.FreshnessMinutes <= 0 {
		problems = append(problems, "mailbox.freshness_minutes must be positive")
	}
	if c.Tokens.RefreshWarningMinutes < 0 {
		problems = append(problems, "tokens.refresh_warning_minutes must not be negative")
	}
	if len(c.Retry.Schedule) == 0 {
		problems = append(problems, "retry.schedule must have at least one entry")
	}
	for i, d := range c.Retry.Schedule {
		if d.Duration < 0 {
			problems = append(problems, fmt.Sprintf("retry.schedule[%d] is negative", i))
		}
	}

	seen := make(map[string]bool, len(c.Categories))
	for i, cat := range c.Categories {
		if cat.Name == "" || cat.Subject == "" {
			problems = append(problems, fmt.Sprintf("categories[%d] needs name and subject", i))
			continue
		}
		if seen[cat.Name] {
			problems = append(problems, fmt.Sprintf("duplicate category %q", cat.Name))
		}
		seen[cat.Name] = true
		re, err := regexp.Compile(cat.Pattern)
		if err != nil {
			problems = append(problems, fmt.Sprintf("category %q: %v", cat.Name, err))
			continue
		}
		if re.NumSubexp() != 1 {
			problems = append(problems, fmt.Sprintf("category %q: pattern must have exactly one capture group", cat.Name))
		}
	}

	if c.Sheet.Enabled && (c.Sheet.DriveID == "" || c.Sheet.ItemID == "" || c.Sheet.OwnerIdentity == "") {
		problems = append(problems, "sheet.drive_id, sheet.item_id and sheet.owner_identity are required when the sheet mirror is enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}

// RetrySchedule returns the retry delays as plain durations.
func (c *Config) RetrySchedule() []time.Duration {
	out := make([]time.Duration, len(c.Retry.Schedule))
	for i, d := range c.Retry.Schedule {
		out[i] = d.Duration
	}
	return out
}

// RefreshWarning returns the warning window before expiry.
func (c *Config) RefreshWarning() time.Duration {
	return time.Duration(c.Tokens.RefreshWarningMinutes) * time.Minute
}

// Freshness returns the maximum accepted message age.
func (c *Config) Freshness() time.Duration {
	return time.Duration(c.Mailbox.FreshnessMinutes) * time.Minute
}

// StateTTL returns how long an OAuth state nonce stays valid.
func (c *Config) StateTTL() time.Duration {
	if c.Tokens.StateTTLMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Tokens.StateTTLMinutes) * time.Minute
}

// DatabasePath returns the path to the SQLite database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Data.DataDir, "recoverybot.db")
}

// ConfigFilePath returns the path config.toml was (or would be) loaded from.
func (c *Config) ConfigFilePath() string {
	if c.configPath != "" {
		return c.configPath
	}
	return filepath.Join(c.HomeDir, "config.toml")
}

// EnsureHomeDir creates the home and data directories when missing.
func (c *Config) EnsureHomeDir() error {
	for _, dir := range []string{c.HomeDir, c.Data.DataDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return nil
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
