// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Oracle      OracleConfig      `mapstructure:"oracle" yaml:"oracle"`
	Guard       GuardConfig       `mapstructure:"guard" yaml:"guard"`
	Enforcement EnforcementConfig `mapstructure:"enforcement" yaml:"enforcement"`
	Pages       PagesConfig       `mapstructure:"pages" yaml:"pages"`
	Audit       AuditConfig       `mapstructure:"audit" yaml:"audit"`
	Profile     ProfileConfig     `mapstructure:"profile" yaml:"profile"`
	Proxy       ProxyConfig       `mapstructure:"proxy" yaml:"proxy"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the supervised browser instance.
// The watcher launches a visible browser; headless mode exists for tests
// and for running the watchdog against scripted sessions.
type BrowserConfig struct {
	Headless        bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath        string        `mapstructure:"exec_path" yaml:"exec_path"`
	UserDataDir     string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args            []string      `mapstructure:"args" yaml:"args"`
	StartupTimeout  time.Duration `mapstructure:"startup_timeout" yaml:"startup_timeout"`
}

// OracleConfig describes the two-stage classification service.
type OracleConfig struct {
	FastURL      string        `mapstructure:"fast_url" yaml:"fast_url"`
	SecondaryURL string        `mapstructure:"secondary_url" yaml:"secondary_url"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RateLimit    float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	MinLength    int           `mapstructure:"min_length" yaml:"min_length"`
	LLM          LLMConfig     `mapstructure:"llm" yaml:"llm"`
}

// LLMConfig enables a direct model call as the secondary oracle stage,
// replacing the secondary HTTP endpoint when configured.
type LLMConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Model   string `mapstructure:"model" yaml:"model"`
	APIKey  string `mapstructure:"api_key" yaml:"-"`
}

// GuardConfig tunes the in-page verdict pipeline and the navigation guard.
type GuardConfig struct {
	DebounceWindow time.Duration `mapstructure:"debounce_window" yaml:"debounce_window"`
	SendWords      []string      `mapstructure:"send_words" yaml:"send_words"`
	QueryParams    []string      `mapstructure:"query_params" yaml:"query_params"`
}

// EnforcementConfig selects which enforcement layers fire on a BLOCKED verdict.
type EnforcementConfig struct {
	DisableControls bool          `mapstructure:"disable_controls" yaml:"disable_controls"`
	ScrubField      bool          `mapstructure:"scrub_field" yaml:"scrub_field"`
	BroadScrub      bool          `mapstructure:"broad_scrub" yaml:"broad_scrub"`
	Redirect        bool          `mapstructure:"redirect" yaml:"redirect"`
	SettleDelay     time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	DraftWords      []string      `mapstructure:"draft_words" yaml:"draft_words"`
}

// PagesConfig configures the local server hosting the interdiction and
// confirmation pages.
type PagesConfig struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// AuditConfig configures where blocked attempts are reported.
type AuditConfig struct {
	Endpoint  string         `mapstructure:"endpoint" yaml:"endpoint"`
	SpoolFile string         `mapstructure:"spool_file" yaml:"spool_file"`
	Timeout   time.Duration  `mapstructure:"timeout" yaml:"timeout"`
	Postgres  PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// PostgresConfig holds the optional database sink for the household dashboard.
type PostgresConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
}

// ProfileConfig locates the durable supervised-profile record.
type ProfileConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// ProxyConfig enables the network-tier navigation guard for browsers the
// watcher cannot attach to.
type ProxyConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// guardianDir resolves the application state directory under the user's home.
func guardianDir() string {
	home, err := homedir.Dir()
	if err != nil {
		return ".guardian"
	}
	return filepath.Join(home, ".guardian")
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	dir := guardianDir()

	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "guardian-cli")
	v.SetDefault("logger.log_file", filepath.Join(dir, "guardian.log"))
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.startup_timeout", "30s")

	// -- Oracle --
	v.SetDefault("oracle.fast_url", "http://127.0.0.1:8000/check-sentence/")
	v.SetDefault("oracle.secondary_url", "http://127.0.0.1:8000/check/llm/")
	v.SetDefault("oracle.timeout", "10s")
	v.SetDefault("oracle.rate_limit", 5.0)
	v.SetDefault("oracle.min_length", 3)
	v.SetDefault("oracle.llm.enabled", false)
	v.SetDefault("oracle.llm.model", "gemini-2.5-flash")

	// -- Guard --
	v.SetDefault("guard.debounce_window", "500ms")
	v.SetDefault("guard.send_words", []string{
		"send", "post", "reply", "comment", "share", "save", "tweet",
	})
	v.SetDefault("guard.query_params", []string{"q", "search_query", "p"})

	// -- Enforcement --
	v.SetDefault("enforcement.disable_controls", true)
	v.SetDefault("enforcement.scrub_field", true)
	v.SetDefault("enforcement.broad_scrub", false)
	v.SetDefault("enforcement.redirect", true)
	v.SetDefault("enforcement.settle_delay", "150ms")
	v.SetDefault("enforcement.draft_words", []string{
		"draft", "compose", "pending", "message", "conversation", "chat", "input", "text",
	})

	// -- Pages --
	v.SetDefault("pages.listen_addr", "127.0.0.1:7877")

	// -- Audit --
	v.SetDefault("audit.endpoint", "")
	v.SetDefault("audit.spool_file", filepath.Join(dir, "audit.spool"))
	v.SetDefault("audit.timeout", "10s")
	v.SetDefault("audit.postgres.enabled", false)

	// -- Profile --
	v.SetDefault("profile.path", filepath.Join(dir, "profile.json"))

	// -- Proxy --
	v.SetDefault("proxy.enabled", false)
	v.SetDefault("proxy.listen_addr", "127.0.0.1:7878")
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("oracle.llm.api_key", "GUARDIAN_LLM_API_KEY")
	v.BindEnv("audit.postgres.url", "GUARDIAN_AUDIT_PG_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Oracle.FastURL == "" {
		return fmt.Errorf("oracle.fast_url is a required configuration field")
	}
	if c.Oracle.MinLength < 1 {
		return fmt.Errorf("oracle.min_length must be a positive integer")
	}
	if c.Guard.DebounceWindow <= 0 {
		return fmt.Errorf("guard.debounce_window must be a positive duration")
	}
	if len(c.Guard.QueryParams) == 0 {
		return fmt.Errorf("guard.query_params must name at least one parameter")
	}
	if c.Pages.ListenAddr == "" {
		return fmt.Errorf("pages.listen_addr is a required configuration field")
	}
	if c.Audit.Postgres.Enabled && c.Audit.Postgres.URL == "" {
		return fmt.Errorf("audit.postgres.url is required when the postgres sink is enabled")
	}
	if c.Oracle.LLM.Enabled && c.Oracle.LLM.APIKey == "" {
		return fmt.Errorf("LLM stage enabled but no API key found. Ensure GUARDIAN_LLM_API_KEY is set")
	}
	return nil
}
