package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL    = "https://api.anthropic.com/v1"
	DefaultAPIVersion = "2023-06-01"
	DefaultModel      = "claude-sonnet-4-5-20250929"

	CacheTTL5Min  = "5min"
	CacheTTL1Hour = "1hour"

	ThinkingVisible = "visible"
	ThinkingHidden  = "hidden"

	envPrefix = "CLAUDEBRIDGE_"
)

// Config is the full process configuration: HTTP server settings, the
// request options applied to every upstream call, the default session
// preferences and telemetry settings.
type Config struct {
	Server      ServerConfig    `yaml:"server"`
	Options     Options         `yaml:"options"`
	Preferences Preferences     `yaml:"preferences"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds the OpenAI-compatible HTTP surface configuration.
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Verbose     bool   `yaml:"verbose"`
	Debug       bool   `yaml:"debug"`
	AccessToken string `yaml:"access_token"`
	LogFormat   string `yaml:"log_format"`
}

// Span exporters.
const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
)

// TelemetryConfig controls the OpenTelemetry tracer provider. Tracing is off
// unless Disable is cleared; the OTLP exporter then needs
// OTEL_EXPORTER_OTLP_ENDPOINT.
type TelemetryConfig struct {
	Disable     bool   `yaml:"disable"`
	Exporter    string `yaml:"exporter"`
	ServiceName string `yaml:"service_name"`
	Environment string `yaml:"environment"`
}

// Options is the admin-level request configuration. It is read-only once a
// request starts and may be shared across concurrent requests.
type Options struct {
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	APIVersion string        `yaml:"api_version"`
	Model      string        `yaml:"model"`
	OAuth      OAuthSettings `yaml:"oauth"`

	DefaultMaxTokens   int           `yaml:"default_max_tokens"`
	DefaultTemperature float64       `yaml:"default_temperature"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`

	EnableExtendedThinking bool `yaml:"enable_extended_thinking"`
	ThinkingBudgetTokens   int  `yaml:"thinking_budget_tokens"`

	EnablePromptCaching bool   `yaml:"enable_prompt_caching"`
	CacheTTL            string `yaml:"cache_ttl"`
	CacheSystemPrompt   bool   `yaml:"cache_system_prompt"`
	CacheUserMessages   bool   `yaml:"cache_user_messages"`

	EnableWebSearch          bool     `yaml:"enable_web_search"`
	WebSearchMaxUses         int      `yaml:"web_search_max_uses"`
	WebSearchDomainAllowlist []string `yaml:"web_search_domain_allowlist"`
	WebSearchDomainBlocklist []string `yaml:"web_search_domain_blocklist"`

	EnableCodeExecution   bool     `yaml:"enable_code_execution"`
	AllowRawCodeExecution bool     `yaml:"allow_raw_code_execution"`
	EnableSkillXLSX       bool     `yaml:"enable_skill_xlsx"`
	EnableSkillPPTX       bool     `yaml:"enable_skill_pptx"`
	EnableSkillDOCX       bool     `yaml:"enable_skill_docx"`
	EnableSkillPDF        bool     `yaml:"enable_skill_pdf"`
	CustomSkillIDs        []string `yaml:"custom_skill_ids"`

	ShowThinkingProcess  bool `yaml:"show_thinking_process"`
	ShowWebSearchDetails bool `yaml:"show_web_search_details"`
	ShowCitations        bool `yaml:"show_citations"`
	ShowTokenUsage       bool `yaml:"show_token_usage"`
	ShowProcessingStatus bool `yaml:"show_processing_status"`

	DeduplicateCitations bool `yaml:"deduplicate_citations"`
	WarnOnBudgetClamp    bool `yaml:"warn_on_budget_clamp"`

	LogLevel string `yaml:"log_level"`
}

// OAuthSettings configures bearer-token authentication as an alternative to
// the API key. A refresh token together with a token URL enables refresh.
type OAuthSettings struct {
	AccessToken  string `yaml:"access_token"`
	RefreshToken string `yaml:"refresh_token"`
	TokenURL     string `yaml:"token_url"`
	ClientID     string `yaml:"client_id"`
}

// Preferences are the per-caller settings layered over Options.
type Preferences struct {
	ThinkingDisplay     string `yaml:"thinking_display"`
	EnableWebSearch     bool   `yaml:"enable_web_search"`
	EnableCodeExecution bool   `yaml:"enable_code_execution"`
}

// DefaultOptions returns the request options with their stock values.
func DefaultOptions() Options {
	return Options{
		BaseURL:                DefaultBaseURL,
		APIVersion:             DefaultAPIVersion,
		Model:                  DefaultModel,
		DefaultMaxTokens:       8192,
		DefaultTemperature:     1.0,
		RequestTimeout:         300 * time.Second,
		ConnectTimeout:         30 * time.Second,
		EnableExtendedThinking: true,
		ThinkingBudgetTokens:   10000,
		EnablePromptCaching:    true,
		CacheTTL:               CacheTTL5Min,
		CacheSystemPrompt:      true,
		CacheUserMessages:      true,
		EnableWebSearch:        true,
		WebSearchMaxUses:       5,
		AllowRawCodeExecution:  true,
		EnableSkillXLSX:        true,
		EnableSkillPPTX:        true,
		EnableSkillDOCX:        true,
		EnableSkillPDF:         true,
		ShowThinkingProcess:    true,
		ShowWebSearchDetails:   true,
		ShowCitations:          true,
		ShowTokenUsage:         true,
		ShowProcessingStatus:   true,
		LogLevel:               "info",
	}
}

// DefaultPreferences returns the session preferences used when a caller
// supplies none.
func DefaultPreferences() Preferences {
	return Preferences{
		ThinkingDisplay: ThinkingVisible,
		EnableWebSearch: true,
	}
}

// Default returns a complete configuration with stock values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "127.0.0.1",
			Port:      8000,
			LogFormat: "text",
		},
		Options:     DefaultOptions(),
		Preferences: DefaultPreferences(),
		Telemetry: TelemetryConfig{
			Disable:     true,
			Exporter:    ExporterOTLP,
			ServiceName: "claudebridge",
		},
	}
}

// Load builds a configuration from defaults, the optional YAML file at path
// and CLAUDEBRIDGE_* environment variables, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// LoadFile overlays the YAML document at path onto c. Keys absent from the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// DefaultFromEnv returns defaults with environment overrides applied.
func DefaultFromEnv() *Config {
	cfg := Default()
	cfg.ApplyEnv()
	return cfg
}

// ApplyEnv overlays CLAUDEBRIDGE_* environment variables onto c.
func (c *Config) ApplyEnv() {
	s := &c.Server
	s.Host = envOrDefault("HOST", s.Host)
	s.Port = envInt("PORT", s.Port)
	s.Verbose = envBoolOr("VERBOSE", s.Verbose)
	s.Debug = envBoolOr("DEBUG", s.Debug)
	s.AccessToken = envOrDefault("ACCESS_TOKEN", s.AccessToken)
	s.LogFormat = envOrDefault("LOG_FORMAT", s.LogFormat)

	t := &c.Telemetry
	t.Disable = envBoolOr("TELEMETRY_DISABLE", t.Disable)
	t.Exporter = strings.ToLower(envOrDefault("TELEMETRY_EXPORTER", t.Exporter))
	t.ServiceName = envOrDefault("TELEMETRY_SERVICE_NAME", t.ServiceName)
	t.Environment = envOrDefault("TELEMETRY_ENVIRONMENT", t.Environment)

	p := &c.Preferences
	p.ThinkingDisplay = strings.ToLower(envOrDefault("THINKING_DISPLAY", p.ThinkingDisplay))
	p.EnableWebSearch = envBoolOr("MY_WEB_SEARCH", p.EnableWebSearch)
	p.EnableCodeExecution = envBoolOr("MY_CODE_EXECUTION", p.EnableCodeExecution)

	o := &c.Options
	o.APIKey = envOrDefault("API_KEY", o.APIKey)
	if o.APIKey == "" {
		o.APIKey = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	}
	o.BaseURL = envOrDefault("BASE_URL", o.BaseURL)
	o.APIVersion = envOrDefault("API_VERSION", o.APIVersion)
	o.Model = envOrDefault("MODEL", o.Model)
	o.OAuth.AccessToken = envOrDefault("OAUTH_ACCESS_TOKEN", o.OAuth.AccessToken)
	o.OAuth.RefreshToken = envOrDefault("OAUTH_REFRESH_TOKEN", o.OAuth.RefreshToken)
	o.OAuth.TokenURL = envOrDefault("OAUTH_TOKEN_URL", o.OAuth.TokenURL)
	o.OAuth.ClientID = envOrDefault("OAUTH_CLIENT_ID", o.OAuth.ClientID)

	o.DefaultMaxTokens = envInt("DEFAULT_MAX_TOKENS", o.DefaultMaxTokens)
	o.DefaultTemperature = envFloat("DEFAULT_TEMPERATURE", o.DefaultTemperature)
	o.RequestTimeout = envSeconds("REQUEST_TIMEOUT", o.RequestTimeout)
	o.ConnectTimeout = envSeconds("CONNECT_TIMEOUT", o.ConnectTimeout)

	o.EnableExtendedThinking = envBoolOr("ENABLE_EXTENDED_THINKING", o.EnableExtendedThinking)
	o.ThinkingBudgetTokens = envInt("THINKING_BUDGET_TOKENS", o.ThinkingBudgetTokens)

	o.EnablePromptCaching = envBoolOr("ENABLE_PROMPT_CACHING", o.EnablePromptCaching)
	o.CacheTTL = strings.ToLower(envOrDefault("CACHE_TTL", o.CacheTTL))
	o.CacheSystemPrompt = envBoolOr("CACHE_SYSTEM_PROMPT", o.CacheSystemPrompt)
	o.CacheUserMessages = envBoolOr("CACHE_USER_MESSAGES", o.CacheUserMessages)

	o.EnableWebSearch = envBoolOr("ENABLE_WEB_SEARCH", o.EnableWebSearch)
	o.WebSearchMaxUses = envInt("WEB_SEARCH_MAX_USES", o.WebSearchMaxUses)
	o.WebSearchDomainAllowlist = envList("WEB_SEARCH_DOMAIN_ALLOWLIST", o.WebSearchDomainAllowlist)
	o.WebSearchDomainBlocklist = envList("WEB_SEARCH_DOMAIN_BLOCKLIST", o.WebSearchDomainBlocklist)

	o.EnableCodeExecution = envBoolOr("ENABLE_CODE_EXECUTION", o.EnableCodeExecution)
	o.AllowRawCodeExecution = envBoolOr("ALLOW_RAW_CODE_EXECUTION", o.AllowRawCodeExecution)
	o.EnableSkillXLSX = envBoolOr("ENABLE_SKILL_XLSX", o.EnableSkillXLSX)
	o.EnableSkillPPTX = envBoolOr("ENABLE_SKILL_PPTX", o.EnableSkillPPTX)
	o.EnableSkillDOCX = envBoolOr("ENABLE_SKILL_DOCX", o.EnableSkillDOCX)
	o.EnableSkillPDF = envBoolOr("ENABLE_SKILL_PDF", o.EnableSkillPDF)
	o.CustomSkillIDs = envList("CUSTOM_SKILL_IDS", o.CustomSkillIDs)

	o.ShowThinkingProcess = envBoolOr("SHOW_THINKING_PROCESS", o.ShowThinkingProcess)
	o.ShowWebSearchDetails = envBoolOr("SHOW_WEB_SEARCH_DETAILS", o.ShowWebSearchDetails)
	o.ShowCitations = envBoolOr("SHOW_CITATIONS", o.ShowCitations)
	o.ShowTokenUsage = envBoolOr("SHOW_TOKEN_USAGE", o.ShowTokenUsage)
	o.ShowProcessingStatus = envBoolOr("SHOW_PROCESSING_STATUS", o.ShowProcessingStatus)

	o.DeduplicateCitations = envBoolOr("DEDUPLICATE_CITATIONS", o.DeduplicateCitations)
	o.WarnOnBudgetClamp = envBoolOr("WARN_ON_BUDGET_CLAMP", o.WarnOnBudgetClamp)
	o.LogLevel = strings.ToLower(envOrDefault("LOG_LEVEL", o.LogLevel))
}

// Validate rejects contradictory option combinations. It never performs I/O.
func (o *Options) Validate() error {
	if len(cleanList(o.WebSearchDomainAllowlist)) > 0 && len(cleanList(o.WebSearchDomainBlocklist)) > 0 {
		return &ConfigurationError{Field: "web_search_domains", Err: ErrConflictingDomainFilters}
	}
	switch o.CacheTTL {
	case "", CacheTTL5Min, CacheTTL1Hour:
	default:
		return &ConfigurationError{Field: "cache_ttl", Err: fmt.Errorf("%w: %q", ErrInvalidCacheTTL, o.CacheTTL)}
	}
	if o.WebSearchMaxUses < 0 {
		return &ConfigurationError{Field: "web_search_max_uses", Err: fmt.Errorf("must not be negative, got %d", o.WebSearchMaxUses)}
	}
	return nil
}

// RequireCredentials reports a ConfigurationError when neither an API key
// nor an OAuth token is configured.
func (o *Options) RequireCredentials() error {
	if strings.TrimSpace(o.APIKey) != "" {
		return nil
	}
	if strings.TrimSpace(o.OAuth.AccessToken) != "" || strings.TrimSpace(o.OAuth.RefreshToken) != "" {
		return nil
	}
	return &ConfigurationError{Field: "api_key", Err: ErrMissingCredentials}
}

// AllowedDomains returns the trimmed, non-empty allow-list entries.
func (o *Options) AllowedDomains() []string { return cleanList(o.WebSearchDomainAllowlist) }

// BlockedDomains returns the trimmed, non-empty block-list entries.
func (o *Options) BlockedDomains() []string { return cleanList(o.WebSearchDomainBlocklist) }

// SkillIDs returns the custom skill ids, trimmed, blanks removed.
func (o *Options) SkillIDs() []string { return cleanList(o.CustomSkillIDs) }

// SlogLevel maps LogLevel onto a slog level. Unknown values mean info.
func (o *Options) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(o.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "critical":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// ShowThinking reports whether reasoning and web-search sections should be
// rendered for this caller.
func (p Preferences) ShowThinking() bool {
	return !strings.EqualFold(strings.TrimSpace(p.ThinkingDisplay), ThinkingHidden)
}

// SplitList splits a comma-separated value into trimmed, non-empty entries.
func SplitList(raw string) []string {
	return cleanList(strings.Split(raw, ","))
}

func cleanList(in []string) []string {
	var out []string
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func envOrDefault(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(envPrefix + key)); v != "" {
		return v
	}
	return defaultVal
}

func envBoolOr(key string, defaultVal bool) bool {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return defaultVal
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	slog.Warn("config.env.invalid_bool", "key", envPrefix+key, "value", v)
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config.env.invalid_int", "key", envPrefix+key, "value", v)
		return defaultVal
	}
	return n
}

func envFloat(key string, defaultVal float64) float64 {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("config.env.invalid_float", "key", envPrefix+key, "value", v)
		return defaultVal
	}
	return f
}

// envSeconds accepts either a bare number of seconds or a Go duration.
func envSeconds(key string, defaultVal time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	if v == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config.env.invalid_duration", "key", envPrefix+key, "value", v)
		return defaultVal
	}
	return d
}

func envList(key string, defaultVal []string) []string {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return defaultVal
	}
	return SplitList(v)
}
