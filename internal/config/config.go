package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for gtdbot.
type Config struct {
	General       GeneralConfig       `json:"general"`
	Server        ServerConfig        `json:"server"`
	Gateway       GatewayConfig       `json:"gateway"`
	LLM           LLMConfig           `json:"llm"`
	Transcription TranscriptionConfig `json:"transcription"`
	Store         StoreConfig         `json:"store"`
	Pipeline      PipelineConfig      `json:"pipeline"`
	Maintenance   MaintenanceConfig   `json:"maintenance"`
	Metrics       MetricsConfig       `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel  string `json:"logLevel"`
	LogFormat string `json:"logFormat"`         // "text" | "json"
	LogFile   string `json:"logFile,omitempty"` // optional, tee'd with stderr
	Timezone  string `json:"timezone"`          // IANA zone used to resolve relative dates
	Language  string `json:"language"`          // ISO-639-1, spoken language of voice notes
}

type ServerConfig struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	WebhookPath string `json:"webhookPath"`
	APIKey      string `json:"apiKey"` // shared secret the gateway sends on every webhook call
}

type GatewayConfig struct {
	Kind     string         `json:"kind"` // "evolution"
	BaseURL  string         `json:"baseUrl"`
	APIKey   string         `json:"apiKey"`
	Instance string         `json:"instance"`
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled     bool   `json:"enabled"`
	Token       string `json:"token,omitempty"`
	WebhookPath string `json:"webhookPath"`
	SecretToken string `json:"secretToken,omitempty"`
}

type LLMConfig struct {
	DefaultProvider string                    `json:"defaultProvider"`
	FailoverChain   []string                  `json:"failoverChain,omitempty"`
	Providers       map[string]ProviderConfig `json:"providers"`
	TimeoutSeconds  int                       `json:"timeoutSeconds"`
	Temperature     float64                   `json:"temperature"`
}

type ProviderConfig struct {
	Enabled         bool   `json:"enabled"`
	APIBase         string `json:"apiBase,omitempty"`
	APIKey          string `json:"apiKey,omitempty"`
	Model           string `json:"model,omitempty"`
	RateLimitPerMin int    `json:"rateLimitPerMinute,omitempty"`
}

type TranscriptionConfig struct {
	Enabled        bool   `json:"enabled"`
	APIBase        string `json:"apiBase,omitempty"`
	APIKey         string `json:"apiKey,omitempty"`
	Model          string `json:"model"`
	Language       string `json:"language,omitempty"` // defaults to general.language
	TimeoutSeconds int    `json:"timeoutSeconds"`
	MaxBytes       int64  `json:"maxBytes"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

type PipelineConfig struct {
	FreshnessWindowSeconds int  `json:"freshnessWindowSeconds"`
	HistoryWindow          int  `json:"historyWindow"` // turns shown to the classifier
	HistoryRetain          int  `json:"historyRetain"` // turns kept per conversation
	SerializePerUser       bool `json:"serializePerUser"`
	LinkCodeTTLMinutes     int  `json:"linkCodeTTLMinutes"`
	TimeoutSeconds         int  `json:"timeoutSeconds"` // deadline for one event
}

type MaintenanceConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"` // robfig/cron spec, e.g. "@every 10m"
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// FreshnessWindow is the maximum accepted event age.
func (p PipelineConfig) FreshnessWindow() time.Duration {
	return time.Duration(p.FreshnessWindowSeconds) * time.Second
}

// LinkCodeTTL is how long a link code stays valid.
func (p PipelineConfig) LinkCodeTTL() time.Duration {
	return time.Duration(p.LinkCodeTTLMinutes) * time.Minute
}

// Location loads the configured timezone, falling back to UTC.
func (g GeneralConfig) Location() *time.Location {
	loc, err := time.LoadLocation(g.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DefaultConfigDir returns the default config directory (~/.gtdbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gtdbot"
	}
	return filepath.Join(home, ".gtdbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a JSON or YAML config file (by extension), expands environment
// references, overlays it on Defaults() and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	data = []byte(ExpandEnvVars(string(data)))

	if isYAML(path) {
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// yamlToJSON re-encodes a YAML document as JSON so both formats share the
// struct's json tags.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return json.Marshal(doc)
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value and
// ${VAR:-default} with "default" when VAR is unset or empty. Unset variables
// without a default are left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Save writes cfg as JSON or YAML depending on the path extension.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if isYAML(path) {
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		if data, err = yaml.Marshal(doc); err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has usable values and reports every problem
// at once.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}
	if _, err := time.LoadLocation(cfg.General.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("general.timezone %q is not a known IANA zone", cfg.General.Timezone))
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if !strings.HasPrefix(cfg.Server.WebhookPath, "/") {
		errs = append(errs, "server.webhookPath must start with /")
	}
	if msg := secretProblem(cfg.Server.APIKey); msg != "" {
		errs = append(errs, "server.apiKey "+msg)
	}

	switch cfg.Gateway.Kind {
	case "evolution":
	default:
		errs = append(errs, "gateway.kind must be: evolution")
	}
	if cfg.Gateway.Telegram.Enabled {
		if cfg.Gateway.Telegram.Token == "" {
			errs = append(errs, "gateway.telegram.token is required when telegram is enabled")
		}
		if msg := secretProblem(cfg.Gateway.Telegram.SecretToken); msg != "" {
			errs = append(errs, "gateway.telegram.secretToken "+msg+" when telegram is enabled")
		}
	}

	if cfg.LLM.TimeoutSeconds < 1 || cfg.LLM.TimeoutSeconds > 300 {
		errs = append(errs, "llm.timeoutSeconds must be between 1 and 300")
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		errs = append(errs, "llm.temperature must be between 0 and 2")
	}
	if cfg.LLM.DefaultProvider != "" {
		if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; !ok {
			errs = append(errs, fmt.Sprintf("llm.defaultProvider references unknown provider: %s", cfg.LLM.DefaultProvider))
		}
	}
	for _, name := range cfg.LLM.FailoverChain {
		if _, ok := cfg.LLM.Providers[name]; !ok {
			errs = append(errs, fmt.Sprintf("llm.failoverChain references unknown provider: %s", name))
		}
	}
	for name, pc := range cfg.LLM.Providers {
		if pc.Enabled && pc.Model == "" {
			errs = append(errs, fmt.Sprintf("llm.providers.%s: model is required", name))
		}
	}

	if cfg.Transcription.TimeoutSeconds < 1 {
		errs = append(errs, "transcription.timeoutSeconds must be >= 1")
	}
	if cfg.Transcription.MaxBytes < 1024 {
		errs = append(errs, "transcription.maxBytes must be >= 1024")
	}

	if cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath is required")
	}

	if cfg.Pipeline.FreshnessWindowSeconds < 1 {
		errs = append(errs, "pipeline.freshnessWindowSeconds must be >= 1")
	}
	if cfg.Pipeline.HistoryWindow < 1 || cfg.Pipeline.HistoryWindow > 20 {
		errs = append(errs, "pipeline.historyWindow must be between 1 and 20")
	}
	if cfg.Pipeline.HistoryRetain < cfg.Pipeline.HistoryWindow {
		errs = append(errs, "pipeline.historyRetain must be >= pipeline.historyWindow")
	}
	if cfg.Pipeline.LinkCodeTTLMinutes < 1 {
		errs = append(errs, "pipeline.linkCodeTTLMinutes must be >= 1")
	}
	if cfg.Pipeline.TimeoutSeconds < 1 {
		errs = append(errs, "pipeline.timeoutSeconds must be >= 1")
	}

	if cfg.Maintenance.Enabled && cfg.Maintenance.Schedule == "" {
		errs = append(errs, "maintenance.schedule is required when maintenance is enabled")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, "metrics.path must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// secretProblem reports why a shared secret is unusable, or "" when it is
// fine. A leftover ${VAR} means the environment variable was never set.
func secretProblem(v string) string {
	switch {
	case v == "":
		return "is required"
	case envVarPattern.MatchString(v):
		return fmt.Sprintf("references an unset environment variable (%s)", v)
	}
	return ""
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
