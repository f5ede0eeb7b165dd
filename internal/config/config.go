package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for ArogyaBot.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Store     StoreConfig     `json:"store"`
	Session   SessionConfig   `json:"session"`
	Safety    SafetyConfig    `json:"safety"`
	Provider  ProviderConfig  `json:"provider"`
	Uploads   UploadsConfig   `json:"uploads"`
	Knowledge KnowledgeConfig `json:"knowledge"`
	Channels  ChannelsConfig  `json:"channels"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel                   string `json:"logLevel"`
	LogFile                    string `json:"logFile,omitempty"` // optional log file path
	MaxConcurrentMessages      int    `json:"maxConcurrentMessages"`
	CollaboratorTimeoutSeconds int    `json:"collaboratorTimeoutSeconds"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

// SessionConfig tunes the per-identity session registry.
type SessionConfig struct {
	IdleMinutes   int    `json:"idleMinutes"`
	Backend       string `json:"backend"` // "memory" | "redis"
	RedisAddr     string `json:"redisAddr,omitempty"`
	RedisPassword string `json:"redisPassword,omitempty"`
	RedisDB       int    `json:"redisDB,omitempty"`
}

// SafetyConfig points the rule engine at an optional rule-table override.
type SafetyConfig struct {
	RulesFile string `json:"rulesFile,omitempty"` // YAML; built-in tables when empty
}

// ProviderConfig configures the OpenAI-compatible collaborator endpoint
// used for generation, translation, and vision.
type ProviderConfig struct {
	APIBase     string  `json:"apiBase"`
	APIKey      string  `json:"apiKey,omitempty"`
	Model       string  `json:"model"`
	VisionModel string  `json:"visionModel,omitempty"`
	MaxTokens   int     `json:"maxTokens"`
	Temperature float64 `json:"temperature"`
}

type UploadsConfig struct {
	Dir               string   `json:"dir"`
	MaxFileSizeBytes  int64    `json:"maxFileSizeBytes"`
	AllowedExtensions []string `json:"allowedExtensions"`
}

// KnowledgeConfig configures document chunking and retrieval.
type KnowledgeConfig struct {
	ChunkSize    int `json:"chunkSize"`    // words per chunk
	ChunkOverlap int `json:"chunkOverlap"` // overlapping words
	SearchTopK   int `json:"searchTopK"`
}

type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Telegram TelegramConfig `json:"telegram"`
	CLI      CLIConfig      `json:"cli"`
}

// WhatsAppConfig configures the Twilio-backed WhatsApp webhook channel.
type WhatsAppConfig struct {
	Enabled           bool   `json:"enabled"`
	AccountSID        string `json:"accountSid,omitempty"`
	AuthToken         string `json:"authToken,omitempty"`
	FromNumber        string `json:"fromNumber,omitempty"`
	WebhookPath       string `json:"webhookPath,omitempty"`
	Host              string `json:"host"`
	Port              int    `json:"port"`
	ValidateSignature bool   `json:"validateSignature"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	// Fallback: array of mixed types
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.arogyabot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".arogyabot"
	}
	return filepath.Join(home, ".arogyabot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.Uploads.Dir = ExpandPath(cfg.Uploads.Dir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Safety.RulesFile = ExpandPath(cfg.Safety.RulesFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}
	if cfg.General.CollaboratorTimeoutSeconds < 1 || cfg.General.CollaboratorTimeoutSeconds > 300 {
		errs = append(errs, "general.collaboratorTimeoutSeconds must be between 1 and 300")
	}

	if cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath is required")
	}

	if cfg.Session.IdleMinutes < 1 {
		errs = append(errs, "session.idleMinutes must be >= 1")
	}
	switch cfg.Session.Backend {
	case "memory", "redis":
		// valid
	default:
		errs = append(errs, "session.backend must be one of: memory, redis")
	}
	if cfg.Session.Backend == "redis" && cfg.Session.RedisAddr == "" {
		errs = append(errs, "session.redisAddr is required for the redis backend")
	}

	if cfg.Uploads.MaxFileSizeBytes < 1 {
		errs = append(errs, "uploads.maxFileSizeBytes must be >= 1")
	}
	if len(cfg.Uploads.AllowedExtensions) == 0 {
		errs = append(errs, "uploads.allowedExtensions must not be empty")
	}

	if cfg.Knowledge.ChunkSize < 1 {
		errs = append(errs, "knowledge.chunkSize must be >= 1")
	}
	if cfg.Knowledge.ChunkOverlap < 0 || cfg.Knowledge.ChunkOverlap >= cfg.Knowledge.ChunkSize {
		errs = append(errs, "knowledge.chunkOverlap must be >= 0 and smaller than chunkSize")
	}
	if cfg.Knowledge.SearchTopK < 1 {
		errs = append(errs, "knowledge.searchTopK must be >= 1")
	}

	if cfg.Channels.WhatsApp.Port < 0 || cfg.Channels.WhatsApp.Port > 65535 {
		errs = append(errs, "channels.whatsapp.port must be between 0 and 65535")
	}
	if cfg.Channels.WhatsApp.Enabled {
		if cfg.Channels.WhatsApp.AccountSID == "" || cfg.Channels.WhatsApp.AuthToken == "" {
			errs = append(errs, "channels.whatsapp: accountSid and authToken are required when enabled")
		}
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when enabled")
	}

	if cfg.Provider.APIBase == "" {
		errs = append(errs, "provider.apiBase is required")
	}
	if cfg.Provider.MaxTokens < 1 {
		errs = append(errs, "provider.maxTokens must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
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
