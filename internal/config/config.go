package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the relay.
type Config struct {
	General   GeneralConfig   `json:"general" yaml:"general"`
	Server    ServerConfig    `json:"server" yaml:"server"`
	Messenger MessengerConfig `json:"messenger" yaml:"messenger"`
	Agent     AgentConfig     `json:"agent" yaml:"agent"`
	Store     StoreConfig     `json:"store" yaml:"store"`
	Relay     RelayConfig     `json:"relay" yaml:"relay"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" yaml:"logLevel"`
	LogFile  string `json:"logFile,omitempty" yaml:"logFile,omitempty"`
}

type ServerConfig struct {
	Host        string `json:"host" yaml:"host"`
	Port        int    `json:"port" yaml:"port"`
	WebhookPath string `json:"webhookPath" yaml:"webhookPath"`
}

type MessengerConfig struct {
	VerifyToken string `json:"verifyToken" yaml:"verifyToken"`
	AccessToken string `json:"accessToken" yaml:"accessToken"`
	AppSecret   string `json:"appSecret,omitempty" yaml:"appSecret,omitempty"`
	APIBase     string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	APIVersion  string `json:"apiVersion,omitempty" yaml:"apiVersion,omitempty"`
}

type AgentConfig struct {
	BaseURL        string `json:"baseUrl" yaml:"baseUrl"`
	AssistantID    string `json:"assistantId" yaml:"assistantId"`
	WebhookURL     string `json:"webhookUrl,omitempty" yaml:"webhookUrl,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

type StoreConfig struct {
	Backend string `json:"backend" yaml:"backend"` // "memory" | "sqlite"
	DBPath  string `json:"dbPath,omitempty" yaml:"dbPath,omitempty"`
}

type RelayConfig struct {
	MaxConcurrentEvents int    `json:"maxConcurrentEvents" yaml:"maxConcurrentEvents"`
	ProcessingNotice    string `json:"processingNotice,omitempty" yaml:"processingNotice,omitempty"`
	ApologyNotice       string `json:"apologyNotice" yaml:"apologyNotice"`
	TextOnlyNotice      string `json:"textOnlyNotice" yaml:"textOnlyNotice"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.messenger-agent).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".messenger-agent"
	}
	return filepath.Join(home, ".messenger-agent")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads the config file (JSON, or YAML for .yaml/.yml paths), expands
// ${VAR} / ${VAR:-default} references, and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
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
			return match
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

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if !strings.HasPrefix(cfg.Server.WebhookPath, "/") {
		errs = append(errs, "server.webhookPath must start with /")
	}

	switch cfg.Store.Backend {
	case "memory":
	case "sqlite":
		if cfg.Store.DBPath == "" {
			errs = append(errs, "store.dbPath is required for the sqlite backend")
		}
	default:
		errs = append(errs, "store.backend must be one of: memory, sqlite")
	}

	if cfg.Agent.TimeoutSeconds < 1 {
		errs = append(errs, "agent.timeoutSeconds must be >= 1")
	}
	if cfg.Relay.MaxConcurrentEvents < 1 || cfg.Relay.MaxConcurrentEvents > 100 {
		errs = append(errs, "relay.maxConcurrentEvents must be between 1 and 100")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Sanitize returns a copy with credentials masked, for display.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	out.Messenger.VerifyToken = mask(cfg.Messenger.VerifyToken)
	out.Messenger.AccessToken = mask(cfg.Messenger.AccessToken)
	out.Messenger.AppSecret = mask(cfg.Messenger.AppSecret)
	return &out
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

// ExpandPath resolves a leading ~/ to the user's home directory.
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
