// Package config loads and persists the slidechat YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPath names the environment variable that overrides the config file location.
const EnvPath = "SLIDECHAT_CONFIG"

// Agent backends.
const (
	BackendCLI = "cli"
	BackendAPI = "api"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	Agent    AgentConfig    `yaml:"agent"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	PublicURL      string   `yaml:"public_url,omitempty"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	TrustedProxies []string `yaml:"trusted_proxies,omitempty"`
	// Tunnel exposes the server through a cloudflared quick tunnel and uses
	// its URL as PublicURL.
	Tunnel          bool   `yaml:"tunnel,omitempty"`
	CloudflaredPath string `yaml:"cloudflared_path,omitempty"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type StorageConfig struct {
	Dir            string `yaml:"dir"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

type AgentConfig struct {
	Backend                string        `yaml:"backend"`
	CLIPath                string        `yaml:"cli_path"`
	Model                  string        `yaml:"model"`
	MaxTurns               int           `yaml:"max_turns"`
	AllowedTools           []string      `yaml:"allowed_tools"`
	IncludePartialMessages bool          `yaml:"include_partial_messages"`
	SystemPrompt           string        `yaml:"system_prompt,omitempty"`
	WorkDir                string        `yaml:"work_dir,omitempty"`
	RequestTimeout         time.Duration `yaml:"request_timeout"`
	APIKeyEnv              string        `yaml:"api_key_env"`
	MaxTokens              int64         `yaml:"max_tokens"`
}

type AuthConfig struct {
	PasswordHash string        `yaml:"password_hash,omitempty"`
	RPID         string        `yaml:"rp_id,omitempty"`
	RPOrigins    []string      `yaml:"rp_origins,omitempty"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Dir returns the slidechat home directory (~/.slidechat).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".slidechat"
	}
	return filepath.Join(home, ".slidechat")
}

// DefaultPath returns the config file location, honoring SLIDECHAT_CONFIG.
func DefaultPath() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	return filepath.Join(Dir(), "config.yaml")
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	dir := Dir()
	return &Config{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:*"},
		},
		Database: DatabaseConfig{Path: filepath.Join(dir, "slidechat.db")},
		Storage: StorageConfig{
			Dir:            filepath.Join(dir, "blobs"),
			MaxUploadBytes: 50 << 20,
		},
		Agent: AgentConfig{
			Backend:                BackendCLI,
			CLIPath:                "claude",
			Model:                  "claude-3-5-sonnet-20241022",
			MaxTurns:               10,
			AllowedTools:           []string{"Read", "Write", "Edit", "Bash"},
			IncludePartialMessages: true,
			RequestTimeout:         30 * time.Second,
			APIKeyEnv:              "ANTHROPIC_API_KEY",
			MaxTokens:              4096,
		},
		Auth: AuthConfig{TokenTTL: 7 * 24 * time.Hour},
		Log:  LogConfig{Level: "info"},
	}
}

// Load reads the config file at path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path, creating the parent directory.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalid, c.Server.Port)
	}
	switch c.Agent.Backend {
	case BackendCLI, BackendAPI:
	default:
		return fmt.Errorf("%w: agent.backend must be %q or %q, got %q", ErrInvalid, BackendCLI, BackendAPI, c.Agent.Backend)
	}
	if c.Agent.MaxTurns < 0 {
		return fmt.Errorf("%w: agent.max_turns must not be negative", ErrInvalid)
	}
	if c.Agent.RequestTimeout < 0 {
		return fmt.Errorf("%w: agent.request_timeout must not be negative", ErrInvalid)
	}
	if c.Storage.MaxUploadBytes <= 0 {
		return fmt.Errorf("%w: storage.max_upload_bytes must be positive", ErrInvalid)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log.level %q", ErrInvalid, c.Log.Level)
	}
	return nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) expandPaths() {
	c.Database.Path = expandHome(c.Database.Path)
	c.Storage.Dir = expandHome(c.Storage.Dir)
	c.Agent.WorkDir = expandHome(c.Agent.WorkDir)
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
