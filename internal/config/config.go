package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for unibox.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Server    ServerConfig    `json:"server"`
	Store     StoreConfig     `json:"store"`
	Sweep     SweepConfig     `json:"sweep"`
	Providers ProvidersConfig `json:"providers"`
	Templates TemplatesConfig `json:"templates"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"` // debug | info | warn | error
}

type ServerConfig struct {
	Addr string `json:"addr"`
	// CronSecret guards the sweep trigger endpoint. Empty disables the check.
	CronSecret string `json:"cronSecret,omitempty"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

type SweepConfig struct {
	// BatchSize caps how many due messages one run processes.
	BatchSize int `json:"batchSize"`
	// IntervalSeconds drives the in-process ticker; 0 disables it (the
	// HTTP trigger still works).
	IntervalSeconds int `json:"intervalSeconds"`
}

type ProvidersConfig struct {
	// TimeoutSeconds bounds every outbound provider call.
	TimeoutSeconds int            `json:"timeoutSeconds"`
	Twilio         TwilioConfig   `json:"twilio"`
	Email          EmailConfig    `json:"email"`
	Facebook       FacebookConfig `json:"facebook"`
	Twitter        TwitterConfig  `json:"twitter"`
	Telegram       TelegramConfig `json:"telegram"`
}

type TwilioConfig struct {
	AccountSID  string `json:"accountSid,omitempty"`
	AuthToken   string `json:"authToken,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	// WhatsAppNumber is the sender for the WhatsApp variant; falls back to
	// PhoneNumber when empty.
	WhatsAppNumber string `json:"whatsappNumber,omitempty"`
	APIBase        string `json:"apiBase,omitempty"`
}

type EmailConfig struct {
	APIKey  string `json:"apiKey,omitempty"`
	From    string `json:"from,omitempty"`
	APIBase string `json:"apiBase,omitempty"`
}

type FacebookConfig struct {
	AppID           string `json:"appId,omitempty"`
	AppSecret       string `json:"appSecret,omitempty"`
	PageAccessToken string `json:"pageAccessToken,omitempty"`
	VerifyToken     string `json:"verifyToken,omitempty"`
	APIBase         string `json:"apiBase,omitempty"`
}

type TwitterConfig struct {
	BearerToken string `json:"bearerToken,omitempty"`
	APIBase     string `json:"apiBase,omitempty"`
}

type TelegramConfig struct {
	Token   string `json:"token,omitempty"`
	APIBase string `json:"apiBase,omitempty"`
}

type TemplatesConfig struct {
	Dir string `json:"dir,omitempty"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// DefaultConfigDir returns the default config directory (~/.unibox).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".unibox"
	}
	return filepath.Join(home, ".unibox")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references with environment values so that
// credentials never have to live in the config file itself.
func expandEnv(raw []byte) []byte {
	return envRef.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := envRef.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// Load reads, env-expands and validates a config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Defaults()
	if err := json.Unmarshal(expandEnv(raw), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.normalize()
	return cfg, nil
}

// Save writes the config as indented JSON.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

func (c *Config) normalize() {
	if c.Sweep.BatchSize <= 0 {
		c.Sweep.BatchSize = 50
	}
	if c.Providers.TimeoutSeconds <= 0 {
		c.Providers.TimeoutSeconds = 30
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Store.DBPath == "" {
		c.Store.DBPath = filepath.Join(DefaultConfigDir(), "unibox.db")
	}
	c.Store.DBPath = expandHome(c.Store.DBPath)
	c.Templates.Dir = expandHome(c.Templates.Dir)
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}
