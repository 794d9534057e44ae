package inspector

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Inspection modes.
const (
	ModeStatic = "static"
	ModeLive   = "live"
)

// Config controls how pages are fetched and inspected.
type Config struct {
	// Mode is "static" (plain HTTP fetch, default) or "live" (headless
	// Chrome).
	Mode string `yaml:"mode"`

	// UserAgent is sent on static fetches and has no effect in live mode,
	// where Chrome's own UA wins.
	UserAgent string `yaml:"user_agent"`

	// NavTimeout bounds one page load. Default 30s.
	NavTimeout time.Duration `yaml:"nav_timeout"`

	// MaxBodyBytes caps a static fetch response. Default 10MB.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// AllowPrivate permits capture targets on loopback and private
	// networks, for observing intranet pages. Off by default: on a shared
	// deployment a capture URL is untrusted input and must not reach the
	// internal network.
	AllowPrivate bool `yaml:"allow_private"`

	Browser BrowserConfig `yaml:"browser"`
}

// BrowserConfig controls the Chrome instance behind live mode.
type BrowserConfig struct {
	// RemoteURL is the WebSocket URL of an external Chrome. Empty launches
	// a local one.
	RemoteURL string `yaml:"remote_url"`

	// MemoryLimit in bytes. Chrome is recycled past it. Default 1GB.
	MemoryLimit int64 `yaml:"memory_limit"`

	// RecycleInterval is the maximum lifetime of one Chrome process.
	// Default 4h.
	RecycleInterval time.Duration `yaml:"recycle_interval"`

	// Stealth is "on" (default) or "off". On applies the anti-detection
	// page setup; evidence pages often serve different content to obvious
	// automation.
	Stealth string `yaml:"stealth"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("inspector: parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeStatic
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (compatible; Constat/1.0)"
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 10 << 20
	}
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "on"
	}
}
