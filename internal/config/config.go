// Package config loads the site configuration file (confsite.yaml).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const FileName = "confsite.yaml"

const (
	AuthNone  = "none"  // every visitor is an admin; local use only
	AuthDev   = "dev"   // sign in by picking an admin from a list
	AuthMagic = "magic" // sign-in links are written to the outbox
)

type Config struct {
	Site         SiteConfig         `yaml:"site"`
	Nav          []NavEntry         `yaml:"nav"`
	Registration RegistrationConfig `yaml:"registration"`
	Auth         AuthConfig         `yaml:"auth"`
	// Admins maps email to display name. They are merged with the admins table.
	Admins  map[string]string `yaml:"admins"`
	Server  ServerConfig      `yaml:"server"`
	Logging LoggingConfig     `yaml:"logging"`
}

type SiteConfig struct {
	Title        string `yaml:"title"`
	Tagline      string `yaml:"tagline"`
	Venue        string `yaml:"venue"`
	StartDate    string `yaml:"start_date"` // YYYY-MM-DD
	EndDate      string `yaml:"end_date"`
	ContactEmail string `yaml:"contact_email"`
}

type NavEntry struct {
	Label string `yaml:"label"`
	Path  string `yaml:"path"`
	Icon  string `yaml:"icon"`
}

type RegistrationConfig struct {
	Open    bool     `yaml:"open"`
	Tickets []string `yaml:"tickets"`
}

type AuthConfig struct {
	Mode       string `yaml:"mode"`
	SessionTTL string `yaml:"session_ttl"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	BaseURL     string `yaml:"base_url"`
	MediaDir    string `yaml:"media_dir"` // relative paths resolve against the data dir
	MaxUploadMB int    `yaml:"max_upload_mb"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

func Default() *Config {
	return &Config{
		Site: SiteConfig{
			Title:   "Conference",
			Tagline: "Call for papers is open",
		},
		Nav: []NavEntry{
			{Label: "Home", Path: "/", Icon: "home"},
			{Label: "Committees", Path: "/committees", Icon: "users"},
			{Label: "Schedule", Path: "/schedule", Icon: "calendar"},
			{Label: "Registration", Path: "/register", Icon: "ticket"},
			{Label: "Gallery", Path: "/gallery", Icon: "image"},
			{Label: "News", Path: "/news", Icon: "newspaper"},
		},
		Registration: RegistrationConfig{
			Open:    true,
			Tickets: []string{"regular", "student", "speaker"},
		},
		Auth: AuthConfig{
			Mode:       AuthDev,
			SessionTTL: "720h",
		},
		Admins: map[string]string{},
		Server: ServerConfig{
			Addr:        "127.0.0.1:8080",
			MediaDir:    "media",
			MaxUploadMB: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("CONFSITE_ADDR")); v != "" {
		c.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("CONFSITE_BASE_URL")); v != "" {
		c.Server.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("CONFSITE_AUTH_MODE")); v != "" {
		c.Auth.Mode = v
	}
	if v := strings.TrimSpace(os.Getenv("CONFSITE_LOG_LEVEL")); v != "" {
		c.Logging.Level = v
	}
}

func (c *Config) Validate() error {
	switch c.Auth.Mode {
	case AuthNone, AuthDev, AuthMagic:
	default:
		return fmt.Errorf("auth.mode: unknown mode %q (want none, dev or magic)", c.Auth.Mode)
	}
	if _, err := c.SessionTTL(); err != nil {
		return err
	}
	start, err := parseDate("site.start_date", c.Site.StartDate)
	if err != nil {
		return err
	}
	end, err := parseDate("site.end_date", c.Site.EndDate)
	if err != nil {
		return err
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return fmt.Errorf("site.end_date is before site.start_date")
	}
	for i, n := range c.Nav {
		if strings.TrimSpace(n.Label) == "" || !strings.HasPrefix(n.Path, "/") {
			return fmt.Errorf("nav[%d]: label and an absolute path are required", i)
		}
	}
	if c.Server.MaxUploadMB < 0 {
		return fmt.Errorf("server.max_upload_mb must not be negative")
	}
	return nil
}

func parseDate(field, v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: want YYYY-MM-DD: %w", field, err)
	}
	return t, nil
}

func (c *Config) SessionTTL() (time.Duration, error) {
	if strings.TrimSpace(c.Auth.SessionTTL) == "" {
		return 30 * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(c.Auth.SessionTTL)
	if err != nil {
		return 0, fmt.Errorf("auth.session_ttl: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("auth.session_ttl must be positive")
	}
	return d, nil
}

// Dates returns the parsed conference dates; zero values when unset.
func (c *Config) Dates() (start, end time.Time) {
	start, _ = parseDate("", c.Site.StartDate)
	end, _ = parseDate("", c.Site.EndDate)
	return start, end
}

// MediaPath resolves the media dir against dataDir.
func (c *Config) MediaPath(dataDir string) string {
	p := strings.TrimSpace(c.Server.MediaDir)
	if p == "" {
		p = "media"
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dataDir, p)
}

func (c *Config) MaxUploadBytes() int64 {
	if c.Server.MaxUploadMB <= 0 {
		return 10 << 20
	}
	return int64(c.Server.MaxUploadMB) << 20
}

// IsAdminEmail reports whether email is allow-listed in the file.
func (c *Config) IsAdminEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	for k := range c.Admins {
		if strings.ToLower(strings.TrimSpace(k)) == email {
			return true
		}
	}
	return false
}

func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
