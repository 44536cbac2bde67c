// Package config loads the service configuration from a YAML file, with
// environment variables (and a .env file loaded by main) taking precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address of the panel API.
	Listen string `yaml:"listen"`

	// APIKey, when set, must be sent as a bearer token on panel requests.
	APIKey string `yaml:"api_key,omitempty"`

	// DefaultUser is the user for requests without an X-Tagcal-User header.
	DefaultUser string `yaml:"default_user"`

	// DefaultTags is the static part of every user's catalog.
	DefaultTags []string `yaml:"default_tags"`

	Staging StagingConfig `yaml:"staging"`
	Flush   FlushConfig   `yaml:"flush"`
	Store   StoreConfig   `yaml:"store"`
	Remote  RemoteConfig  `yaml:"remote"`
}

// StagingConfig holds the cache lifetimes.
type StagingConfig struct {
	// TTL is how long an untouched staged entry survives.
	TTL time.Duration `yaml:"ttl"`
	// IndexTTL is the lifetime of the dirty index; it must be shorter than TTL.
	IndexTTL time.Duration `yaml:"index_ttl"`
}

// FlushConfig controls the background write-back.
type FlushConfig struct {
	// Schedule is a robfig/cron spec, e.g. "@every 1m".
	Schedule string `yaml:"schedule"`
	// Parallel bounds how many users are flushed at once.
	Parallel int `yaml:"parallel"`
	// DryRun logs what would be written without writing.
	DryRun bool `yaml:"dry_run"`
}

// StoreConfig selects where cache and properties live.
type StoreConfig struct {
	// Path of the SQLite database; "memory" keeps everything in-process.
	Path string `yaml:"path"`
}

// RemoteConfig selects and configures the remote calendar.
type RemoteConfig struct {
	// Kind is "google" or "caldav".
	Kind   string       `yaml:"kind"`
	Google GoogleConfig `yaml:"google"`
	CalDAV CalDAVConfig `yaml:"caldav"`
}

// GoogleConfig configures the Google Calendar and Sheets clients.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id,omitempty"`
	ClientSecret string `yaml:"client_secret,omitempty"`
	Account      string `yaml:"account"`
	TokenDir     string `yaml:"token_dir"`
}

// CalDAVConfig configures the CalDAV client.
type CalDAVConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Username     string `yaml:"username,omitempty"`
	Password     string `yaml:"password,omitempty"`
	CalendarName string `yaml:"calendar_name"`
}

const (
	RemoteGoogle = "google"
	RemoteCalDAV = "caldav"

	MemoryStorePath = "memory"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		DefaultUser: "default",
		DefaultTags: []string{"#Work", "#Personal", "#Meeting", "#Focus"},
		Staging: StagingConfig{
			TTL:      120 * time.Second,
			IndexTTL: 90 * time.Second,
		},
		Flush: FlushConfig{
			Schedule: "@every 1m",
			Parallel: 4,
		},
		Store: StoreConfig{Path: "tagcal.sqlite"},
		Remote: RemoteConfig{
			Kind:   RemoteGoogle,
			Google: GoogleConfig{Account: "default", TokenDir: "."},
			CalDAV: CalDAVConfig{Endpoint: "https://caldav.icloud.com/"},
		},
	}
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.DefaultUser == "" {
		c.DefaultUser = d.DefaultUser
	}
	if len(c.DefaultTags) == 0 {
		c.DefaultTags = d.DefaultTags
	}
	if c.Staging.TTL <= 0 {
		c.Staging.TTL = d.Staging.TTL
	}
	if c.Staging.IndexTTL <= 0 {
		c.Staging.IndexTTL = d.Staging.IndexTTL
	}
	if c.Flush.Schedule == "" {
		c.Flush.Schedule = d.Flush.Schedule
	}
	if c.Flush.Parallel <= 0 {
		c.Flush.Parallel = d.Flush.Parallel
	}
	if c.Store.Path == "" {
		c.Store.Path = d.Store.Path
	}
	c.Remote.Kind = strings.ToLower(strings.TrimSpace(c.Remote.Kind))
	if c.Remote.Kind == "" {
		c.Remote.Kind = d.Remote.Kind
	}
	if c.Remote.Google.Account == "" {
		c.Remote.Google.Account = d.Remote.Google.Account
	}
	if c.Remote.Google.TokenDir == "" {
		c.Remote.Google.TokenDir = d.Remote.Google.TokenDir
	}
	if c.Remote.CalDAV.Endpoint == "" {
		c.Remote.CalDAV.Endpoint = d.Remote.CalDAV.Endpoint
	}
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	if c.Staging.IndexTTL >= c.Staging.TTL {
		return fmt.Errorf("staging.index_ttl (%s) must be shorter than staging.ttl (%s)", c.Staging.IndexTTL, c.Staging.TTL)
	}
	switch c.Remote.Kind {
	case RemoteGoogle, RemoteCalDAV:
	default:
		return fmt.Errorf("unknown remote kind %q", c.Remote.Kind)
	}
	return nil
}

// Load reads path (a missing file means defaults), applies environment
// overrides, normalizes and validates.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// Defaults only.
		case err != nil:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		default:
			cfg = &Config{}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets the environment win over the file.
func (c *Config) applyEnvOverrides() error {
	str := map[string]*string{
		"TAGCAL_LISTEN":                &c.Listen,
		"TAGCAL_API_KEY":               &c.APIKey,
		"TAGCAL_DEFAULT_USER":          &c.DefaultUser,
		"TAGCAL_STORE_PATH":            &c.Store.Path,
		"TAGCAL_REMOTE":                &c.Remote.Kind,
		"TAGCAL_FLUSH_SCHEDULE":        &c.Flush.Schedule,
		"GOOGLE_CLIENT_ID":             &c.Remote.Google.ClientID,
		"GOOGLE_CLIENT_SECRET":         &c.Remote.Google.ClientSecret,
		"GOOGLE_ACCOUNT":               &c.Remote.Google.Account,
		"ICLOUD_USERNAME":              &c.Remote.CalDAV.Username,
		"ICLOUD_APP_SPECIFIC_PASSWORD": &c.Remote.CalDAV.Password,
		"ICLOUD_CALENDAR_NAME":         &c.Remote.CalDAV.CalendarName,
		"CALDAV_ENDPOINT":              &c.Remote.CalDAV.Endpoint,
	}
	for env, dst := range str {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"TAGCAL_STAGING_TTL": &c.Staging.TTL,
		"TAGCAL_INDEX_TTL":   &c.Staging.IndexTTL,
	}
	for env, dst := range durations {
		v := os.Getenv(env)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", env, v, err)
		}
		*dst = d
	}

	if v := os.Getenv("TAGCAL_DEFAULT_TAGS"); v != "" {
		c.DefaultTags = splitList(v)
	}
	if v := os.Getenv("TAGCAL_FLUSH_DRY_RUN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid TAGCAL_FLUSH_DRY_RUN %q: %w", v, err)
		}
		c.Flush.DryRun = b
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
