package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"freebusy/internal/availability"
)

// Source kinds.
const (
	SourceGoogle = "google"
	SourceICS    = "ics"
)

// Environment overrides, read after the YAML file (and a local .env, if any).
const (
	EnvTimezone    = "FREEBUSY_TIMEZONE"
	EnvCalendarID  = "FREEBUSY_CALENDAR_ID"
	EnvCredentials = "FREEBUSY_CREDENTIALS"
	EnvToken       = "FREEBUSY_TOKEN"
)

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// GoogleConfig points at the OAuth client secrets and the persisted token.
type GoogleConfig struct {
	// CredentialsFile is the "installed app" client JSON downloaded from
	// the Google Cloud console.
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
	// TokenFile stores the access/refresh token between runs (0600).
	TokenFile string `yaml:"token_file" json:"token_file"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the HTTP API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Source selects the event source: "google" or "ics".
	Source string `yaml:"source" json:"source"`

	// CalendarID is the Google calendar to read ("primary" by default).
	CalendarID string `yaml:"calendar_id" json:"calendar_id"`

	// Timezone is used only when the source cannot report one.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Days is the number of days ahead to check, today included.
	Days int `yaml:"days" json:"days"`

	// StartHour and EndHour bound the working day (24h clock).
	StartHour int `yaml:"start_hour" json:"start_hour"`
	EndHour   int `yaml:"end_hour" json:"end_hour"`

	// SlotMinutes is the slot granularity.
	SlotMinutes int `yaml:"slot_minutes" json:"slot_minutes"`

	// Mode selects what is displayed: "free", "busy" or "both".
	Mode string `yaml:"mode" json:"mode"`

	Google GoogleConfig `yaml:"google" json:"google"`

	// ICS is the list of subscribed ICS sources, used when Source is "ics".
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// SelfEmails identify the calendar owner among ICS attendees so that
	// declined invitations can be recognized.
	SelfEmails []string `yaml:"self_emails" json:"self_emails"`

	// CacheDir holds the ICS HTTP cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// Listen is the HTTP listen address used in serve mode.
	Listen string `yaml:"listen" json:"listen"`

	// RefreshCron is a cron-style schedule (e.g. "*/15 * * * *") for
	// recomputing the served snapshot.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Source:      SourceGoogle,
		CalendarID:  "primary",
		Timezone:    "UTC",
		Days:        5,
		StartHour:   9,
		EndHour:     17,
		SlotMinutes: 30,
		Mode:        "both",
		Google: GoogleConfig{
			CredentialsFile: "credentials.json",
			TokenFile:       "token.json",
		},
		ICS:         []ICSConfig{},
		SelfEmails:  []string{},
		CacheDir:    "./var/ics-cache",
		Listen:      "127.0.0.1:8080",
		RefreshCron: "*/15 * * * *",
		BasicAuth:   nil,
	}
}

// Normalize fills in missing string values so that partially-filled
// configs still behave. Numeric fields are left alone; Validate reports them.
func (c *Config) Normalize() {
	def := DefaultConfig()

	c.Source = strings.ToLower(strings.TrimSpace(c.Source))
	if c.Source == "" {
		c.Source = def.Source
	}
	if c.CalendarID == "" {
		c.CalendarID = def.CalendarID
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.Mode == "" {
		c.Mode = def.Mode
	}
	if c.Google.CredentialsFile == "" {
		c.Google.CredentialsFile = def.Google.CredentialsFile
	}
	if c.Google.TokenFile == "" {
		c.Google.TokenFile = def.Google.TokenFile
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	if c.SelfEmails == nil {
		c.SelfEmails = []string{}
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
}

// Params converts the scheduling fields into availability.Params.
func (c *Config) Params() availability.Params {
	return availability.Params{
		Days:         c.Days,
		StartHour:    c.StartHour,
		EndHour:      c.EndHour,
		SlotDuration: time.Duration(c.SlotMinutes) * time.Minute,
	}
}

// Validate checks the scheduling fields and the source selection.
func (c *Config) Validate() error {
	errs := []error{c.Params().Validate()}

	switch c.Mode {
	case "free", "busy", "both":
	default:
		errs = append(errs, configError("mode", fmt.Sprintf("must be one of free, busy, both (got %q)", c.Mode)))
	}

	switch c.Source {
	case SourceGoogle:
		if c.Google.CredentialsFile == "" {
			errs = append(errs, configError("google.credentials_file", "is required for the google source"))
		}
	case SourceICS:
		n := 0
		for _, s := range c.ICS {
			if s.URL != "" {
				n++
			}
		}
		if n == 0 {
			errs = append(errs, configError("ics", "needs at least one url for the ics source"))
		}
	default:
		errs = append(errs, configError("source", fmt.Sprintf("must be %q or %q (got %q)", SourceGoogle, SourceICS, c.Source)))
	}

	return errors.Join(errs...)
}

func configError(field, reason string) error {
	return &availability.ConfigurationError{Field: field, Reason: reason}
}

// ApplyEnv loads envFile (ignored when missing) into the process
// environment and applies the FREEBUSY_* overrides.
func (c *Config) ApplyEnv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}
	if v := os.Getenv(EnvTimezone); v != "" {
		c.Timezone = v
	}
	if v := os.Getenv(EnvCalendarID); v != "" {
		c.CalendarID = v
	}
	if v := os.Getenv(EnvCredentials); v != "" {
		c.Google.CredentialsFile = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		c.Google.TokenFile = v
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (parent directory created as needed) and returned.
//   - Otherwise the YAML is unmarshalled over the defaults and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file in the same directory, then rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, ".freebusy-config-*.tmp")
}

// WriteFileAtomic writes data next to path under a temporary name, syncs,
// chmods to 0600 and renames over path. The parent directory is created
// with 0700 when missing.
func WriteFileAtomic(path string, data []byte, pattern string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
