// Package config loads .env files and the YAML file describing the entries
// served by "nswfuel serve".
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rubiojr/nswfuel/internal/schedule"
	"github.com/rubiojr/nswfuel/pkg/api"
	"gopkg.in/yaml.v3"
)

const (
	DefaultRadiusKm       = "10"
	DefaultPreferredFuels = "E10|U91|P95|P98"
	DefaultInterval       = 360 * time.Minute
	DefaultListen         = ":8080"
	DefaultRateLimit      = 60
)

// LoadEnv loads .env from the working directory and from
// ~/.config/nswfuel. Variables already set in the environment win.
func LoadEnv() {
	for _, path := range envPaths() {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
		}
	}
}

func envPaths() []string {
	var paths []string
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".env"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "nswfuel", ".env"))
	}
	return paths
}

// DefaultDatabasePath is ~/.local/share/nswfuel/nswfuel.db, falling back to
// the working directory.
func DefaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "nswfuel.db"
	}
	return filepath.Join(home, ".local", "share", "nswfuel", "nswfuel.db")
}

// PipeList splits "A|B|C", trimming blanks.
func PipeList(s string) []string {
	return splitList(s, "|")
}

// CommaList splits "a,b,c", trimming blanks.
func CommaList(s string) []string {
	return splitList(s, ",")
}

func splitList(s, sep string) []string {
	out := []string{}
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ParseSchedule accepts a duration ("6h", "90m") or a pipe separated list of
// wall-clock times ("06:00|18:00"). An empty string means DefaultInterval.
func ParseSchedule(s string) (schedule.Schedule, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return schedule.Every(DefaultInterval), nil
	}
	if strings.Contains(s, ":") {
		return schedule.ParseDaily(s)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", s, err)
	}
	if d < time.Minute {
		return nil, fmt.Errorf("schedule interval %s is shorter than a minute", d)
	}
	return schedule.Every(d), nil
}

// Entry is one configured integration instance.
type Entry struct {
	ID                   string `yaml:"id"`
	Name                 string `yaml:"name"`
	BaseURL              string `yaml:"base_url"`
	APIKey               string `yaml:"api_key"`
	APISecret            string `yaml:"api_secret"`
	Authorization        string `yaml:"authorization"`
	HomeNamedLocation    string `yaml:"home_namedlocation"`
	HomeLat              string `yaml:"home_lat"`
	HomeLon              string `yaml:"home_lon"`
	RadiusKm             string `yaml:"radius_km"`
	Brands               string `yaml:"brands"`
	PreferredFuels       string `yaml:"preferred_fuels"`
	PersonEntities       string `yaml:"person_entities"`
	FavouriteStationCode string `yaml:"favourite_station_code"`
	NearbySchedule       string `yaml:"nearby_schedule"`
	FavouriteSchedule    string `yaml:"favourite_schedule"`
}

func (e Entry) BrandList() []string { return PipeList(e.Brands) }
func (e Entry) PreferredFuelList() []string { return PipeList(e.PreferredFuels) }
func (e Entry) PersonEntityList() []string { return CommaList(e.PersonEntities) }

// Config is the serve mode configuration file.
type Config struct {
	Listen        string  `yaml:"listen"`
	Database      string  `yaml:"database"`
	EntitiesFile  string  `yaml:"entities_file"`
	RateLimit     int     `yaml:"rate_limit_per_minute"`
	Notifications bool    `yaml:"notifications"`
	Entries       []Entry `yaml:"entries"`
}

// LoadConfig reads path and expands ${VAR} references in credentials, so
// secrets can live in .env files.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	for i := range cfg.Entries {
		e := &cfg.Entries[i]
		e.BaseURL = os.ExpandEnv(e.BaseURL)
		e.APIKey = os.ExpandEnv(e.APIKey)
		e.APISecret = os.ExpandEnv(e.APISecret)
		e.Authorization = os.ExpandEnv(e.Authorization)
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Database == "" {
		c.Database = DefaultDatabasePath()
	}
	if c.RateLimit <= 0 {
		c.RateLimit = DefaultRateLimit
	}
	for i := range c.Entries {
		e := &c.Entries[i]
		if e.Name == "" {
			e.Name = "NSW Fuel"
		}
		if e.BaseURL == "" {
			e.BaseURL = api.DefaultBaseURL
		}
		if strings.TrimSpace(e.RadiusKm) == "" {
			e.RadiusKm = DefaultRadiusKm
		}
		if len(e.PreferredFuelList()) == 0 {
			e.PreferredFuels = DefaultPreferredFuels
		}
	}
}

// Validate reports every problem found, not just the first.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Entries) == 0 {
		errs = append(errs, errors.New("at least one entry is required"))
	}
	if len(c.PersonEntityIDs()) > 0 && c.EntitiesFile == "" {
		errs = append(errs, errors.New("entities_file is required when person_entities are configured"))
	}

	seen := map[string]bool{}
	for i, e := range c.Entries {
		label := fmt.Sprintf("entry %d", i+1)
		if e.ID == "" {
			errs = append(errs, fmt.Errorf("%s: id is required", label))
		} else {
			label = fmt.Sprintf("entry %q", e.ID)
			if seen[e.ID] {
				errs = append(errs, fmt.Errorf("%s: duplicate id", label))
			}
			seen[e.ID] = true
		}
		if e.Authorization == "" && (e.APIKey == "" || e.APISecret == "") {
			errs = append(errs, fmt.Errorf("%s: api_key and api_secret are required", label))
		}
		if e.Authorization != "" && e.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s: api_key is required", label))
		}
		if _, err := strconv.ParseFloat(strings.TrimSpace(e.HomeLat), 64); err != nil {
			errs = append(errs, fmt.Errorf("%s: home_lat %q is not a number", label, e.HomeLat))
		}
		if _, err := strconv.ParseFloat(strings.TrimSpace(e.HomeLon), 64); err != nil {
			errs = append(errs, fmt.Errorf("%s: home_lon %q is not a number", label, e.HomeLon))
		}
		if r, err := strconv.ParseFloat(strings.TrimSpace(e.RadiusKm), 64); err != nil || r <= 0 {
			errs = append(errs, fmt.Errorf("%s: radius_km %q must be a positive number", label, e.RadiusKm))
		}
		if _, err := ParseSchedule(e.NearbySchedule); err != nil {
			errs = append(errs, fmt.Errorf("%s: nearby_schedule: %w", label, err))
		}
		if _, err := ParseSchedule(e.FavouriteSchedule); err != nil {
			errs = append(errs, fmt.Errorf("%s: favourite_schedule: %w", label, err))
		}
	}

	return errors.Join(errs...)
}

// PersonEntityIDs returns the tracked entity ids of every entry.
func (c *Config) PersonEntityIDs() []string {
	var ids []string
	for _, e := range c.Entries {
		ids = append(ids, e.PersonEntityList()...)
	}
	return ids
}
