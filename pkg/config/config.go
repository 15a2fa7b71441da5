// Package config loads livetap settings from a YAML file, a .env file and
// LIVETAP_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/holon-run/livetap/pkg/log"
)

const (
	Version  = "v1"
	FileName = "livetap.yaml"

	envPrefix = "LIVETAP_"
)

type Config struct {
	Version string        `yaml:"version"`
	Control ControlConfig `yaml:"control"`
	Events  EventsConfig  `yaml:"events"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type ControlConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type EventsConfig struct {
	URL               string        `yaml:"url"`
	ReconnectAttempts int           `yaml:"reconnect_attempts"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json
}

type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables the endpoint.
	Addr string `yaml:"addr,omitempty"`
}

func Default() Config {
	return Config{
		Version: Version,
		Control: ControlConfig{
			URL:     "http://localhost:3001",
			Timeout: 10 * time.Second,
		},
		Events: EventsConfig{
			URL:               "ws://localhost:3001/api/live/socket",
			ReconnectAttempts: 5,
			ReconnectDelay:    time.Second,
		},
		Log: LogConfig{Level: string(log.LevelProgress), Format: log.FormatConsole},
	}
}

// Load reads path on top of the defaults, then applies environment overrides.
// A missing file at the default location is not an error; an explicitly
// named one is.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = FileName
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := loadDotEnv(filepath.Dir(path)); err != nil {
		return Config{}, err
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// loadDotEnv never overrides variables already set in the process.
func loadDotEnv(dir string) error {
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", envPath, err)
	}
	if err := godotenv.Load(envPath); err != nil {
		return fmt.Errorf("failed to load %s: %w", envPath, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"CONTROL_URL":  &c.Control.URL,
		"EVENTS_URL":   &c.Events.URL,
		"LOG_LEVEL":    &c.Log.Level,
		"LOG_FORMAT":   &c.Log.Format,
		"METRICS_ADDR": &c.Metrics.Addr,
	}
	for key, dst := range strs {
		if v, ok := lookupEnv(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"RECONNECT_ATTEMPTS": &c.Events.ReconnectAttempts,
	}
	for key, dst := range ints {
		if v, ok := lookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s %q: %w", envPrefix, key, v, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"CONTROL_TIMEOUT": &c.Control.Timeout,
		"RECONNECT_DELAY": &c.Events.ReconnectDelay,
	}
	for key, dst := range durations {
		if v, ok := lookupEnv(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s %q: %w", envPrefix, key, v, err)
			}
			*dst = d
		}
	}
	return nil
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Version) == "" {
		return errors.New("version is required")
	}
	if c.Version != Version {
		return fmt.Errorf("unsupported config version %q", c.Version)
	}
	if err := validateURL("control.url", c.Control.URL, "http", "https"); err != nil {
		return err
	}
	if err := validateURL("events.url", c.Events.URL, "ws", "wss"); err != nil {
		return err
	}
	if c.Control.Timeout <= 0 {
		return fmt.Errorf("control.timeout must be positive, got %s", c.Control.Timeout)
	}
	if c.Events.ReconnectAttempts < 0 {
		return fmt.Errorf("events.reconnect_attempts must not be negative, got %d", c.Events.ReconnectAttempts)
	}
	if c.Events.ReconnectDelay < 0 {
		return fmt.Errorf("events.reconnect_delay must not be negative, got %s", c.Events.ReconnectDelay)
	}
	if _, ok := log.ParseLevel(c.Log.Level); !ok {
		return fmt.Errorf("unknown log.level %q", c.Log.Level)
	}
	if c.Log.Format != log.FormatConsole && c.Log.Format != log.FormatJSON {
		return fmt.Errorf("log.format must be %s or %s, got %q", log.FormatConsole, log.FormatJSON, c.Log.Format)
	}
	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be a %s URL, got %q", field, strings.Join(schemes, "/"), raw)
}

const template = `# livetap configuration
version: v1

control:
  # Base URL of the live backend's HTTP API.
  url: http://localhost:3001
  timeout: 10s

events:
  # Websocket endpoint pushing live events.
  url: ws://localhost:3001/api/live/socket
  reconnect_attempts: 5
  reconnect_delay: 1s

log:
  level: progress # debug | info | progress | minimal | warn | error
  format: console # console | json

metrics:
  # addr: 127.0.0.1:9090
`

func Template() string {
	return template
}

// WriteTemplate refuses to overwrite an existing file unless force is set.
func WriteTemplate(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, []byte(template), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
