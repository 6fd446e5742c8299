package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type StoreConfig struct {
	Path    string `toml:"path"`
	LockDir string `toml:"lock_dir"`
}

type FetchConfig struct {
	Policy string `toml:"policy"`
	// Interval between attempts for one chapter, in seconds.
	Interval float64 `toml:"interval"`
	// Retry is the maximum number of attempts per chapter; 0 retries forever.
	Retry   int `toml:"retry"`
	Workers int `toml:"workers"`
}

func (f FetchConfig) IntervalDuration() time.Duration {
	return time.Duration(f.Interval * float64(time.Second))
}

type MergeConfig struct {
	// Command is the merge tool argv. "{old}" and "{new}" are replaced by the
	// artifact paths; without placeholders both paths are appended.
	Command []string `toml:"command"`
	TempDir string   `toml:"temp_dir"`
}

type AuthConfig struct {
	JWTSecret     string `toml:"jwt_secret"`
	JWTIssuer     string `toml:"jwt_issuer"`
	TokenTTLHours int    `toml:"token_ttl_hours"`
}

func (a AuthConfig) JWTDuration() time.Duration {
	return time.Duration(a.TokenTTLHours) * time.Hour
}

type MirrorConfig struct {
	Addr    string `toml:"addr"`
	TCPAddr string `toml:"tcp_addr"`
	UDPAddr string `toml:"udp_addr"`
	AuthConfig
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // json | console
}

const (
	RemoteKindMirror = "mirror"
	RemoteKindFolder = "folder"
)

type RemoteConfig struct {
	Name           string `toml:"name"`
	Kind           string `toml:"kind"`
	URL            string `toml:"url"`
	Upstream       string `toml:"upstream"`
	Dir            string `toml:"dir"`
	Token          string `toml:"token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

func (r RemoteConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

type Config struct {
	Store   StoreConfig    `toml:"store"`
	Fetch   FetchConfig    `toml:"fetch"`
	Merge   MergeConfig    `toml:"merge"`
	Mirror  MirrorConfig   `toml:"mirror"`
	Log     LogConfig      `toml:"log"`
	Remotes []RemoteConfig `toml:"remotes"`
}

// DataDir is where the store, lock files and the default config live.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".novelhub"
	}
	return filepath.Join(home, ".novelhub")
}

func DefaultConfig() Config {
	dir := DataDir()
	return Config{
		Store: StoreConfig{
			// LockDir defaults to "locks" next to Path.
			Path: filepath.Join(dir, "data.db"),
		},
		Fetch: FetchConfig{
			Policy:   "update",
			Interval: 0.2,
			Retry:    3,
			Workers:  1,
		},
		Merge: MergeConfig{
			Command: []string{"vimdiff", "{old}", "{new}"},
		},
		Mirror: MirrorConfig{
			Addr:    ":8080",
			TCPAddr: ":9090",
			UDPAddr: ":9091",
			AuthConfig: AuthConfig{
				// dev default (change for production)
				JWTSecret:     "dev-secret-change-me",
				JWTIssuer:     "novelhub",
				TokenTTLHours: 24,
			},
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// ConfigPath resolves the config file: explicit path, then NOVELHUB_CONFIG,
// then <DataDir>/config.toml.
func ConfigPath(explicit string) string {
	if explicit != "" {
		return expandHome(explicit)
	}
	if env := os.Getenv("NOVELHUB_CONFIG"); env != "" {
		return expandHome(env)
	}
	return filepath.Join(DataDir(), "config.toml")
}

// LoadConfig reads the config file if it exists, applies environment
// overrides and validates the result. A missing file yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	resolved := ConfigPath(path)
	data, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", resolved, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("NOVELHUB_DB_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("NOVELHUB_JWT_SECRET"); v != "" {
		c.Mirror.JWTSecret = v
	}
	if v := os.Getenv("NOVELHUB_MERGE_TOOL"); v != "" {
		c.Merge.Command = strings.Fields(v)
	}
}

func (c *Config) normalize() {
	c.Store.Path = expandHome(c.Store.Path)
	c.Store.LockDir = expandHome(c.Store.LockDir)
	if c.Store.LockDir == "" {
		c.Store.LockDir = filepath.Join(filepath.Dir(c.Store.Path), "locks")
	}
	c.Merge.TempDir = expandHome(c.Merge.TempDir)
	if c.Fetch.Workers == 0 {
		c.Fetch.Workers = 1
	}
	if c.Mirror.TokenTTLHours <= 0 {
		c.Mirror.TokenTTLHours = 24
	}
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	for i := range c.Remotes {
		r := &c.Remotes[i]
		r.Kind = strings.ToLower(strings.TrimSpace(r.Kind))
		r.Dir = expandHome(r.Dir)
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if c.Fetch.Retry < 0 {
		errs = append(errs, errors.New("fetch.retry must not be negative"))
	}
	if c.Fetch.Interval < 0 {
		errs = append(errs, errors.New("fetch.interval must not be negative"))
	}
	if c.Fetch.Workers < 0 {
		errs = append(errs, errors.New("fetch.workers must not be negative"))
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not json or console", c.Log.Format))
	}

	seen := make(map[string]bool, len(c.Remotes))
	for i, r := range c.Remotes {
		if r.Name == "" {
			errs = append(errs, fmt.Errorf("remotes[%d]: name is required", i))
			continue
		}
		if seen[r.Name] {
			errs = append(errs, fmt.Errorf("remotes[%d]: duplicate name %q", i, r.Name))
		}
		seen[r.Name] = true
		switch r.Kind {
		case RemoteKindMirror:
			if r.URL == "" {
				errs = append(errs, fmt.Errorf("remote %q: url is required", r.Name))
			}
		case RemoteKindFolder:
			if r.Dir == "" {
				errs = append(errs, fmt.Errorf("remote %q: dir is required", r.Name))
			}
		default:
			errs = append(errs, fmt.Errorf("remote %q: unknown kind %q", r.Name, r.Kind))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
