// Package config handles TOML-based configuration loading and validation.
// The file is parsed as data only and merged over the defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"nineanimator/internal/media"
)

const appName = "nineanimator"

// Config holds all application configuration.
type Config struct {
	Source       string   `toml:"source"`
	Server       string   `toml:"server"`
	Player       string   `toml:"player"`
	Quality      string   `toml:"quality"`
	Purpose      string   `toml:"purpose"`
	SubsLanguage string   `toml:"subs_language"`
	History      bool     `toml:"history"`
	DownloadDir  string   `toml:"download_dir"`
	Concurrency  int      `toml:"download_concurrency"`
	CacheTTL     Duration `toml:"cache_ttl"`
	APIAddr      string   `toml:"api_addr"`
	Debug        bool     `toml:"debug"`
}

// Duration lets TOML values like "5m" decode into a time.Duration.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Source:       "animepahe",
		Server:       "",
		Player:       "mpv",
		Quality:      "1080",
		Purpose:      "playback",
		SubsLanguage: "english",
		History:      true,
		DownloadDir:  "~/Videos/nineanimator",
		Concurrency:  2,
		CacheTTL:     Duration{5 * time.Minute},
		APIAddr:      "127.0.0.1:7780",
		Debug:        false,
	}
}

// configDir returns the XDG-compliant config directory.
func configDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".config", appName), nil
}

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the config file and merges with defaults.
// If the config file doesn't exist, defaults are returned.
func Load() (*Config, error) {
	cfg := Default()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks config values are within acceptable bounds.
func (c *Config) Validate() error {
	validPlayers := map[string]bool{
		"mpv": true, "vlc": true, "iina": true, "celluloid": true,
	}
	if !validPlayers[strings.ToLower(c.Player)] {
		return fmt.Errorf("unsupported player %q (valid: mpv, vlc, iina, celluloid)", c.Player)
	}

	validQualities := map[string]bool{
		"360": true, "480": true, "720": true, "1080": true,
	}
	if !validQualities[c.Quality] {
		return fmt.Errorf("unsupported quality %q (valid: 360, 480, 720, 1080)", c.Quality)
	}

	if _, err := media.ParsePurpose(c.Purpose); err != nil {
		return err
	}

	if strings.TrimSpace(c.Source) == "" {
		return fmt.Errorf("source cannot be empty")
	}

	if c.Concurrency < 1 || c.Concurrency > 8 {
		return fmt.Errorf("download_concurrency must be between 1 and 8, got %d", c.Concurrency)
	}

	if c.CacheTTL.Duration < 0 {
		return fmt.Errorf("cache_ttl cannot be negative")
	}

	return nil
}

// PlaybackPurpose returns the configured purpose. Validate has already
// rejected unknown values, so the error is dropped.
func (c *Config) PlaybackPurpose() media.Purpose {
	p, _ := media.ParsePurpose(c.Purpose)
	return p
}

// ExpandDownloadDir resolves ~ in the download directory path.
func (c *Config) ExpandDownloadDir() (string, error) {
	return expandHome(c.DownloadDir)
}

func expandHome(dir string) (string, error) {
	if strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding home dir: %w", err)
		}
		dir = filepath.Join(home, dir[2:])
	}
	return filepath.Abs(dir)
}

// DataDir returns the XDG data directory for persistent state.
func DataDir() (string, error) {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, appName), nil
}

// StatePath returns the path to the sqlite state database.
func StatePath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "state.db"), nil
}
