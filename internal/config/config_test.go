package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"nineanimator/internal/media"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Player != "mpv" {
		t.Errorf("default player = %q, want mpv", cfg.Player)
	}
	if cfg.Source != "animepahe" {
		t.Errorf("default source = %q, want animepahe", cfg.Source)
	}
	if cfg.PlaybackPurpose() != media.Playback {
		t.Errorf("default purpose = %v, want playback", cfg.PlaybackPurpose())
	}
	if !cfg.History {
		t.Error("default history should be true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"invalid player", func(c *Config) { c.Player = "notepad" }, true},
		{"invalid quality", func(c *Config) { c.Quality = "4k" }, true},
		{"invalid purpose", func(c *Config) { c.Purpose = "stream" }, true},
		{"empty source", func(c *Config) { c.Source = " " }, true},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, true},
		{"too much concurrency", func(c *Config) { c.Concurrency = 32 }, true},
		{"negative cache", func(c *Config) { c.CacheTTL = Duration{-time.Second} }, true},
		{"valid vlc", func(c *Config) { c.Player = "vlc" }, false},
		{"valid cast", func(c *Config) { c.Purpose = "Cast" }, false},
		{"valid 720", func(c *Config) { c.Quality = "720" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromTOML(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	appDir := filepath.Join(tmpDir, "nineanimator")
	if err := os.MkdirAll(appDir, 0755); err != nil {
		t.Fatal(err)
	}

	content := `
source = "gogoanime"
server = "mp4upload"
player = "vlc"
quality = "720"
purpose = "download"
history = false
download_concurrency = 4
cache_ttl = "90s"
`
	if err := os.WriteFile(filepath.Join(appDir, "config.toml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Source != "gogoanime" {
		t.Errorf("source = %q, want gogoanime", cfg.Source)
	}
	if cfg.Server != "mp4upload" {
		t.Errorf("server = %q, want mp4upload", cfg.Server)
	}
	if cfg.Player != "vlc" {
		t.Errorf("player = %q, want vlc", cfg.Player)
	}
	if cfg.PlaybackPurpose() != media.Download {
		t.Errorf("purpose = %q, want download", cfg.Purpose)
	}
	if cfg.Concurrency != 4 {
		t.Errorf("concurrency = %d, want 4", cfg.Concurrency)
	}
	if cfg.CacheTTL.Duration != 90*time.Second {
		t.Errorf("cache_ttl = %v, want 90s", cfg.CacheTTL)
	}
	if cfg.History {
		t.Error("history should be false")
	}
	// untouched keys keep their defaults
	if cfg.SubsLanguage != "english" {
		t.Errorf("subs_language = %q, want english", cfg.SubsLanguage)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)
	appDir := filepath.Join(tmpDir, "nineanimator")
	os.MkdirAll(appDir, 0755)
	os.WriteFile(filepath.Join(appDir, "config.toml"), []byte(`player = "notepad"`), 0644)

	if _, err := Load(); err == nil {
		t.Fatal("Load() should reject an unsupported player")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() should not error on missing file: %v", err)
	}
	if cfg.Player != "mpv" {
		t.Errorf("missing file should return defaults, got player = %q", cfg.Player)
	}
}

func TestStatePath(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", tmpDir)

	path, err := StatePath()
	if err != nil {
		t.Fatalf("StatePath() error: %v", err)
	}
	want := filepath.Join(tmpDir, "nineanimator", "state.db")
	if path != want {
		t.Errorf("StatePath() = %q, want %q", path, want)
	}
}

func TestExpandDownloadDir(t *testing.T) {
	cfg := Default()
	cfg.DownloadDir = "/tmp/test-downloads"

	dir, err := cfg.ExpandDownloadDir()
	if err != nil {
		t.Fatalf("ExpandDownloadDir() error: %v", err)
	}
	if dir != "/tmp/test-downloads" {
		t.Errorf("got %q, want /tmp/test-downloads", dir)
	}
}
