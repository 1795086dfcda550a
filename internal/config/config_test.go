package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		BaseDir: "/home/user/.local/share/dsdaup",
		LogDir:  "/home/user/.local/share/dsdaup/log",
		Cache: CacheConfig{
			Type:     "s3",
			S3Bucket: "wads",
			S3Prefix: "cache/",
			S3Region: "us-east-1",
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: "/home/user/.local/share/dsdaup/db"},
		Replay: ReplayConfig{
			Binary:         "/usr/local/bin/dsda-doom",
			IWADDir:        "/games/iwads",
			IWAD:           "doom.wad",
			TimeoutSeconds: 60,
			ExtraArgs:      []string{"-complevel", "9"},
		},
		Registry: LocatorConfig{Enabled: true, BaseURL: "https://dsdarchive.com", RequestsPerSecond: 2},
		Idgames:  LocatorConfig{Enabled: false},
		API: APIConfig{
			BaseURL:         "https://dsdarchive.com",
			Username:        "runner",
			CredentialsPath: "/keys/api.age",
		},
		Validation: ValidationConfig{
			EpochCutoff:    "1995-01-01",
			RequiredFields: []string{"players", "wad"},
		},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.BaseDir != original.BaseDir {
		t.Errorf("BaseDir = %q, want %q", got.BaseDir, original.BaseDir)
	}
	if got.LogDir != original.LogDir {
		t.Errorf("LogDir = %q, want %q", got.LogDir, original.LogDir)
	}
	if got.Cache.Type != "s3" || got.Cache.S3Bucket != "wads" || got.Cache.S3Region != "us-east-1" {
		t.Errorf("Cache = %+v, want %+v", got.Cache, original.Cache)
	}
	if got.Database.Type != "sqlite" {
		t.Errorf("Database.Type = %q, want %q", got.Database.Type, "sqlite")
	}
	if got.Replay.Binary != original.Replay.Binary {
		t.Errorf("Replay.Binary = %q, want %q", got.Replay.Binary, original.Replay.Binary)
	}
	if len(got.Replay.ExtraArgs) != 2 {
		t.Fatalf("len(Replay.ExtraArgs) = %d, want 2", len(got.Replay.ExtraArgs))
	}
	if got.Registry.RequestsPerSecond != 2 {
		t.Errorf("Registry.RequestsPerSecond = %v, want 2", got.Registry.RequestsPerSecond)
	}
	if got.Idgames.Enabled {
		t.Error("Idgames.Enabled = true, want false")
	}
	if got.API.Username != "runner" {
		t.Errorf("API.Username = %q, want %q", got.API.Username, "runner")
	}
	if got.Validation.EpochCutoff != "1995-01-01" {
		t.Errorf("Validation.EpochCutoff = %q, want %q", got.Validation.EpochCutoff, "1995-01-01")
	}
	if len(got.Validation.RequiredFields) != 2 {
		t.Fatalf("len(Validation.RequiredFields) = %d, want 2", len(got.Validation.RequiredFields))
	}
}

func TestManager_Write_OmitsPassword(t *testing.T) {
	var buf bytes.Buffer
	m := &Manager{}
	if err := m.Write(&buf, NewConfig("/data/dsdaup")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if strings.Contains(strings.ToLower(buf.String()), "password") {
		t.Errorf("config output mentions a password:\n%s", buf.String())
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/dsdaup")

	if cfg.BaseDir != "/data/dsdaup" {
		t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, "/data/dsdaup")
	}
	if cfg.LogDir != "/data/dsdaup/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/dsdaup/log")
	}
	if cfg.Cache.Type != "filesystem" || cfg.Cache.FSRoot != "/data/dsdaup/cache" {
		t.Errorf("Cache = %+v", cfg.Cache)
	}
	if cfg.Database.Type != "sqlite" || cfg.Database.DataDir != "/data/dsdaup/db" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.API.CredentialsPath != "/data/dsdaup/keys/api.age" {
		t.Errorf("API.CredentialsPath = %q, want %q", cfg.API.CredentialsPath, "/data/dsdaup/keys/api.age")
	}
	if cfg.Validation.EpochCutoff != "1994-01-01" {
		t.Errorf("Validation.EpochCutoff = %q, want %q", cfg.Validation.EpochCutoff, "1994-01-01")
	}
	if got := cfg.Replay.Timeout(); got != 5*time.Minute {
		t.Errorf("Replay.Timeout() = %v, want 5m", got)
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "dsdaup.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "dsdaup.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		err := Init(path, cfg)
		if err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "dsdaup.toml")
		cfg := NewConfig(dir)
		cfg.Database = DatabaseConfig{Type: "memory"}
		cfg.API.Username = "read-test"

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.API.Username != "read-test" {
			t.Errorf("API.Username = %q, want %q", got.API.Username, "read-test")
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want %q", got.Database.Type, "memory")
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/dsdaup.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
