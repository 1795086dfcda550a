package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "/custom/config.toml")
		t.Setenv(EnvHome, "/custom/dsdaup")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		if defaults["config_path"] != "/custom/config.toml" {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], "/custom/config.toml")
		}
		if defaults["base_dir"] != "/custom/dsdaup" {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], "/custom/dsdaup")
		}
		if defaults["log_dir"] != "/custom/dsdaup/log" {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], "/custom/dsdaup/log")
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		t.Setenv(EnvConfigPath, "")
		t.Setenv(EnvHome, "")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()

		wantConfig := filepath.Join(homeDir, ".config", "dsdaup.toml")
		if defaults["config_path"] != wantConfig {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], wantConfig)
		}

		wantBase := filepath.Join(homeDir, ".local", "share", "dsdaup")
		if defaults["base_dir"] != wantBase {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], wantBase)
		}
	})
}

func TestLoadDotEnv(t *testing.T) {
	t.Run("missing file is ignored", func(t *testing.T) {
		if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
			t.Errorf("LoadDotEnv() error = %v", err)
		}
	})

	t.Run("sets unset variables only", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		content := EnvAPIPassword + "=from-file\n" + EnvAPIUsername + "=file-user\n"
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		t.Setenv(EnvAPIUsername, "env-user")
		t.Setenv(EnvAPIPassword, "")
		os.Unsetenv(EnvAPIPassword)

		if err := LoadDotEnv(path); err != nil {
			t.Fatalf("LoadDotEnv() error = %v", err)
		}
		if got := os.Getenv(EnvAPIPassword); got != "from-file" {
			t.Errorf("%s = %q, want from-file", EnvAPIPassword, got)
		}
		if got := os.Getenv(EnvAPIUsername); got != "env-user" {
			t.Errorf("%s = %q, want env-user", EnvAPIUsername, got)
		}
	})
}
