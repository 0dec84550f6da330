package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv("DM_CONFIG_PATH", "/custom/config.toml")
		t.Setenv("DM_HOME", "/custom/dm")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		if defaults["config_path"] != "/custom/config.toml" {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], "/custom/config.toml")
		}
		if defaults["base_dir"] != "/custom/dm" {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], "/custom/dm")
		}
		if defaults["log_dir"] != "/custom/dm/log" {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], "/custom/dm/log")
		}
	})

	t.Run("falls back to home dir defaults", func(t *testing.T) {
		t.Setenv("DM_CONFIG_PATH", "")
		t.Setenv("DM_HOME", "")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()

		wantConfig := filepath.Join(homeDir, ".config", "dm.toml")
		if defaults["config_path"] != wantConfig {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], wantConfig)
		}

		wantBase := filepath.Join(homeDir, ".local", "share", "dm")
		if defaults["base_dir"] != wantBase {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], wantBase)
		}

		wantLog := filepath.Join(wantBase, "log")
		if defaults["log_dir"] != wantLog {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], wantLog)
		}
	})
}

func TestDefaultUser(t *testing.T) {
	t.Run("uses DM_USER when set", func(t *testing.T) {
		t.Setenv("DM_USER", "alice")

		got, err := DefaultUser()
		if err != nil {
			t.Fatalf("DefaultUser() error = %v", err)
		}
		if got != "alice" {
			t.Errorf("DefaultUser() = %q, want %q", got, "alice")
		}
	})

	t.Run("falls back to the OS user", func(t *testing.T) {
		t.Setenv("DM_USER", "")

		got, err := DefaultUser()
		if err != nil {
			t.Skipf("no OS user available: %v", err)
		}
		if got == "" {
			t.Error("DefaultUser() returned empty name")
		}
	})
}
