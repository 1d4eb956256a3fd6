package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "studyroom.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := Load(Flags("test"), nil)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.HTTP.Addr != ":8080" || cfg.Storage.DB != "studyroom.db" || cfg.Gemini.Model != "gemini-2.5-flash" {
			t.Errorf("Unexpected defaults: %+v", cfg)
		}
		if cfg.Pomodoro.Focus != 25*time.Minute || cfg.Pomodoro.Break != 5*time.Minute {
			t.Errorf("Expected 25m/5m but got %v/%v", cfg.Pomodoro.Focus, cfg.Pomodoro.Break)
		}
		if cfg.Resources.PollInterval != 5*time.Second {
			t.Errorf("Expected a 5s resource poll but got %v", cfg.Resources.PollInterval)
		}
		if cfg.Level() != slog.LevelInfo {
			t.Errorf("Expected info level but got %v", cfg.Level())
		}
	})

	t.Run("File, then environment, then flags", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), strings.Join([]string{
			"log_level: debug",
			"http:",
			"  addr: \":9000\"",
			"  base_url: https://study.example.com",
			"storage:",
			"  db: from-file.db",
			"pomodoro:",
			"  focus: 50m",
			"  break: 10m",
			"resources:",
			"  poll_interval: 2s",
		}, "\n"))
		t.Setenv("STUDYROOM_STORAGE__DB", "from-env.db")
		t.Setenv("STUDYROOM_HTTP__ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")
		t.Setenv("GEMINI_API_KEY", "plain-key")

		cfg, err := Load(Flags("test"), []string{"--config", path, "--http.addr", ":7000", "--import", "bio=./decks", "--import", "chem=git@github.com:x/y.git"})
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.HTTP.Addr != ":7000" {
			t.Errorf("Expected the flag to win but got %s", cfg.HTTP.Addr)
		}
		if cfg.Storage.DB != "from-env.db" {
			t.Errorf("Expected the environment to win over the file but got %s", cfg.Storage.DB)
		}
		if cfg.HTTP.BaseURL != "https://study.example.com" {
			t.Errorf("Expected the file value to beat the flag default but got %s", cfg.HTTP.BaseURL)
		}
		if len(cfg.HTTP.AllowedOrigins) != 2 {
			t.Errorf("Expected 2 origins but got %v", cfg.HTTP.AllowedOrigins)
		}
		if cfg.Pomodoro.Focus != 50*time.Minute {
			t.Errorf("Expected 50m focus but got %v", cfg.Pomodoro.Focus)
		}
		if cfg.Resources.PollInterval != 2*time.Second {
			t.Errorf("Expected a 2s resource poll from the file but got %v", cfg.Resources.PollInterval)
		}
		if cfg.Gemini.APIKey != "plain-key" {
			t.Errorf("Expected GEMINI_API_KEY to be picked up but got %q", cfg.Gemini.APIKey)
		}
		if len(cfg.Imports) != 2 || cfg.Imports[0] != "bio=./decks" {
			t.Errorf("Unexpected imports: %v", cfg.Imports)
		}
		if cfg.Level() != slog.LevelDebug {
			t.Errorf("Expected debug level but got %v", cfg.Level())
		}
	})

	t.Run("Prefixed key wins over GEMINI_API_KEY", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "plain-key")
		t.Setenv("STUDYROOM_GEMINI__API_KEY", "prefixed-key")
		cfg, err := Load(Flags("test"), nil)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Gemini.APIKey != "prefixed-key" {
			t.Errorf("Expected prefixed-key but got %q", cfg.Gemini.APIKey)
		}
	})

	t.Run("Invalid values are rejected", func(t *testing.T) {
		testCases := [][]string{
			{"--log_level", "verbose"},
			{"--http.base_url", "not a url"},
			{"--pomodoro.focus", "0s"},
			{"--resources.poll_interval", "0s"},
		}
		for _, args := range testCases {
			if _, err := Load(Flags("test"), args); err == nil {
				t.Errorf("Expected an error for %v", args)
			}
		}
	})

	t.Run("Missing config file", func(t *testing.T) {
		if _, err := Load(Flags("test"), []string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}); err == nil {
			t.Error("Expected an error for a missing config file")
		}
	})
}

func TestWatch(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "log_level: info\n")
	flags := Flags("test")
	cfg, err := Load(flags, []string{"--config", path})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var level slog.LevelVar
	level.Set(cfg.Level())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan Config, 4)
	if err := Watch(ctx, flags, cfg, &level, func(c Config) { changed <- c }); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	// Replace the file in one step so the watcher never sees a half-written config.
	tmp := filepath.Join(filepath.Dir(path), "next.yaml.tmp")
	if err := os.WriteFile(tmp, []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("Failed to replace config: %v", err)
	}
	select {
	case c := <-changed:
		if c.LogLevel != "debug" {
			t.Errorf("Expected debug but got %s", c.LogLevel)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for the config reload")
	}
	if level.Level() != slog.LevelDebug {
		t.Errorf("Expected the level var to be debug but got %v", level.Level())
	}

	t.Run("Without a config file there is nothing to watch", func(t *testing.T) {
		if err := Watch(ctx, flags, Config{}, &level, nil); err != nil {
			t.Errorf("Expected no error but got %v", err)
		}
	})
}
