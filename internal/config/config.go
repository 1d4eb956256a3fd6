// Package config loads studyroom settings from a YAML file, the environment and command-line flags,
// in increasing order of precedence.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const EnvPrefix = "STUDYROOM_"

type HTTP struct {
	Addr           string   `koanf:"addr" validate:"required"`
	BaseURL        string   `koanf:"base_url" validate:"required,url"`
	AllowedOrigins []string `koanf:"allowed_origins"`
}

type Storage struct {
	DB       string `koanf:"db" validate:"required"`
	BlobDir  string `koanf:"blob_dir" validate:"required"`
	ReposDir string `koanf:"repos_dir" validate:"required"`
}

// Gemini configures text generation. Without an API key the generation features are disabled.
type Gemini struct {
	APIKey string `koanf:"api_key"`
	Model  string `koanf:"model" validate:"required"`
}

type Pomodoro struct {
	Focus time.Duration `koanf:"focus" validate:"gt=0"`
	Break time.Duration `koanf:"break" validate:"gt=0"`
}

// Resources configures the room resource list. Blob storage has no change feed, so open event
// streams re-list it every PollInterval.
type Resources struct {
	PollInterval time.Duration `koanf:"poll_interval" validate:"gt=0"`
}

type Config struct {
	ConfigFile string    `koanf:"config"`
	LogLevel   string    `koanf:"log_level" validate:"oneof=debug info warn error"`
	HTTP       HTTP      `koanf:"http"`
	Storage    Storage   `koanf:"storage"`
	Gemini     Gemini    `koanf:"gemini"`
	Pomodoro   Pomodoro  `koanf:"pomodoro"`
	Resources  Resources `koanf:"resources"`
	// Imports are "course=path" pairs to reconcile at startup.
	Imports []string `koanf:"import"`
}

// Level returns the slog level named by LogLevel.
func (c Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Flags returns the command-line flags understood by Load, with their defaults.
func Flags(name string) *pflag.FlagSet {
	f := pflag.NewFlagSet(name, pflag.ContinueOnError)
	f.String("config", "", "Path to a YAML config file")
	f.String("log_level", "info", "Log level: debug, info, warn or error")
	f.String("http.addr", ":8080", "HTTP listen address")
	f.String("http.base_url", "http://localhost:8080", "Public base URL used in resource links")
	f.StringSlice("http.allowed_origins", []string{"*"}, "CORS allowed origins")
	f.String("storage.db", "studyroom.db", "Path to the SQLite database file")
	f.String("storage.blob_dir", "data/blobs", "Directory for uploaded room resources")
	f.String("storage.repos_dir", "repos", "Directory for git deck checkouts")
	f.String("gemini.api_key", "", "Gemini API key")
	f.String("gemini.model", "gemini-2.5-flash", "Gemini model name")
	f.Duration("pomodoro.focus", 25*time.Minute, "Focus session length")
	f.Duration("pomodoro.break", 5*time.Minute, "Break length")
	f.Duration("resources.poll_interval", 5*time.Second, "How often open rooms re-list their resources")
	f.StringArray("import", nil, "Import a deck at startup as <course>=<path/or/url.git> (repeatable)")
	return f
}

// envKey maps STUDYROOM_HTTP__BASE_URL to http.base_url.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

func loadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat .env: %w", err)
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

func configPath(flags *pflag.FlagSet) string {
	p, _ := flags.GetString("config")
	if p == "" {
		p = os.Getenv(EnvPrefix + "CONFIG")
	}
	return p
}

func read(flags *pflag.FlagSet, path string) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	geminiKey := env.Provider("GEMINI_API_KEY", ".", func(s string) string {
		if s == "GEMINI_API_KEY" {
			return "gemini.api_key"
		}
		return ""
	})
	if err := k.Load(geminiKey, nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment: %w", err)
	}
	prefixed := env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, any) {
		key = envKey(key)
		if key == "http.allowed_origins" {
			return key, strings.Split(value, ",")
		}
		return key, value
	})
	if err := k.Load(prefixed, nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment: %w", err)
	}
	if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load flags: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ConfigFile = path
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Load parses args into flags and layers the config file, .env, environment and flags.
func Load(flags *pflag.FlagSet, args []string) (Config, error) {
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}

	path := configPath(flags)
	if path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to resolve config path %s: %w", path, err)
		}
		path = abs
	}
	return read(flags, path)
}

// Watch re-reads the config file whenever it changes and applies the new log level to level.
// Invalid edits are logged and ignored. onChange, if set, receives each accepted config.
// Watching stops when ctx is cancelled.
func Watch(ctx context.Context, flags *pflag.FlagSet, cfg Config, level *slog.LevelVar, onChange func(Config)) error {
	if cfg.ConfigFile == "" {
		return nil
	}
	f := file.Provider(cfg.ConfigFile)
	err := f.Watch(func(_ any, err error) {
		if err != nil {
			slog.Warn("Config watch stopped", "path", cfg.ConfigFile, "error", err)
			return
		}
		next, err := read(flags, cfg.ConfigFile)
		if err != nil {
			slog.Warn("Ignoring invalid config change", "path", cfg.ConfigFile, "error", err)
			return
		}
		level.Set(next.Level())
		slog.Info("Config reloaded", "path", cfg.ConfigFile, "log_level", next.LogLevel)
		if onChange != nil {
			onChange(next)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to watch config file %s: %w", cfg.ConfigFile, err)
	}
	go func() {
		<-ctx.Done()
		f.Unwatch()
	}()
	return nil
}
