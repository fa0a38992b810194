// Package config loads ChainShell's settings: a JSON file in the data
// directory, then a .env file next to the executable, then CHAINSHELL_*
// environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"ChainShell/sidecar"
)

// EnvPrefix is the prefix for environment overrides, e.g. CHAINSHELL_LOG_LEVEL
// or CHAINSHELL_BACKEND_PATH. Variables without the prefix are never read.
const EnvPrefix = "CHAINSHELL"

const (
	defaultWidth  = 1100
	defaultHeight = 760
)

// BackendConfig controls how the backend sidecar is launched.
type BackendConfig struct {
	// Path to the backend executable. Relative paths resolve against the
	// directory containing the ChainShell executable.
	Path string `json:"path"`
	// WorkDir overrides the backend's working directory. Empty inherits ours.
	WorkDir string `json:"workDir" split_words:"true"`
	// Env holds extra KEY=VALUE entries for the backend.
	Env []string `json:"env"`
	// CleanEnv stops the backend from inheriting our environment.
	CleanEnv bool `json:"cleanEnv" split_words:"true"`
	// HealthURL is polled after launch to detect readiness. Empty disables.
	HealthURL string `json:"healthURL" split_words:"true"`
	// GraceSeconds is how long shutdown waits before killing the backend.
	GraceSeconds int `json:"graceSeconds" split_words:"true"`
}

// GracePeriod returns the shutdown grace period.
func (b BackendConfig) GracePeriod() time.Duration {
	if b.GraceSeconds <= 0 {
		return sidecar.DefaultGracePeriod
	}
	return time.Duration(b.GraceSeconds) * time.Second
}

// AppConfig holds all persistent settings.
type AppConfig struct {
	LogLevel     string        `json:"logLevel" split_words:"true"`
	WindowWidth  int           `json:"windowWidth" ignored:"true"`
	WindowHeight int           `json:"windowHeight" ignored:"true"`
	Backend      BackendConfig `json:"backend"`

	// RequireBackend makes a backend launch failure fatal to the host.
	RequireBackend bool `json:"requireBackend" split_words:"true"`
	// QuitOnBackendExit quits without asking when the backend dies.
	QuitOnBackendExit bool `json:"quitOnBackendExit" split_words:"true"`
}

// ParseLogLevel maps the logLevel setting onto a slog level. Anything other
// than "debug" or "info" means error.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	default:
		return slog.LevelError
	}
}

// LogLevelName is the inverse of ParseLogLevel.
func LogLevelName(level slog.Level) string {
	switch {
	case level <= slog.LevelDebug:
		return "debug"
	case level <= slog.LevelInfo:
		return "info"
	default:
		return "error"
	}
}

var (
	appDataDir     string
	appDataDirOnce sync.Once
)

// Default returns config with default values.
func Default() *AppConfig {
	return &AppConfig{
		LogLevel:     "error",
		WindowWidth:  defaultWidth,
		WindowHeight: defaultHeight,
		Backend: BackendConfig{
			Path:         defaultBackendPath(),
			HealthURL:    "http://127.0.0.1:5000/health",
			GraceSeconds: int(sidecar.DefaultGracePeriod / time.Second),
		},
		RequireBackend: true,
	}
}

func defaultBackendPath() string {
	if runtime.GOOS == "windows" {
		return "./backend.exe"
	}
	return "./backend"
}

// AppDataDir returns the path to ~/.chainshell/, creating it if needed.
func AppDataDir() string {
	appDataDirOnce.Do(func() {
		home, err := os.UserHomeDir()
		if err != nil {
			// Fall back to the executable's directory
			if dir, err2 := sidecar.ExecutableDir(); err2 == nil {
				appDataDir = dir
			} else {
				appDataDir = "."
			}
			return
		}
		appDataDir = filepath.Join(home, ".chainshell")
		os.MkdirAll(appDataDir, 0755)
	})
	return appDataDir
}

// DataPath returns the full path for a file inside the data directory.
func DataPath(elem ...string) string {
	parts := append([]string{AppDataDir()}, elem...)
	return filepath.Join(parts...)
}

// FilePath is where the JSON config lives.
func FilePath() string {
	return DataPath("config.json")
}

// EnvFilePath is the optional .env file next to the executable, or "" if the
// executable cannot be located.
func EnvFilePath() string {
	dir, err := sidecar.ExecutableDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, ".env")
}

// Load reads the config from the default locations.
func Load() *AppConfig {
	return LoadFrom(FilePath(), EnvFilePath())
}

// LoadFrom reads file, then applies envFile and CHAINSHELL_* variables on
// top. Problems are reported to stderr and the offending layer is skipped;
// the logger does not exist yet at this point.
func LoadFrom(file, envFile string) *AppConfig {
	cfg := LoadFile(file)

	if envFile != "" {
		// godotenv never overrides variables already set in the environment.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "environment overrides ignored: %v\n", err)
	}

	if cfg.WindowWidth <= 0 {
		cfg.WindowWidth = defaultWidth
	}
	if cfg.WindowHeight <= 0 {
		cfg.WindowHeight = defaultHeight
	}
	if cfg.Backend.Path == "" {
		cfg.Backend.Path = defaultBackendPath()
	}

	return cfg
}

// LoadFile returns the defaults overlaid with file only. This is what Save
// should be given, so environment overrides never become persistent.
func LoadFile(file string) *AppConfig {
	cfg := Default()

	data, err := os.ReadFile(file)
	if err != nil {
		return cfg
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config file invalid, using defaults: %v\n", err)
		return Default()
	}
	return cfg
}

// applyEnv overlays CHAINSHELL_* variables. The config is left untouched if
// any variable fails to parse.
func applyEnv(cfg *AppConfig) error {
	overlay := *cfg
	overlay.Backend.Env = append([]string(nil), cfg.Backend.Env...)
	if err := envconfig.Process(EnvPrefix, &overlay); err != nil {
		return err
	}
	*cfg = overlay
	return nil
}

// Save writes cfg to file as indented JSON.
func Save(file string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(file, data, 0644)
}
