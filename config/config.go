// Package config loads runtime settings. Precedence, lowest first:
// built-in defaults, YAML file, .env file, process environment, CLI flags
// (applied by main).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/whisper-darkly/kickclient/units"
)

// EnvPrefix prefixes every environment variable the config reads.
const EnvPrefix = "KICKCLIENT_"

// Duration accepts the units formats (hh:mm:ss, Go style, plain seconds) in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	v, err := units.ParseDuration(n.Value)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

// Config holds all runtime settings.
type Config struct {
	Listen           string `yaml:"listen"`            // HTTP command surface address
	OutputDir        string `yaml:"output_dir"`        // default capture directory
	FilenameTemplate string `yaml:"filename_template"` // Go template, without extension
	Driver           string `yaml:"driver"`            // site driver for channel locators

	FFmpegPath     string   `yaml:"ffmpeg_path"`
	FFmpegLogLevel string   `yaml:"ffmpeg_loglevel"`
	MaxReconnects  int      `yaml:"max_reconnects"`
	ReconnectDelay Duration `yaml:"reconnect_delay"`
	InterruptGrace Duration `yaml:"interrupt_grace"` // SIGINT to SIGKILL window

	UserAgent string `yaml:"user_agent"`
	Cookies   string `yaml:"cookies"` // "name=value; name2=value2"

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Listen:           "127.0.0.1:8917",
		OutputDir:        DefaultOutputDir(),
		FilenameTemplate: "KickClient_{{.Name}}_{{.Timestamp}}",
		Driver:           "kick",
		FFmpegPath:       "ffmpeg",
		FFmpegLogLevel:   "error",
		MaxReconnects:    5,
		ReconnectDelay:   Duration(3 * time.Second),
		InterruptGrace:   Duration(10 * time.Second),
		LogLevel:         "info",
		LogFormat:        "normal",
	}
}

// DefaultOutputDir is the user's Downloads folder, or the working
// directory when no home directory is known.
func DefaultOutputDir() string {
	if d := os.Getenv("XDG_DOWNLOAD_DIR"); d != "" {
		return d
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return filepath.Join(home, "Downloads")
}

// Load builds a Config from defaults, the optional YAML file at path, the
// .env files (missing ones are ignored) and the environment.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("load %s: %w", f, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadFile decodes YAML strictly: unknown keys are errors.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return fmt.Errorf("parse: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.Listen = GetEnv(EnvPrefix+"LISTEN", cfg.Listen)
	cfg.OutputDir = GetEnv(EnvPrefix+"OUTPUT_DIR", cfg.OutputDir)
	cfg.FilenameTemplate = GetEnv(EnvPrefix+"FILENAME_TEMPLATE", cfg.FilenameTemplate)
	cfg.Driver = GetEnv(EnvPrefix+"DRIVER", cfg.Driver)
	cfg.FFmpegPath = GetEnv(EnvPrefix+"FFMPEG", cfg.FFmpegPath)
	cfg.FFmpegLogLevel = GetEnv(EnvPrefix+"FFMPEG_LOGLEVEL", cfg.FFmpegLogLevel)
	cfg.MaxReconnects = GetEnvInt(EnvPrefix+"MAX_RECONNECTS", cfg.MaxReconnects)
	cfg.UserAgent = GetEnv(EnvPrefix+"USER_AGENT", cfg.UserAgent)
	cfg.Cookies = GetEnv(EnvPrefix+"COOKIES", cfg.Cookies)
	cfg.LogLevel = GetEnv(EnvPrefix+"LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = GetEnv(EnvPrefix+"LOG_FORMAT", cfg.LogFormat)

	for key, dst := range map[string]*Duration{
		"RECONNECT_DELAY": &cfg.ReconnectDelay,
		"INTERRUPT_GRACE": &cfg.InterruptGrace,
	} {
		if s := os.Getenv(EnvPrefix + key); s != "" {
			d, err := units.ParseDuration(s)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			}
			*dst = Duration(d)
		}
	}
	return nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.FFmpegPath) == "" {
		problems = append(problems, "ffmpeg path is empty")
	}
	if c.MaxReconnects < 0 {
		problems = append(problems, "max reconnects must be >= 0")
	}
	if c.ReconnectDelay < 0 {
		problems = append(problems, "reconnect delay must be >= 0")
	}
	if c.InterruptGrace <= 0 {
		problems = append(problems, "interrupt grace must be > 0")
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		problems = append(problems, "output dir is empty")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}
