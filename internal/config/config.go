package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the client's runtime configuration.
// Sources, highest priority first: environment, config file, defaults.
type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	Storage  StorageConfig  `yaml:"storage"`
	Audio    AudioConfig    `yaml:"audio"`
	Deepgram DeepgramConfig `yaml:"deepgram"`
	Rules    RulesConfig    `yaml:"rules"`
	Session  SessionConfig  `yaml:"session"`
	Logging  LoggingConfig  `yaml:"logging"`

	// Source is the config file that was read, if any.
	Source string `yaml:"-"`
}

type BackendConfig struct {
	URL string `yaml:"url"`
	// Timeout bounds each request; zero waits for as long as the server takes.
	Timeout time.Duration `yaml:"timeout"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type AudioConfig struct {
	RecorderCommand string `yaml:"recorder_command"`
	InputFormat     string `yaml:"input_format"`
	InputDevice     string `yaml:"input_device"`
	SampleRate      int    `yaml:"sample_rate"`
	Channels        int    `yaml:"channels"`
}

type DeepgramConfig struct {
	// Captions turns the live caption preview on when an API key is set.
	Captions    bool   `yaml:"captions"`
	APIKey      string `yaml:"api_key"`
	APIBaseURL  string `yaml:"api_base_url"`
	Model       string `yaml:"model"`
	Language    string `yaml:"language"`
	SmartFormat bool   `yaml:"smart_format"`
}

type RulesConfig struct {
	Path           string   `yaml:"path"`
	Inline         []string `yaml:"inline"`
	IterationLimit int      `yaml:"iteration_limit"`
}

type SessionConfig struct {
	ChunkSize    int           `yaml:"chunk_size"`
	CaptionGrace time.Duration `yaml:"caption_grace"`
}

type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
	// Dev mirrors logs to the console.
	Dev bool `yaml:"dev"`
}

// DefaultPath returns ~/.config/chatdesk/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "chatdesk", "config.yaml")
}

func defaults(home string) Config {
	return Config{
		Backend: BackendConfig{URL: "http://127.0.0.1:8000"},
		Storage: StorageConfig{Path: filepath.Join(home, ".local", "share", "chatdesk", "state.db")},
		Audio: AudioConfig{
			RecorderCommand: "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			SampleRate:      16000,
			Channels:        1,
		},
		Deepgram: DeepgramConfig{
			Captions:    true,
			APIBaseURL:  "https://api.deepgram.com/v1",
			Model:       "nova-2",
			SmartFormat: true,
		},
		Rules: RulesConfig{
			Path:           filepath.Join(home, ".config", "chatdesk", "compose.rules"),
			IterationLimit: 30,
		},
		Session: SessionConfig{
			ChunkSize:    4096,
			CaptionGrace: 1500 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Dir:   filepath.Join(home, ".local", "state", "chatdesk", "logs"),
			Level: "info",
			JSON:  true,
		},
	}
}

// Load resolves configuration. path, when set, must exist; otherwise
// CHATDESK_CONFIG or the default path is read if present.
func Load(path string) (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}
	cfg := defaults(home)

	required := true
	if strings.TrimSpace(path) == "" {
		path = strings.TrimSpace(os.Getenv("CHATDESK_CONFIG"))
	}
	if path == "" {
		path = filepath.Join(home, ".config", "chatdesk", "config.yaml")
		required = false
	}
	if err := readFile(path, required, &cfg); err != nil {
		return Config{}, err
	}

	applyEnv(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func readFile(path string, required bool, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Source = path
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Backend.URL = envOrDefault("CHATDESK_BACKEND_URL", cfg.Backend.URL)
	cfg.Backend.Timeout = envOrDefaultDuration("CHATDESK_REQUEST_TIMEOUT", cfg.Backend.Timeout)
	cfg.Storage.Path = envOrDefault("CHATDESK_DB_PATH", cfg.Storage.Path)

	cfg.Audio.RecorderCommand = envOrDefault("CHATDESK_FFMPEG_COMMAND", cfg.Audio.RecorderCommand)
	cfg.Audio.InputFormat = envOrDefault("CHATDESK_AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = firstNonEmpty(
		os.Getenv("CHATDESK_AUDIO_INPUT_DEVICE"),
		os.Getenv("PULSE_SOURCE"),
		cfg.Audio.InputDevice,
	)
	cfg.Audio.SampleRate = envOrDefaultInt("CHATDESK_SAMPLE_RATE", cfg.Audio.SampleRate)
	cfg.Audio.Channels = envOrDefaultInt("CHATDESK_CHANNELS", cfg.Audio.Channels)

	cfg.Deepgram.Captions = envOrDefaultBool("CHATDESK_CAPTIONS", cfg.Deepgram.Captions)
	cfg.Deepgram.APIKey = envOrDefault("DEEPGRAM_API_KEY", cfg.Deepgram.APIKey)
	cfg.Deepgram.APIBaseURL = envOrDefault("DEEPGRAM_API_BASE", cfg.Deepgram.APIBaseURL)
	cfg.Deepgram.Model = envOrDefault("DEEPGRAM_MODEL", cfg.Deepgram.Model)
	cfg.Deepgram.Language = envOrDefault("DEEPGRAM_LANGUAGE", cfg.Deepgram.Language)
	cfg.Deepgram.SmartFormat = envOrDefaultBool("DEEPGRAM_SMART_FORMAT", cfg.Deepgram.SmartFormat)

	cfg.Rules.Path = envOrDefault("CHATDESK_RULES_FILE", cfg.Rules.Path)
	cfg.Rules.IterationLimit = envOrDefaultInt("CHATDESK_RULE_ITERATION_LIMIT", cfg.Rules.IterationLimit)

	cfg.Session.ChunkSize = envOrDefaultInt("CHATDESK_AUDIO_CHUNK_SIZE", cfg.Session.ChunkSize)
	if ms, ok := envNonNegativeInt("CHATDESK_CAPTION_GRACE_MS"); ok {
		cfg.Session.CaptionGrace = time.Duration(ms) * time.Millisecond
	}

	cfg.Logging.Dir = envOrDefault("CHATDESK_LOG_DIR", cfg.Logging.Dir)
	cfg.Logging.Level = envOrDefault("CHATDESK_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.JSON = envOrDefaultBool("CHATDESK_LOG_JSON", cfg.Logging.JSON)
	cfg.Logging.Dev = envOrDefaultBool("CHATDESK_DEV", cfg.Logging.Dev)
}

func normalize(cfg *Config) {
	cfg.Backend.URL = strings.TrimRight(strings.TrimSpace(cfg.Backend.URL), "/")
	if cfg.Backend.Timeout < 0 {
		cfg.Backend.Timeout = 0
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = 30
	}
	if cfg.Session.ChunkSize < 256 {
		cfg.Session.ChunkSize = 4096
	}
	if cfg.Session.CaptionGrace <= 0 {
		cfg.Session.CaptionGrace = 1500 * time.Millisecond
	}
}

// CaptionsEnabled reports whether live captions should be attempted.
func (c Config) CaptionsEnabled() bool {
	return c.Deepgram.Captions && strings.TrimSpace(c.Deepgram.APIKey) != ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// envOrDefaultDuration accepts Go durations ("30s") or whole seconds ("30").
func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	return fallback
}

func envNonNegativeInt(key string) (int, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return 0, false
	}
	return parsed, true
}
