package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	DefaultMaxAge    = 7 * 24 * time.Hour
	maxMessageLength = 4000
	maxValueLength   = 500
	maxDataKeys      = 40
	redacted         = "[REDACTED]"
)

// sensitiveKeys are matched as substrings of lower-cased attribute keys.
var sensitiveKeys = []string{
	"password", "passwd", "token", "secret", "api_key", "apikey",
	"authorization", "credential", "cookie",
}

// Config controls where logs go.
type Config struct {
	// Dir receives one file per day; empty disables file output.
	Dir    string
	Prefix string
	Level  slog.Level
	JSON   bool
	MaxAge time.Duration
	// Console mirrors every record to this writer (stderr for chatctl, stdout in dev).
	Console io.Writer
}

// DefaultDir returns ~/.local/state/chatdesk/logs.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "state", "chatdesk", "logs")
}

// ParseLevel maps debug/info/warn/error to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger. The returned closer releases the log file.
func New(cfg Config) (*slog.Logger, io.Closer, error) {
	var writers []io.Writer
	var closer io.Closer = nopCloser{}

	if cfg.Dir != "" {
		prefix := cfg.Prefix
		if prefix == "" {
			prefix = "chatdesk"
		}
		maxAge := cfg.MaxAge
		if maxAge <= 0 {
			maxAge = DefaultMaxAge
		}
		file, err := newDailyFile(cfg.Dir, prefix, maxAge)
		if err != nil {
			return nil, nil, fmt.Errorf("open log directory: %w", err)
		}
		writers = append(writers, file)
		closer = file
	}
	if cfg.Console != nil {
		writers = append(writers, cfg.Console)
	}

	var out io.Writer = io.Discard
	if len(writers) > 0 {
		out = io.MultiWriter(writers...)
	}

	opts := &slog.HandlerOptions{Level: cfg.Level, ReplaceAttr: redactAttr}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler), closer, nil
}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		if t, ok := a.Value.Any().(time.Time); ok {
			a.Value = slog.StringValue(t.Format(time.RFC3339Nano))
		}
		return a
	}
	if isSensitive(a.Key) {
		return slog.String(a.Key, redacted)
	}
	return a
}

func isSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, candidate := range sensitiveKeys {
		if strings.Contains(lower, candidate) {
			return true
		}
	}
	return false
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// dailyFile writes to <prefix>.<YYYY-MM-DD>.log, switching files at midnight
// and removing files older than maxAge when it does.
type dailyFile struct {
	dir    string
	prefix string
	maxAge time.Duration
	now    func() time.Time

	mu   sync.Mutex
	file *os.File
	day  string
}

func newDailyFile(dir, prefix string, maxAge time.Duration) (*dailyFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	d := &dailyFile{dir: dir, prefix: prefix, maxAge: maxAge, now: time.Now}
	if err := d.openLocked(d.now().Format("2006-01-02")); err != nil {
		return nil, err
	}
	d.prune(d.now(), d.file.Name())
	return d, nil
}

func (d *dailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if today := d.now().Format("2006-01-02"); today != d.day {
		if err := d.openLocked(today); err != nil {
			return 0, err
		}
		go d.prune(d.now(), d.file.Name())
	}
	return d.file.Write(p)
}

func (d *dailyFile) openLocked(day string) error {
	file, err := os.OpenFile(filepath.Join(d.dir, d.prefix+"."+day+".log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if d.file != nil {
		_ = d.file.Close()
	}
	d.file = file
	d.day = day
	return nil
}

func (d *dailyFile) prune(now time.Time, current string) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return
	}
	cutoff := now.Add(-d.maxAge)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Join(d.dir, name) == current || !strings.HasPrefix(name, d.prefix+".") || !strings.HasSuffix(name, ".log") {
			continue
		}
		info, err := entry.Info()
		if err == nil && info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(d.dir, name))
		}
	}
}

func (d *dailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}
