package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// FrontendEntry is a log record posted by the webview.
type FrontendEntry struct {
	Level   string         `json:"level"`
	Module  string         `json:"module"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// LogFromFrontend writes entry through logger after trimming and redaction.
func LogFromFrontend(logger *slog.Logger, entry FrontendEntry) {
	level := ParseLevel(entry.Level)
	message := truncate(entry.Message, maxMessageLength)

	args := []any{"source", "frontend", "module", entry.Module}
	if data := sanitizeData(entry.Data); len(data) > 0 {
		args = append(args, "data", data)
	}
	logger.Log(context.Background(), level, message, args...)
}

func sanitizeData(data map[string]any) map[string]any {
	if len(data) == 0 {
		return nil
	}
	out := make(map[string]any, min(len(data), maxDataKeys))
	for key, value := range data {
		if len(out) >= maxDataKeys {
			out["_truncated"] = true
			break
		}
		switch {
		case isSensitive(key):
			out[key] = redacted
		case isString(value):
			out[key] = truncate(fmt.Sprint(value), maxValueLength)
		default:
			out[key] = value
		}
	}
	return out
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return strings.ToValidUTF8(s[:limit], "") + "...[truncated]"
}
