package logger

import (
	"log/slog"
	"os"
	"strings"
)

// Setup installs a JSON slog handler as the process default.
func Setup() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == "level" {
				return slog.Attr{
					Key:   "severity",
					Value: slog.StringValue(strings.ToLower(a.Value.String())),
				}
			}
			if a.Key == "msg" {
				return slog.Attr{
					Key:   "message",
					Value: a.Value,
				}
			}
			return a
		},
	})

	slog.SetDefault(slog.New(handler))
}
