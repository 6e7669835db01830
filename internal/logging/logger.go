package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithComponent returns a logger tagged with the subsystem name.
func WithComponent(component string) *slog.Logger {
	return slog.With("component", component)
}

// WithPictogram returns a logger scoped to a single origin pictogram id.
func WithPictogram(logger *slog.Logger, arasaacID int) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("arasaac_id", arasaacID)
}

// WithUser returns a logger scoped to the calling user.
func WithUser(logger *slog.Logger, userID string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("user_id", userID)
}
