package logger

import (
	"log/slog"
	"os"
)

// New returns the application logger. JSON output so log shippers don't need
// a custom parser.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}
