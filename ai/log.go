package ai

import "github.com/decred/slog"

var log = slog.Disabled

// UseLogger задаёт логгер распознавания
func UseLogger(logger slog.Logger) {
	log = logger
}
