package session

import "github.com/decred/slog"

var log = slog.Disabled

// UseLogger задаёт логгер для пакета session (нарезка, транскрипт, история)
func UseLogger(logger slog.Logger) {
	log = logger
}
