package models

import "github.com/decred/slog"

var log = slog.Disabled

// UseLogger задаёт логгер менеджера моделей
func UseLogger(logger slog.Logger) {
	log = logger
}
