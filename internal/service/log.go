package service

import "github.com/decred/slog"

var log = slog.Disabled

// UseLogger задаёт логгер пакета
func UseLogger(logger slog.Logger) {
	log = logger
}
