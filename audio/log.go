package audio

import "github.com/decred/slog"

// log логгер подсистемы захвата. По умолчанию выключен.
var log = slog.Disabled

// UseLogger задаёт логгер для пакета audio
func UseLogger(logger slog.Logger) {
	log = logger
}
