// Package logging поднимает подсистемные логгеры slog с ротацией файла
// и раздаёт их пакетам через UseLogger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"

	"livetranscriber/ai"
	"livetranscriber/audio"
	"livetranscriber/internal/api"
	"livetranscriber/internal/config"
	"livetranscriber/internal/service"
	"livetranscriber/models"
	"livetranscriber/session"
)

// Subsystems подсистема -> функция установки логгера
var Subsystems = map[string]func(slog.Logger){
	"AUDI": audio.UseLogger,
	"SESS": session.UseLogger,
	"AIDS": ai.UseLogger,
	"SRVC": service.UseLogger,
	"APIS": api.UseLogger,
	"MODL": models.UseLogger,
}

// Backend пишет в stdout (если задан) и в файл с ротацией
type Backend struct {
	stdOut     io.Writer
	logRotator *rotator.Rotator
	bknd       *slog.Backend

	defaultLevel slog.Level
	levels       map[string]slog.Level
}

// New разбирает debuglevel ("info" или "info,AUDI=debug") и открывает файл.
// stdOut nil - только файл (терминальный интерфейс занимает экран).
func New(cfg config.LogConfig, stdOut io.Writer) (*Backend, error) {
	b := &Backend{
		stdOut:       stdOut,
		defaultLevel: slog.LevelInfo,
		levels:       make(map[string]slog.Level),
	}
	if err := b.parseLevels(cfg.DebugLevel); err != nil {
		return nil, err
	}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		maxRolls := cfg.MaxRolls
		if maxRolls <= 0 {
			maxRolls = 3
		}
		r, err := rotator.New(cfg.File, cfg.MaxSizeKB, false, maxRolls)
		if err != nil {
			return nil, fmt.Errorf("failed to create file rotator: %w", err)
		}
		b.logRotator = r
	}

	b.bknd = slog.NewBackend(b)
	for subsys, use := range Subsystems {
		use(b.Logger(subsys))
	}
	return b, nil
}

func (b *Backend) parseLevels(debugLevel string) error {
	if debugLevel == "" {
		return nil
	}
	for _, v := range strings.Split(debugLevel, ",") {
		fields := strings.Split(strings.TrimSpace(v), "=")
		switch len(fields) {
		case 1:
			level, ok := slog.LevelFromString(fields[0])
			if !ok {
				return fmt.Errorf("unknown log level %q", fields[0])
			}
			b.defaultLevel = level
		case 2:
			subsys := strings.ToUpper(fields[0])
			if _, ok := Subsystems[subsys]; !ok && subsys != "MAIN" {
				return fmt.Errorf("unknown subsystem %q (supported: %s)", subsys, strings.Join(SupportedSubsystems(), ", "))
			}
			level, ok := slog.LevelFromString(fields[1])
			if !ok {
				return fmt.Errorf("unknown log level %q", fields[1])
			}
			b.levels[subsys] = level
		default:
			return fmt.Errorf("unable to parse %q as subsys=level debuglevel string", v)
		}
	}
	return nil
}

// SupportedSubsystems имена подсистем по алфавиту
func SupportedSubsystems() []string {
	names := []string{"MAIN"}
	for k := range Subsystems {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (b *Backend) Write(p []byte) (int, error) {
	if b.stdOut != nil {
		b.stdOut.Write(p)
	}
	if b.logRotator != nil {
		b.logRotator.Write(p)
	}
	return len(p), nil
}

// Logger логгер подсистемы с уровнем из debuglevel
func (b *Backend) Logger(subsys string) slog.Logger {
	l := b.bknd.Logger(subsys)
	if level, ok := b.levels[subsys]; ok {
		l.SetLevel(level)
	} else {
		l.SetLevel(b.defaultLevel)
	}
	return l
}

// Close закрывает файл журнала
func (b *Backend) Close() error {
	if b.logRotator != nil {
		return b.logRotator.Close()
	}
	return nil
}
