package ai

import (
	"context"
	"errors"
	"fmt"

	"livetranscriber/models"
)

// EngineConfig выбор и настройки движка
type EngineConfig struct {
	Type          EngineType          `yaml:"type"`
	FasterWhisper FasterWhisperConfig `yaml:"faster_whisper"`
	WhisperCpp    WhisperCppConfig    `yaml:"whisper_cpp"`
	OpenAI        OpenAIConfig        `yaml:"openai"`
}

// DefaultEngineConfig faster-whisper по умолчанию
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Type:          EngineFasterWhisper,
		FasterWhisper: DefaultFasterWhisperConfig(),
		WhisperCpp:    WhisperCppConfig{Command: "whisper-cli", Model: "base"},
	}
}

// NewRecognizer создаёт движок. Любая ошибка - *ModelUnavailableError.
// mgr нужен только whisper-cpp, чтобы найти скачанную ggml модель.
func NewRecognizer(ctx context.Context, cfg EngineConfig, mgr *models.Manager) (Recognizer, error) {
	var (
		rec Recognizer
		err error
	)
	switch cfg.Type {
	case EngineFasterWhisper:
		rec, err = NewFasterWhisper(ctx, cfg.FasterWhisper)
	case EngineWhisperCpp:
		wc := cfg.WhisperCpp
		if wc.ModelPath == "" && mgr != nil && wc.Model != "" {
			if mgr.IsModelDownloaded(wc.Model) {
				wc.ModelPath = mgr.ModelPath(wc.Model)
			}
		}
		rec, err = NewWhisperCpp(wc)
	case EngineOpenAI:
		rec, err = NewOpenAI(cfg.OpenAI)
	case EngineMock:
		rec = NewMockRecognizer()
	default:
		err = &ModelUnavailableError{
			Engine: cfg.Type,
			Err:    fmt.Errorf("unknown engine type %q", cfg.Type),
			Remedy: "Set engine.type to faster-whisper, whisper-cpp, openai or mock.",
		}
	}
	if err != nil {
		var mue *ModelUnavailableError
		if !errors.As(err, &mue) {
			err = &ModelUnavailableError{Engine: cfg.Type, Err: err}
		}
		log.Errorf("Recognition engine %s unavailable: %v", cfg.Type, err)
		return nil, err
	}
	return rec, nil
}
