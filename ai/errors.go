package ai

import (
	"errors"
	"fmt"
)

// ErrNoSpeech в сегменте нечего распознавать (тишина или пустой ответ)
var ErrNoSpeech = errors.New("no speech in segment")

// ModelUnavailableError движок не удалось загрузить
type ModelUnavailableError struct {
	Engine EngineType
	Err    error
	// Remedy что сделать пользователю
	Remedy string
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("recognition engine %s unavailable: %v", e.Engine, e.Err)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Err }

// Hint текст для пользователя
func (e *ModelUnavailableError) Hint() string {
	if e.Remedy != "" {
		return e.Remedy
	}
	return "Install the speech recognition backend or choose another engine in the configuration."
}

// SegmentInferenceError ошибка распознавания одного сегмента; сессия продолжается
type SegmentInferenceError struct {
	Index int
	Err   error
}

func (e *SegmentInferenceError) Error() string {
	return fmt.Sprintf("inference failed for segment %d: %v", e.Index, e.Err)
}

func (e *SegmentInferenceError) Unwrap() error { return e.Err }
