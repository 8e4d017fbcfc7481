// Package ai предоставляет интерфейс распознавания речи, его реализации
// и диспетчер, превращающий сегменты аудио в события транскрипта.
package ai

import "context"

// SampleRate частота, которую ожидают все движки (16kHz моно)
const SampleRate = 16000

// EngineType тип движка распознавания
type EngineType string

const (
	// EngineFasterWhisper faster-whisper в постоянном python-процессе
	EngineFasterWhisper EngineType = "faster-whisper"
	// EngineWhisperCpp whisper-cli из whisper.cpp с ggml моделью
	EngineWhisperCpp EngineType = "whisper-cpp"
	// EngineOpenAI OpenAI-совместимый /audio API
	EngineOpenAI EngineType = "openai"
	// EngineMock заглушка для тестов и демо
	EngineMock EngineType = "mock"
)

// Options параметры одного вызова распознавания
type Options struct {
	// Language ISO-код ("en", "tl") или "" / "auto" для автоопределения
	Language string
}

// AutoDetect true, если язык нужно определить
func (o Options) AutoDetect() bool {
	return o.Language == "" || o.Language == "auto"
}

// Result текст и определённый язык
type Result struct {
	Text     string
	Language string // ISO-код в нижнем регистре, "" если неизвестен
	// LanguageProbability уверенность в языке; 0 - движок не сообщает
	LanguageProbability float32
}

// Recognizer движок распознавания. samples - 16kHz моно float32.
// Вызовы не конкурентны: диспетчер держит не больше одного запроса.
type Recognizer interface {
	Transcribe(ctx context.Context, samples []float32, opts Options) (Result, error)
	Name() string
	Close() error
}

// Translator опциональная возможность движка: перевод речи на английский
type Translator interface {
	Translate(ctx context.Context, samples []float32, sourceLang string) (Result, error)
}
