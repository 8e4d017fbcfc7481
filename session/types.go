package session

import (
	"fmt"
	"strings"
	"time"
)

// State состояние сессии записи
type State string

const (
	StateIdle      State = "idle"
	StateCapturing State = "capturing"
	StateError     State = "error"
)

// Segment непрерывный отрезок аудио, который распознаётся за один вызов
type Segment struct {
	Index      int
	Samples    []float32 // моно, SampleRate
	SampleRate int
	Start      time.Time     // настенное время первого семпла
	Offset     time.Duration // от начала сессии
	Duration   time.Duration
	Final      bool // остаток при остановке, может быть короче минимума
}

// EventKind тип события транскрипта
type EventKind string

const (
	KindTranscript EventKind = "transcript"
	// KindAudioLevel уровень громкости, когда модель недоступна
	KindAudioLevel EventKind = "audio_level"
)

// UnknownLanguage код для нераспознанного языка
const UnknownLanguage = "XX"

// TranscriptEvent одна распознанная (и, возможно, переведённая) фраза
type TranscriptEvent struct {
	Kind           EventKind     `json:"kind"`
	Text           string        `json:"text"`
	Language       string        `json:"language"`
	Translated     bool          `json:"translated"`
	TargetLanguage string        `json:"targetLanguage,omitempty"`
	SegmentIndex   int           `json:"segmentIndex"`
	SegmentStart   time.Time     `json:"segmentStart"`
	SegmentOffset  time.Duration `json:"segmentOffset"`
	Duration       time.Duration `json:"duration"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// Tag префикс строки в сохранённом транскрипте: [EN], [TL > EN], [XX], [AUDIO]
func (e TranscriptEvent) Tag() string {
	if e.Kind == KindAudioLevel {
		return "[AUDIO]"
	}
	lang := strings.ToUpper(e.Language)
	if lang == "" {
		lang = UnknownLanguage
	}
	if e.Translated {
		target := strings.ToUpper(e.TargetLanguage)
		if target == "" {
			target = "EN"
		}
		return fmt.Sprintf("[%s > %s]", lang, target)
	}
	return "[" + lang + "]"
}

// Line строка транскрипта: тег и текст без переводов строк
func (e TranscriptEvent) Line() string {
	return e.Tag() + " " + foldText(e.Text)
}

func foldText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// WriteError не удалось сохранить транскрипт; данные в памяти не тронуты
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write transcript to %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Hint текст для пользователя
func (e *WriteError) Hint() string {
	return "The transcript is still in memory. Choose another location or check folder permissions and save again."
}
