package service

import (
	"errors"
	"fmt"
	"time"

	"livetranscriber/ai"
	"livetranscriber/audio"
	"livetranscriber/session"
)

// SessionSeparator уведомление между сессиями в одном окне
const SessionSeparator = "--- New Session ---"

// NoticeLevel важность уведомления
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice сообщение для пользователя, не входящее в транскрипт
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
	Hint    string      `json:"hint,omitempty"`
	Time    time.Time   `json:"time"`
}

func (n Notice) String() string {
	if n.Hint == "" {
		return n.Message
	}
	return n.Message + " " + n.Hint
}

func info(format string, args ...any) Notice {
	return Notice{Level: NoticeInfo, Message: fmt.Sprintf(format, args...)}
}

// UserMessage переводит ошибку в текст для пользователя с подсказкой, что делать
func UserMessage(err error) Notice {
	if err == nil {
		return Notice{}
	}
	n := Notice{Level: NoticeError, Message: err.Error()}

	var (
		cse *audio.CaptureStreamError
		mue *ai.ModelUnavailableError
		sie *ai.SegmentInferenceError
		we  *session.WriteError
	)
	switch {
	case errors.Is(err, audio.ErrNoDeviceFound):
		n.Message = "No audio input device found."
		n.Hint = "Connect a microphone or enable a loopback device (Stereo Mix, BlackHole, a PulseAudio monitor) and refresh the device list."
	case errors.As(err, &cse):
		n.Message = fmt.Sprintf("Audio capture on %s failed: %v.", cse.Device, cse.Err)
		n.Hint = cse.Hint()
	case errors.As(err, &mue):
		n.Message = fmt.Sprintf("Speech recognition engine %s is unavailable: %v.", mue.Engine, mue.Err)
		n.Hint = mue.Hint()
	case errors.As(err, &sie):
		n.Level = NoticeWarning
		n.Message = fmt.Sprintf("Segment %d could not be transcribed and was skipped.", sie.Index)
	case errors.As(err, &we):
		n.Message = fmt.Sprintf("Could not save transcript to %s: %v.", we.Path, we.Err)
		n.Hint = we.Hint()
	case errors.Is(err, ErrSessionActive):
		n.Level = NoticeWarning
		n.Message = "A capture session is already running."
		n.Hint = "Stop it before starting a new one."
	case errors.Is(err, ErrNotCapturing):
		n.Level = NoticeWarning
		n.Message = "Not capturing."
	case errors.Is(err, ErrHistoryDisabled):
		n.Level = NoticeWarning
		n.Message = "Session history is disabled."
		n.Hint = "Set session.history_enabled in the configuration."
	}
	return n
}

// errorKind метка для метрик
func errorKind(err error) string {
	var (
		cse *audio.CaptureStreamError
		mue *ai.ModelUnavailableError
		we  *session.WriteError
	)
	switch {
	case errors.Is(err, audio.ErrNoDeviceFound):
		return "no_device"
	case errors.As(err, &cse):
		return "capture"
	case errors.As(err, &mue):
		return "model"
	case errors.As(err, &we):
		return "write"
	default:
		return "other"
	}
}
