package api

import (
	"livetranscriber/audio"
	"livetranscriber/internal/service"
	"livetranscriber/models"
	"livetranscriber/session"
)

// Message сообщение websocket и gRPC канала (одна структура в обе стороны)
type Message struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`

	// Запросы
	DeviceID  string `json:"deviceId,omitempty"`
	Path      string `json:"path,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	ModelID   string `json:"modelId,omitempty"`

	// Устройства
	Devices []audio.AudioDevice `json:"devices,omitempty"`

	// Транскрипт
	Event  *session.TranscriptEvent  `json:"event,omitempty"`
	Line   string                    `json:"line,omitempty"`
	Lines  []string                  `json:"lines,omitempty"`
	Events []session.TranscriptEvent `json:"events,omitempty"`

	// Состояние и уведомления
	State  string          `json:"state,omitempty"`
	Notice *service.Notice `json:"notice,omitempty"`

	// История
	Sessions []session.Record `json:"sessions,omitempty"`

	// Модели
	Models   []models.ModelState `json:"models,omitempty"`
	Progress float64             `json:"progress,omitempty"`

	Error string `json:"error,omitempty"`
	Hint  string `json:"hint,omitempty"`
}

// errorMessage ответ с текстом ошибки и подсказкой для пользователя
func errorMessage(err error) Message {
	n := service.UserMessage(err)
	return Message{Type: "error", Error: n.Message, Hint: n.Hint}
}
