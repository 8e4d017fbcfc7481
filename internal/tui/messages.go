package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"livetranscriber/audio"
	"livetranscriber/internal/service"
	"livetranscriber/session"
)

// Сообщения от сервиса (через Program.Send)
type msgEvent session.TranscriptEvent
type msgState service.StateChange
type msgNotice service.Notice

// Результаты команд
type msgDevices struct {
	devices []audio.AudioDevice
	err     error
}

type msgStarted struct{ err error }
type msgStopped struct{ err error }

type msgSaved struct {
	path string
	err  error
}

type msgCopied struct{ err error }

func loadDevices(ctl Controller) tea.Cmd {
	return func() tea.Msg {
		devices, err := ctl.ListDevices()
		return msgDevices{devices: devices, err: err}
	}
}

func startSession(ctx context.Context, ctl Controller, deviceID string) tea.Cmd {
	return func() tea.Msg {
		_, err := ctl.StartSession(ctx, deviceID)
		return msgStarted{err: err}
	}
}

func stopSession(ctx context.Context, ctl Controller) tea.Cmd {
	return func() tea.Msg {
		return msgStopped{err: ctl.StopSession(ctx)}
	}
}

func saveTranscript(ctl Controller, path string) tea.Cmd {
	return func() tea.Msg {
		saved, err := ctl.SaveTranscript(path)
		return msgSaved{path: saved, err: err}
	}
}

func copyText(copyFn func(string) error, text string) tea.Cmd {
	return func() tea.Msg {
		return msgCopied{err: copyFn(text)}
	}
}
