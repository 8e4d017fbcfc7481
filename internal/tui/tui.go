package tui

import (
	"context"
	"errors"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"

	"livetranscriber/internal/service"
	"livetranscriber/session"
)

// Run показывает интерфейс до выхода пользователя или отмены ctx
func Run(ctx context.Context, ctl Controller) error {
	m := newModel(ctx, ctl, clipboard.WriteAll)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	unsubscribe := ctl.AddListener(service.Listener{
		OnEvent:  func(ev session.TranscriptEvent) { p.Send(msgEvent(ev)) },
		OnState:  func(ch service.StateChange) { p.Send(msgState(ch)) },
		OnNotice: func(n service.Notice) { p.Send(msgNotice(n)) },
	})
	defer unsubscribe()

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
