// Package tui терминальный интерфейс: выбор устройства, старт/стоп записи,
// живой транскрипт, сохранение и копирование в буфер обмена.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"livetranscriber/audio"
	"livetranscriber/internal/service"
	"livetranscriber/session"
)

// Controller то, что интерфейсу нужно от сервиса транскрипции
type Controller interface {
	ListDevices() ([]audio.AudioDevice, error)
	StartSession(ctx context.Context, deviceQuery string) (*service.Session, error)
	StopSession(ctx context.Context) error
	SaveTranscript(path string) (string, error)
	ClearTranscript()
	Transcript() *session.Transcript
	State() session.State
	AddListener(l service.Listener) func()
}

type mode int

const (
	modeNormal mode = iota
	modeSave
	modeConfirmQuit
)

// maxDeviceRows сколько устройств показывать над транскриптом
const maxDeviceRows = 6

type line struct {
	text  string
	level service.NoticeLevel // пусто - строка транскрипта
}

type model struct {
	ctx    context.Context
	ctl    Controller
	styles theme
	copyFn func(string) error

	devices    []audio.AudioDevice
	devicesErr error
	selected   int

	state    session.State
	device   string
	starting bool
	stopping bool
	quitting bool

	lines    []line
	viewport viewport.Model
	input    textinput.Model
	mode     mode
	status   string

	width, height int
}

func newModel(ctx context.Context, ctl Controller, copyFn func(string) error) *model {
	in := textinput.New()
	in.Placeholder = "leave empty for the default location"
	in.CharLimit = 512

	m := &model{
		ctx:      ctx,
		ctl:      ctl,
		styles:   defaultTheme(),
		copyFn:   copyFn,
		state:    ctl.State(),
		input:    in,
		viewport: viewport.New(80, 20),
	}
	for _, l := range ctl.Transcript().Lines() {
		m.lines = append(m.lines, line{text: l})
	}
	m.refreshContent()
	return m
}

func (m *model) Init() tea.Cmd {
	return loadDevices(m.ctl)
}

func (m *model) capturing() bool {
	return m.state == session.StateCapturing
}

func (m *model) appendLine(l line) {
	m.lines = append(m.lines, l)
	m.refreshContent()
}

func (m *model) refreshContent() {
	wasAtBottom := m.viewport.AtBottom()
	rendered := make([]string, 0, len(m.lines))
	for _, l := range m.lines {
		switch l.level {
		case "":
			rendered = append(rendered, l.text)
		case service.NoticeError:
			rendered = append(rendered, m.styles.err.Render("! "+l.text))
		case service.NoticeWarning:
			rendered = append(rendered, m.styles.warn.Render("! "+l.text))
		default:
			rendered = append(rendered, m.styles.notice.Render("-- "+l.text))
		}
	}
	m.viewport.SetContent(strings.Join(rendered, "\n"))
	if wasAtBottom {
		m.viewport.GotoBottom()
	}
}

func (m *model) showError(err error) {
	n := service.UserMessage(err)
	m.status = m.styles.err.Render(n.String())
}

func (m *model) layout() {
	devRows := len(m.devices)
	if devRows == 0 {
		devRows = 1
	}
	devRows = min(devRows, maxDeviceRows)
	// заголовок, список, разделитель, статус, подсказка
	h := m.height - devRows - 4
	m.viewport.Width = m.width
	m.viewport.Height = max(h, 3)
	m.input.Width = max(m.width-20, 10)
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		m.refreshContent()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case msgDevices:
		m.devices, m.devicesErr = msg.devices, msg.err
		if m.selected >= len(m.devices) {
			m.selected = 0
		}
		if msg.err != nil {
			m.showError(msg.err)
		}
		m.layout()
		return m, nil

	case msgEvent:
		m.appendLine(line{text: session.TranscriptEvent(msg).Line()})
		return m, nil

	case msgNotice:
		n := service.Notice(msg)
		m.appendLine(line{text: n.String(), level: n.Level})
		return m, nil

	case msgState:
		m.state = msg.State
		if msg.State == session.StateCapturing {
			m.device = msg.Device
		}
		return m, nil

	case msgStarted:
		m.starting = false
		if msg.err != nil {
			m.showError(msg.err)
		} else {
			m.status = ""
		}
		return m, nil

	case msgStopped:
		m.stopping = false
		if msg.err != nil && !errors.Is(msg.err, service.ErrNotCapturing) {
			m.showError(msg.err)
		}
		if m.quitting {
			return m, tea.Quit
		}
		return m, nil

	case msgSaved:
		if msg.err != nil {
			// остаёмся в диалоге, чтобы можно было выбрать другой путь
			m.showError(msg.err)
			return m, nil
		}
		m.mode = modeNormal
		m.input.Blur()
		m.status = fmt.Sprintf("Transcript saved to %s", msg.path)
		return m, nil

	case msgCopied:
		if msg.err != nil {
			m.status = m.styles.err.Render(fmt.Sprintf("Copy failed: %v", msg.err))
		} else {
			m.status = "Transcript copied to clipboard."
		}
		return m, nil
	}

	var cmd tea.Cmd
	if m.mode == modeSave {
		m.input, cmd = m.input.Update(msg)
	} else {
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.mode {
	case modeSave:
		switch msg.Type {
		case tea.KeyEsc:
			m.mode = modeNormal
			m.input.Blur()
			m.status = ""
			return m, nil
		case tea.KeyEnter:
			return m, saveTranscript(m.ctl, strings.TrimSpace(m.input.Value()))
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case modeConfirmQuit:
		switch msg.String() {
		case "y", "Y", "enter":
			m.mode = modeNormal
			m.quitting = true
			m.stopping = true
			m.status = "Stopping..."
			return m, stopSession(m.ctx, m.ctl)
		default:
			m.mode = modeNormal
			m.status = ""
		}
		return m, nil
	}

	switch msg.String() {
	case "ctrl+c", "q":
		if m.capturing() || m.starting {
			m.mode = modeConfirmQuit
			return m, nil
		}
		return m, tea.Quit

	case "up", "k":
		if !m.capturing() && m.selected > 0 {
			m.selected--
		}
	case "down", "j":
		if !m.capturing() && m.selected < len(m.devices)-1 {
			m.selected++
		}

	case "r":
		if !m.capturing() {
			return m, loadDevices(m.ctl)
		}

	case "s", "enter":
		return m, m.toggle()

	case "w":
		m.mode = modeSave
		m.input.SetValue("")
		m.status = ""
		return m, m.input.Focus()

	case "c":
		return m, copyText(m.copyFn, m.ctl.Transcript().String())

	case "x":
		if !m.capturing() {
			m.ctl.ClearTranscript()
			m.lines = nil
			m.refreshContent()
		}

	default:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

// toggle запускает или останавливает запись
func (m *model) toggle() tea.Cmd {
	switch {
	case m.starting || m.stopping:
		return nil
	case m.capturing():
		m.stopping = true
		m.status = "Stopping..."
		return stopSession(m.ctx, m.ctl)
	case len(m.devices) == 0:
		// без устройств старт недоступен
		m.showError(audio.ErrNoDeviceFound)
		return nil
	}
	m.starting = true
	m.status = "Starting..."
	return startSession(m.ctx, m.ctl, m.devices[m.selected].ID)
}

func (m *model) View() string {
	var b strings.Builder

	state := m.styles.idle.Render("Idle")
	switch {
	case m.capturing():
		state = m.styles.capturing.Render("Capturing on " + m.device)
	case m.state == session.StateError:
		state = m.styles.err.Render("Error")
	}
	b.WriteString(m.styles.header.Render("Live Transcriber"))
	b.WriteString(" ")
	b.WriteString(state)
	b.WriteString("\n")

	if len(m.devices) == 0 {
		b.WriteString(m.styles.err.Render("  No input devices. Press r to refresh."))
		b.WriteString("\n")
	}
	for i, d := range m.devices {
		if i >= maxDeviceRows {
			break
		}
		if i == m.selected {
			b.WriteString(m.styles.selected.Render("> " + d.String()))
		} else {
			b.WriteString(m.styles.device.Render("  " + d.String()))
		}
		b.WriteString("\n")
	}

	b.WriteString(lipgloss.NewStyle().Faint(true).Render(strings.Repeat("─", max(m.width, 10))))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.status)
	b.WriteString("\n")

	switch m.mode {
	case modeSave:
		b.WriteString(m.styles.prompt.Render("Save to: "))
		b.WriteString(m.input.View())
	case modeConfirmQuit:
		b.WriteString(m.styles.prompt.Render("Capture is running. Stop and quit? (y/n)"))
	default:
		startStop := "s start"
		if m.capturing() {
			startStop = "s stop"
		}
		b.WriteString(m.styles.help.Render(startStop + " • ↑/↓ device • r refresh • w save • c copy • x clear • q quit"))
	}
	return b.String()
}
