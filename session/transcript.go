package session

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// ErrEmptyText событие без текста в транскрипт не попадает
var ErrEmptyText = errors.New("transcript event has empty text")

// Transcript упорядоченный журнал событий сессии, только дописывается
type Transcript struct {
	mu      sync.RWMutex
	events  []TranscriptEvent
	subs    map[int]func(TranscriptEvent)
	nextSub int
}

// NewTranscript пустой транскрипт
func NewTranscript() *Transcript {
	return &Transcript{subs: make(map[int]func(TranscriptEvent))}
}

// Append добавляет событие и уведомляет подписчиков.
// Подписчики вызываются вне блокировки, но в порядке добавления
// относительно одного вызывающего.
func (t *Transcript) Append(ev TranscriptEvent) error {
	if strings.TrimSpace(ev.Text) == "" {
		return ErrEmptyText
	}

	t.mu.Lock()
	if n := len(t.events); n > 0 && ev.SegmentStart.Before(t.events[n-1].SegmentStart) {
		log.Warnf("Out of order event for segment %d", ev.SegmentIndex)
	}
	t.events = append(t.events, ev)
	subs := make([]func(TranscriptEvent), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	t.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
	return nil
}

// Subscribe регистрирует обработчик новых событий. Возвращает отписку.
func (t *Transcript) Subscribe(fn func(TranscriptEvent)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// Events копия всех событий
func (t *Transcript) Events() []TranscriptEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TranscriptEvent, len(t.events))
	copy(out, t.events)
	return out
}

// Len количество событий
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.events)
}

// Clear очищает транскрипт (новая сессия в UI)
func (t *Transcript) Clear() {
	t.mu.Lock()
	t.events = nil
	t.mu.Unlock()
}

// Lines строки в формате файла
func (t *Transcript) Lines() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	lines := make([]string, len(t.events))
	for i, ev := range t.events {
		lines[i] = ev.Line()
	}
	return lines
}

// String весь транскрипт одним текстом (для буфера обмена)
func (t *Transcript) String() string {
	lines := t.Lines()
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// Save пишет транскрипт в UTF-8 файл, по строке на событие.
// Файл заменяется атомарно; при ошибке возвращается *WriteError.
func (t *Transcript) Save(path string) error {
	if path == "" {
		return &WriteError{Path: path, Err: errors.New("empty path")}
	}
	content := t.String()

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".transcript-*.tmp")
	if err != nil {
		return &WriteError{Path: path, Err: err}
	}
	tmpName := tmp.Name()

	// CreateTemp создаёт файл с 0600; права существующего файла сохраняются
	perm := os.FileMode(0o644)
	if fi, err := os.Stat(path); err == nil {
		perm = fi.Mode().Perm()
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &WriteError{Path: path, Err: err}
	}

	w := bufio.NewWriter(tmp)
	if _, err := w.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &WriteError{Path: path, Err: err}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &WriteError{Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &WriteError{Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &WriteError{Path: path, Err: err}
	}

	log.Infof("Transcript saved to %s (%d lines)", path, t.Len())
	return nil
}

var lineRe = regexp.MustCompile(`^\[([A-Z]{2,8})(?: > ([A-Z]{2,8}))?\] (.+)$`)

// ParseLine разбирает строку сохранённого транскрипта
func ParseLine(line string) (TranscriptEvent, error) {
	m := lineRe.FindStringSubmatch(strings.TrimRight(line, "\r"))
	if m == nil {
		return TranscriptEvent{}, fmt.Errorf("malformed transcript line: %q", line)
	}
	ev := TranscriptEvent{Kind: KindTranscript, Language: m[1], Text: m[3]}
	switch {
	case m[1] == "AUDIO" && m[2] == "":
		ev.Kind = KindAudioLevel
		ev.Language = ""
	case m[2] != "":
		ev.Translated = true
		ev.TargetLanguage = m[2]
	}
	return ev, nil
}

// LoadTranscript читает файл, сохранённый Save
func LoadTranscript(path string) (*Transcript, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t := NewTranscript()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		n++
		if strings.TrimSpace(sc.Text()) == "" {
			continue
		}
		ev, err := ParseLine(sc.Text())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		ev.SegmentIndex = len(t.events)
		t.events = append(t.events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return t, nil
}
