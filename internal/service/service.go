// Package service связывает захват, нарезку, распознавание и транскрипт
// в сессию записи и раздаёт события интерфейсам (TUI, API).
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"livetranscriber/ai"
	"livetranscriber/audio"
	"livetranscriber/internal/config"
	"livetranscriber/internal/metrics"
	"livetranscriber/session"
)

var (
	// ErrSessionActive сессия уже идёт
	ErrSessionActive = errors.New("session already active")
	// ErrNotCapturing нет активной сессии
	ErrNotCapturing = errors.New("no active session")
	// ErrHistoryDisabled история сессий не ведётся
	ErrHistoryDisabled = errors.New("session history is disabled")
)

// RecognizerFactory загружает движок распознавания (может занять минуты)
type RecognizerFactory func(ctx context.Context) (ai.Recognizer, error)

// Deps внешние зависимости сервиса
type Deps struct {
	Backend audio.Backend
	// NewRecognizer по умолчанию ai.NewRecognizer с cfg.Engine
	NewRecognizer RecognizerFactory
	// Store история; nil - не ведётся
	Store *session.Store
	// Metrics nil - создаются собственные
	Metrics *metrics.Metrics
}

// StateChange переход состояния сессии
type StateChange struct {
	State     session.State `json:"state"`
	SessionID string        `json:"sessionId,omitempty"`
	Device    string        `json:"device,omitempty"`
	Err       error         `json:"-"`
}

// Listener подписчик на события сервиса. Любое поле может быть nil.
// Вызывается с рабочих горутин сессии: не блокировать.
type Listener struct {
	OnEvent  func(session.TranscriptEvent)
	OnState  func(StateChange)
	OnNotice func(Notice)
}

// TranscriptionService держит транскрипт и не более одной активной сессии
type TranscriptionService struct {
	cfg           config.Config
	backend       audio.Backend
	registry      *audio.Registry
	capture       *audio.Capture
	newRecognizer RecognizerFactory
	store         *session.Store
	metrics       *metrics.Metrics
	transcript    *session.Transcript

	mu         sync.Mutex
	state      session.State
	current    *Session
	starting   bool
	dispatcher *ai.Dispatcher

	lmu          sync.RWMutex
	listeners    map[int]Listener
	nextListener int
}

// New создаёт сервис. Модель не загружается до первого StartSession.
func New(cfg config.Config, deps Deps) (*TranscriptionService, error) {
	if deps.Backend == nil {
		return nil, errors.New("audio backend is required")
	}
	if deps.NewRecognizer == nil {
		engine := cfg.Engine
		deps.NewRecognizer = func(ctx context.Context) (ai.Recognizer, error) {
			return ai.NewRecognizer(ctx, engine, nil)
		}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if cfg.Session.StopTimeout <= 0 {
		cfg.Session.StopTimeout = config.Default().Session.StopTimeout
	}
	if cfg.Chunker.PollInterval <= 0 {
		cfg.Chunker.PollInterval = session.DefaultChunkerConfig().PollInterval
	}

	s := &TranscriptionService{
		cfg:           cfg,
		backend:       deps.Backend,
		registry:      audio.NewRegistry(deps.Backend),
		capture:       audio.NewCapture(deps.Backend, audio.PipelineSampleRate),
		newRecognizer: deps.NewRecognizer,
		store:         deps.Store,
		metrics:       deps.Metrics,
		transcript:    session.NewTranscript(),
		state:         session.StateIdle,
		listeners:     make(map[int]Listener),
	}
	s.transcript.Subscribe(s.emitEvent)
	return s, nil
}

// AddListener подписывает на события; возвращает функцию отписки
func (s *TranscriptionService) AddListener(l Listener) func() {
	s.lmu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = l
	s.lmu.Unlock()
	return func() {
		s.lmu.Lock()
		delete(s.listeners, id)
		s.lmu.Unlock()
	}
}

func (s *TranscriptionService) snapshotListeners() []Listener {
	s.lmu.RLock()
	defer s.lmu.RUnlock()
	out := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l)
	}
	return out
}

func (s *TranscriptionService) emitEvent(ev session.TranscriptEvent) {
	for _, l := range s.snapshotListeners() {
		if l.OnEvent != nil {
			l.OnEvent(ev)
		}
	}
}

func (s *TranscriptionService) notifyState(ch StateChange) {
	for _, l := range s.snapshotListeners() {
		if l.OnState != nil {
			l.OnState(ch)
		}
	}
}

func (s *TranscriptionService) notice(n Notice) {
	if n.Time.IsZero() {
		n.Time = time.Now()
	}
	switch n.Level {
	case NoticeError:
		log.Errorf("%s", n)
	case NoticeWarning:
		log.Warnf("%s", n)
	default:
		log.Infof("%s", n)
	}
	for _, l := range s.snapshotListeners() {
		if l.OnNotice != nil {
			l.OnNotice(n)
		}
	}
}

// Config настройки, с которыми создан сервис
func (s *TranscriptionService) Config() config.Config { return s.cfg }

// Metrics метрики сервиса
func (s *TranscriptionService) Metrics() *metrics.Metrics { return s.metrics }

// Transcript общий транскрипт всех сессий
func (s *TranscriptionService) Transcript() *session.Transcript { return s.transcript }

// State текущее состояние
func (s *TranscriptionService) State() session.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current активная сессия или nil
func (s *TranscriptionService) Current() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// ListDevices устройства захвата; ErrNoDeviceFound, если их нет
func (s *TranscriptionService) ListDevices() ([]audio.AudioDevice, error) {
	return s.registry.ListDevices()
}

// ClearTranscript очищает транскрипт (история в базе остаётся)
func (s *TranscriptionService) ClearTranscript() {
	s.transcript.Clear()
}

// SaveTranscript сохраняет транскрипт. Пустой path - файл с датой в TranscriptDir.
// Возвращает фактический путь; при ошибке *session.WriteError, транскрипт не меняется.
func (s *TranscriptionService) SaveTranscript(path string) (string, error) {
	if path == "" {
		dir := s.cfg.Session.TranscriptDir
		if dir == "" {
			dir = "."
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", &session.WriteError{Path: dir, Err: err}
		}
		path = filepath.Join(dir, fmt.Sprintf("transcript-%s.txt", time.Now().Format("20060102-150405")))
	}
	if err := s.transcript.Save(path); err != nil {
		s.metrics.SessionErrors.WithLabelValues(errorKind(err)).Inc()
		return "", err
	}
	return path, nil
}

// ListHistory последние сессии из базы
func (s *TranscriptionService) ListHistory(ctx context.Context, limit int) ([]session.Record, error) {
	if s.store == nil {
		return nil, ErrHistoryDisabled
	}
	return s.store.ListSessions(ctx, limit)
}

// HistoryEvents события сохранённой сессии
func (s *TranscriptionService) HistoryEvents(ctx context.Context, id string) ([]session.TranscriptEvent, error) {
	if s.store == nil {
		return nil, ErrHistoryDisabled
	}
	return s.store.Events(ctx, id)
}

// EngineName имя загруженного движка ("" до первой сессии)
func (s *TranscriptionService) EngineName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dispatcher == nil {
		return ""
	}
	return s.dispatcher.EngineName()
}

// Close останавливает сессию и выгружает модель
func (s *TranscriptionService) Close() error {
	if sess := s.Current(); sess != nil {
		sess.Stop(context.Background())
	}
	s.mu.Lock()
	d := s.dispatcher
	s.dispatcher = nil
	s.mu.Unlock()
	if d != nil {
		return d.Close()
	}
	return nil
}

// selectDevice: явный запрос, затем устройство из настроек, затем проба
// (если включена), затем loopback / устройство по умолчанию
func (s *TranscriptionService) selectDevice(ctx context.Context, query string) (*audio.AudioDevice, error) {
	devices, err := s.registry.ListDevices()
	if err != nil {
		return nil, err
	}
	if query == "" {
		query = s.cfg.Audio.Device
	}
	if query != "" {
		return s.registry.FindDevice(query)
	}
	if s.cfg.Audio.ProbeDevices {
		dev, err := audio.FindWorkingDevice(ctx, s.backend, devices, s.streamConfig(), s.cfg.Audio.ProbeTimeout)
		if err == nil {
			return dev, nil
		}
		log.Warnf("Device probe failed, using default selection: %v", err)
	}
	return audio.DefaultDevice(devices), nil
}

func (s *TranscriptionService) streamConfig() audio.StreamConfig {
	return audio.StreamConfig{
		SampleRate: s.cfg.Audio.SampleRate,
		Channels:   s.cfg.Audio.Channels,
		PeriodMs:   s.cfg.Audio.PeriodMs,
	}
}

// loadDispatcher загружает модель один раз. Если модель недоступна и
// разрешён режим без модели, возвращает диспетчер уровней громкости
// (не кешируется: следующая сессия снова попробует загрузить модель).
func (s *TranscriptionService) loadDispatcher(ctx context.Context) (*ai.Dispatcher, error) {
	s.mu.Lock()
	d := s.dispatcher
	s.mu.Unlock()
	if d != nil {
		return d, nil
	}

	s.notice(info("Loading speech recognition model (%s)...", s.cfg.Engine.Type))
	rec, err := s.newRecognizer(ctx)
	if err != nil {
		var mue *ai.ModelUnavailableError
		if !errors.As(err, &mue) {
			err = &ai.ModelUnavailableError{Engine: s.cfg.Engine.Type, Err: err}
		}
		if !s.cfg.Session.AudioOnlyFallback {
			return nil, err
		}
		s.metrics.SessionErrors.WithLabelValues(errorKind(err)).Inc()
		n := UserMessage(err)
		n.Level = NoticeWarning
		s.notice(n)
		s.notice(info("Continuing in audio-only mode: volume levels are shown instead of text."))
		return ai.NewDispatcher(nil, s.cfg.Dispatcher), nil
	}

	d = ai.NewDispatcher(rec, s.cfg.Dispatcher)
	s.mu.Lock()
	s.dispatcher = d
	s.mu.Unlock()
	s.notice(info("Model loaded (%s).", rec.Name()))
	return d, nil
}

// failStart сообщает об ошибке старта: Error -> Idle и уведомление
func (s *TranscriptionService) failStart(err error) {
	n := UserMessage(err)
	s.metrics.SessionErrors.WithLabelValues(errorKind(err)).Inc()
	if errors.Is(err, audio.ErrNoDeviceFound) {
		s.notice(n)
		return
	}
	s.mu.Lock()
	s.state = session.StateError
	s.mu.Unlock()
	s.notifyState(StateChange{State: session.StateError, Err: err})
	s.notice(n)
	s.mu.Lock()
	s.state = session.StateIdle
	s.mu.Unlock()
	s.notifyState(StateChange{State: session.StateIdle})
}
