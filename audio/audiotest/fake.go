// Package audiotest содержит управляемый бэкенд захвата для тестов.
package audiotest

import (
	"errors"
	"sync"

	"livetranscriber/audio"
)

// OpenCall параметры, с которыми открывали поток
type OpenCall struct {
	Device *audio.AudioDevice
	Config audio.StreamConfig
}

// Backend фейковый audio.Backend. Данные подаются вручную через Emit.
type Backend struct {
	mu sync.Mutex

	DeviceList []audio.AudioDevice
	DevicesErr error

	// OpenErr вызывается на каждую попытку открытия; nil = успех
	OpenErr  func(dev *audio.AudioDevice, cfg audio.StreamConfig) error
	StartErr error

	// AutoEmit если задан, отдаётся сразу после Start
	AutoEmit []float32

	Opens   []OpenCall
	streams []*Stream
	closed  bool
}

// New бэкенд с заданными устройствами
func New(devices ...audio.AudioDevice) *Backend {
	return &Backend{DeviceList: devices}
}

func (b *Backend) Devices() ([]audio.AudioDevice, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.DevicesErr != nil {
		return nil, b.DevicesErr
	}
	out := make([]audio.AudioDevice, len(b.DeviceList))
	copy(out, b.DeviceList)
	return out, nil
}

func (b *Backend) OpenStream(dev *audio.AudioDevice, cfg audio.StreamConfig, onData audio.DataFunc, onStop audio.StopFunc) (audio.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var devCopy *audio.AudioDevice
	if dev != nil {
		d := *dev
		devCopy = &d
	}
	b.Opens = append(b.Opens, OpenCall{Device: devCopy, Config: cfg})

	if b.OpenErr != nil {
		if err := b.OpenErr(dev, cfg); err != nil {
			return nil, err
		}
	}
	s := &Stream{
		backend:  b,
		rate:     cfg.SampleRate,
		channels: cfg.Channels,
		onData:   onData,
		onStop:   onStop,
	}
	b.streams = append(b.streams, s)
	return s, nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Last последний открытый поток
func (b *Backend) Last() *Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.streams) == 0 {
		return nil
	}
	return b.streams[len(b.streams)-1]
}

// OpenCount сколько раз открывали поток
func (b *Backend) OpenCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Opens)
}

// Stream фейковый поток
type Stream struct {
	backend  *Backend
	rate     int
	channels int
	onData   audio.DataFunc
	onStop   audio.StopFunc

	mu      sync.Mutex
	started bool
	closed  bool
}

func (s *Stream) Start() error {
	if s.backend.StartErr != nil {
		return s.backend.StartErr
	}
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	if len(s.backend.AutoEmit) > 0 {
		go s.Emit(s.backend.AutoEmit)
	}
	return nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Stream) SampleRate() int { return s.rate }
func (s *Stream) Channels() int   { return s.channels }

// Closed был ли вызван Close
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Emit отдаёт interleaved семплы как callback драйвера
func (s *Stream) Emit(samples []float32) error {
	s.mu.Lock()
	ok := s.started && !s.closed
	s.mu.Unlock()
	if !ok {
		return errors.New("stream is not running")
	}
	s.onData(samples, s.channels)
	return nil
}

// Fail имитирует исчезновение устройства
func (s *Stream) Fail(err error) {
	if s.onStop != nil {
		s.onStop(err)
	}
}
