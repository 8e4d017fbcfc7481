package audio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Частота, с которой работает весь конвейер (Whisper ожидает 16kHz моно)
const PipelineSampleRate = 16000

// DefaultPeriodMs период callback'а драйвера
const DefaultPeriodMs = 100

// fallbackRates частоты, которые пробуем, если устройство отказалось от запрошенной
var fallbackRates = []int{44100, 22050}

// Capture открывает потоки захвата и складывает блоки в FrameBuffer
type Capture struct {
	backend    Backend
	targetRate int
	now        func() time.Time
}

// NewCapture создаёт захват поверх бэкенда. Данные приводятся к targetRate моно.
func NewCapture(backend Backend, targetRate int) *Capture {
	if targetRate <= 0 {
		targetRate = PipelineSampleRate
	}
	return &Capture{
		backend:    backend,
		targetRate: targetRate,
		now:        time.Now,
	}
}

// Handle открытый поток захвата
type Handle struct {
	stream Stream
	device AudioDevice
	buffer *FrameBuffer
	errCh  chan error

	frames   atomic.Uint64
	stopOnce sync.Once
	stopErr  error
}

type openAttempt struct {
	device *AudioDevice
	rate   int
}

// Start открывает поток на устройстве и начинает складывать блоки в buf.
// Перебирает запасные конфигурации: запрошенная частота, 44100, 22050,
// затем устройство ОС по умолчанию.
func (c *Capture) Start(device *AudioDevice, cfg StreamConfig, buf *FrameBuffer) (*Handle, error) {
	if buf == nil {
		return nil, errors.New("frame buffer is required")
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = c.targetRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.PeriodMs <= 0 {
		cfg.PeriodMs = DefaultPeriodMs
	}
	if device != nil && device.MaxInputChannels > 0 && cfg.Channels > device.MaxInputChannels {
		cfg.Channels = device.MaxInputChannels
	}

	attempts := []openAttempt{{device: device, rate: cfg.SampleRate}}
	for _, r := range fallbackRates {
		if r != cfg.SampleRate {
			attempts = append(attempts, openAttempt{device: device, rate: r})
		}
	}
	if device != nil {
		attempts = append(attempts, openAttempt{device: nil, rate: cfg.SampleRate})
	}

	deviceName := "default"
	if device != nil {
		deviceName = device.Name
	}

	var lastErr error
	for _, a := range attempts {
		h, err := c.open(a, cfg, buf)
		if err != nil {
			log.Warnf("Device config failed (device=%s rate=%d ch=%d): %v",
				attemptName(a), a.rate, cfg.Channels, err)
			lastErr = err
			continue
		}
		log.Infof("Capture started on %s at %d Hz, %d ch", h.device.Name, h.stream.SampleRate(), h.stream.Channels())
		return h, nil
	}

	return nil, &CaptureStreamError{Device: deviceName, Err: fmt.Errorf("all device configurations failed: %w", lastErr)}
}

func attemptName(a openAttempt) string {
	if a.device == nil {
		return "default"
	}
	return a.device.Name
}

func (c *Capture) open(a openAttempt, cfg StreamConfig, buf *FrameBuffer) (*Handle, error) {
	h := &Handle{
		buffer: buf,
		errCh:  make(chan error, 1),
	}
	if a.device != nil {
		h.device = *a.device
	} else {
		h.device = AudioDevice{ID: "", Name: "Default", MaxInputChannels: cfg.Channels, DefaultSampleRate: a.rate, IsDefault: true}
	}

	streamCfg := cfg
	streamCfg.SampleRate = a.rate

	// Поток устанавливается после OpenStream; callback может сработать
	// только после Start, поэтому чтение без блокировки безопасно.
	var stream Stream
	onData := func(samples []float32, channels int) {
		mono := Downmix(samples, channels)
		rate := stream.SampleRate()
		if rate != c.targetRate {
			mono = Resample(mono, rate, c.targetRate)
		}
		h.frames.Add(1)
		h.buffer.Push(Frame{
			Samples:    mono,
			SampleRate: c.targetRate,
			Channels:   1,
			Timestamp:  c.now(),
		})
	}
	onStop := func(err error) {
		if err == nil {
			return
		}
		select {
		case h.errCh <- err:
		default:
		}
	}

	var err error
	stream, err = c.backend.OpenStream(a.device, streamCfg, onData, onStop)
	if err != nil {
		return nil, err
	}

	started := false
	defer func() {
		if !started {
			stream.Close()
		}
	}()

	if err := stream.Start(); err != nil {
		return nil, err
	}
	started = true
	h.stream = stream
	return h, nil
}

// Stop останавливает поток и освобождает устройство. Повторный вызов безопасен.
func (h *Handle) Stop() error {
	h.stopOnce.Do(func() {
		h.stopErr = h.stream.Close()
		log.Infof("Capture stopped on %s (%d frames, %d dropped)", h.device.Name, h.frames.Load(), h.buffer.Dropped())
	})
	return h.stopErr
}

// Err канал, в который приходит ошибка, если поток завершился сам.
// Для файловых источников это io.EOF.
func (h *Handle) Err() <-chan error {
	return h.errCh
}

// StreamError оборачивает ошибку остановки потока в CaptureStreamError
func (h *Handle) StreamError(err error) error {
	return &CaptureStreamError{Device: h.device.Name, Err: err}
}

// Device устройство, на котором фактически открыт поток
func (h *Handle) Device() AudioDevice { return h.device }

// SampleRate фактическая частота устройства (до ресемплинга)
func (h *Handle) SampleRate() int { return h.stream.SampleRate() }

// Frames сколько блоков пришло от драйвера
func (h *Handle) Frames() uint64 { return h.frames.Load() }

// Buffer буфер, в который пишет поток
func (h *Handle) Buffer() *FrameBuffer { return h.buffer }
