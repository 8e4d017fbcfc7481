package audio

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LoadAudioFile читает WAV или MP3 в моно float32
func LoadAudioFile(path string) ([]float32, int, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return ReadWAVFile(path)
	case ".mp3":
		return ReadMP3File(path)
	default:
		return nil, 0, fmt.Errorf("unsupported audio format: %s", filepath.Ext(path))
	}
}

// FileBackend выдаёт содержимое аудиофайла как виртуальное устройство ввода.
// Speed 1 проигрывает в реальном времени, 0 отдаёт данные без пауз.
type FileBackend struct {
	name       string
	samples    []float32
	sampleRate int
	speed      float64
}

// NewFileBackend загружает файл целиком
func NewFileBackend(path string, speed float64) (*FileBackend, error) {
	samples, rate, err := LoadAudioFile(path)
	if err != nil {
		return nil, err
	}
	return NewSamplesBackend(filepath.Base(path), samples, rate, speed), nil
}

// NewSamplesBackend виртуальное устройство поверх готовых семплов
func NewSamplesBackend(name string, samples []float32, sampleRate int, speed float64) *FileBackend {
	return &FileBackend{
		name:       name,
		samples:    samples,
		sampleRate: sampleRate,
		speed:      speed,
	}
}

// Devices одно виртуальное устройство
func (b *FileBackend) Devices() ([]AudioDevice, error) {
	return []AudioDevice{{
		ID:                "file:" + b.name,
		Name:              b.name,
		MaxInputChannels:  1,
		DefaultSampleRate: b.sampleRate,
		IsDefault:         true,
	}}, nil
}

// Duration длительность файла
func (b *FileBackend) Duration() time.Duration {
	if b.sampleRate == 0 {
		return 0
	}
	return time.Duration(len(b.samples)) * time.Second / time.Duration(b.sampleRate)
}

// OpenStream всегда отдаёт исходную частоту файла, игнорируя cfg.SampleRate
func (b *FileBackend) OpenStream(_ *AudioDevice, cfg StreamConfig, onData DataFunc, onStop StopFunc) (Stream, error) {
	period := cfg.PeriodMs
	if period <= 0 {
		period = DefaultPeriodMs
	}
	return &fileStream{
		backend: b,
		chunk:   max(b.sampleRate*period/1000, 1),
		period:  time.Duration(period) * time.Millisecond,
		onData:  onData,
		onStop:  onStop,
		quit:    make(chan struct{}),
	}, nil
}

// Close ничего не держит
func (b *FileBackend) Close() error { return nil }

type fileStream struct {
	backend *FileBackend
	chunk   int
	period  time.Duration
	onData  DataFunc
	onStop  StopFunc

	quit      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func (s *fileStream) Start() error {
	s.wg.Add(1)
	go s.run()
	return nil
}

func (s *fileStream) run() {
	defer s.wg.Done()

	var ticker *time.Ticker
	if s.backend.speed > 0 {
		ticker = time.NewTicker(time.Duration(float64(s.period) / s.backend.speed))
		defer ticker.Stop()
	}

	samples := s.backend.samples
	for off := 0; off < len(samples); off += s.chunk {
		if ticker != nil {
			select {
			case <-ticker.C:
			case <-s.quit:
				return
			}
		} else {
			select {
			case <-s.quit:
				return
			default:
			}
		}
		end := min(off+s.chunk, len(samples))
		s.onData(samples[off:end], 1)
	}

	if s.onStop != nil {
		s.onStop(io.EOF)
	}
}

func (s *fileStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
		s.wg.Wait()
	})
	return nil
}

func (s *fileStream) SampleRate() int { return s.backend.sampleRate }
func (s *fileStream) Channels() int   { return 1 }
