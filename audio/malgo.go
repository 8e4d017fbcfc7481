package audio

import (
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// MalgoBackend бэкенд на miniaudio (WASAPI/CoreAudio/PulseAudio/ALSA)
type MalgoBackend struct {
	ctx *malgo.AllocatedContext
	mu  sync.Mutex
}

// NewMalgoBackend инициализирует контекст miniaudio
func NewMalgoBackend() (*MalgoBackend, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init audio context: %w", err)
	}
	return &MalgoBackend{ctx: ctx}, nil
}

// Devices перечисляет устройства захвата (микрофоны и loopback)
func (b *MalgoBackend) Devices() ([]AudioDevice, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	infos, err := b.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
	}

	res := make([]AudioDevice, 0, len(infos))
	seen := make(map[string]struct{}, len(infos))
	for _, info := range infos {
		full, err := b.ctx.DeviceInfo(malgo.Capture, info.ID, malgo.Shared)
		if err != nil {
			log.Warnf("Unable to get device info for %q: %v", info.Name(), err)
			full = info
		}

		id := deviceIDToString(full.ID)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		channels, rate := summarizeFormats(full)
		res = append(res, AudioDevice{
			ID:                id,
			Name:              full.Name(),
			MaxInputChannels:  channels,
			DefaultSampleRate: rate,
			IsDefault:         full.IsDefault == 1,
			IsLoopback:        IsLoopbackName(full.Name()),
		})
	}
	return res, nil
}

// summarizeFormats вычисляет максимум каналов и предпочтительную частоту.
// Часть бэкендов не сообщает нативные форматы: считаем такое устройство моно 48kHz.
func summarizeFormats(info malgo.DeviceInfo) (int, int) {
	count := int(info.FormatCount)
	if count == 0 {
		return 1, 48000
	}
	if count > len(info.Formats) {
		count = len(info.Formats)
	}

	maxChannels := 0
	rate := 0
	for _, f := range info.Formats[:count] {
		if int(f.Channels) > maxChannels {
			maxChannels = int(f.Channels)
		}
		if rate == 0 && f.SampleRate > 0 {
			rate = int(f.SampleRate)
		}
	}
	if rate == 0 {
		rate = 48000
	}
	return maxChannels, rate
}

// OpenStream создаёт F32 поток захвата
func (b *MalgoBackend) OpenStream(device *AudioDevice, cfg StreamConfig, onData DataFunc, onStop StopFunc) (Stream, error) {
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	if cfg.PeriodMs > 0 {
		deviceConfig.PeriodSizeInMilliseconds = uint32(cfg.PeriodMs)
	}
	deviceConfig.Alsa.NoMMap = 1

	s := &malgoStream{
		rate:     cfg.SampleRate,
		channels: cfg.Channels,
	}
	if device != nil {
		id, err := stringToDeviceID(device.ID)
		if err != nil {
			return nil, err
		}
		s.id = id
		deviceConfig.Capture.DeviceID = s.id.Pointer()
	}

	channels := cfg.Channels
	onRecvFrames := func(_, pInputSamples []byte, framecount uint32) {
		sampleCount := int(framecount) * channels
		if len(pInputSamples) < sampleCount*4 {
			return
		}
		samples := make([]float32, sampleCount)
		for i := 0; i < sampleCount; i++ {
			bits := uint32(pInputSamples[i*4]) | uint32(pInputSamples[i*4+1])<<8 | uint32(pInputSamples[i*4+2])<<16 | uint32(pInputSamples[i*4+3])<<24
			samples[i] = math.Float32frombits(bits)
		}
		onData(samples, channels)
	}
	onStopped := func() {
		if s.closing.Load() {
			return
		}
		if onStop != nil {
			onStop(ErrStreamStopped)
		}
	}

	b.mu.Lock()
	dev, err := malgo.InitDevice(b.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onRecvFrames,
		Stop: onStopped,
	})
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.dev = dev
	return s, nil
}

// Close освобождает контекст miniaudio
func (b *MalgoBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return nil
	}
	err := b.ctx.Uninit()
	b.ctx.Free()
	b.ctx = nil
	return err
}

type malgoStream struct {
	dev      *malgo.Device
	id       malgo.DeviceID
	rate     int
	channels int
	closing  atomic.Bool
	once     sync.Once
}

func (s *malgoStream) Start() error {
	return s.dev.Start()
}

func (s *malgoStream) Close() error {
	var err error
	s.once.Do(func() {
		s.closing.Store(true)
		if s.dev.IsStarted() {
			err = s.dev.Stop()
		}
		s.dev.Uninit()
	})
	return err
}

func (s *malgoStream) SampleRate() int { return s.rate }

func (s *malgoStream) Channels() int { return s.channels }

// deviceIDToString кодирует бинарный ID устройства в hex без хвостовых нулей
func deviceIDToString(id malgo.DeviceID) string {
	end := len(id)
	for end > 0 && id[end-1] == 0 {
		end--
	}
	return hex.EncodeToString(id[:end])
}

func stringToDeviceID(s string) (malgo.DeviceID, error) {
	var id malgo.DeviceID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid device id %q: %w", s, err)
	}
	if len(raw) > len(id) {
		return id, fmt.Errorf("device ID too long")
	}
	copy(id[:], raw)
	return id, nil
}
