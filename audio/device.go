package audio

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoDeviceFound возвращается, когда в системе нет ни одного устройства с входными каналами
var ErrNoDeviceFound = errors.New("no audio input device found")

// AudioDevice снимок устройства захвата на момент запроса к ОС
type AudioDevice struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	MaxInputChannels  int    `json:"maxInputChannels"`
	DefaultSampleRate int    `json:"defaultSampleRate"`
	IsDefault         bool   `json:"isDefault"`
	IsLoopback        bool   `json:"isLoopback"`
}

func (d AudioDevice) String() string {
	return fmt.Sprintf("%s (%d ch, %d Hz)", d.Name, d.MaxInputChannels, d.DefaultSampleRate)
}

// Frame блок семплов, полученный от потока захвата.
// Семплы всегда моно float32 в диапазоне [-1, 1].
type Frame struct {
	Samples    []float32
	SampleRate int
	Channels   int
	Timestamp  time.Time
}

// Duration длительность блока
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// CaptureStreamError устройство пропало или ОС запретила доступ
type CaptureStreamError struct {
	Device string
	Err    error
}

func (e *CaptureStreamError) Error() string {
	return fmt.Sprintf("capture stream on %q failed: %v", e.Device, e.Err)
}

func (e *CaptureStreamError) Unwrap() error { return e.Err }

// Hint текст для пользователя
func (e *CaptureStreamError) Hint() string {
	return "Check that the device is still connected and that this application is allowed to use the microphone, then select the device again."
}

// loopbackMarkers подстроки имён устройств, которые отдают системный звук
var loopbackMarkers = []string{
	"loopback",
	"stereo mix",
	"what u hear",
	"blackhole",
	"monitor of",
}

// IsLoopbackName проверяет, похоже ли имя на loopback устройство
func IsLoopbackName(name string) bool {
	lower := strings.ToLower(name)
	for _, m := range loopbackMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
