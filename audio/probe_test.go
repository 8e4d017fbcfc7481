package audio_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livetranscriber/audio"
	"livetranscriber/audio/audiotest"
)

func TestFindWorkingDevice(t *testing.T) {
	dead := audio.AudioDevice{ID: "dead", Name: "Dead Mic", MaxInputChannels: 1, IsDefault: true}
	live := audio.AudioDevice{ID: "live", Name: "Live Mic", MaxInputChannels: 1}
	b := audiotest.New(dead, live)
	b.AutoEmit = []float32{0.1, 0.2}
	b.OpenErr = func(dev *audio.AudioDevice, _ audio.StreamConfig) error {
		if dev.ID == "dead" {
			return errors.New("device unplugged")
		}
		return nil
	}

	got, err := audio.FindWorkingDevice(context.Background(), b, []audio.AudioDevice{dead, live},
		audio.StreamConfig{SampleRate: 16000, Channels: 1}, 500*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "live", got.ID)
	assert.Equal(t, "dead", b.Opens[0].Device.ID, "default device probed first")
}

func TestFindWorkingDeviceSilentDevices(t *testing.T) {
	d := audio.AudioDevice{ID: "x", Name: "Quiet", MaxInputChannels: 1}
	b := audiotest.New(d)

	_, err := audio.FindWorkingDevice(context.Background(), b, []audio.AudioDevice{d},
		audio.StreamConfig{SampleRate: 16000, Channels: 1}, 50*time.Millisecond)
	var cse *audio.CaptureStreamError
	require.ErrorAs(t, err, &cse)

	_, err = audio.FindWorkingDevice(context.Background(), b, nil, audio.StreamConfig{}, 0)
	require.ErrorIs(t, err, audio.ErrNoDeviceFound)
}
