package audio_test

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livetranscriber/audio"
	"livetranscriber/audio/audiotest"
)

var mic = audio.AudioDevice{ID: "m", Name: "Mic", MaxInputChannels: 1, DefaultSampleRate: 48000}

func TestCaptureDeliversMonoPipelineFrames(t *testing.T) {
	stereo := mic
	stereo.MaxInputChannels = 2
	b := audiotest.New(stereo)
	buf := audio.NewFrameBuffer(10)

	h, err := audio.NewCapture(b, 16000).Start(&stereo, audio.StreamConfig{SampleRate: 48000, Channels: 2}, buf)
	require.NoError(t, err)
	defer h.Stop()

	// 4800 стерео-кадров при 48kHz = 100мс
	in := make([]float32, 4800*2)
	for i := range in {
		in[i] = 0.25
	}
	require.NoError(t, b.Last().Emit(in))

	frames := buf.Drain()
	require.Len(t, frames, 1)
	f := frames[0]
	assert.Equal(t, 16000, f.SampleRate)
	assert.Equal(t, 1, f.Channels)
	assert.Len(t, f.Samples, 1600)
	assert.InDelta(t, 0.25, f.Samples[10], 1e-6)
	assert.WithinDuration(t, time.Now(), f.Timestamp, time.Second)
	assert.Equal(t, 100*time.Millisecond, f.Duration())
}

func TestCaptureClampsChannels(t *testing.T) {
	b := audiotest.New(mic)
	h, err := audio.NewCapture(b, 16000).Start(&mic, audio.StreamConfig{SampleRate: 16000, Channels: 2}, audio.NewFrameBuffer(1))
	require.NoError(t, err)
	defer h.Stop()
	assert.Equal(t, 1, b.Opens[0].Config.Channels)
}

func TestCaptureFallbackConfigurations(t *testing.T) {
	b := audiotest.New(mic)
	b.OpenErr = func(dev *audio.AudioDevice, cfg audio.StreamConfig) error {
		if dev != nil && cfg.SampleRate != 22050 {
			return errors.New("format not supported")
		}
		return nil
	}

	h, err := audio.NewCapture(b, 16000).Start(&mic, audio.StreamConfig{SampleRate: 16000}, audio.NewFrameBuffer(1))
	require.NoError(t, err)
	defer h.Stop()

	require.Equal(t, 3, b.OpenCount())
	assert.Equal(t, 16000, b.Opens[0].Config.SampleRate)
	assert.Equal(t, 44100, b.Opens[1].Config.SampleRate)
	assert.Equal(t, 22050, b.Opens[2].Config.SampleRate)
	assert.Equal(t, 22050, h.SampleRate())
	assert.Equal(t, "Mic", h.Device().Name)
}

func TestCaptureFallsBackToDefaultDevice(t *testing.T) {
	b := audiotest.New(mic)
	b.OpenErr = func(dev *audio.AudioDevice, _ audio.StreamConfig) error {
		if dev != nil {
			return errors.New("device busy")
		}
		return nil
	}

	h, err := audio.NewCapture(b, 16000).Start(&mic, audio.StreamConfig{SampleRate: 16000}, audio.NewFrameBuffer(1))
	require.NoError(t, err)
	defer h.Stop()

	require.Equal(t, 4, b.OpenCount())
	assert.Nil(t, b.Opens[3].Device)
	assert.True(t, h.Device().IsDefault)
}

func TestCaptureAllAttemptsFail(t *testing.T) {
	b := audiotest.New(mic)
	b.OpenErr = func(*audio.AudioDevice, audio.StreamConfig) error { return errors.New("access denied") }

	_, err := audio.NewCapture(b, 16000).Start(&mic, audio.StreamConfig{SampleRate: 16000}, audio.NewFrameBuffer(1))
	var cse *audio.CaptureStreamError
	require.ErrorAs(t, err, &cse)
	assert.Equal(t, "Mic", cse.Device)
	assert.Contains(t, err.Error(), "access denied")
	assert.NotEmpty(t, cse.Hint())
}

func TestCaptureStartFailureReleasesStream(t *testing.T) {
	b := audiotest.New(mic)
	b.StartErr = errors.New("start failed")

	_, err := audio.NewCapture(b, 16000).Start(&mic, audio.StreamConfig{SampleRate: 16000}, audio.NewFrameBuffer(1))
	require.Error(t, err)
	require.NotNil(t, b.Last())
	assert.True(t, b.Last().Closed())
}

func TestHandleStopIdempotentAndErr(t *testing.T) {
	b := audiotest.New(mic)
	h, err := audio.NewCapture(b, 16000).Start(&mic, audio.StreamConfig{}, audio.NewFrameBuffer(1))
	require.NoError(t, err)

	b.Last().Fail(audio.ErrStreamStopped)
	select {
	case err := <-h.Err():
		assert.ErrorIs(t, err, audio.ErrStreamStopped)
	case <-time.After(time.Second):
		t.Fatal("stream error not reported")
	}

	require.NoError(t, h.Stop())
	require.NoError(t, h.Stop())
	assert.True(t, b.Last().Closed())
	assert.Error(t, b.Last().Emit([]float32{1}))
}

func TestCaptureFileBackendReportsEOF(t *testing.T) {
	samples := make([]float32, 16000)
	fb := audio.NewSamplesBackend("clip.wav", samples, 16000, 0)
	buf := audio.NewFrameBuffer(100)

	devs, err := audio.NewRegistry(fb).ListDevices()
	require.NoError(t, err)

	h, err := audio.NewCapture(fb, 16000).Start(&devs[0], audio.StreamConfig{PeriodMs: 100}, buf)
	require.NoError(t, err)
	defer h.Stop()

	select {
	case err := <-h.Err():
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(2 * time.Second):
		t.Fatal("file source did not finish")
	}

	total := 0
	for _, f := range buf.Drain() {
		total += len(f.Samples)
	}
	assert.Equal(t, 16000, total)
	assert.Equal(t, time.Second, fb.Duration())
}
