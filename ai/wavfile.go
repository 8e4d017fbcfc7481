package ai

import (
	"fmt"
	"os"

	"livetranscriber/audio"
)

// writeTempWAV пишет 16kHz моно WAV во временный файл; cleanup удаляет его
func writeTempWAV(samples []float32, pattern string) (path string, cleanup func(), err error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", nil, fmt.Errorf("temp file: %w", err)
	}
	path = f.Name()
	cleanup = func() { os.Remove(path) }

	if err := audio.WriteWAV(f, samples, SampleRate); err != nil {
		f.Close()
		cleanup()
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}
