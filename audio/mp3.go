package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/braheezy/shine-mp3/pkg/mp3"
	gomp3 "github.com/hajimehoshi/go-mp3"
)

// MP3 Layer III кодирует блоками по 1152 семпла на канал
const mp3BlockSize = 1152

// MP3Writer потоковая запись моно-сигнала в MP3 (shine, без FFmpeg)
type MP3Writer struct {
	mu         sync.Mutex
	file       *os.File
	encoder    *mp3.Encoder
	path       string
	sampleRate int
	pending    []int16
	written    int64
	closed     bool
}

// NewMP3Writer создаёт файл и кодировщик
func NewMP3Writer(path string, sampleRate int) (*MP3Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create mp3: %w", err)
	}
	log.Debugf("MP3 recording to %s (rate=%d)", path, sampleRate)
	return &MP3Writer{
		file:       f,
		encoder:    mp3.NewEncoder(sampleRate, 1),
		path:       path,
		sampleRate: sampleRate,
		pending:    make([]int16, 0, mp3BlockSize*8),
	}, nil
}

// Write добавляет семплы; кодирование идёт целыми пачками блоков
func (w *MP3Writer) Write(samples []float32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("mp3 writer is closed")
	}
	w.pending = append(w.pending, SamplesToInt16(samples)...)
	w.written += int64(len(samples))

	if len(w.pending) >= mp3BlockSize*4 {
		full := len(w.pending) / mp3BlockSize * mp3BlockSize
		w.encoder.Write(w.file, w.pending[:full])
		w.pending = append(w.pending[:0], w.pending[full:]...)
	}
	return nil
}

// Duration длительность записанного
func (w *MP3Writer) Duration() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return time.Duration(w.written) * time.Second / time.Duration(w.sampleRate)
}

// Path путь к файлу
func (w *MP3Writer) Path() string { return w.path }

// Close дописывает хвост (дополненный тишиной до блока) и закрывает файл
func (w *MP3Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	if len(w.pending) > 0 {
		for len(w.pending)%mp3BlockSize != 0 {
			w.pending = append(w.pending, 0)
		}
		w.encoder.Write(w.file, w.pending)
		w.pending = nil
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close mp3: %w", err)
	}
	log.Debugf("MP3 recording closed: %s (%v)", w.path, time.Duration(w.written)*time.Second/time.Duration(w.sampleRate))
	return nil
}

// ReadMP3File декодирует MP3 в моно float32. go-mp3 всегда отдаёт 16-bit стерео.
func ReadMP3File(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	dec, err := gomp3.NewDecoder(f)
	if err != nil {
		return nil, 0, fmt.Errorf("mp3 decoder: %w", err)
	}

	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, 0, fmt.Errorf("read mp3 pcm: %w", err)
	}

	frames := len(pcm) / 4
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		l := int16(binary.LittleEndian.Uint16(pcm[i*4:]))
		r := int16(binary.LittleEndian.Uint16(pcm[i*4+2:]))
		out[i] = (float32(l) + float32(r)) / 2 / 32768
	}
	return out, dec.SampleRate(), nil
}
