package session

import (
	"time"

	"livetranscriber/audio"
)

// ChunkMode стратегия нарезки
type ChunkMode string

const (
	// ChunkModeTime режем, как только накопился минимум
	ChunkModeTime ChunkMode = "time"
	// ChunkModeSilence ищем паузу между минимумом и максимумом
	ChunkModeSilence ChunkMode = "silence"
)

// ChunkerConfig параметры нарезки на сегменты
type ChunkerConfig struct {
	Mode               ChunkMode     `yaml:"mode"`
	MinSegmentDuration time.Duration `yaml:"min_segment"`
	MaxSegmentDuration time.Duration `yaml:"max_segment"`
	SilenceThreshold   float32       `yaml:"silence_threshold"` // RMS окна 100мс
	SilenceDuration    time.Duration `yaml:"silence_duration"`
	PollInterval       time.Duration `yaml:"poll_interval"`
}

// DefaultChunkerConfig значения по умолчанию (см. DESIGN.md)
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		Mode:               ChunkModeTime,
		MinSegmentDuration: 5 * time.Second,
		MaxSegmentDuration: 30 * time.Second,
		SilenceThreshold:   0.008,
		SilenceDuration:    600 * time.Millisecond,
		PollInterval:       500 * time.Millisecond,
	}
}

// Chunker собирает блоки захвата в сегменты для распознавания.
// Недобранный до минимума хвост остаётся в буфере до следующего Drain.
// Не потокобезопасен: вызывается только из цикла опроса сессии.
type Chunker struct {
	cfg        ChunkerConfig
	sampleRate int

	pending      []float32
	pendingStart time.Time
	emitted      int64 // семплов отдано с начала сессии
	index        int
}

// NewChunker создаёт нарезчик для потока с заданной частотой
func NewChunker(cfg ChunkerConfig, sampleRate int) *Chunker {
	if cfg.MinSegmentDuration <= 0 {
		cfg.MinSegmentDuration = DefaultChunkerConfig().MinSegmentDuration
	}
	if cfg.MaxSegmentDuration < cfg.MinSegmentDuration {
		cfg.MaxSegmentDuration = cfg.MinSegmentDuration
	}
	if cfg.Mode == "" {
		cfg.Mode = ChunkModeTime
	}
	return &Chunker{
		cfg:        cfg,
		sampleRate: sampleRate,
		pending:    make([]float32, 0, int(cfg.MaxSegmentDuration.Seconds())*sampleRate),
	}
}

// Drain добавляет блоки в буфер и возвращает готовые сегменты по порядку
func (c *Chunker) Drain(frames []audio.Frame) []Segment {
	for _, f := range frames {
		samples := f.Samples
		if f.SampleRate != 0 && f.SampleRate != c.sampleRate {
			samples = audio.Resample(samples, f.SampleRate, c.sampleRate)
		}
		if len(samples) == 0 {
			continue
		}
		if len(c.pending) == 0 {
			start := f.Timestamp
			if !start.IsZero() {
				start = start.Add(-c.samplesToDuration(len(samples)))
			}
			c.pendingStart = start
		}
		c.pending = append(c.pending, samples...)
	}

	var out []Segment
	for {
		cut := c.nextCut()
		if cut <= 0 {
			break
		}
		out = append(out, c.emit(cut, false))
	}
	return out
}

// Flush отдаёт остаток как финальный сегмент независимо от длины.
// Пустой остаток - nil.
func (c *Chunker) Flush() *Segment {
	if len(c.pending) == 0 {
		return nil
	}
	seg := c.emit(len(c.pending), true)
	return &seg
}

// Pending длительность данных, ждущих следующего сегмента
func (c *Chunker) Pending() time.Duration {
	return c.samplesToDuration(len(c.pending))
}

// Reset начинает новую сессию
func (c *Chunker) Reset() {
	c.pending = c.pending[:0]
	c.pendingStart = time.Time{}
	c.emitted = 0
	c.index = 0
}

// nextCut позиция разреза в pending или 0, если сегмента ещё нет
func (c *Chunker) nextCut() int {
	minSamples := c.durationToSamples(c.cfg.MinSegmentDuration)
	maxSamples := c.durationToSamples(c.cfg.MaxSegmentDuration)
	avail := len(c.pending)
	if avail < minSamples {
		return 0
	}

	if c.cfg.Mode == ChunkModeSilence {
		if gap := c.findSilenceGap(minSamples, min(avail, maxSamples)); gap > 0 {
			return gap
		}
		if avail >= maxSamples {
			log.Debugf("No pause found, forced split at %v", c.cfg.MaxSegmentDuration)
			return maxSamples
		}
		return 0
	}

	return min(avail, maxSamples)
}

// findSilenceGap ищет серию тихих окон по 100мс длительностью SilenceDuration
// в [from, to) и возвращает середину паузы или -1
func (c *Chunker) findSilenceGap(from, to int) int {
	window := max(c.sampleRate/10, 1)
	need := c.durationToSamples(c.cfg.SilenceDuration)

	quiet := 0
	start := -1
	for pos := from; pos+window <= to; pos += window {
		if audio.RMS(c.pending[pos:pos+window]) < c.cfg.SilenceThreshold {
			if quiet == 0 {
				start = pos
			}
			quiet += window
			if quiet >= need {
				return start + quiet/2
			}
		} else {
			quiet = 0
			start = -1
		}
	}
	return -1
}

func (c *Chunker) emit(n int, final bool) Segment {
	samples := make([]float32, n)
	copy(samples, c.pending[:n])

	dur := c.samplesToDuration(n)
	seg := Segment{
		Index:      c.index,
		Samples:    samples,
		SampleRate: c.sampleRate,
		Start:      c.pendingStart,
		Offset:     c.samplesToDuration(int(c.emitted)),
		Duration:   dur,
		Final:      final,
	}

	c.index++
	c.emitted += int64(n)
	rest := copy(c.pending, c.pending[n:])
	c.pending = c.pending[:rest]
	if !c.pendingStart.IsZero() {
		c.pendingStart = c.pendingStart.Add(dur)
	}

	log.Debugf("Segment %d: %.1fs at +%.1fs (final=%v)", seg.Index, dur.Seconds(), seg.Offset.Seconds(), final)
	return seg
}

func (c *Chunker) durationToSamples(d time.Duration) int {
	return int(d.Seconds() * float64(c.sampleRate))
}

func (c *Chunker) samplesToDuration(n int) time.Duration {
	if c.sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(c.sampleRate)
}
