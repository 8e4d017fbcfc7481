package audio

import (
	"sync/atomic"
	"time"
)

// DefaultBufferFrames ёмкость буфера по умолчанию (~30с при периоде 100мс)
const DefaultBufferFrames = 300

// FramesFor число блоков драйвера на отрезок d. periodMs <= 0 значит
// период по умолчанию, как и в Capture.
func FramesFor(d time.Duration, periodMs int) int {
	if periodMs <= 0 {
		periodMs = DefaultPeriodMs
	}
	period := time.Duration(periodMs) * time.Millisecond
	return int((d + period - 1) / period)
}

// FrameBuffer ограниченная FIFO очередь между callback'ом драйвера и
// циклом нарезки. Push никогда не блокирует: при переполнении
// выбрасывается самый старый блок.
type FrameBuffer struct {
	frames  chan Frame
	pushed  atomic.Uint64
	dropped atomic.Uint64
}

// NewFrameBuffer создаёт буфер на capacity блоков
func NewFrameBuffer(capacity int) *FrameBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferFrames
	}
	return &FrameBuffer{frames: make(chan Frame, capacity)}
}

// Push добавляет блок. Возвращает false, если ради него пришлось выбросить старые данные.
func (b *FrameBuffer) Push(f Frame) bool {
	clean := true
	for {
		select {
		case b.frames <- f:
			b.pushed.Add(1)
			return clean
		default:
		}

		select {
		case <-b.frames:
			b.dropped.Add(1)
			clean = false
		default:
		}
	}
}

// Drain забирает все накопленные блоки в порядке поступления
func (b *FrameBuffer) Drain() []Frame {
	var out []Frame
	for {
		select {
		case f := <-b.frames:
			out = append(out, f)
		default:
			return out
		}
	}
}

// Reset выбрасывает накопленные данные (перед новой записью)
func (b *FrameBuffer) Reset() {
	for {
		select {
		case <-b.frames:
		default:
			return
		}
	}
}

// Len текущее количество блоков в очереди
func (b *FrameBuffer) Len() int { return len(b.frames) }

// Cap ёмкость очереди
func (b *FrameBuffer) Cap() int { return cap(b.frames) }

// Pushed сколько блоков принято за всё время
func (b *FrameBuffer) Pushed() uint64 { return b.pushed.Load() }

// Dropped сколько блоков выброшено из-за переполнения
func (b *FrameBuffer) Dropped() uint64 { return b.dropped.Load() }
