package ai

import (
	"context"
	"fmt"
	"sync"
)

// MockReply один ответ заглушки
type MockReply struct {
	Result Result
	Err    error
}

// MockRecognizer отвечает по сценарию. Без сценария описывает длину сегмента
// (используется для демо без модели).
type MockRecognizer struct {
	mu sync.Mutex

	Script []MockReply
	// Translation ответ на Translate; пустой Text - перевод не удался
	Translation MockReply

	calls      int
	translates int
	closed     bool
	seen       [][]float32
}

// NewMockRecognizer заглушка со сценарием
func NewMockRecognizer(script ...MockReply) *MockRecognizer {
	return &MockRecognizer{Script: script}
}

func (m *MockRecognizer) Transcribe(ctx context.Context, samples []float32, opts Options) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	m.seen = append(m.seen, samples)
	n := m.calls
	m.calls++

	if len(m.Script) == 0 {
		lang := "en"
		if !opts.AutoDetect() {
			lang = opts.Language
		}
		secs := float64(len(samples)) / SampleRate
		return Result{Text: fmt.Sprintf("(%.1f seconds of speech)", secs), Language: lang, LanguageProbability: 1}, nil
	}
	r := m.Script[min(n, len(m.Script)-1)]
	return r.Result, r.Err
}

func (m *MockRecognizer) Translate(ctx context.Context, _ []float32, _ string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.translates++
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return m.Translation.Result, m.Translation.Err
}

func (m *MockRecognizer) Name() string { return string(EngineMock) }

func (m *MockRecognizer) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Calls сколько раз вызывали Transcribe
func (m *MockRecognizer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Translations сколько раз вызывали Translate
func (m *MockRecognizer) Translations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.translates
}

// Closed был ли вызван Close
func (m *MockRecognizer) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// LastSamples семплы последнего вызова Transcribe
func (m *MockRecognizer) LastSamples() []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.seen) == 0 {
		return nil
	}
	return m.seen[len(m.seen)-1]
}
