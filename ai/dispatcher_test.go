package ai

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livetranscriber/session"
)

// speechLike синус с модуляцией, проходит фильтр тишины
func speechLike(seconds float64, rate int) []float32 {
	n := int(seconds * float64(rate))
	out := make([]float32, n)
	for i := range out {
		t := float64(i) / float64(rate)
		out[i] = float32(0.3 * math.Sin(2*math.Pi*220*t) * (0.6 + 0.4*math.Sin(2*math.Pi*3*t)))
	}
	return out
}

func segment(idx int, samples []float32, rate int) session.Segment {
	return session.Segment{
		Index:      idx,
		Samples:    samples,
		SampleRate: rate,
		Start:      time.Date(2024, 1, 1, 9, 0, idx*3, 0, time.UTC),
		Offset:     time.Duration(idx) * 3 * time.Second,
		Duration:   time.Duration(len(samples)) * time.Second / time.Duration(rate),
	}
}

func TestDispatcherEnglishHelloWorld(t *testing.T) {
	rec := NewMockRecognizer(MockReply{Result: Result{Text: " hello world ", Language: "en", LanguageProbability: 0.97}})
	d := NewDispatcher(rec, DefaultDispatcherConfig())

	ev, err := d.Transcribe(context.Background(), segment(0, speechLike(3, SampleRate), SampleRate))
	require.NoError(t, err)
	assert.Equal(t, "EN", ev.Language)
	assert.False(t, ev.Translated)
	assert.Contains(t, ev.Text, "hello world")
	assert.Equal(t, "[EN] hello world", ev.Line())
	assert.Equal(t, 3*time.Second, ev.Duration)
	assert.Zero(t, rec.Translations())
}

func TestDispatcherTagalogTranslated(t *testing.T) {
	rec := NewMockRecognizer(MockReply{Result: Result{Text: "magandang umaga po", Language: "tl", LanguageProbability: 0.88}})
	rec.Translation = MockReply{Result: Result{Text: "good morning", Language: "en"}}
	d := NewDispatcher(rec, DefaultDispatcherConfig())

	ev, err := d.Transcribe(context.Background(), segment(1, speechLike(3, SampleRate), SampleRate))
	require.NoError(t, err)
	assert.True(t, ev.Translated)
	assert.Equal(t, "good morning", ev.Text)
	assert.Equal(t, "[TL > EN] good morning", ev.Line())
}

func TestDispatcherTranslationPolicy(t *testing.T) {
	tests := []struct {
		name      string
		cfg       func(*DispatcherConfig)
		lang      string
		prob      float32
		translate bool
	}{
		{name: "disabled", cfg: func(c *DispatcherConfig) { c.Translate = false }, lang: "tl", prob: 0.9},
		{name: "low confidence", lang: "tl", prob: 0.3},
		{name: "unknown confidence", lang: "tl", prob: 0, translate: true},
		{name: "other language", lang: "es", prob: 0.99},
		{name: "extra source", cfg: func(c *DispatcherConfig) { c.TranslateFrom = []string{"TL", "ceb"} }, lang: "ceb", prob: 0.9, translate: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultDispatcherConfig()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			rec := NewMockRecognizer(MockReply{Result: Result{Text: "original", Language: tt.lang, LanguageProbability: tt.prob}})
			rec.Translation = MockReply{Result: Result{Text: "translated"}}

			ev, err := NewDispatcher(rec, cfg).Transcribe(context.Background(), segment(0, speechLike(1, SampleRate), SampleRate))
			require.NoError(t, err)
			assert.Equal(t, tt.translate, ev.Translated)
			assert.Equal(t, strings.ToUpper(tt.lang), ev.Language)
		})
	}
}

func TestDispatcherKeepsCallerConfig(t *testing.T) {
	from := []string{"TL", "Ceb"}
	cfg := DefaultDispatcherConfig()
	cfg.TranslateFrom = from

	rec := NewMockRecognizer(MockReply{Result: Result{Text: "magandang umaga", Language: "tl", LanguageProbability: 0.9}})
	rec.Translation = MockReply{Result: Result{Text: "good morning"}}
	ev, err := NewDispatcher(rec, cfg).Transcribe(context.Background(), segment(0, speechLike(1, SampleRate), SampleRate))
	require.NoError(t, err)
	assert.True(t, ev.Translated)
	assert.Equal(t, []string{"TL", "Ceb"}, from)
	assert.Equal(t, []string{"TL", "Ceb"}, cfg.TranslateFrom)
}

func TestDispatcherTranslationFailureKeepsText(t *testing.T) {
	rec := NewMockRecognizer(MockReply{Result: Result{Text: "salamat", Language: "tl"}})
	rec.Translation = MockReply{Err: errors.New("backend busy")}

	ev, err := NewDispatcher(rec, DefaultDispatcherConfig()).Transcribe(context.Background(), segment(0, speechLike(1, SampleRate), SampleRate))
	require.NoError(t, err)
	assert.False(t, ev.Translated)
	assert.Equal(t, "[TL] salamat", ev.Line())
}

func TestDispatcherFailingSegmentThenNormal(t *testing.T) {
	rec := NewMockRecognizer(
		MockReply{Err: errors.New("cuda out of memory")},
		MockReply{Result: Result{Text: "still running", Language: "en"}},
	)
	d := NewDispatcher(rec, DefaultDispatcherConfig())

	_, err := d.Transcribe(context.Background(), segment(0, speechLike(1, SampleRate), SampleRate))
	var sie *SegmentInferenceError
	require.ErrorAs(t, err, &sie)
	assert.Equal(t, 0, sie.Index)
	assert.Contains(t, err.Error(), "cuda out of memory")

	ev, err := d.Transcribe(context.Background(), segment(1, speechLike(1, SampleRate), SampleRate))
	require.NoError(t, err)
	assert.Equal(t, "still running", ev.Text)
	assert.Equal(t, 1, ev.SegmentIndex)
}

func TestDispatcherSkipsSilenceAndEmptyText(t *testing.T) {
	rec := NewMockRecognizer(MockReply{Result: Result{Text: "   ", Language: "en"}})
	d := NewDispatcher(rec, DefaultDispatcherConfig())

	_, err := d.Transcribe(context.Background(), segment(0, make([]float32, SampleRate), SampleRate))
	require.ErrorIs(t, err, ErrNoSpeech)
	assert.Zero(t, rec.Calls(), "silence never reaches the model")

	_, err = d.Transcribe(context.Background(), segment(1, speechLike(1, SampleRate), SampleRate))
	require.ErrorIs(t, err, ErrNoSpeech)
	assert.Equal(t, 1, rec.Calls())
}

func TestDispatcherResamplesSegment(t *testing.T) {
	rec := NewMockRecognizer(MockReply{Result: Result{Text: "ok", Language: "en"}})
	d := NewDispatcher(rec, DefaultDispatcherConfig())

	_, err := d.Transcribe(context.Background(), segment(0, speechLike(1, 48000), 48000))
	require.NoError(t, err)
	assert.Len(t, rec.LastSamples(), SampleRate)
}

func TestDispatcherForcedLanguage(t *testing.T) {
	cfg := DefaultDispatcherConfig()
	cfg.Language = "en"
	rec := NewMockRecognizer(MockReply{Result: Result{Text: "forced"}})

	ev, err := NewDispatcher(rec, cfg).Transcribe(context.Background(), segment(0, speechLike(1, SampleRate), SampleRate))
	require.NoError(t, err)
	assert.Equal(t, "EN", ev.Language)
}

func TestDispatcherAudioOnly(t *testing.T) {
	d := NewDispatcher(nil, DefaultDispatcherConfig())
	assert.True(t, d.AudioOnly())
	assert.Equal(t, "audio-only", d.EngineName())

	ev, err := d.Transcribe(context.Background(), segment(0, speechLike(1, SampleRate), SampleRate))
	require.NoError(t, err)
	assert.Equal(t, session.KindAudioLevel, ev.Kind)
	assert.True(t, strings.HasPrefix(ev.Line(), "[AUDIO] Volume level: 0."))

	_, err = d.Transcribe(context.Background(), segment(1, make([]float32, SampleRate), SampleRate))
	require.ErrorIs(t, err, ErrNoSpeech)
	require.NoError(t, d.Close())
}

func TestDispatcherCancelledContext(t *testing.T) {
	rec := NewMockRecognizer()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDispatcher(rec, DefaultDispatcherConfig()).Transcribe(ctx, segment(0, speechLike(1, SampleRate), SampleRate))
	require.ErrorIs(t, err, context.Canceled)
}
