package ai

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"livetranscriber/audio"
	"livetranscriber/session"
)

// DispatcherConfig политика распознавания и перевода
type DispatcherConfig struct {
	// Language принудительный язык или "auto"
	Language string `yaml:"language"`

	Translate      bool     `yaml:"translate"`
	TranslateFrom  []string `yaml:"translate_from"`
	TargetLanguage string   `yaml:"target_language"`
	// MinLanguageProbability ниже этого порога язык считаем неуверенным и не переводим
	MinLanguageProbability float32 `yaml:"min_language_probability"`

	SpeechRMS  float32 `yaml:"speech_rms"`
	SpeechPeak float32 `yaml:"speech_peak"`
	// AudioLevelFloor порог громкости для событий в режиме без модели
	AudioLevelFloor float32 `yaml:"audio_level_floor"`

	Filters audio.FilterConfig `yaml:"filters"`
}

// DefaultDispatcherConfig значения по умолчанию (см. DESIGN.md)
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Language:               "auto",
		Translate:              true,
		TranslateFrom:          []string{"tl"},
		TargetLanguage:         "en",
		MinLanguageProbability: 0.5,
		SpeechRMS:              0.005,
		SpeechPeak:             0.01,
		AudioLevelFloor:        0.01,
		Filters:                audio.DefaultFilterConfig(),
	}
}

// Dispatcher превращает сегменты в события транскрипта
type Dispatcher struct {
	cfg DispatcherConfig
	now func() time.Time

	mu        sync.Mutex
	rec       Recognizer
	audioOnly bool
}

// NewDispatcher диспетчер поверх движка. rec == nil - режим только громкости.
func NewDispatcher(rec Recognizer, cfg DispatcherConfig) *Dispatcher {
	if cfg.TargetLanguage == "" {
		cfg.TargetLanguage = "en"
	}
	cfg.TranslateFrom = slices.Clone(cfg.TranslateFrom)
	for i, l := range cfg.TranslateFrom {
		cfg.TranslateFrom[i] = strings.ToLower(l)
	}
	return &Dispatcher{
		cfg:       cfg,
		now:       time.Now,
		rec:       rec,
		audioOnly: rec == nil,
	}
}

// AudioOnly true, если модель недоступна и отдаются только уровни громкости
func (d *Dispatcher) AudioOnly() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.audioOnly
}

// EngineName имя движка для журнала и истории
func (d *Dispatcher) EngineName() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.audioOnly {
		return "audio-only"
	}
	return d.rec.Name()
}

// Close освобождает движок
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rec == nil {
		return nil
	}
	return d.rec.Close()
}

// Transcribe распознаёт сегмент. ErrNoSpeech - событие не нужно,
// *SegmentInferenceError - сегмент пропускается, сессия продолжается.
func (d *Dispatcher) Transcribe(ctx context.Context, seg session.Segment) (session.TranscriptEvent, error) {
	d.mu.Lock()
	rec, audioOnly := d.rec, d.audioOnly
	d.mu.Unlock()

	samples := seg.Samples
	if seg.SampleRate != 0 && seg.SampleRate != SampleRate {
		samples = audio.Resample(samples, seg.SampleRate, SampleRate)
	}

	if audioOnly {
		return d.audioLevelEvent(seg, samples)
	}

	if !d.hasSpeech(samples) {
		log.Debugf("Segment %d below speech gate (rms=%.4f)", seg.Index, audio.RMS(samples))
		return session.TranscriptEvent{}, ErrNoSpeech
	}

	prepared := audio.ApplyFilters(samples, SampleRate, d.cfg.Filters)

	started := d.now()
	opts := Options{Language: d.cfg.Language}
	res, err := rec.Transcribe(ctx, prepared, opts)
	if err != nil {
		if errors.Is(err, ErrNoSpeech) {
			return session.TranscriptEvent{}, ErrNoSpeech
		}
		return session.TranscriptEvent{}, &SegmentInferenceError{Index: seg.Index, Err: err}
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return session.TranscriptEvent{}, ErrNoSpeech
	}

	lang := strings.ToLower(res.Language)
	if lang == "" && !opts.AutoDetect() {
		lang = strings.ToLower(d.cfg.Language)
	}

	ev := session.TranscriptEvent{
		Kind:          session.KindTranscript,
		Text:          text,
		Language:      strings.ToUpper(lang),
		SegmentIndex:  seg.Index,
		SegmentStart:  seg.Start,
		SegmentOffset: seg.Offset,
		Duration:      seg.Duration,
	}

	if d.shouldTranslate(lang, res.LanguageProbability) {
		if tr, ok := rec.(Translator); ok {
			tres, err := tr.Translate(ctx, prepared, lang)
			switch {
			case err != nil:
				log.Warnf("Translation of segment %d failed, keeping original text: %v", seg.Index, err)
			case strings.TrimSpace(tres.Text) == "":
				log.Debugf("Translation of segment %d is empty, keeping original text", seg.Index)
			default:
				ev.Text = strings.TrimSpace(tres.Text)
				ev.Translated = true
				ev.TargetLanguage = strings.ToUpper(d.cfg.TargetLanguage)
			}
		} else {
			log.Debugf("%s cannot translate, keeping %s text", rec.Name(), lang)
		}
	}

	ev.CreatedAt = d.now()
	log.Debugf("Segment %d -> %s in %v", seg.Index, ev.Tag(), ev.CreatedAt.Sub(started))
	return ev, nil
}

// hasSpeech грубый фильтр тишины: меньше 100мс, тихо или только постоянный фон
func (d *Dispatcher) hasSpeech(samples []float32) bool {
	if len(samples) < SampleRate/10 {
		return false
	}
	return audio.RMS(samples) >= d.cfg.SpeechRMS && audio.Peak(samples) >= d.cfg.SpeechPeak
}

func (d *Dispatcher) shouldTranslate(lang string, prob float32) bool {
	if !d.cfg.Translate || lang == "" || lang == strings.ToLower(d.cfg.TargetLanguage) {
		return false
	}
	if !slices.Contains(d.cfg.TranslateFrom, lang) {
		return false
	}
	if prob > 0 && prob < d.cfg.MinLanguageProbability {
		log.Debugf("Language %s probability %.2f below %.2f, not translating", lang, prob, d.cfg.MinLanguageProbability)
		return false
	}
	return true
}

func (d *Dispatcher) audioLevelEvent(seg session.Segment, samples []float32) (session.TranscriptEvent, error) {
	rms := audio.RMS(samples)
	if rms <= d.cfg.AudioLevelFloor {
		return session.TranscriptEvent{}, ErrNoSpeech
	}
	return session.TranscriptEvent{
		Kind:          session.KindAudioLevel,
		Text:          fmt.Sprintf("Volume level: %.4f (speech recognition unavailable)", rms),
		SegmentIndex:  seg.Index,
		SegmentStart:  seg.Start,
		SegmentOffset: seg.Offset,
		Duration:      seg.Duration,
		CreatedAt:     d.now(),
	}, nil
}
