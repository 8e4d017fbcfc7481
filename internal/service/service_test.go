package service

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livetranscriber/ai"
	"livetranscriber/audio"
	"livetranscriber/audio/audiotest"
	"livetranscriber/internal/config"
	"livetranscriber/session"
)

var testMic = audio.AudioDevice{ID: "mic-1", Name: "USB Mic", MaxInputChannels: 1, DefaultSampleRate: 16000, IsDefault: true}

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.ResolvePaths()
	cfg.Chunker.MinSegmentDuration = time.Second
	cfg.Chunker.MaxSegmentDuration = 2 * time.Second
	cfg.Chunker.PollInterval = 10 * time.Millisecond
	cfg.Session.StopTimeout = 2 * time.Second
	cfg.Session.AudioOnlyFallback = false
	return cfg
}

// tone 100мс блоки речеподобного сигнала на 16kHz
func tone(seconds float64) []float32 {
	n := int(seconds * 16000)
	out := make([]float32, n)
	for i := range out {
		t := float64(i) / 16000
		out[i] = float32(0.3 * math.Sin(2*math.Pi*220*t) * (0.6 + 0.4*math.Sin(2*math.Pi*3*t)))
	}
	return out
}

func emit(t *testing.T, b *audiotest.Backend, samples []float32) {
	t.Helper()
	stream := b.Last()
	require.NotNil(t, stream)
	for len(samples) > 0 {
		n := min(1600, len(samples))
		require.NoError(t, stream.Emit(samples[:n]))
		samples = samples[n:]
	}
}

type collector struct {
	mu      sync.Mutex
	states  []session.State
	notices []Notice
	events  []session.TranscriptEvent
}

func (c *collector) listener() Listener {
	return Listener{
		OnEvent: func(ev session.TranscriptEvent) {
			c.mu.Lock()
			c.events = append(c.events, ev)
			c.mu.Unlock()
		},
		OnState: func(ch StateChange) {
			c.mu.Lock()
			c.states = append(c.states, ch.State)
			c.mu.Unlock()
		},
		OnNotice: func(n Notice) {
			c.mu.Lock()
			c.notices = append(c.notices, n)
			c.mu.Unlock()
		},
	}
}

func (c *collector) stateList() []session.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]session.State(nil), c.states...)
}

func (c *collector) hasNotice(level NoticeLevel, msg string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.notices {
		if n.Level == level && (msg == "" || n.Message == msg) {
			return true
		}
	}
	return false
}

func newService(t *testing.T, cfg config.Config, b *audiotest.Backend, rec ai.Recognizer, recErr error) (*TranscriptionService, *collector) {
	t.Helper()
	svc, err := New(cfg, Deps{
		Backend: b,
		NewRecognizer: func(context.Context) (ai.Recognizer, error) {
			if recErr != nil {
				return nil, recErr
			}
			return rec, nil
		},
	})
	require.NoError(t, err)
	c := &collector{}
	svc.AddListener(c.listener())
	t.Cleanup(func() { svc.Close() })
	return svc, c
}

func TestStartWithoutDevices(t *testing.T) {
	svc, c := newService(t, testConfig(t), audiotest.New(), ai.NewMockRecognizer(), nil)

	_, err := svc.ListDevices()
	require.ErrorIs(t, err, audio.ErrNoDeviceFound)

	_, err = svc.StartSession(context.Background(), "")
	require.ErrorIs(t, err, audio.ErrNoDeviceFound)
	assert.Equal(t, session.StateIdle, svc.State())
	assert.Nil(t, svc.Current())
	assert.True(t, c.hasNotice(NoticeError, "No audio input device found."))
	assert.Empty(t, c.stateList())
}

func TestEnglishSessionProducesEvents(t *testing.T) {
	b := audiotest.New(testMic)
	rec := ai.NewMockRecognizer(ai.MockReply{Result: ai.Result{Text: "hello world", Language: "en", LanguageProbability: 0.99}})
	svc, c := newService(t, testConfig(t), b, rec, nil)

	sess, err := svc.StartSession(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "USB Mic", sess.Device.Name)
	assert.Equal(t, session.StateCapturing, svc.State())

	_, err = svc.StartSession(context.Background(), "")
	require.ErrorIs(t, err, ErrSessionActive)

	emit(t, b, tone(1.5))
	require.NoError(t, svc.StopSession(context.Background()))

	assert.Equal(t, session.StateIdle, svc.State())
	assert.True(t, b.Last().Closed())
	lines := svc.Transcript().Lines()
	require.NotEmpty(t, lines)
	for _, l := range lines {
		assert.Equal(t, "[EN] hello world", l)
	}
	assert.Equal(t, []session.State{session.StateCapturing, session.StateIdle}, c.stateList())
	assert.True(t, c.hasNotice(NoticeInfo, "Listening on USB Mic..."))
	assert.Equal(t, "mock", svc.EngineName())

	err = svc.StopSession(context.Background())
	require.ErrorIs(t, err, ErrNotCapturing)
}

func TestTagalogSessionSavedWithTags(t *testing.T) {
	b := audiotest.New(testMic)
	rec := ai.NewMockRecognizer(ai.MockReply{Result: ai.Result{Text: "magandang umaga", Language: "tl", LanguageProbability: 0.9}})
	rec.Translation = ai.MockReply{Result: ai.Result{Text: "good morning", Language: "en"}}
	cfg := testConfig(t)
	svc, c := newService(t, cfg, b, rec, nil)

	_, err := svc.StartSession(context.Background(), "usb")
	require.NoError(t, err)
	assert.True(t, c.hasNotice(NoticeInfo, "Tagalog speech will be translated to English."))
	emit(t, b, tone(1.2))
	require.NoError(t, svc.StopSession(context.Background()))

	path, err := svc.SaveTranscript("")
	require.NoError(t, err)
	assert.Equal(t, cfg.Session.TranscriptDir, filepath.Dir(path))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "[TL > EN] good morning\n")

	loaded, err := session.LoadTranscript(path)
	require.NoError(t, err)
	assert.Equal(t, svc.Transcript().Lines(), loaded.Lines())

	// ошибка записи не теряет транскрипт
	_, err = svc.SaveTranscript(filepath.Join(path, "nested.txt"))
	var we *session.WriteError
	require.ErrorAs(t, err, &we)
	assert.NotZero(t, svc.Transcript().Len())

	// вторая сессия начинается с разделителя
	_, err = svc.StartSession(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, c.hasNotice(NoticeInfo, SessionSeparator))
	require.NoError(t, svc.StopSession(context.Background()))
}

func TestTagalogNoticeIgnoresCase(t *testing.T) {
	b := audiotest.New(testMic)
	rec := ai.NewMockRecognizer(ai.MockReply{Result: ai.Result{Text: "hello world", Language: "en"}})
	cfg := testConfig(t)
	cfg.Dispatcher.TranslateFrom = []string{"TL"}
	svc, c := newService(t, cfg, b, rec, nil)

	_, err := svc.StartSession(context.Background(), "usb")
	require.NoError(t, err)
	assert.True(t, c.hasNotice(NoticeInfo, "Tagalog speech will be translated to English."))
	require.NoError(t, svc.StopSession(context.Background()))
	assert.Equal(t, []string{"TL"}, svc.Config().Dispatcher.TranslateFrom)
}

func TestFailingSegmentDoesNotStallPipeline(t *testing.T) {
	b := audiotest.New(testMic)
	rec := ai.NewMockRecognizer(
		ai.MockReply{Err: errors.New("decoder crashed")},
		ai.MockReply{Result: ai.Result{Text: "still running", Language: "en"}},
	)
	svc, _ := newService(t, testConfig(t), b, rec, nil)

	_, err := svc.StartSession(context.Background(), "")
	require.NoError(t, err)

	emit(t, b, tone(1))
	require.Eventually(t, func() bool { return rec.Calls() == 1 }, 2*time.Second, 5*time.Millisecond)

	emit(t, b, tone(1))
	require.Eventually(t, func() bool { return svc.Transcript().Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, session.StateCapturing, svc.State())

	require.NoError(t, svc.StopSession(context.Background()))
	assert.Equal(t, []string{"[EN] still running"}, svc.Transcript().Lines())
}

func TestModelUnavailable(t *testing.T) {
	modelErr := &ai.ModelUnavailableError{Engine: ai.EngineFasterWhisper, Err: errors.New("No module named 'faster_whisper'"), Remedy: "pip install faster-whisper"}

	t.Run("fatal", func(t *testing.T) {
		b := audiotest.New(testMic)
		svc, c := newService(t, testConfig(t), b, nil, modelErr)

		_, err := svc.StartSession(context.Background(), "")
		var mue *ai.ModelUnavailableError
		require.ErrorAs(t, err, &mue)
		assert.Equal(t, []session.State{session.StateError, session.StateIdle}, c.stateList())
		assert.Zero(t, b.OpenCount(), "device is not opened without a model")

		n := UserMessage(err)
		assert.Equal(t, "pip install faster-whisper", n.Hint)
	})

	t.Run("audio only fallback", func(t *testing.T) {
		b := audiotest.New(testMic)
		cfg := testConfig(t)
		cfg.Session.AudioOnlyFallback = true
		svc, c := newService(t, cfg, b, nil, modelErr)

		sess, err := svc.StartSession(context.Background(), "")
		require.NoError(t, err)
		assert.True(t, sess.AudioOnly())
		assert.True(t, c.hasNotice(NoticeWarning, ""))

		emit(t, b, tone(1.2))
		require.NoError(t, svc.StopSession(context.Background()))
		require.NotZero(t, svc.Transcript().Len())
		assert.Contains(t, svc.Transcript().Lines()[0], "[AUDIO] Volume level:")
	})
}

func TestCaptureFailureEndsSession(t *testing.T) {
	b := audiotest.New(testMic)
	svc, c := newService(t, testConfig(t), b, ai.NewMockRecognizer(), nil)

	sess, err := svc.StartSession(context.Background(), "")
	require.NoError(t, err)
	b.Last().Fail(errors.New("device unplugged"))

	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after capture failure")
	}
	var cse *audio.CaptureStreamError
	require.ErrorAs(t, sess.Err(), &cse)
	assert.Equal(t, session.StateIdle, svc.State())
	assert.Nil(t, svc.Current())
	assert.Equal(t, []session.State{session.StateCapturing, session.StateError, session.StateIdle}, c.stateList())
	assert.True(t, c.hasNotice(NoticeError, ""))
}

// stuckRecognizer не реагирует на отмену контекста
type stuckRecognizer struct {
	release chan struct{}
}

func (r *stuckRecognizer) Transcribe(context.Context, []float32, ai.Options) (ai.Result, error) {
	<-r.release
	return ai.Result{Text: "too late", Language: "en"}, nil
}
func (r *stuckRecognizer) Name() string { return "stuck" }
func (r *stuckRecognizer) Close() error { return nil }

func TestStopTimeoutDiscardsLateResults(t *testing.T) {
	b := audiotest.New(testMic)
	cfg := testConfig(t)
	cfg.Session.StopTimeout = 50 * time.Millisecond
	rec := &stuckRecognizer{release: make(chan struct{})}
	svc, _ := newService(t, cfg, b, rec, nil)

	sess, err := svc.StartSession(context.Background(), "")
	require.NoError(t, err)
	emit(t, b, tone(1.2))

	started := time.Now()
	require.NoError(t, svc.StopSession(context.Background()))
	assert.Less(t, time.Since(started), time.Second)
	assert.Equal(t, session.StateIdle, svc.State())

	close(rec.release)
	<-sess.Done()
	assert.Zero(t, svc.Transcript().Len())
}

func TestHistoryStore(t *testing.T) {
	store, err := session.OpenStore(context.Background(), ":memory:")
	require.NoError(t, err)
	defer store.Close()

	b := audiotest.New(testMic)
	svc, err := New(testConfig(t), Deps{
		Backend: b,
		Store:   store,
		NewRecognizer: func(context.Context) (ai.Recognizer, error) {
			return ai.NewMockRecognizer(ai.MockReply{Result: ai.Result{Text: "kept", Language: "en"}}), nil
		},
	})
	require.NoError(t, err)
	defer svc.Close()

	sess, err := svc.StartSession(context.Background(), "")
	require.NoError(t, err)
	emit(t, b, tone(1.2))
	require.NoError(t, svc.StopSession(context.Background()))

	recs, err := svc.ListHistory(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, sess.ID, recs[0].ID)
	assert.Equal(t, "completed", recs[0].Status)
	assert.Equal(t, int(sess.Events()), recs[0].EventCount)

	events, err := svc.HistoryEvents(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Len(t, events, int(sess.Events()))

	svc2, _ := newService(t, testConfig(t), b, ai.NewMockRecognizer(), nil)
	_, err = svc2.ListHistory(context.Background(), 10)
	require.ErrorIs(t, err, ErrHistoryDisabled)
}

func TestRecordAudio(t *testing.T) {
	b := audiotest.New(testMic)
	cfg := testConfig(t)
	cfg.Session.RecordAudio = true
	svc, _ := newService(t, cfg, b, ai.NewMockRecognizer(), nil)

	sess, err := svc.StartSession(context.Background(), "")
	require.NoError(t, err)
	emit(t, b, tone(1.2))
	require.NoError(t, svc.StopSession(context.Background()))

	st, err := os.Stat(filepath.Join(cfg.Session.RecordingsDir, sess.ID+".mp3"))
	require.NoError(t, err)
	assert.NotZero(t, st.Size())
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err   error
		level NoticeLevel
		hint  bool
	}{
		{err: audio.ErrNoDeviceFound, level: NoticeError, hint: true},
		{err: &audio.CaptureStreamError{Device: "mic", Err: errors.New("gone")}, level: NoticeError, hint: true},
		{err: &ai.ModelUnavailableError{Engine: ai.EngineOpenAI, Err: errors.New("no key")}, level: NoticeError, hint: true},
		{err: &ai.SegmentInferenceError{Index: 3, Err: errors.New("boom")}, level: NoticeWarning},
		{err: &session.WriteError{Path: "/ro/t.txt", Err: os.ErrPermission}, level: NoticeError, hint: true},
		{err: ErrSessionActive, level: NoticeWarning, hint: true},
		{err: errors.New("something else"), level: NoticeError},
	}
	for _, tt := range tests {
		n := UserMessage(tt.err)
		assert.Equal(t, tt.level, n.Level, tt.err.Error())
		assert.NotEmpty(t, n.Message)
		assert.Equal(t, tt.hint, n.Hint != "", tt.err.Error())
	}
	assert.Equal(t, Notice{}, UserMessage(nil))
}
