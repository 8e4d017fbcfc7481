package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"livetranscriber/ai"
	"livetranscriber/audio"
	"livetranscriber/session"
)

// segmentQueue ёмкость очереди сегментов к распознаванию. Если распознавание
// не успевает, цикл опроса ждёт, а буфер захвата выбрасывает старые блоки.
const segmentQueue = 8

// Session одна запись: от StartSession до StopSession
type Session struct {
	ID        string
	Device    audio.AudioDevice
	StartedAt time.Time
	Engine    string

	svc        *TranscriptionService
	handle     *audio.Handle
	buffer     *audio.FrameBuffer
	chunker    *session.Chunker
	dispatcher *ai.Dispatcher
	recorder   *audio.MP3Writer // принадлежит циклу опроса
	segments   chan session.Segment

	group        errgroup.Group
	workerCtx    context.Context
	cancelWorker context.CancelFunc
	stopCh       chan struct{}
	stopOnce     sync.Once
	endOnce      sync.Once
	done         chan struct{}
	err          error
	discard      atomic.Bool

	lastPushed  uint64
	lastDropped uint64
	events      atomic.Int64
	failures    atomic.Int64
}

// StartSession выбирает устройство, загружает модель (при первом запуске),
// открывает поток и запускает цикл опроса и распознавания.
// deviceQuery - ID или часть имени; пусто - выбор по умолчанию.
func (s *TranscriptionService) StartSession(ctx context.Context, deviceQuery string) (*Session, error) {
	s.mu.Lock()
	if s.current != nil || s.starting {
		s.mu.Unlock()
		return nil, ErrSessionActive
	}
	s.starting = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
	}()

	dev, err := s.selectDevice(ctx, deviceQuery)
	if err != nil {
		s.failStart(err)
		return nil, err
	}

	disp, err := s.loadDispatcher(ctx)
	if err != nil {
		s.failStart(err)
		return nil, err
	}

	if s.transcript.Len() > 0 {
		s.notice(info(SessionSeparator))
	}
	if !disp.AudioOnly() && s.cfg.Dispatcher.Translate && slices.ContainsFunc(s.cfg.Dispatcher.TranslateFrom, isTagalog) {
		s.notice(info("Tagalog speech will be translated to English."))
	}

	buffer := audio.NewFrameBuffer(s.cfg.Audio.BufferFrames)
	handle, err := s.capture.Start(dev, s.streamConfig(), buffer)
	if err != nil {
		s.failStart(err)
		return nil, err
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		ID:           uuid.NewString(),
		Device:       handle.Device(),
		StartedAt:    time.Now(),
		Engine:       disp.EngineName(),
		svc:          s,
		handle:       handle,
		buffer:       buffer,
		chunker:      session.NewChunker(s.cfg.Chunker, audio.PipelineSampleRate),
		dispatcher:   disp,
		segments:     make(chan session.Segment, segmentQueue),
		workerCtx:    workerCtx,
		cancelWorker: cancel,
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}

	if s.cfg.Session.RecordAudio {
		sess.recorder = s.openRecorder(sess.ID)
	}
	if s.store != nil {
		rec := session.Record{
			ID:         sess.ID,
			DeviceName: sess.Device.Name,
			Engine:     sess.Engine,
			StartedAt:  sess.StartedAt,
			Status:     string(session.StateCapturing),
		}
		if err := s.store.CreateSession(ctx, rec); err != nil {
			log.Errorf("Failed to record session %s in history: %v", sess.ID, err)
		}
	}

	s.mu.Lock()
	s.current = sess
	s.state = session.StateCapturing
	s.mu.Unlock()
	s.metrics.SessionsStarted.Inc()
	s.metrics.ActiveSessions.Set(1)

	log.Infof("Session %s started on %s (engine %s)", sess.ID, sess.Device.Name, sess.Engine)
	s.notifyState(StateChange{State: session.StateCapturing, SessionID: sess.ID, Device: sess.Device.Name})
	s.notice(info("Listening on %s...", sess.Device.Name))

	sess.run()
	return sess, nil
}

// StopSession останавливает активную сессию и дожидается последних сегментов
func (s *TranscriptionService) StopSession(ctx context.Context) error {
	sess := s.Current()
	if sess == nil {
		return ErrNotCapturing
	}
	return sess.Stop(ctx)
}

func (s *TranscriptionService) openRecorder(id string) *audio.MP3Writer {
	dir := s.cfg.Session.RecordingsDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.notice(Notice{Level: NoticeWarning, Message: fmt.Sprintf("Audio recording disabled: %v", err)})
		return nil
	}
	w, err := audio.NewMP3Writer(filepath.Join(dir, id+".mp3"), audio.PipelineSampleRate)
	if err != nil {
		s.notice(Notice{Level: NoticeWarning, Message: fmt.Sprintf("Audio recording disabled: %v", err)})
		return nil
	}
	return w
}

// endSession переводит сервис в Idle (через Error, если err != nil). Выполняется один раз.
func (s *TranscriptionService) endSession(sess *Session, err error, status string) {
	sess.endOnce.Do(func() {
		s.mu.Lock()
		if s.current == sess {
			s.current = nil
		}
		s.mu.Unlock()
		s.metrics.ActiveSessions.Set(0)

		if err != nil {
			status = "error"
			s.metrics.SessionErrors.WithLabelValues(errorKind(err)).Inc()
			log.Errorf("Session %s failed: %v", sess.ID, err)
			s.mu.Lock()
			s.state = session.StateError
			s.mu.Unlock()
			s.notifyState(StateChange{State: session.StateError, SessionID: sess.ID, Device: sess.Device.Name, Err: err})
			s.notice(UserMessage(err))
		}

		if s.store != nil {
			if err := s.store.FinishSession(context.Background(), sess.ID, status, sess.buffer.Dropped()); err != nil {
				log.Errorf("Failed to finish session %s in history: %v", sess.ID, err)
			}
		}

		log.Infof("Session %s %s: %d events, %d failed segments, %d frames dropped",
			sess.ID, status, sess.events.Load(), sess.failures.Load(), sess.buffer.Dropped())
		s.notice(info("Listening stopped."))

		s.mu.Lock()
		s.state = session.StateIdle
		s.mu.Unlock()
		s.notifyState(StateChange{State: session.StateIdle, SessionID: sess.ID})
	})
}

func (sess *Session) run() {
	sess.group.Go(sess.drainLoop)
	sess.group.Go(sess.inferenceLoop)
	go func() {
		err := sess.group.Wait()
		if sess.recorder != nil {
			if cerr := sess.recorder.Close(); cerr != nil {
				log.Warnf("Failed to finalize recording: %v", cerr)
			} else {
				log.Infof("Session audio saved to %s (%v)", sess.recorder.Path(), sess.recorder.Duration().Round(time.Second))
			}
		}
		sess.cancelWorker()
		sess.svc.endSession(sess, err, "completed")
		sess.err = err
		close(sess.done)
	}()
}

// Stop: поток останавливается, остаток буфера дорезается и отправляется
// на распознавание. Если распознавание не уложилось в StopTimeout,
// оно отменяется, а поздние результаты отбрасываются.
func (sess *Session) Stop(ctx context.Context) error {
	sess.stopOnce.Do(func() {
		if err := sess.handle.Stop(); err != nil {
			log.Warnf("Failed to stop capture: %v", err)
		}
		close(sess.stopCh)
	})

	timer := time.NewTimer(sess.svc.cfg.Session.StopTimeout)
	defer timer.Stop()

	var err error
	select {
	case <-sess.done:
		return nil
	case <-timer.C:
		log.Warnf("Session %s: inference did not finish within %v, discarding pending results",
			sess.ID, sess.svc.cfg.Session.StopTimeout)
	case <-ctx.Done():
		err = ctx.Err()
	}
	sess.discard.Store(true)
	sess.cancelWorker()
	sess.svc.endSession(sess, nil, "interrupted")
	return err
}

// Done закрывается, когда все горутины сессии завершились
func (sess *Session) Done() <-chan struct{} { return sess.done }

// Err ошибка, с которой завершилась сессия (после Done)
func (sess *Session) Err() error {
	select {
	case <-sess.done:
		return sess.err
	default:
		return nil
	}
}

// Events сколько событий добавлено в транскрипт
func (sess *Session) Events() int64 { return sess.events.Load() }

// Dropped сколько блоков потеряно из-за переполнения буфера
func (sess *Session) Dropped() uint64 { return sess.buffer.Dropped() }

// AudioOnly сессия без модели
func (sess *Session) AudioOnly() bool { return sess.dispatcher.AudioOnly() }

func (sess *Session) drainLoop() error {
	defer close(sess.segments)

	ticker := time.NewTicker(sess.svc.cfg.Chunker.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sess.drain(false)
		case <-sess.stopCh:
			sess.drain(true)
			return nil
		case err := <-sess.handle.Err():
			sess.handle.Stop()
			sess.drain(true)
			if errors.Is(err, io.EOF) {
				log.Infof("Audio source %s finished", sess.Device.Name)
				return nil
			}
			return sess.handle.StreamError(err)
		}
	}
}

// drain забирает блоки из буфера, пишет их в MP3 и отдаёт готовые сегменты.
// final - остановка: остаток уходит одним последним сегментом.
func (sess *Session) drain(final bool) {
	m := sess.svc.metrics
	frames := sess.buffer.Drain()

	pushed, dropped := sess.buffer.Pushed(), sess.buffer.Dropped()
	m.FramesCaptured.Add(float64(pushed - sess.lastPushed))
	if dropped > sess.lastDropped {
		m.FramesDropped.Add(float64(dropped - sess.lastDropped))
		log.Warnf("Capture buffer overflow: %d frames dropped (%d total)", dropped-sess.lastDropped, dropped)
	}
	sess.lastPushed, sess.lastDropped = pushed, dropped
	m.BufferedFrames.Set(float64(sess.buffer.Len()))

	if sess.recorder != nil {
		for _, f := range frames {
			if err := sess.recorder.Write(f.Samples); err != nil {
				log.Errorf("Audio recording stopped: %v", err)
				sess.recorder.Close()
				sess.recorder = nil
				break
			}
		}
	}

	segs := sess.chunker.Drain(frames)
	if final {
		if seg := sess.chunker.Flush(); seg != nil {
			segs = append(segs, *seg)
		}
	}
	for _, seg := range segs {
		m.ObserveSegment(seg.Duration)
		log.Debugf("Segment %d ready: %v at %v", seg.Index, seg.Duration, seg.Offset)
		sess.segments <- seg
	}
}

// inferenceLoop единственный потребитель сегментов: события выходят в порядке сегментов
func (sess *Session) inferenceLoop() error {
	m := sess.svc.metrics
	for seg := range sess.segments {
		if sess.workerCtx.Err() != nil {
			continue
		}
		started := time.Now()
		ev, err := sess.dispatcher.Transcribe(sess.workerCtx, seg)
		switch {
		case err == nil:
			m.ObserveInference(started, false)
			if ev.Translated {
				m.Translations.Inc()
			}
			sess.deliver(ev)
		case errors.Is(err, ai.ErrNoSpeech):
			m.SegmentsSkipped.Inc()
		case sess.workerCtx.Err() != nil:
			log.Debugf("Segment %d abandoned: %v", seg.Index, err)
		default:
			m.ObserveInference(started, true)
			sess.failures.Add(1)
			log.Warnf("Skipping segment %d: %v", seg.Index, err)
		}
	}
	return nil
}

func (sess *Session) deliver(ev session.TranscriptEvent) {
	if sess.discard.Load() {
		log.Debugf("Discarding late result for segment %d", ev.SegmentIndex)
		return
	}
	svc := sess.svc
	if err := svc.transcript.Append(ev); err != nil {
		log.Warnf("Dropping event for segment %d: %v", ev.SegmentIndex, err)
		return
	}
	sess.events.Add(1)
	svc.metrics.Events.WithLabelValues(ev.Tag()).Inc()
	if svc.store != nil {
		if err := svc.store.AppendEvent(context.Background(), sess.ID, ev); err != nil {
			log.Errorf("Failed to store event: %v", err)
		}
	}
}

func isTagalog(lang string) bool { return strings.EqualFold(lang, "tl") }
