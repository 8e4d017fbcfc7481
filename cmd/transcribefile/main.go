// transcribefile прогоняет WAV/MP3 файл через весь конвейер (нарезка,
// распознавание, перевод) так, как если бы он звучал с устройства.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	flags "github.com/jessevdk/go-flags"

	"livetranscriber/ai"
	"livetranscriber/audio"
	"livetranscriber/internal/config"
	"livetranscriber/internal/logging"
	"livetranscriber/internal/service"
	"livetranscriber/models"
	"livetranscriber/session"
)

type options struct {
	ConfigFile string  `short:"C" long:"config" description:"Path to the YAML config file"`
	Engine     string  `short:"e" long:"engine" description:"Recognition engine {faster-whisper, whisper-cpp, openai, mock}"`
	Speed      float64 `long:"speed" default:"0" description:"Playback speed; 1 is real time, 0 as fast as possible"`
	Output     string  `short:"o" long:"output" description:"Transcript file (default: transcripts directory)"`
	DebugLevel string  `short:"d" long:"debuglevel" default:"warn" description:"Logging level"`

	Args struct {
		File string `positional-arg-name:"file" required:"yes"`
	} `positional-args:"yes"`
}

func realMain() error {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return err
	}
	if opts.Engine != "" {
		cfg.Engine.Type = ai.EngineType(opts.Engine)
	}
	cfg.Session.HistoryEnabled = false
	cfg.Session.RecordAudio = false
	cfg.Audio.Device = ""
	cfg.Audio.ProbeDevices = false

	logBknd, err := logging.New(config.LogConfig{DebugLevel: opts.DebugLevel}, os.Stderr)
	if err != nil {
		return err
	}
	defer logBknd.Close()

	backend, err := audio.NewFileBackend(opts.Args.File, opts.Speed)
	if err != nil {
		return err
	}
	if opts.Speed <= 0 {
		// без реального времени файл приходит быстрее, чем его разбирают:
		// буфер должен вместить его целиком, иначе старые блоки вытеснятся
		cfg.Audio.BufferFrames = max(cfg.Audio.BufferFrames, audio.FramesFor(backend.Duration(), cfg.Audio.PeriodMs)+16)
	}

	mgr, err := models.NewManager(cfg.Models.Dir)
	if err != nil {
		return err
	}

	svc, err := service.New(cfg, service.Deps{
		Backend: backend,
		NewRecognizer: func(ctx context.Context) (ai.Recognizer, error) {
			return ai.NewRecognizer(ctx, cfg.Engine, mgr)
		},
	})
	if err != nil {
		return err
	}
	defer svc.Close()

	svc.AddListener(service.Listener{
		OnEvent:  func(ev session.TranscriptEvent) { fmt.Println(ev.Line()) },
		OnNotice: func(n service.Notice) { fmt.Fprintln(os.Stderr, "--", n) },
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	fmt.Fprintf(os.Stderr, "Transcribing %s (%s)\n", opts.Args.File, backend.Duration())
	sess, err := svc.StartSession(ctx, "")
	if err != nil {
		return err
	}
	select {
	case <-sess.Done():
	case <-ctx.Done():
		sess.Stop(context.Background())
	}
	if err := sess.Err(); err != nil {
		return err
	}

	path, err := svc.SaveTranscript(opts.Output)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Transcript saved to %s (%d lines, %d frames dropped)\n", path, svc.Transcript().Len(), sess.Dropped())
	return nil
}

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
