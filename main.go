package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/decred/slog"
	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"livetranscriber/ai"
	"livetranscriber/audio"
	"livetranscriber/internal/api"
	"livetranscriber/internal/config"
	"livetranscriber/internal/logging"
	"livetranscriber/internal/service"
	"livetranscriber/internal/tui"
	"livetranscriber/models"
	"livetranscriber/session"
)

type options struct {
	ConfigFile    string `short:"C" long:"config" description:"Path to the YAML config file"`
	EnvFile       string `long:"envfile" default:".env" description:"Environment file loaded before the config"`
	DataDir       string `long:"datadir" description:"Directory for logs, models, transcripts and history"`
	DebugLevel    string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical} or SUBSYS=level,..."`
	Device        string `long:"device" description:"Capture device ID or part of its name"`
	Engine        string `short:"e" long:"engine" description:"Recognition engine {faster-whisper, whisper-cpp, openai, mock}"`
	Listen        string `long:"listen" description:"API listen address (empty disables the API in UI mode)"`
	Headless      bool   `long:"headless" description:"Serve the API without the terminal UI"`
	Start         bool   `long:"start" description:"Start capturing immediately (headless mode)"`
	ListDevices   bool   `short:"l" long:"list-devices" description:"List capture devices and exit"`
	DownloadModel string `long:"download-model" description:"Download a whisper.cpp ggml model by ID and exit"`
}

var log = slog.Disabled

func loadConfig(opts *options) (config.Config, error) {
	if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return config.Config{}, fmt.Errorf("failed to load %s: %w", opts.EnvFile, err)
	}

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return cfg, err
	}

	// флаги важнее файла и окружения
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
		cfg.Log.File, cfg.Models.Dir = "", ""
		cfg.Session.TranscriptDir, cfg.Session.RecordingsDir, cfg.Session.HistoryPath = "", "", ""
		cfg.ResolvePaths()
	}
	if opts.DebugLevel != "" {
		cfg.Log.DebugLevel = opts.DebugLevel
	}
	if opts.Device != "" {
		cfg.Audio.Device = opts.Device
	}
	if opts.Engine != "" {
		cfg.Engine.Type = ai.EngineType(opts.Engine)
	}
	if opts.Listen != "" {
		cfg.API.Listen = opts.Listen
	}
	return cfg, cfg.Validate()
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

	cfg, err := loadConfig(&opts)
	if err != nil {
		return err
	}

	// в режиме интерфейса журнал только в файл
	var stdOut io.Writer = os.Stdout
	if !opts.Headless && !opts.ListDevices && opts.DownloadModel == "" {
		stdOut = nil
	}
	logBknd, err := logging.New(cfg.Log, stdOut)
	if err != nil {
		return err
	}
	defer logBknd.Close()
	log = logBknd.Logger("MAIN")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var modelOpts []models.Option
	if cfg.Models.BaseURL != "" {
		modelOpts = append(modelOpts, models.WithBaseURL(cfg.Models.BaseURL))
	}
	mgr, err := models.NewManager(cfg.Models.Dir, modelOpts...)
	if err != nil {
		return err
	}
	if cfg.Engine.WhisperCpp.Model != "" && mgr.Model(cfg.Engine.WhisperCpp.Model) != nil {
		mgr.SetActiveModel(cfg.Engine.WhisperCpp.Model)
	}

	if opts.DownloadModel != "" {
		return downloadModel(ctx, mgr, opts.DownloadModel)
	}

	backend, err := audio.NewMalgoBackend()
	if err != nil {
		return fmt.Errorf("failed to initialize audio: %w", err)
	}
	defer backend.Close()

	if opts.ListDevices {
		return listDevices(backend)
	}

	deps := service.Deps{
		Backend: backend,
		NewRecognizer: func(ctx context.Context) (ai.Recognizer, error) {
			engine := cfg.Engine
			if id := mgr.ActiveModel(); id != "" {
				engine.WhisperCpp.Model = id
			}
			return ai.NewRecognizer(ctx, engine, mgr)
		},
	}
	if cfg.Session.HistoryEnabled {
		store, err := session.OpenStore(ctx, cfg.Session.HistoryPath)
		if err != nil {
			log.Warnf("Session history disabled: %v", err)
		} else {
			defer store.Close()
			deps.Store = store
		}
	}

	svc, err := service.New(cfg, deps)
	if err != nil {
		return err
	}
	defer svc.Close()

	srv := api.NewServer(cfg.API, svc, mgr)
	defer srv.Close()

	log.Infof("Live transcriber starting (engine %s, data in %s)", cfg.Engine.Type, cfg.DataDir)

	if opts.Headless {
		if opts.Start {
			if _, err := svc.StartSession(ctx, cfg.Audio.Device); err != nil {
				return err
			}
		}
		if cfg.API.Listen == "" {
			<-ctx.Done()
			return nil
		}
		return srv.Run(ctx)
	}

	if cfg.API.Listen != "" {
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Warnf("API server stopped: %v", err)
			}
		}()
	}
	return tui.Run(ctx, svc)
}

func listDevices(backend audio.Backend) error {
	devices, err := audio.NewRegistry(backend).ListDevices()
	if err != nil {
		return err
	}
	def := audio.DefaultDevice(devices)
	for _, d := range devices {
		mark := " "
		if def != nil && d.ID == def.ID {
			mark = "*"
		}
		kind := "input"
		if d.IsLoopback {
			kind = "loopback"
		}
		fmt.Printf("%s %-40s %-8s %s\n", mark, d.ID, kind, d)
	}
	return nil
}

func downloadModel(ctx context.Context, mgr *models.Manager, id string) error {
	if mgr.IsModelDownloaded(id) {
		fmt.Printf("Model %s is already downloaded: %s\n", id, mgr.ModelPath(id))
		return nil
	}
	err := mgr.Download(ctx, id, func(pct float64) {
		fmt.Printf("\r%s: %3.0f%%", id, pct)
	})
	fmt.Println()
	if err != nil {
		return err
	}
	fmt.Printf("Saved to %s\n", mgr.ModelPath(id))
	return nil
}

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
