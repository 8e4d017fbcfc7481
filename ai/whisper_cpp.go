package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
)

// WhisperCppConfig настройки whisper-cli
type WhisperCppConfig struct {
	// Command исполняемый файл с аргументами ("whisper-cli", "/opt/whisper/main -ng")
	Command string `yaml:"command"`
	// Model ID ggml модели из реестра models (используется, если ModelPath пуст)
	Model     string `yaml:"model"`
	ModelPath string `yaml:"model_path"`
	Threads   int    `yaml:"threads"`
}

// whisperCppOutput формат файла -oj
type whisperCppOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Text string `json:"text"`
	} `json:"transcription"`
}

// WhisperCpp движок на whisper-cli: процесс на каждый сегмент
type WhisperCpp struct {
	cfg  WhisperCppConfig
	argv []string
	mu   sync.Mutex
}

// NewWhisperCpp проверяет бинарник и модель
func NewWhisperCpp(cfg WhisperCppConfig) (*WhisperCpp, error) {
	if cfg.Command == "" {
		cfg.Command = "whisper-cli"
	}
	argv, err := shellwords.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse whisper command: %w", err)
	}
	if len(argv) == 0 {
		return nil, errors.New("whisper command is empty")
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return nil, &ModelUnavailableError{
			Engine: EngineWhisperCpp,
			Err:    err,
			Remedy: "Build whisper.cpp and put whisper-cli on PATH, or set engine.whisper_cpp.command.",
		}
	}
	if cfg.ModelPath == "" {
		return nil, &ModelUnavailableError{
			Engine: EngineWhisperCpp,
			Err:    errors.New("no ggml model configured"),
			Remedy: "Download a model with --download-model base or set engine.whisper_cpp.model_path.",
		}
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, &ModelUnavailableError{
			Engine: EngineWhisperCpp,
			Err:    err,
			Remedy: fmt.Sprintf("Model file %s is missing. Download it with --download-model.", cfg.ModelPath),
		}
	}
	log.Infof("whisper.cpp engine: %s, model %s", argv[0], cfg.ModelPath)
	return &WhisperCpp{cfg: cfg, argv: argv}, nil
}

func (w *WhisperCpp) Transcribe(ctx context.Context, samples []float32, opts Options) (Result, error) {
	lang := "auto"
	if !opts.AutoDetect() {
		lang = opts.Language
	}
	return w.run(ctx, samples, lang, false)
}

// Translate флаг -tr переводит на английский
func (w *WhisperCpp) Translate(ctx context.Context, samples []float32, sourceLang string) (Result, error) {
	if sourceLang == "" {
		sourceLang = "auto"
	}
	res, err := w.run(ctx, samples, sourceLang, true)
	if err != nil {
		return res, err
	}
	res.Language = "en"
	return res, nil
}

func (w *WhisperCpp) run(ctx context.Context, samples []float32, lang string, translate bool) (Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	dir, err := os.MkdirTemp("", "whispercpp-")
	if err != nil {
		return Result{}, err
	}
	defer os.RemoveAll(dir)

	wavPath, cleanup, err := writeTempWAV(samples, "wcpp-*.wav")
	if err != nil {
		return Result{}, err
	}
	defer cleanup()

	outBase := filepath.Join(dir, "out")
	args := append(w.argv[1:len(w.argv):len(w.argv)],
		"-m", w.cfg.ModelPath,
		"-f", wavPath,
		"-l", lang,
		"-oj", "-of", outBase,
		"-np",
	)
	if w.cfg.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(w.cfg.Threads))
	}
	if translate {
		args = append(args, "-tr")
	}

	cmd := exec.CommandContext(ctx, w.argv[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Result{}, fmt.Errorf("whisper-cli failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	raw, err := os.ReadFile(outBase + ".json")
	if err != nil {
		return Result{}, fmt.Errorf("read whisper output: %w", err)
	}
	var out whisperCppOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{}, fmt.Errorf("decode whisper output: %w", err)
	}

	parts := make([]string, 0, len(out.Transcription))
	for _, t := range out.Transcription {
		if s := strings.TrimSpace(t.Text); s != "" {
			parts = append(parts, s)
		}
	}
	return Result{
		Text:     strings.Join(parts, " "),
		Language: strings.ToLower(out.Result.Language),
	}, nil
}

func (w *WhisperCpp) Name() string { return string(EngineWhisperCpp) }

func (w *WhisperCpp) Close() error { return nil }
