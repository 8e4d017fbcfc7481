package ai

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
)

// FasterWhisperConfig настройки python-воркера faster-whisper
type FasterWhisperConfig struct {
	// Python команда интерпретатора ("python3", "uv run python"); пусто - поиск
	Python      string `yaml:"python"`
	Model       string `yaml:"model"` // имя (small), путь к CT2 модели или HuggingFace ID
	Device      string `yaml:"device"`
	ComputeType string `yaml:"compute_type"`
	BeamSize    int    `yaml:"beam_size"`
	// AutoInstall ставить faster-whisper через pip, если его нет
	AutoInstall  bool          `yaml:"auto_install"`
	StartTimeout time.Duration `yaml:"start_timeout"`
}

// DefaultFasterWhisperConfig small модель на CPU/GPU по выбору библиотеки
func DefaultFasterWhisperConfig() FasterWhisperConfig {
	return FasterWhisperConfig{
		Model:        "small",
		Device:       "auto",
		ComputeType:  "auto",
		BeamSize:     5,
		StartTimeout: 2 * time.Minute,
	}
}

// fasterWhisperWorker держит модель загруженной и отвечает на запросы
// построчным JSON, чтобы не платить за загрузку модели на каждый сегмент
const fasterWhisperWorker = `
import sys, json
try:
    from faster_whisper import WhisperModel
    model = WhisperModel(sys.argv[1], device=sys.argv[2], compute_type=sys.argv[3])
except Exception as e:
    print(json.dumps({"type": "fatal", "message": str(e)}), flush=True)
    sys.exit(1)
print(json.dumps({"type": "ready"}), flush=True)
for line in sys.stdin:
    line = line.strip()
    if not line:
        continue
    req = json.loads(line)
    try:
        segments, info = model.transcribe(
            req["audio"],
            language=req.get("language") or None,
            task=req.get("task", "transcribe"),
            beam_size=req.get("beam_size", 5),
            temperature=0.0,
            condition_on_previous_text=False,
            vad_filter=True,
        )
        text = " ".join(s.text.strip() for s in segments).strip()
        print(json.dumps({"type": "result", "id": req["id"], "text": text,
                          "language": info.language,
                          "language_probability": info.language_probability}), flush=True)
    except Exception as e:
        print(json.dumps({"type": "error", "id": req["id"], "message": str(e)}), flush=True)
`

type fwRequest struct {
	ID       int    `json:"id"`
	Audio    string `json:"audio"`
	Language string `json:"language,omitempty"`
	Task     string `json:"task"`
	BeamSize int    `json:"beam_size"`
}

type fwResponse struct {
	Type                string  `json:"type"`
	ID                  int     `json:"id"`
	Text                string  `json:"text"`
	Language            string  `json:"language"`
	LanguageProbability float32 `json:"language_probability"`
	Message             string  `json:"message"`
}

// FasterWhisper движок на постоянном python-процессе
type FasterWhisper struct {
	cfg FasterWhisperConfig

	mu     sync.Mutex // один запрос за раз
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	resps  chan fwResponse
	exited chan struct{}
	nextID int

	// readers чтение stdout/stderr; cmd.Wait только после их завершения
	readers sync.WaitGroup
	quit    chan struct{}

	closeOnce sync.Once
}

// NewFasterWhisper запускает воркер и ждёт загрузки модели
func NewFasterWhisper(ctx context.Context, cfg FasterWhisperConfig) (*FasterWhisper, error) {
	def := DefaultFasterWhisperConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Device == "" {
		cfg.Device = def.Device
	}
	if cfg.ComputeType == "" {
		cfg.ComputeType = def.ComputeType
	}
	if cfg.BeamSize <= 0 {
		cfg.BeamSize = def.BeamSize
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = def.StartTimeout
	}

	python, err := findPython(ctx, cfg)
	if err != nil {
		return nil, &ModelUnavailableError{
			Engine: EngineFasterWhisper,
			Err:    err,
			Remedy: "Install Python 3 and run: pip install faster-whisper (or set engine.faster_whisper.python).",
		}
	}

	args := append(python[1:len(python):len(python)], "-c", fasterWhisperWorker, cfg.Model, cfg.Device, cfg.ComputeType)
	cmd := exec.Command(python[0], args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	log.Infof("Starting faster-whisper worker (model=%s, device=%s)", cfg.Model, cfg.Device)
	if err := cmd.Start(); err != nil {
		return nil, &ModelUnavailableError{Engine: EngineFasterWhisper, Err: err}
	}

	e := &FasterWhisper{
		cfg:    cfg,
		cmd:    cmd,
		stdin:  stdin,
		resps:  make(chan fwResponse, 4),
		exited: make(chan struct{}),
		quit:   make(chan struct{}),
	}
	e.readers.Add(2)
	go e.readStderr(stderr)
	go e.readResponses(stdout)

	if err := e.waitReady(ctx); err != nil {
		e.Close()
		return nil, &ModelUnavailableError{
			Engine: EngineFasterWhisper,
			Err:    err,
			Remedy: fmt.Sprintf("faster-whisper could not load model %q. Check the model name or path and your network connection for the first download.", cfg.Model),
		}
	}
	log.Infof("faster-whisper worker ready")
	return e, nil
}

func (e *FasterWhisper) waitReady(ctx context.Context) error {
	timer := time.NewTimer(e.cfg.StartTimeout)
	defer timer.Stop()
	for {
		select {
		case r, ok := <-e.resps:
			if !ok {
				return errors.New("worker exited during startup")
			}
			switch r.Type {
			case "ready":
				return nil
			case "fatal":
				return errors.New(r.Message)
			}
		case <-timer.C:
			return fmt.Errorf("model load timeout after %v", e.cfg.StartTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *FasterWhisper) readResponses(r io.Reader) {
	defer e.readers.Done()
	defer close(e.resps)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var resp fwResponse
		if err := json.Unmarshal(sc.Bytes(), &resp); err != nil {
			log.Debugf("faster-whisper: %s", sc.Text())
			continue
		}
		// после Close ответы никому не нужны, но поток читается до EOF
		select {
		case e.resps <- resp:
		case <-e.quit:
		}
	}
}

func (e *FasterWhisper) readStderr(r io.Reader) {
	defer e.readers.Done()
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		log.Debugf("faster-whisper stderr: %s", sc.Text())
	}
}

func (e *FasterWhisper) Transcribe(ctx context.Context, samples []float32, opts Options) (Result, error) {
	lang := ""
	if !opts.AutoDetect() {
		lang = opts.Language
	}
	return e.run(ctx, samples, lang, "transcribe")
}

// Translate задача translate у Whisper переводит на английский
func (e *FasterWhisper) Translate(ctx context.Context, samples []float32, sourceLang string) (Result, error) {
	res, err := e.run(ctx, samples, sourceLang, "translate")
	if err != nil {
		return res, err
	}
	res.Language = "en"
	return res, nil
}

func (e *FasterWhisper) run(ctx context.Context, samples []float32, lang, task string) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	path, cleanup, err := writeTempWAV(samples, "fw-*.wav")
	if err != nil {
		return Result{}, err
	}
	defer cleanup()

	e.nextID++
	req := fwRequest{ID: e.nextID, Audio: path, Language: lang, Task: task, BeamSize: e.cfg.BeamSize}
	line, err := json.Marshal(req)
	if err != nil {
		return Result{}, err
	}
	if _, err := e.stdin.Write(append(line, '\n')); err != nil {
		return Result{}, fmt.Errorf("send request to worker: %w", err)
	}

	for {
		select {
		case r, ok := <-e.resps:
			if !ok {
				return Result{}, errors.New("faster-whisper worker exited")
			}
			if r.ID != req.ID {
				// ответ на запрос, от которого отказались по ctx
				continue
			}
			if r.Type == "error" {
				return Result{}, errors.New(r.Message)
			}
			return Result{
				Text:                strings.TrimSpace(r.Text),
				Language:            strings.ToLower(r.Language),
				LanguageProbability: r.LanguageProbability,
			}, nil
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
}

func (e *FasterWhisper) Name() string { return string(EngineFasterWhisper) }

// Close закрывает stdin, воркер завершается сам; через 5с процесс убивается
func (e *FasterWhisper) Close() error {
	e.closeOnce.Do(func() {
		close(e.quit)
		e.stdin.Close()
		go func() {
			e.readers.Wait()
			e.cmd.Wait()
			close(e.exited)
		}()
		select {
		case <-e.exited:
		case <-time.After(5 * time.Second):
			log.Warnf("faster-whisper worker did not exit, killing")
			e.cmd.Process.Kill()
			<-e.exited
		}
	})
	return nil
}

// findPython возвращает команду интерпретатора, в котором импортируется faster_whisper
func findPython(ctx context.Context, cfg FasterWhisperConfig) ([]string, error) {
	if cfg.Python != "" {
		args, err := shellwords.Parse(cfg.Python)
		if err != nil {
			return nil, fmt.Errorf("parse python command: %w", err)
		}
		if len(args) == 0 {
			return nil, errors.New("python command is empty")
		}
		if err := checkImport(ctx, args); err != nil {
			if !cfg.AutoInstall {
				return nil, err
			}
			return args, installFasterWhisper(ctx, args)
		}
		return args, nil
	}

	candidates := []string{
		filepath.Join(".venv", "bin", "python3"),
		filepath.Join(".venv", "Scripts", "python.exe"),
		"python3",
		"python",
	}
	var withoutFW []string
	for _, c := range candidates {
		full, err := exec.LookPath(c)
		if err != nil {
			if _, statErr := os.Stat(c); statErr != nil {
				continue
			}
			full = c
		}
		args := []string{full}
		if err := checkImport(ctx, args); err == nil {
			return args, nil
		}
		log.Debugf("Python %s found but faster-whisper is not installed", full)
		if withoutFW == nil {
			withoutFW = args
		}
	}
	if withoutFW == nil {
		return nil, errors.New("python3 not found")
	}
	if !cfg.AutoInstall {
		return nil, errors.New("faster-whisper is not installed")
	}
	return withoutFW, installFasterWhisper(ctx, withoutFW)
}

func checkImport(ctx context.Context, python []string) error {
	args := append(python[1:len(python):len(python)], "-c", "import faster_whisper")
	out, err := exec.CommandContext(ctx, python[0], args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("import faster_whisper: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func installFasterWhisper(ctx context.Context, python []string) error {
	log.Infof("Installing faster-whisper using %s...", strings.Join(python, " "))
	args := append(python[1:len(python):len(python)], "-m", "pip", "install", "--user", "faster-whisper")
	cmd := exec.CommandContext(ctx, python[0], args...)
	cmd.Env = append(os.Environ(), "PIP_DISABLE_PIP_VERSION_CHECK=1")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("pip install faster-whisper: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return checkImport(ctx, python)
}
