// Package config загружает настройки livetranscriber: значения по умолчанию,
// YAML файл, переменные окружения LIVETRANSCRIBER_* и проверка.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"livetranscriber/ai"
	"livetranscriber/audio"
	"livetranscriber/session"
)

// EnvPrefix префикс переменных окружения
const EnvPrefix = "LIVETRANSCRIBER_"

// AudioConfig выбор устройства и параметры потока
type AudioConfig struct {
	// Device имя, часть имени или ID; пусто - loopback или устройство по умолчанию
	Device string `yaml:"device"`
	// ProbeDevices перед стартом искать устройство, которое реально отдаёт данные
	ProbeDevices bool          `yaml:"probe_devices"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	SampleRate   int           `yaml:"sample_rate"`
	Channels     int           `yaml:"channels"`
	PeriodMs     int           `yaml:"period_ms"`
	BufferFrames int           `yaml:"buffer_frames"`
}

// ModelsConfig каталог и зеркало ggml моделей
type ModelsConfig struct {
	Dir     string `yaml:"dir"`
	BaseURL string `yaml:"base_url"`
}

// SessionConfig поведение сессии записи
type SessionConfig struct {
	TranscriptDir string `yaml:"transcript_dir"`
	// AudioOnlyFallback без модели показывать уровни громкости вместо ошибки
	AudioOnlyFallback bool          `yaml:"audio_only_fallback"`
	RecordAudio       bool          `yaml:"record_audio"`
	RecordingsDir     string        `yaml:"recordings_dir"`
	StopTimeout       time.Duration `yaml:"stop_timeout"`
	HistoryEnabled    bool          `yaml:"history_enabled"`
	HistoryPath       string        `yaml:"history_path"`
}

// APIConfig websocket/HTTP и gRPC управление
type APIConfig struct {
	Listen string `yaml:"listen"`
	// GRPCSocket unix сокет или \\.\pipe\name на Windows; пусто - gRPC выключен
	GRPCSocket string `yaml:"grpc_socket"`
}

// LogConfig журнал
type LogConfig struct {
	// DebugLevel "info" или "AUDI=debug,SRVC=trace"
	DebugLevel string `yaml:"debug_level"`
	File       string `yaml:"file"`
	MaxSizeKB  int64  `yaml:"max_size_kb"`
	MaxRolls   int    `yaml:"max_rolls"`
}

type Config struct {
	DataDir    string                `yaml:"data_dir"`
	Log        LogConfig             `yaml:"log"`
	Audio      AudioConfig           `yaml:"audio"`
	Chunker    session.ChunkerConfig `yaml:"chunker"`
	Dispatcher ai.DispatcherConfig   `yaml:"dispatcher"`
	Engine     ai.EngineConfig       `yaml:"engine"`
	Models     ModelsConfig          `yaml:"models"`
	Session    SessionConfig         `yaml:"session"`
	API        APIConfig             `yaml:"api"`
}

// Default настройки без файла
func Default() Config {
	return Config{
		DataDir: "data",
		Log: LogConfig{
			DebugLevel: "info",
			MaxSizeKB:  10 * 1024,
			MaxRolls:   3,
		},
		Audio: AudioConfig{
			ProbeTimeout: audio.DefaultProbeTimeout,
			SampleRate:   audio.PipelineSampleRate,
			Channels:     1,
			PeriodMs:     audio.DefaultPeriodMs,
			BufferFrames: audio.DefaultBufferFrames,
		},
		Chunker:    session.DefaultChunkerConfig(),
		Dispatcher: ai.DefaultDispatcherConfig(),
		Engine:     ai.DefaultEngineConfig(),
		Session: SessionConfig{
			AudioOnlyFallback: true,
			StopTimeout:       10 * time.Second,
			HistoryEnabled:    true,
		},
		API: APIConfig{
			Listen: "127.0.0.1:8080",
		},
	}
}

// Load читает файл (если задан), применяет окружение и проверяет результат.
// Пустые пути каталогов выводятся из DataDir.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	cfg.ResolvePaths()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ResolvePaths заполняет пустые пути относительно DataDir
func (c *Config) ResolvePaths() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	def := func(p *string, elem ...string) {
		if *p == "" {
			*p = filepath.Join(append([]string{c.DataDir}, elem...)...)
		}
	}
	def(&c.Log.File, "logs", "livetranscriber.log")
	def(&c.Models.Dir, "models")
	def(&c.Session.TranscriptDir, "transcripts")
	def(&c.Session.RecordingsDir, "recordings")
	def(&c.Session.HistoryPath, "history.db")
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.DataDir, "DATA_DIR")
	overrideString(&cfg.Log.DebugLevel, "DEBUG_LEVEL")
	overrideString(&cfg.Log.File, "LOG_FILE")
	overrideString(&cfg.Audio.Device, "AUDIO_DEVICE")
	overrideBool(&cfg.Audio.ProbeDevices, "AUDIO_PROBE_DEVICES")
	overrideInt(&cfg.Audio.SampleRate, "AUDIO_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "AUDIO_CHANNELS")
	overrideInt(&cfg.Audio.BufferFrames, "AUDIO_BUFFER_FRAMES")
	overrideString((*string)(&cfg.Chunker.Mode), "CHUNKER_MODE")
	overrideDuration(&cfg.Chunker.MinSegmentDuration, "CHUNKER_MIN_SEGMENT")
	overrideDuration(&cfg.Chunker.MaxSegmentDuration, "CHUNKER_MAX_SEGMENT")
	overrideDuration(&cfg.Chunker.PollInterval, "CHUNKER_POLL_INTERVAL")
	overrideString(&cfg.Dispatcher.Language, "LANGUAGE")
	overrideBool(&cfg.Dispatcher.Translate, "TRANSLATE")
	overrideStringSlice(&cfg.Dispatcher.TranslateFrom, "TRANSLATE_FROM")
	overrideString((*string)(&cfg.Engine.Type), "ENGINE")
	overrideString(&cfg.Engine.FasterWhisper.Python, "FASTER_WHISPER_PYTHON")
	overrideString(&cfg.Engine.FasterWhisper.Model, "FASTER_WHISPER_MODEL")
	overrideString(&cfg.Engine.FasterWhisper.Device, "FASTER_WHISPER_DEVICE")
	overrideBool(&cfg.Engine.FasterWhisper.AutoInstall, "FASTER_WHISPER_AUTO_INSTALL")
	overrideString(&cfg.Engine.WhisperCpp.Command, "WHISPER_CPP_COMMAND")
	overrideString(&cfg.Engine.WhisperCpp.Model, "WHISPER_CPP_MODEL")
	overrideString(&cfg.Engine.WhisperCpp.ModelPath, "WHISPER_CPP_MODEL_PATH")
	overrideString(&cfg.Engine.OpenAI.BaseURL, "OPENAI_BASE_URL")
	overrideString(&cfg.Engine.OpenAI.Model, "OPENAI_MODEL")
	overrideString(&cfg.Engine.OpenAI.APIKey, "OPENAI_API_KEY")
	if cfg.Engine.OpenAI.APIKey == "" {
		cfg.Engine.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	overrideString(&cfg.Models.Dir, "MODELS_DIR")
	overrideString(&cfg.Models.BaseURL, "MODELS_BASE_URL")
	overrideString(&cfg.Session.TranscriptDir, "TRANSCRIPT_DIR")
	overrideBool(&cfg.Session.AudioOnlyFallback, "AUDIO_ONLY_FALLBACK")
	overrideBool(&cfg.Session.RecordAudio, "RECORD_AUDIO")
	overrideDuration(&cfg.Session.StopTimeout, "STOP_TIMEOUT")
	overrideBool(&cfg.Session.HistoryEnabled, "HISTORY_ENABLED")
	overrideString(&cfg.Session.HistoryPath, "HISTORY_PATH")
	overrideString(&cfg.API.Listen, "API_LISTEN")
	overrideString(&cfg.API.GRPCSocket, "GRPC_SOCKET")
}

func overrideString(target *string, key string) {
	if v, ok := os.LookupEnv(EnvPrefix + key); ok {
		*target = v
	}
}

func overrideInt(target *int, key string) {
	if v, ok := os.LookupEnv(EnvPrefix + key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, key string) {
	if v, ok := os.LookupEnv(EnvPrefix + key); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*target = parsed
		}
	}
}

func overrideDuration(target *time.Duration, key string) {
	if v, ok := os.LookupEnv(EnvPrefix + key); ok {
		if parsed, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, key string) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	*target = out
}

// Validate проверяет согласованность настроек
func (c Config) Validate() error {
	var errs []error
	switch c.Engine.Type {
	case ai.EngineFasterWhisper, ai.EngineWhisperCpp, ai.EngineOpenAI, ai.EngineMock:
	default:
		errs = append(errs, fmt.Errorf("engine.type %q is not one of faster-whisper, whisper-cpp, openai, mock", c.Engine.Type))
	}
	switch c.Chunker.Mode {
	case session.ChunkModeTime, session.ChunkModeSilence:
	default:
		errs = append(errs, fmt.Errorf("chunker.mode %q must be time or silence", c.Chunker.Mode))
	}
	if c.Chunker.MinSegmentDuration <= 0 {
		errs = append(errs, errors.New("chunker.min_segment must be positive"))
	}
	if c.Chunker.MaxSegmentDuration < c.Chunker.MinSegmentDuration {
		errs = append(errs, errors.New("chunker.max_segment must not be shorter than chunker.min_segment"))
	}
	if c.Chunker.PollInterval <= 0 {
		errs = append(errs, errors.New("chunker.poll_interval must be positive"))
	}
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, errors.New("audio.sample_rate must be positive"))
	}
	if c.Audio.Channels <= 0 {
		errs = append(errs, errors.New("audio.channels must be positive"))
	}
	if c.Audio.PeriodMs < 0 {
		errs = append(errs, errors.New("audio.period_ms must not be negative"))
	}
	if c.Audio.BufferFrames <= 0 {
		errs = append(errs, errors.New("audio.buffer_frames must be positive"))
	}
	if p := c.Dispatcher.MinLanguageProbability; p < 0 || p > 1 {
		errs = append(errs, errors.New("dispatcher.min_language_probability must be within [0, 1]"))
	}
	if c.Session.StopTimeout <= 0 {
		errs = append(errs, errors.New("session.stop_timeout must be positive"))
	}
	return errors.Join(errs...)
}
