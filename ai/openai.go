package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig OpenAI-совместимый сервер распознавания (OpenAI, Groq, локальный whisper-server)
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// OpenAI движок поверх /audio/transcriptions и /audio/translations
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI создаёт клиента. Без ключа движок недоступен.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, &ModelUnavailableError{
			Engine: EngineOpenAI,
			Err:    errors.New("api key is not set"),
			Remedy: "Set OPENAI_API_KEY (or engine.openai.api_key) to use the OpenAI engine.",
		}
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	log.Infof("OpenAI engine: %s via %s", model, oc.BaseURL)
	return &OpenAI{client: openai.NewClientWithConfig(oc), model: model}, nil
}

func (o *OpenAI) Transcribe(ctx context.Context, samples []float32, opts Options) (Result, error) {
	path, cleanup, err := writeTempWAV(samples, "oai-*.wav")
	if err != nil {
		return Result{}, err
	}
	defer cleanup()

	req := openai.AudioRequest{
		Model:    o.model,
		FilePath: path,
		Format:   openai.AudioResponseFormatVerboseJSON,
	}
	if !opts.AutoDetect() {
		req.Language = opts.Language
	}
	resp, err := o.client.CreateTranscription(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("transcription request: %w", err)
	}
	return Result{
		Text:     strings.TrimSpace(resp.Text),
		Language: languageCode(resp.Language),
	}, nil
}

// Translate эндпоинт переводит только на английский
func (o *OpenAI) Translate(ctx context.Context, samples []float32, _ string) (Result, error) {
	path, cleanup, err := writeTempWAV(samples, "oai-*.wav")
	if err != nil {
		return Result{}, err
	}
	defer cleanup()

	resp, err := o.client.CreateTranslation(ctx, openai.AudioRequest{
		Model:    o.model,
		FilePath: path,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return Result{}, fmt.Errorf("translation request: %w", err)
	}
	return Result{Text: strings.TrimSpace(resp.Text), Language: "en"}, nil
}

func (o *OpenAI) Name() string { return string(EngineOpenAI) }

func (o *OpenAI) Close() error { return nil }

// verbose_json отдаёт язык полным английским названием
var languageNames = map[string]string{
	"english":    "en",
	"tagalog":    "tl",
	"filipino":   "tl",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"dutch":      "nl",
	"russian":    "ru",
	"ukrainian":  "uk",
	"polish":     "pl",
	"turkish":    "tr",
	"arabic":     "ar",
	"hindi":      "hi",
	"japanese":   "ja",
	"korean":     "ko",
	"chinese":    "zh",
	"indonesian": "id",
	"malay":      "ms",
	"vietnamese": "vi",
	"thai":       "th",
	"cebuano":    "ceb",
}

// languageCode приводит ответ сервера к ISO-коду
func languageCode(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if code, ok := languageNames[s]; ok {
		return code
	}
	if len(s) == 2 || len(s) == 3 {
		return s
	}
	return ""
}
