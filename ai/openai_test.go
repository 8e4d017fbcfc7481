package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type audioAPIStub struct {
	mu    sync.Mutex
	forms []map[string]string
}

func (s *audioAPIStub) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	record := func(r *http.Request) bool {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			return false
		}
		if err := r.ParseMultipartForm(8 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return false
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("no file in request: %v", err)
			return false
		}
		form := map[string]string{}
		for k, v := range r.MultipartForm.Value {
			form[k] = v[0]
		}
		s.mu.Lock()
		s.forms = append(s.forms, form)
		s.mu.Unlock()
		return true
	}
	mux.HandleFunc("/v1/audio/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		if !record(r) {
			http.Error(w, `{"error":{"message":"bad request"}}`, http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"task":     "transcribe",
			"language": "tagalog",
			"duration": 1.0,
			"text":     " kumusta ka ",
		})
	})
	mux.HandleFunc("/v1/audio/translations", func(w http.ResponseWriter, r *http.Request) {
		if !record(r) {
			http.Error(w, `{"error":{"message":"bad request"}}`, http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"task":     "translate",
			"language": "english",
			"duration": 1.0,
			"text":     "how are you",
		})
	})
	return mux
}

func TestOpenAIEngine(t *testing.T) {
	stub := &audioAPIStub{}
	srv := httptest.NewServer(stub.handler(t))
	defer srv.Close()

	o, err := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"})
	require.NoError(t, err)
	samples := speechLike(1, SampleRate)

	res, err := o.Transcribe(context.Background(), samples, Options{Language: "auto"})
	require.NoError(t, err)
	assert.Equal(t, "kumusta ka", res.Text)
	assert.Equal(t, "tl", res.Language)

	res, err = o.Translate(context.Background(), samples, "tl")
	require.NoError(t, err)
	assert.Equal(t, "how are you", res.Text)
	assert.Equal(t, "en", res.Language)

	_, err = o.Transcribe(context.Background(), samples, Options{Language: "tl"})
	require.NoError(t, err)

	stub.mu.Lock()
	defer stub.mu.Unlock()
	require.Len(t, stub.forms, 3)
	assert.Equal(t, "whisper-1", stub.forms[0]["model"])
	assert.Equal(t, "verbose_json", stub.forms[0]["response_format"])
	assert.Empty(t, stub.forms[0]["language"])
	assert.Equal(t, "tl", stub.forms[2]["language"])
}

func TestOpenAIRequestError(t *testing.T) {
	srv := httptest.NewServer((&audioAPIStub{}).handler(t))
	defer srv.Close()

	o, err := NewOpenAI(OpenAIConfig{APIKey: "sk-wrong", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	_, err = o.Transcribe(context.Background(), speechLike(1, SampleRate), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transcription request")
}

func TestOpenAIRequiresKey(t *testing.T) {
	_, err := NewOpenAI(OpenAIConfig{})
	var mue *ModelUnavailableError
	require.ErrorAs(t, err, &mue)
	assert.Contains(t, mue.Hint(), "OPENAI_API_KEY")
}

func TestLanguageCode(t *testing.T) {
	tests := map[string]string{
		"Tagalog":   "tl",
		"filipino":  "tl",
		" English ": "en",
		"en":        "en",
		"ceb":       "ceb",
		"klingon":   "",
		"":          "",
	}
	for in, want := range tests {
		assert.Equal(t, want, languageCode(in), in)
	}
}
