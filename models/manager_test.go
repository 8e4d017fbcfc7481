package models

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRegistry = []ModelInfo{
	{ID: "tiny", FileName: "ggml-tiny.bin", SizeBytes: 4096, Languages: []string{"multi"}},
	{ID: "base.en", FileName: "ggml-base.en.bin", SizeBytes: 4096, Languages: []string{"en"}},
}

func newTestManager(t *testing.T) (*Manager, *httptest.Server) {
	t.Helper()
	payload := strings.Repeat("g", 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ggml-tiny.bin" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)

	m, err := NewManager(t.TempDir(), WithBaseURL(srv.URL+"/"), WithRegistry(testRegistry), WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return m, srv
}

func TestManagerDownload(t *testing.T) {
	m, _ := newTestManager(t)
	assert.False(t, m.IsModelDownloaded("tiny"))

	var last float64
	require.NoError(t, m.Download(context.Background(), "tiny", func(p float64) { last = p }))
	assert.Equal(t, float64(100), last)
	assert.True(t, m.IsModelDownloaded("tiny"))

	_, err := os.Stat(m.ModelPath("tiny") + ".tmp")
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, m.SetActiveModel("tiny"))
	states := m.States()
	require.Len(t, states, 2)
	assert.Equal(t, ModelStatusActive, states[0].Status)
	assert.Equal(t, ModelStatusNotDownloaded, states[1].Status)

	assert.Error(t, m.DeleteModel("tiny"), "active model is protected")
}

func TestManagerDownloadFailure(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.Download(context.Background(), "base.en", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.False(t, m.IsModelDownloaded("base.en"))
	_, err = os.Stat(m.ModelPath("base.en") + ".tmp")
	assert.True(t, os.IsNotExist(err))

	assert.Error(t, m.Download(context.Background(), "nope", nil))
	assert.Error(t, m.SetActiveModel("base.en"))
}

func TestManagerBackgroundDownload(t *testing.T) {
	m, _ := newTestManager(t)

	var (
		mu   sync.Mutex
		done = make(chan ModelStatus, 1)
	)
	m.SetProgressCallback(func(id string, p float64, st ModelStatus, err error) {
		mu.Lock()
		defer mu.Unlock()
		if st != ModelStatusDownloading {
			done <- st
		}
	})

	require.NoError(t, m.DownloadModel("tiny"))
	select {
	case st := <-done:
		assert.Equal(t, ModelStatusDownloaded, st)
	case <-time.After(5 * time.Second):
		t.Fatal("download did not finish")
	}
	assert.True(t, m.IsModelDownloaded("tiny"))
	require.NoError(t, m.DeleteModel("tiny"))
	assert.False(t, m.IsModelDownloaded("tiny"))
}

func TestRegistry(t *testing.T) {
	m := GetModelByID("base")
	require.NotNil(t, m)
	assert.True(t, m.Multilingual())
	assert.False(t, GetModelByID("base.en").Multilingual())
	assert.Nil(t, GetModelByID("missing"))
	assert.NotEmpty(t, RecommendedModels())
}
