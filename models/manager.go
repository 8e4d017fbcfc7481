package models

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ProgressCallback прогресс фоновых загрузок
type ProgressCallback func(modelID string, progress float64, status ModelStatus, err error)

// Manager хранит модели в каталоге и следит за загрузками
type Manager struct {
	modelsDir string
	baseURL   string
	registry  []ModelInfo
	client    *http.Client

	mu          sync.RWMutex
	activeModel string
	downloads   map[string]context.CancelFunc
	onProgress  ProgressCallback
}

// Option настройка менеджера
type Option func(*Manager)

// WithBaseURL зеркало вместо HuggingFace
func WithBaseURL(url string) Option {
	return func(m *Manager) { m.baseURL = strings.TrimRight(url, "/") }
}

// WithRegistry собственный список моделей
func WithRegistry(list []ModelInfo) Option {
	return func(m *Manager) { m.registry = list }
}

// WithHTTPClient HTTP клиент для скачивания
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.client = c }
}

// NewManager создаёт каталог моделей, если его нет
func NewManager(modelsDir string, opts ...Option) (*Manager, error) {
	if err := os.MkdirAll(modelsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create models directory: %w", err)
	}
	m := &Manager{
		modelsDir: modelsDir,
		baseURL:   DefaultBaseURL,
		registry:  Registry,
		client:    http.DefaultClient,
		downloads: make(map[string]context.CancelFunc),
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// SetProgressCallback callback фоновых загрузок
func (m *Manager) SetProgressCallback(cb ProgressCallback) {
	m.mu.Lock()
	m.onProgress = cb
	m.mu.Unlock()
}

// ModelsDir каталог моделей
func (m *Manager) ModelsDir() string { return m.modelsDir }

// Model описание модели из реестра менеджера
func (m *Manager) Model(id string) *ModelInfo {
	return findModel(m.registry, id)
}

// ModelPath путь к файлу модели (существует он или нет)
func (m *Manager) ModelPath(id string) string {
	info := m.Model(id)
	if info == nil {
		return ""
	}
	return filepath.Join(m.modelsDir, info.FileName)
}

// IsModelDownloaded файл есть и не короче 90% ожидаемого размера
func (m *Manager) IsModelDownloaded(id string) bool {
	info := m.Model(id)
	if info == nil {
		return false
	}
	st, err := os.Stat(m.ModelPath(id))
	if err != nil || st.Size() == 0 {
		return false
	}
	return info.SizeBytes <= 0 || st.Size() >= info.SizeBytes*9/10
}

// ActiveModel ID активной модели
func (m *Manager) ActiveModel() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeModel
}

// SetActiveModel делает скачанную модель активной
func (m *Manager) SetActiveModel(id string) error {
	if !m.IsModelDownloaded(id) {
		return fmt.Errorf("model %s is not downloaded", id)
	}
	m.mu.Lock()
	m.activeModel = id
	m.mu.Unlock()
	log.Infof("Active model set to %s", id)
	return nil
}

// States состояние всех моделей реестра
func (m *Manager) States() []ModelState {
	m.mu.RLock()
	active := m.activeModel
	downloading := make(map[string]bool, len(m.downloads))
	for id := range m.downloads {
		downloading[id] = true
	}
	m.mu.RUnlock()

	states := make([]ModelState, len(m.registry))
	for i, info := range m.registry {
		st := ModelState{ModelInfo: info, Path: m.ModelPath(info.ID)}
		switch {
		case downloading[info.ID]:
			st.Status = ModelStatusDownloading
		case !m.IsModelDownloaded(info.ID):
			st.Status = ModelStatusNotDownloaded
		case info.ID == active:
			st.Status = ModelStatusActive
		default:
			st.Status = ModelStatusDownloaded
		}
		states[i] = st
	}
	return states
}

// Download скачивает модель синхронно
func (m *Manager) Download(ctx context.Context, id string, onProgress ProgressFunc) error {
	info := m.Model(id)
	if info == nil {
		return fmt.Errorf("unknown model: %s", id)
	}
	url := m.baseURL + "/" + info.FileName
	log.Infof("Downloading %s from %s", id, url)
	if err := DownloadFile(ctx, m.client, url, m.ModelPath(id), info.SizeBytes, onProgress); err != nil {
		return fmt.Errorf("download %s: %w", id, err)
	}
	log.Infof("Model %s downloaded", id)
	return nil
}

// DownloadModel запускает скачивание в фоне; прогресс - через SetProgressCallback
func (m *Manager) DownloadModel(id string) error {
	if m.Model(id) == nil {
		return fmt.Errorf("unknown model: %s", id)
	}

	m.mu.Lock()
	if _, busy := m.downloads[id]; busy {
		m.mu.Unlock()
		return fmt.Errorf("model %s is already downloading", id)
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.downloads[id] = cancel
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.downloads, id)
			m.mu.Unlock()
			cancel()
		}()

		err := m.Download(ctx, id, func(p float64) {
			m.notifyProgress(id, p, ModelStatusDownloading, nil)
		})
		switch {
		case errors.Is(ctx.Err(), context.Canceled):
			log.Infof("Download cancelled for model %s", id)
			m.notifyProgress(id, 0, ModelStatusNotDownloaded, nil)
		case err != nil:
			log.Errorf("Download failed for model %s: %v", id, err)
			m.notifyProgress(id, 0, ModelStatusError, err)
		default:
			m.notifyProgress(id, 100, ModelStatusDownloaded, nil)
		}
	}()
	return nil
}

// CancelDownload отменяет фоновое скачивание
func (m *Manager) CancelDownload(id string) error {
	m.mu.Lock()
	cancel, ok := m.downloads[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("model %s is not downloading", id)
	}
	cancel()
	return nil
}

// DeleteModel удаляет файл неактивной модели
func (m *Manager) DeleteModel(id string) error {
	if !m.IsModelDownloaded(id) {
		return fmt.Errorf("model %s is not downloaded", id)
	}
	if m.ActiveModel() == id {
		return errors.New("cannot delete active model")
	}
	if err := os.Remove(m.ModelPath(id)); err != nil {
		return fmt.Errorf("delete model: %w", err)
	}
	log.Infof("Model %s deleted", id)
	return nil
}

func (m *Manager) notifyProgress(id string, progress float64, status ModelStatus, err error) {
	m.mu.RLock()
	cb := m.onProgress
	m.mu.RUnlock()
	if cb != nil {
		cb(id, progress, status, err)
	}
}
