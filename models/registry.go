// Package models управляет ggml моделями whisper.cpp: реестр, скачивание, активная модель
package models

// DefaultBaseURL откуда берутся ggml модели
const DefaultBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

// ModelInfo описание модели
type ModelInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	FileName    string   `json:"fileName"`
	Size        string   `json:"size"`
	SizeBytes   int64    `json:"sizeBytes"`
	Description string   `json:"description"`
	Languages   []string `json:"languages"`
	Speed       string   `json:"speed"`
	Recommended bool     `json:"recommended,omitempty"`
}

// Multilingual модель знает больше одного языка (нужно для тагальского)
func (m ModelInfo) Multilingual() bool {
	return len(m.Languages) == 1 && m.Languages[0] == "multi"
}

// ModelStatus статус модели на диске
type ModelStatus string

const (
	ModelStatusNotDownloaded ModelStatus = "not_downloaded"
	ModelStatusDownloading   ModelStatus = "downloading"
	ModelStatusDownloaded    ModelStatus = "downloaded"
	ModelStatusActive        ModelStatus = "active"
	ModelStatusError         ModelStatus = "error"
)

// ModelState модель и её состояние
type ModelState struct {
	ModelInfo
	Status   ModelStatus `json:"status"`
	Progress float64     `json:"progress,omitempty"`
	Error    string      `json:"error,omitempty"`
	Path     string      `json:"path,omitempty"`
}

// Registry ggml модели whisper.cpp
var Registry = []ModelInfo{
	{
		ID:          "tiny",
		Name:        "Tiny",
		FileName:    "ggml-tiny.bin",
		Size:        "74 MB",
		SizeBytes:   77_691_713,
		Description: "Fastest, basic quality",
		Languages:   []string{"multi"},
		Speed:       "~10x",
	},
	{
		ID:          "base",
		Name:        "Base",
		FileName:    "ggml-base.bin",
		Size:        "141 MB",
		SizeBytes:   147_951_465,
		Description: "Good balance of speed and quality",
		Languages:   []string{"multi"},
		Speed:       "~7x",
		Recommended: true,
	},
	{
		ID:          "base.en",
		Name:        "Base (English)",
		FileName:    "ggml-base.en.bin",
		Size:        "141 MB",
		SizeBytes:   147_964_211,
		Description: "English only, cannot detect or translate Tagalog",
		Languages:   []string{"en"},
		Speed:       "~7x",
	},
	{
		ID:          "small",
		Name:        "Small",
		FileName:    "ggml-small.bin",
		Size:        "465 MB",
		SizeBytes:   487_601_967,
		Description: "Good recognition quality",
		Languages:   []string{"multi"},
		Speed:       "~4x",
		Recommended: true,
	},
	{
		ID:          "medium",
		Name:        "Medium",
		FileName:    "ggml-medium.bin",
		Size:        "1.4 GB",
		SizeBytes:   1_533_774_781,
		Description: "High recognition quality",
		Languages:   []string{"multi"},
		Speed:       "~2x",
	},
	{
		ID:          "large-v3-turbo",
		Name:        "Large V3 Turbo",
		FileName:    "ggml-large-v3-turbo.bin",
		Size:        "1.5 GB",
		SizeBytes:   1_624_417_792,
		Description: "Fast model with high quality; translation quality is lower than large-v3",
		Languages:   []string{"multi"},
		Speed:       "~8x",
	},
	{
		ID:          "large-v3",
		Name:        "Large V3",
		FileName:    "ggml-large-v3.bin",
		Size:        "2.9 GB",
		SizeBytes:   3_094_623_691,
		Description: "Best quality",
		Languages:   []string{"multi"},
		Speed:       "~1x",
	},
}

// GetModelByID модель из реестра по ID
func GetModelByID(id string) *ModelInfo {
	return findModel(Registry, id)
}

func findModel(list []ModelInfo, id string) *ModelInfo {
	for i := range list {
		if list[i].ID == id {
			m := list[i]
			return &m
		}
	}
	return nil
}

// RecommendedModels модели, которые стоит предложить первыми
func RecommendedModels() []ModelInfo {
	var out []ModelInfo
	for _, m := range Registry {
		if m.Recommended {
			out = append(out, m)
		}
	}
	return out
}
