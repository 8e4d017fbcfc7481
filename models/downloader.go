package models

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// ProgressFunc прогресс скачивания 0-100
type ProgressFunc func(progress float64)

// DownloadFile скачивает url во временный файл и переименовывает его в destPath
func DownloadFile(ctx context.Context, client *http.Client, url, destPath string, expectedSize int64, onProgress ProgressFunc) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmpPath := destPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	ok := false
	defer func() {
		out.Close()
		if !ok {
			os.Remove(tmpPath)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	total := resp.ContentLength
	if total <= 0 {
		total = expectedSize
	}
	reader := &progressReader{reader: resp.Body, totalSize: total, onProgress: onProgress}
	if _, err := io.Copy(out, reader); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("rename file: %w", err)
	}
	ok = true
	return nil
}

// progressReader считает прочитанное и сообщает не чаще раза в 500мс
type progressReader struct {
	reader     io.Reader
	totalSize  int64
	downloaded int64
	onProgress ProgressFunc
	lastReport time.Time
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.downloaded += int64(n)
	}
	if pr.onProgress == nil || pr.totalSize <= 0 {
		return n, err
	}
	now := time.Now()
	if err == io.EOF || now.Sub(pr.lastReport) >= 500*time.Millisecond {
		pr.lastReport = now
		pr.onProgress(min(float64(pr.downloaded)/float64(pr.totalSize)*100, 100))
	}
	return n, err
}
