package audio

import (
	"fmt"
	"strings"
)

// Registry перечисляет устройства захвата, пригодные для записи
type Registry struct {
	backend Backend
}

// NewRegistry создаёт реестр поверх бэкенда
func NewRegistry(backend Backend) *Registry {
	return &Registry{backend: backend}
}

// ListDevices возвращает устройства с входными каналами в порядке бэкенда.
// Если таких нет - ErrNoDeviceFound.
func (r *Registry) ListDevices() ([]AudioDevice, error) {
	all, err := r.backend.Devices()
	if err != nil {
		return nil, err
	}

	devices := make([]AudioDevice, 0, len(all))
	for _, d := range all {
		if d.MaxInputChannels > 0 {
			devices = append(devices, d)
		}
	}
	if len(devices) == 0 {
		return nil, ErrNoDeviceFound
	}

	log.Debugf("Found %d input devices (%d total)", len(devices), len(all))
	return devices, nil
}

// FindDevice ищет устройство по точному ID, затем по части имени
func (r *Registry) FindDevice(query string) (*AudioDevice, error) {
	devices, err := r.ListDevices()
	if err != nil {
		return nil, err
	}

	for i := range devices {
		if devices[i].ID == query {
			return &devices[i], nil
		}
	}

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, fmt.Errorf("device not found: empty query")
	}
	for i := range devices {
		if strings.Contains(strings.ToLower(devices[i].Name), q) {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", query)
}

// DefaultDevice выбирает устройство по умолчанию: сначала loopback
// (системный звук), затем устройство ОС по умолчанию, затем первое
func DefaultDevice(devices []AudioDevice) *AudioDevice {
	if len(devices) == 0 {
		return nil
	}
	for i := range devices {
		if devices[i].IsLoopback || IsLoopbackName(devices[i].Name) {
			return &devices[i]
		}
	}
	for i := range devices {
		if devices[i].IsDefault {
			return &devices[i]
		}
	}
	return &devices[0]
}
