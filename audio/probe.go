package audio

import (
	"context"
	"errors"
	"time"
)

// DefaultProbeTimeout сколько ждём первых данных от устройства
const DefaultProbeTimeout = 1500 * time.Millisecond

// FindWorkingDevice открывает устройства по очереди (начиная с устройства
// по умолчанию) и возвращает первое, которое реально отдало данные.
func FindWorkingDevice(ctx context.Context, backend Backend, devices []AudioDevice, cfg StreamConfig, timeout time.Duration) (*AudioDevice, error) {
	if len(devices) == 0 {
		return nil, ErrNoDeviceFound
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	order := make([]*AudioDevice, 0, len(devices))
	first := DefaultDevice(devices)
	order = append(order, first)
	for i := range devices {
		if devices[i].ID != first.ID {
			order = append(order, &devices[i])
		}
	}

	var lastErr error
	for _, dev := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := probeDevice(ctx, backend, dev, cfg, timeout)
		if ok {
			log.Infof("Device %q delivers audio", dev.Name)
			return dev, nil
		}
		if err != nil {
			lastErr = err
		}
		log.Debugf("Device %q produced no data: %v", dev.Name, err)
	}

	if lastErr == nil {
		lastErr = errors.New("no device produced audio within timeout")
	}
	return nil, &CaptureStreamError{Device: "probe", Err: lastErr}
}

func probeDevice(ctx context.Context, backend Backend, dev *AudioDevice, cfg StreamConfig, timeout time.Duration) (bool, error) {
	got := make(chan struct{}, 1)
	onData := func(samples []float32, _ int) {
		if len(samples) == 0 {
			return
		}
		select {
		case got <- struct{}{}:
		default:
		}
	}

	if dev.MaxInputChannels > 0 && cfg.Channels > dev.MaxInputChannels {
		cfg.Channels = dev.MaxInputChannels
	}
	stream, err := backend.OpenStream(dev, cfg, onData, nil)
	if err != nil {
		return false, err
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return false, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-got:
		return true, nil
	case <-timer.C:
		return false, errors.New("timeout waiting for audio data")
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
