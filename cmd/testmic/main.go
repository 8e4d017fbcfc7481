// testmic показывает уровень сигнала с устройства и, если задан --output,
// пишет записанное в WAV.
// Запуск: go run ./cmd/testmic --device "USB" --seconds 10
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"

	"livetranscriber/audio"
	"livetranscriber/internal/config"
	"livetranscriber/internal/logging"
)

type options struct {
	Device     string        `long:"device" description:"Device ID or part of its name (default: loopback or system default)"`
	Duration   time.Duration `short:"t" long:"duration" default:"10s" description:"How long to listen"`
	Output     string        `short:"o" long:"output" description:"Write the captured audio to this WAV file"`
	DebugLevel string        `short:"d" long:"debuglevel" default:"info" description:"Logging level"`
}

const meterWidth = 40

func meter(rms float32) string {
	n := int(rms * 4 * meterWidth)
	n = max(0, min(n, meterWidth))
	return strings.Repeat("#", n) + strings.Repeat(".", meterWidth-n)
}

func realMain() error {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return nil
		}
		return err
	}
	logBknd, err := logging.New(config.LogConfig{DebugLevel: opts.DebugLevel}, os.Stderr)
	if err != nil {
		return err
	}
	defer logBknd.Close()

	backend, err := audio.NewMalgoBackend()
	if err != nil {
		return err
	}
	defer backend.Close()

	registry := audio.NewRegistry(backend)
	var dev *audio.AudioDevice
	if opts.Device != "" {
		dev, err = registry.FindDevice(opts.Device)
	} else {
		var devices []audio.AudioDevice
		devices, err = registry.ListDevices()
		if err == nil {
			dev = audio.DefaultDevice(devices)
		}
	}
	if err != nil {
		return err
	}

	cfg := config.Default().Audio
	buf := audio.NewFrameBuffer(cfg.BufferFrames)
	handle, err := audio.NewCapture(backend, audio.PipelineSampleRate).Start(dev, audio.StreamConfig{
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		PeriodMs:   cfg.PeriodMs,
	}, buf)
	if err != nil {
		return err
	}
	defer handle.Stop()
	fmt.Printf("Listening on %s for %s (Ctrl+C to stop)\n", handle.Device().Name, opts.Duration)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, opts.Duration)
	defer cancelTimeout()

	var (
		recorded []float32
		heard    bool
	)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-handle.Err():
			return handle.StreamError(err)
		case <-ticker.C:
			var block []float32
			for _, f := range buf.Drain() {
				block = append(block, f.Samples...)
			}
			if len(block) == 0 {
				continue
			}
			rms := audio.RMS(block)
			voiced := audio.HasSignal(block, 0.005, 0.01)
			heard = heard || voiced
			fmt.Printf("\r[%s] rms=%.4f peak=%.4f", meter(rms), rms, audio.Peak(block))
			if opts.Output != "" {
				recorded = append(recorded, block...)
			}
		}
	}
	fmt.Println()

	if dropped := buf.Dropped(); dropped > 0 {
		fmt.Printf("Dropped %d frames\n", dropped)
	}
	if !heard {
		fmt.Println("No signal detected. Check the input level or pick another device (cmd/listdevices --probe).")
	}
	if opts.Output != "" {
		if err := audio.WriteWAVFile(opts.Output, recorded, audio.PipelineSampleRate); err != nil {
			return err
		}
		fmt.Printf("Saved %.1fs to %s\n", float64(len(recorded))/audio.PipelineSampleRate, opts.Output)
	}
	return nil
}

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
