// listdevices печатает устройства захвата и, с --probe, находит то,
// которое реально отдаёт звук.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	flags "github.com/jessevdk/go-flags"

	"livetranscriber/audio"
	"livetranscriber/internal/config"
	"livetranscriber/internal/logging"
)

type options struct {
	Probe      bool          `short:"p" long:"probe" description:"Open devices one by one and report the first that delivers audio"`
	Timeout    time.Duration `long:"timeout" default:"1500ms" description:"How long to wait for audio from each device"`
	DebugLevel string        `short:"d" long:"debuglevel" default:"info" description:"Logging level"`
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

	devices, err := audio.NewRegistry(backend).ListDevices()
	if err != nil {
		return err
	}
	def := audio.DefaultDevice(devices)
	for i, d := range devices {
		mark := " "
		if d.ID == def.ID {
			mark = "*"
		}
		loop := ""
		if d.IsLoopback {
			loop = " [loopback]"
		}
		fmt.Printf("%s %2d. %s%s\n     id: %s\n", mark, i+1, d, loop, d.ID)
	}

	if !opts.Probe {
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	cfg := config.Default().Audio
	dev, err := audio.FindWorkingDevice(ctx, backend, devices, audio.StreamConfig{
		SampleRate: cfg.SampleRate,
		Channels:   cfg.Channels,
		PeriodMs:   cfg.PeriodMs,
	}, opts.Timeout)
	if err != nil {
		return err
	}
	fmt.Printf("\nWorking device: %s\n", dev.Name)
	return nil
}

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
