package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/quietfold/autosampler/internal/app"
	"github.com/quietfold/autosampler/internal/audio"
	"github.com/quietfold/autosampler/internal/config"
	"github.com/quietfold/autosampler/internal/logging"
	"github.com/quietfold/autosampler/internal/recorder"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

func main() {
	listDevices := flag.Bool("list-devices", false, "list input devices and exit")
	flag.Parse()

	// Load config from XDG/Library/AppData
	cfg, err := config.Load()
	if err != nil {
		log := logging.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	log := logging.NewWithLevel(cfg.LogLevel)
	log.Info().Str("version", Version).Str("commit", Commit).Msg("autosampler starting...")

	engine, err := audio.New(log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize audio")
	}
	defer engine.Shutdown()

	devices, err := engine.Devices()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to enumerate devices")
	}
	for _, d := range devices {
		log.Info().
			Int("index", d.Index).
			Str("name", d.Name).
			Int("max_input_channels", d.MaxInputChannels).
			Int("default_sample_rate", d.DefaultSampleRate).
			Bool("default", d.Default).
			Msg("Input device")
	}
	if *listDevices {
		return
	}

	application, err := app.New(app.Config{
		Engine: engine,
		Config: cfg,
		Logger: log,
		Events: printEvent,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create app")
	}

	if err := application.OpenStream(); err != nil {
		log.Fatal().Err(err).Msg("Failed to open stream")
	}

	if err := application.StartRecording(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start recorder")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Drain the level queue in place of a GUI meter.
	go drainLevels(ctx, application, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down...")
	cancel()
	if err := application.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}
	stats := application.Stats()
	log.Info().
		Uint64("dropped_blocks", stats.DroppedBlocks).
		Uint64("dropped_levels", stats.DroppedLevels).
		Uint64("callback_statuses", stats.CallbackStatuses).
		Msg("Capture stats")
}

// printEvent is the stand-in presentation layer: one line per event, in
// delivery order.
func printEvent(ev recorder.Event) {
	switch ev.Kind {
	case recorder.EventSaved:
		fmt.Printf("saved: %s\n", ev.Path)
	case recorder.EventError:
		fmt.Printf("error: %s\n", ev.Message)
	default:
		fmt.Printf("status: %s\n", ev.Message)
	}
}

// drainLevels consumes the display level queue, logging the running peak
// once a second so the queue never sits full.
func drainLevels(ctx context.Context, application *app.App, log zerolog.Logger) {
	levels := application.Levels()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var peak float64
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-levels.C():
			if v > peak {
				peak = v
			}
		case <-ticker.C:
			log.Debug().Float64("peak", peak).Str("state", application.Recorder().State.String()).Msg("Level")
			peak = 0
		}
	}
}
