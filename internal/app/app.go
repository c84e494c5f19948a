package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quietfold/autosampler/internal/audio"
	"github.com/quietfold/autosampler/internal/config"
	"github.com/quietfold/autosampler/internal/recorder"
	"github.com/quietfold/autosampler/internal/store"
)

// EventSink receives recorder events for display. Optional - can be nil.
type EventSink func(recorder.Event)

type Config struct {
	Engine audio.Engine
	Config *config.Config
	Logger zerolog.Logger
	Events EventSink
}

// App wires the capture engine and the segment recorder together and is the
// surface the presentation layer talks to.
type App struct {
	engine audio.Engine
	rec    *recorder.Recorder
	cfg    *config.Config
	log    zerolog.Logger
	events EventSink

	mu        sync.Mutex
	streaming bool
	recording bool
}

func New(cfg Config) (*App, error) {
	a := &App{
		engine: cfg.Engine,
		cfg:    cfg.Config,
		log:    cfg.Logger,
		events: cfg.Events,
	}

	rec, err := recorder.New(
		cfg.Logger,
		cfg.Engine.Blocks(),
		cfg.Engine.SampleRate,
		store.WriteSegment,
		a.onEvent,
		recorderParams(cfg.Config),
	)
	if err != nil {
		return nil, err
	}
	a.rec = rec
	return a, nil
}

func recorderParams(cfg *config.Config) recorder.Params {
	return recorder.Params{
		Threshold:      cfg.Recorder.Threshold,
		SilenceTimeout: time.Duration(cfg.Recorder.SilenceTimeoutSec * float64(time.Second)),
		OutputDir:      cfg.Recorder.OutputDir,
	}
}

// onEvent forwards recorder events to the sink in occurrence order and
// mirrors them into the log.
func (a *App) onEvent(ev recorder.Event) {
	switch ev.Kind {
	case recorder.EventSaved:
		a.log.Info().Str("path", ev.Path).Msg("Saved")
	case recorder.EventError:
		a.log.Error().Str("error", ev.Message).Msg("Recorder error")
	default:
		a.log.Debug().Str("status", ev.Message).Msg("Status")
	}
	if a.events != nil {
		a.events(ev)
	}
}

// OpenStream opens the capture stream described by the current config.
func (a *App) OpenStream() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.openStreamLocked()
}

func (a *App) openStreamLocked() error {
	streamCfg, err := a.streamConfigLocked()
	if err != nil {
		return err
	}
	if err := a.engine.Open(streamCfg, a.cfg.Monitor); err != nil {
		return err
	}
	a.streaming = true
	return nil
}

// streamConfigLocked resolves the configured device and channel selection
// into a StreamConfig, clamping the selection to the device's channels.
func (a *App) streamConfigLocked() (audio.StreamConfig, error) {
	devices, err := a.engine.Devices()
	if err != nil {
		return audio.StreamConfig{}, err
	}
	if len(devices) == 0 {
		return audio.StreamConfig{}, fmt.Errorf("no input devices available")
	}

	dev := devices[0]
	if a.cfg.Audio.DeviceIndex >= 0 {
		found := false
		for _, d := range devices {
			if d.Index == a.cfg.Audio.DeviceIndex {
				dev = d
				found = true
				break
			}
		}
		if !found {
			return audio.StreamConfig{}, fmt.Errorf("input device %d not found", a.cfg.Audio.DeviceIndex)
		}
	} else {
		for _, d := range devices {
			if d.Default {
				dev = d
				break
			}
		}
	}

	chmap := audio.ResolveChannelMap(
		dev.MaxInputChannels,
		a.cfg.Audio.FirstChannel,
		a.cfg.Audio.SecondChannel,
		a.cfg.Audio.Stereo,
	)

	sampleRate := a.cfg.Audio.SampleRate
	if sampleRate <= 0 {
		sampleRate = dev.DefaultSampleRate
	}

	return audio.StreamConfig{
		DeviceIndex: dev.Index,
		SampleRate:  sampleRate,
		ChannelMap:  chmap,
		Channels:    len(chmap),
	}, nil
}

// StartRecording starts the segment recorder. The stream must be open.
func (a *App) StartRecording() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.streaming {
		return fmt.Errorf("stream not open")
	}
	if a.recording {
		return nil
	}
	a.rec.Start()
	a.recording = true
	return nil
}

// StopRecording stops the recorder, persisting any in-progress segment.
func (a *App) StopRecording() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopRecordingLocked()
}

func (a *App) stopRecordingLocked() {
	if !a.recording {
		return
	}
	a.rec.Stop()
	a.recording = false
}

// ToggleRecording flips the recorder on or off.
func (a *App) ToggleRecording() error {
	a.mu.Lock()
	recording := a.recording
	a.mu.Unlock()
	if recording {
		a.StopRecording()
		return nil
	}
	return a.StartRecording()
}

// IsRecording reports whether the recorder loop is running.
func (a *App) IsRecording() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.recording
}

// SetMonitoring toggles live playthrough without stopping the stream.
func (a *App) SetMonitoring(enabled bool) {
	a.engine.SetMonitoring(enabled)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg.Monitor = enabled
	if err := a.cfg.Save(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to save config")
	}
}

// Reconfigure switches device and channel selection. The recorder is
// stopped first (persisting any in-progress segment), the old stream fully
// closed before the new one opens, and the recorder restarted if it was
// running. The choice is saved to the config file. On failure the previous
// selection is restored in memory.
func (a *App) Reconfigure(deviceIndex int, stereo bool, first, second int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	wasRecording := a.recording
	a.stopRecordingLocked()

	prev := a.cfg.Audio
	a.cfg.Audio.DeviceIndex = deviceIndex
	a.cfg.Audio.Stereo = stereo
	a.cfg.Audio.FirstChannel = first
	a.cfg.Audio.SecondChannel = second
	if err := a.cfg.Validate(); err != nil {
		// Rejected before the stream was touched: the old stream is still
		// open, so the recorder can resume against it.
		a.cfg.Audio = prev
		if wasRecording {
			a.rec.Start()
			a.recording = true
		}
		return err
	}

	if err := a.openStreamLocked(); err != nil {
		// The old stream is already closed by now, so recording cannot
		// resume until a reopen succeeds.
		a.cfg.Audio = prev
		a.streaming = false
		return err
	}
	if err := a.cfg.Save(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to save config")
	}

	if wasRecording {
		a.rec.Start()
		a.recording = true
	}
	return nil
}

// SetThreshold retunes the trigger threshold live.
func (a *App) SetThreshold(v float64) error {
	return a.updateParams(func(p *recorder.Params, c *config.Config) {
		p.Threshold = v
		c.Recorder.Threshold = v
	})
}

// SetSilenceTimeout retunes the silence timeout live.
func (a *App) SetSilenceTimeout(d time.Duration) error {
	return a.updateParams(func(p *recorder.Params, c *config.Config) {
		p.SilenceTimeout = d
		c.Recorder.SilenceTimeoutSec = d.Seconds()
	})
}

// SetOutputDir changes where new segments are written.
func (a *App) SetOutputDir(dir string) error {
	return a.updateParams(func(p *recorder.Params, c *config.Config) {
		p.OutputDir = dir
		c.Recorder.OutputDir = dir
	})
}

func (a *App) updateParams(mutate func(*recorder.Params, *config.Config)) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := a.rec.Params()
	mutate(&p, a.cfg)
	if err := a.rec.SetParams(p); err != nil {
		return err
	}
	if err := a.cfg.Save(); err != nil {
		a.log.Warn().Err(err).Msg("Failed to save config")
	}
	return nil
}

// Devices exposes input device enumeration to the presentation layer.
func (a *App) Devices() ([]audio.Device, error) {
	return a.engine.Devices()
}

// Levels exposes the display level queue. The core does not depend on the
// consumer draining it.
func (a *App) Levels() *audio.LevelQueue {
	return a.engine.Levels()
}

// Stats exposes the capture overflow counters.
func (a *App) Stats() audio.CaptureStats {
	return a.engine.Stats()
}

// Recorder exposes the recorder snapshot for display.
func (a *App) Recorder() recorder.Snapshot {
	return a.rec.Snapshot()
}

// Shutdown stops the recorder (persisting in-flight audio) and closes the
// stream.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopRecordingLocked()
	err := a.engine.Close()
	a.streaming = false
	return err
}
