package audio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
)

const (
	// framesPerBuffer fixes the hardware block size so callback-side
	// buffers can be preallocated. ~23ms at 44.1kHz.
	framesPerBuffer = 1024

	blockQueueCap = 64
	levelQueueCap = 256
)

var errNoInputChannels = errors.New("device has no input channels")

// CaptureEngine is the PortAudio-backed Engine. One engine owns at most one
// open stream at a time; Open replaces the previous stream only after it
// has fully stopped, so two callbacks never share the mapping buffers.
type CaptureEngine struct {
	log zerolog.Logger

	blocks *BlockQueue
	levels *LevelQueue

	monitoring atomic.Bool
	statuses   atomic.Uint64
	sampleRate atomic.Int64

	mu       sync.Mutex
	stream   *portaudio.Stream
	streamID uuid.UUID
}

// New initializes PortAudio and creates the capture engine. The two bounded
// queues live for the lifetime of the engine so consumers keep a stable
// reference across reconfigurations.
func New(log zerolog.Logger) (*CaptureEngine, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, &DeviceError{Op: "initialize", Err: err}
	}
	return &CaptureEngine{
		log:    log,
		blocks: NewBlockQueue(blockQueueCap),
		levels: NewLevelQueue(levelQueueCap),
	}, nil
}

// Devices lists the available input devices. The index is the device's
// position in the host's full device table and is what StreamConfig expects.
func (e *CaptureEngine) Devices() ([]Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, &DeviceError{Op: "enumerate", Err: err}
	}
	defaultDevice, _ := portaudio.DefaultInputDevice()

	result := make([]Device, 0, len(devices))
	for i, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, Device{
				Index:             i,
				Name:              d.Name,
				MaxInputChannels:  d.MaxInputChannels,
				DefaultSampleRate: int(d.DefaultSampleRate),
				Default:           d == defaultDevice,
			})
		}
	}
	return result, nil
}

// Open starts a capture stream for cfg, replacing any previously open
// stream. When a default output device exists the stream is opened duplex
// so monitoring can be toggled live; otherwise it is input only and the
// monitor flag has no effect.
func (e *CaptureEngine) Open(cfg StreamConfig, monitor bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	// The previous callback must be guaranteed dead before new mapping
	// state is built.
	if err := e.closeLocked(); err != nil {
		return err
	}

	dev, err := e.inputDevice(cfg.DeviceIndex)
	if err != nil {
		return err
	}

	chmap := cfg.ChannelMap
	if len(chmap) == 0 {
		n := cfg.Channels
		if n <= 0 {
			n = 1
		}
		if n > dev.MaxInputChannels {
			n = dev.MaxInputChannels
		}
		chmap = make([]int, n)
		for i := range chmap {
			chmap[i] = i
		}
	}
	clamped := make([]int, len(chmap))
	for i, ch := range chmap {
		clamped[i] = clampChannel(ch, dev.MaxInputChannels)
	}

	// Request device channels up to the highest mapped index; the callback
	// extracts only the mapped ones.
	inChannels := 1
	for _, ch := range clamped {
		if ch+1 > inChannels {
			inChannels = ch + 1
		}
	}

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = int(dev.DefaultSampleRate)
	}

	outDev, outErr := portaudio.DefaultOutputDevice()
	outChannels := 0
	if outErr == nil && outDev != nil && outDev.MaxOutputChannels > 0 {
		outChannels = 2
		if outDev.MaxOutputChannels < 2 {
			outChannels = outDev.MaxOutputChannels
		}
	}

	e.monitoring.Store(monitor)
	core := newCallbackCore(clamped, inChannels, outChannels, framesPerBuffer,
		e.blocks, e.levels, &e.monitoring, &e.statuses)

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: inChannels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: framesPerBuffer,
	}

	var stream *portaudio.Stream
	if outChannels > 0 {
		params.Output = portaudio.StreamDeviceParameters{
			Device:   outDev,
			Channels: outChannels,
			Latency:  outDev.DefaultLowOutputLatency,
		}
		stream, err = portaudio.OpenStream(params, func(in, out []float32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
			core.process(in, out, uint64(flags))
		})
	} else {
		stream, err = portaudio.OpenStream(params, func(in []float32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
			core.process(in, nil, uint64(flags))
		})
	}
	if err != nil {
		return &DeviceError{Device: dev.Name, Op: "open", Err: err}
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return &DeviceError{Device: dev.Name, Op: "start", Err: err}
	}

	e.stream = stream
	e.streamID = uuid.New()
	e.sampleRate.Store(int64(sampleRate))

	e.log.Info().
		Str("stream", e.streamID.String()).
		Str("device", dev.Name).
		Int("sample_rate", sampleRate).
		Ints("channel_map", clamped).
		Int("device_channels", inChannels).
		Int("monitor_channels", outChannels).
		Bool("monitor", monitor).
		Msg("Stream started")

	return nil
}

func (e *CaptureEngine) inputDevice(index int) (*portaudio.DeviceInfo, error) {
	if index < 0 {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, &DeviceError{Op: "open", Err: err}
		}
		return dev, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, &DeviceError{Op: "enumerate", Err: err}
	}
	if index >= len(devices) {
		return nil, &DeviceError{Op: "open", Err: fmt.Errorf("device index %d out of range", index)}
	}
	dev := devices[index]
	if dev.MaxInputChannels == 0 {
		return nil, &DeviceError{Device: dev.Name, Op: "open", Err: errNoInputChannels}
	}
	return dev, nil
}

// Close stops and releases the current stream. Idempotent; it blocks until
// the hardware resources are released and the callback can no longer fire.
func (e *CaptureEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeLocked()
}

func (e *CaptureEngine) closeLocked() error {
	if e.stream == nil {
		return nil
	}
	stream := e.stream
	e.stream = nil

	stopErr := stream.Stop()
	closeErr := stream.Close()
	e.log.Debug().Str("stream", e.streamID.String()).Msg("Stream closed")
	if stopErr != nil {
		return &DeviceError{Op: "stop", Err: stopErr}
	}
	if closeErr != nil {
		return &DeviceError{Op: "close", Err: closeErr}
	}
	return nil
}

// SetMonitoring toggles live passthrough to the output buffer. Safe from
// any goroutine without stopping the stream.
func (e *CaptureEngine) SetMonitoring(enabled bool) {
	e.monitoring.Store(enabled)
}

func (e *CaptureEngine) Monitoring() bool { return e.monitoring.Load() }

// SampleRate returns the rate of the currently (or most recently) open
// stream.
func (e *CaptureEngine) SampleRate() int { return int(e.sampleRate.Load()) }

func (e *CaptureEngine) Blocks() *BlockQueue { return e.blocks }

func (e *CaptureEngine) Levels() *LevelQueue { return e.levels }

// Stats snapshots the overflow counters for diagnostics.
func (e *CaptureEngine) Stats() CaptureStats {
	return CaptureStats{
		DroppedBlocks:    e.blocks.Dropped(),
		DroppedLevels:    e.levels.Dropped(),
		CallbackStatuses: e.statuses.Load(),
	}
}

// Shutdown closes the stream and terminates PortAudio.
func (e *CaptureEngine) Shutdown() error {
	err := e.Close()
	portaudio.Terminate()
	return err
}
