package audio

import "fmt"

// Engine defines the interface for the capture side of the sampler: device
// enumeration, stream lifecycle, monitor passthrough, and the two bounded
// queues fed by the real-time callback.
type Engine interface {
	Devices() ([]Device, error)
	Open(cfg StreamConfig, monitor bool) error
	Close() error
	SetMonitoring(enabled bool)
	Monitoring() bool
	SampleRate() int
	Blocks() *BlockQueue
	Levels() *LevelQueue
	Stats() CaptureStats
	Shutdown() error
}

// Device represents an audio input device
type Device struct {
	Index             int
	Name              string
	MaxInputChannels  int
	DefaultSampleRate int
	Default           bool
}

// StreamConfig describes one capture stream. It is replaced wholesale on
// reconfiguration, never mutated while a stream is running.
type StreamConfig struct {
	DeviceIndex int
	SampleRate  int
	// ChannelMap lists the source channel indices to capture, in order.
	// Empty means the first Channels device channels, unmapped.
	ChannelMap []int
	Channels   int
}

// Block is one fixed-size chunk of interleaved float32 samples as delivered
// by one callback invocation, tagged with the channel count it was produced
// with. Immutable once produced.
type Block struct {
	Samples  []float32
	Channels int
}

// Frames returns the number of sample frames in the block.
func (b Block) Frames() int {
	if b.Channels == 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// CaptureStats is a snapshot of the engine's overflow counters. All values
// are monotonic for the lifetime of the engine.
type CaptureStats struct {
	DroppedBlocks    uint64
	DroppedLevels    uint64
	CallbackStatuses uint64
}

// DeviceError reports a stream open or close failure. The stream remains
// closed; callers decide whether to retry.
type DeviceError struct {
	Device string
	Op     string
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Device != "" {
		return fmt.Sprintf("audio: %s %q: %v", e.Op, e.Device, e.Err)
	}
	return fmt.Sprintf("audio: %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }
