// Package store persists finished recording segments as 32-bit float PCM
// WAV files.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-audio/wav"

	"github.com/quietfold/autosampler/internal/recorder"
)

// wavFormatIEEEFloat is the WAV audio format tag for IEEE float samples.
const wavFormatIEEEFloat = 3

// SaveError reports an I/O failure while persisting a segment. It is
// surfaced to the controlling layer and never retried automatically.
type SaveError struct {
	Path string
	Err  error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("store: save %q: %v", e.Path, e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }

// timestamp is swappable for tests.
var timestamp = func() string {
	return time.Now().Format("20060102_150405")
}

// WriteSegment reconciles the segment's blocks to a uniform channel count
// and writes them, in order, to recording_<timestamp>.wav under dir,
// creating the directory if needed. An empty segment is a no-op and returns
// ("", nil).
func WriteSegment(seg recorder.Segment, dir string) (string, error) {
	if seg.Empty() {
		return "", nil
	}

	// The first block fixes the target channel count; later blocks with a
	// different count come from a live channel-map change mid-segment and
	// are normalized instead of corrupting the file.
	channels := seg.Blocks[0].Channels
	samples := reconcile(seg, channels)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", &SaveError{Path: dir, Err: err}
	}

	path := filepath.Join(dir, fmt.Sprintf("recording_%s.wav", timestamp()))
	f, err := os.Create(path)
	if err != nil {
		return "", &SaveError{Path: path, Err: err}
	}

	enc := wav.NewEncoder(f, seg.SampleRate, 32, channels, wavFormatIEEEFloat)
	for _, s := range samples {
		if err := enc.WriteFrame(s); err != nil {
			enc.Close()
			f.Close()
			return "", &SaveError{Path: path, Err: err}
		}
	}
	// Close patches the header sizes; skipping it leaves an invalid file.
	if err := enc.Close(); err != nil {
		f.Close()
		return "", &SaveError{Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return "", &SaveError{Path: path, Err: err}
	}

	return path, nil
}

// reconcile concatenates the segment's blocks along the time axis after
// normalizing each to the target channel count: a mono block against a
// stereo target duplicates its channel, a stereo block against a mono
// target keeps only its first channel.
func reconcile(seg recorder.Segment, channels int) []float32 {
	total := 0
	for _, b := range seg.Blocks {
		total += b.Frames() * channels
	}

	out := make([]float32, 0, total)
	for _, b := range seg.Blocks {
		if b.Channels == channels {
			out = append(out, b.Samples...)
			continue
		}
		frames := b.Frames()
		for f := 0; f < frames; f++ {
			for ch := 0; ch < channels; ch++ {
				src := ch
				if src >= b.Channels {
					src = b.Channels - 1
				}
				out = append(out, b.Samples[f*b.Channels+src])
			}
		}
	}
	return out
}
