package store

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/quietfold/autosampler/internal/audio"
	"github.com/quietfold/autosampler/internal/recorder"
)

func monoBlock(values ...float32) audio.Block {
	return audio.Block{Samples: values, Channels: 1}
}

func stereoBlock(values ...float32) audio.Block {
	return audio.Block{Samples: values, Channels: 2}
}

// readFloatWAV decodes a 32-bit float WAV back into interleaved samples.
// The decoder reads 32-bit samples into an IntBuffer as their raw
// little-endian bit patterns, so reinterpreting each entry recovers the
// float exactly.
func readFloatWAV(t *testing.T, path string) (samples []float32, channels, rate int) {
	t.Helper()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		t.Fatalf("%s is not a valid WAV file", path)
	}
	if d.WavAudioFormat != wavFormatIEEEFloat {
		t.Fatalf("audio format = %d, want %d (IEEE float)", d.WavAudioFormat, wavFormatIEEEFloat)
	}
	if d.BitDepth != 32 {
		t.Fatalf("bit depth = %d, want 32", d.BitDepth)
	}

	var buf *goaudio.IntBuffer
	buf, err = d.FullPCMBuffer()
	if err != nil {
		t.Fatalf("FullPCMBuffer: %v", err)
	}

	samples = make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = math.Float32frombits(uint32(int32(v)))
	}
	return samples, buf.Format.NumChannels, buf.Format.SampleRate
}

func TestWriteSegmentEmptyIsNoOp(t *testing.T) {
	dir := t.TempDir()

	path, err := WriteSegment(recorder.Segment{SampleRate: 44100}, dir)
	if err != nil {
		t.Fatalf("WriteSegment: %v", err)
	}
	if path != "" {
		t.Fatalf("path = %q, want empty for empty segment", path)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("output dir has %d entries, want 0", len(entries))
	}
}

func TestWriteSegmentMonoRoundTrip(t *testing.T) {
	dir := t.TempDir()

	// 3 mono blocks of 4 frames each.
	seg := recorder.Segment{
		SampleRate: 48000,
		Blocks: []audio.Block{
			monoBlock(0.1, 0.2, 0.3, 0.4),
			monoBlock(-0.1, -0.2, -0.3, -0.4),
			monoBlock(0.5, 0.6, 0.7, 0.8),
		},
	}

	path, err := WriteSegment(seg, dir)
	if err != nil {
		t.Fatalf("WriteSegment: %v", err)
	}

	samples, channels, rate := readFloatWAV(t, path)
	if channels != 1 {
		t.Fatalf("channels = %d, want 1", channels)
	}
	if rate != 48000 {
		t.Fatalf("sample rate = %d, want 48000", rate)
	}
	if len(samples) != 12 {
		t.Fatalf("samples = %d, want 12 (3 blocks x 4 frames)", len(samples))
	}

	want := []float32{0.1, 0.2, 0.3, 0.4, -0.1, -0.2, -0.3, -0.4, 0.5, 0.6, 0.7, 0.8}
	for i, v := range want {
		if samples[i] != v {
			t.Fatalf("sample %d = %v, want %v", i, samples[i], v)
		}
	}
}

func TestWriteSegmentReconcilesMonoIntoStereo(t *testing.T) {
	dir := t.TempDir()

	// Stereo target (first block), with a mono block mixed in mid-segment.
	seg := recorder.Segment{
		SampleRate: 44100,
		Blocks: []audio.Block{
			stereoBlock(0.1, 0.2, 0.3, 0.4),
			monoBlock(0.5, 0.6),
			stereoBlock(0.7, 0.8),
		},
	}

	path, err := WriteSegment(seg, dir)
	if err != nil {
		t.Fatalf("WriteSegment: %v", err)
	}

	samples, channels, _ := readFloatWAV(t, path)
	if channels != 2 {
		t.Fatalf("channels = %d, want 2", channels)
	}
	if len(samples) != 10 {
		t.Fatalf("samples = %d, want 10 (5 stereo frames)", len(samples))
	}

	// Mono-origin frames are duplicated equally into both channels.
	want := []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.5, 0.6, 0.6, 0.7, 0.8}
	for i, v := range want {
		if samples[i] != v {
			t.Fatalf("sample %d = %v, want %v", i, samples[i], v)
		}
	}
	if samples[4] != samples[5] || samples[6] != samples[7] {
		t.Fatal("mono-origin frames must have left == right")
	}
}

func TestWriteSegmentReconcilesStereoIntoMono(t *testing.T) {
	dir := t.TempDir()

	seg := recorder.Segment{
		SampleRate: 44100,
		Blocks: []audio.Block{
			monoBlock(0.1, 0.2),
			stereoBlock(0.3, 0.9, 0.4, 0.9),
		},
	}

	path, err := WriteSegment(seg, dir)
	if err != nil {
		t.Fatalf("WriteSegment: %v", err)
	}

	samples, channels, _ := readFloatWAV(t, path)
	if channels != 1 {
		t.Fatalf("channels = %d, want 1", channels)
	}

	// Stereo blocks against a mono target keep only their first channel.
	want := []float32{0.1, 0.2, 0.3, 0.4}
	if len(samples) != len(want) {
		t.Fatalf("samples = %d, want %d", len(samples), len(want))
	}
	for i, v := range want {
		if samples[i] != v {
			t.Fatalf("sample %d = %v, want %v", i, samples[i], v)
		}
	}
}

func TestWriteSegmentFilename(t *testing.T) {
	dir := t.TempDir()

	orig := timestamp
	timestamp = func() string { return "20250101_120000" }
	defer func() { timestamp = orig }()

	seg := recorder.Segment{SampleRate: 44100, Blocks: []audio.Block{monoBlock(0.1)}}
	path, err := WriteSegment(seg, dir)
	if err != nil {
		t.Fatalf("WriteSegment: %v", err)
	}
	if filepath.Base(path) != "recording_20250101_120000.wav" {
		t.Fatalf("filename = %s, want recording_20250101_120000.wav", filepath.Base(path))
	}
}

func TestWriteSegmentCreatesOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "recordings")

	seg := recorder.Segment{SampleRate: 44100, Blocks: []audio.Block{monoBlock(0.1)}}
	path, err := WriteSegment(seg, dir)
	if err != nil {
		t.Fatalf("WriteSegment: %v", err)
	}
	if !strings.HasPrefix(path, dir) {
		t.Fatalf("path %s not under %s", path, dir)
	}
}

func TestWriteSegmentSaveError(t *testing.T) {
	// A file where the directory should be forces the MkdirAll failure.
	base := t.TempDir()
	blocked := filepath.Join(base, "blocked")
	if err := os.WriteFile(blocked, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	seg := recorder.Segment{SampleRate: 44100, Blocks: []audio.Block{monoBlock(0.1)}}
	_, err := WriteSegment(seg, filepath.Join(blocked, "recordings"))
	if err == nil {
		t.Fatal("expected a save error")
	}
	var saveErr *SaveError
	if !errors.As(err, &saveErr) {
		t.Fatalf("error type = %T, want *SaveError", err)
	}
}
