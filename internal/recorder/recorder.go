package recorder

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/quietfold/autosampler/internal/audio"
)

// pollTimeout bounds how long the loop blocks on the block queue, which in
// turn bounds Stop() latency.
const pollTimeout = 100 * time.Millisecond

// validate is the shared validator instance for recorder parameters.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
}

// State is the recorder's lifecycle state.
type State int32

const (
	// StateIdle means the polling loop is not running.
	StateIdle State = iota
	// StateWaiting means the loop is running and watching for a trigger.
	StateWaiting
	// StateActive means a segment is being accumulated.
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// EventKind tags the variant carried by an Event.
type EventKind int

const (
	// EventStatus carries a human-readable status message.
	EventStatus EventKind = iota
	// EventSaved carries the path of a persisted segment.
	EventSaved
	// EventError carries a non-fatal error message.
	EventError
)

// Event is the tagged variant delivered to the controlling layer. Exactly
// one payload field is meaningful per kind: Message for EventStatus and
// EventError, Path for EventSaved.
type Event struct {
	Kind    EventKind
	Message string
	Path    string
}

// EventFunc receives recorder events. It is called synchronously from the
// recorder goroutine, so delivery order matches occurrence order.
type EventFunc func(Event)

// Params are the live-tunable recorder settings. They are snapshotted once
// per loop iteration, so a change takes effect on the next block and never
// mid-decision.
type Params struct {
	Threshold      float64       `validate:"gt=0,lte=1"`
	SilenceTimeout time.Duration `validate:"gt=0"`
	OutputDir      string        `validate:"required"`
}

// Validate checks the parameter ranges.
func (p Params) Validate() error {
	if err := validate.Struct(p); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			return fmt.Errorf("invalid recorder params: %s: %w", verrs[0].Namespace(), err)
		}
		return err
	}
	return nil
}

// Segment is one contiguous recorded event, from trigger to the end of its
// silence timeout (or manual stop), plus the sample rate in effect when
// collection began.
type Segment struct {
	Blocks     []audio.Block
	SampleRate int
}

// Empty reports whether the segment holds no blocks.
func (s Segment) Empty() bool { return len(s.Blocks) == 0 }

// Frames returns the total frame count across all blocks.
func (s Segment) Frames() int {
	n := 0
	for _, b := range s.Blocks {
		n += b.Frames()
	}
	return n
}

// WriteFunc persists a finished segment to the given directory and returns
// the written path, or "" for an empty segment.
type WriteFunc func(seg Segment, dir string) (string, error)

// Snapshot is a point-in-time view of the recorder for diagnostics and the
// presentation layer.
type Snapshot struct {
	State         State
	SegmentBlocks int
	SegmentFrames int
}

// Recorder consumes the audio block queue and drives the threshold/silence
// state machine. It is the only consumer of the queue.
type Recorder struct {
	log    zerolog.Logger
	blocks *audio.BlockQueue
	emit   EventFunc
	write  WriteFunc
	rate   func() int

	params atomic.Pointer[Params]

	state         atomic.Int32
	segmentBlocks atomic.Int64
	segmentFrames atomic.Int64

	mu       sync.Mutex
	running  bool
	stopping atomic.Bool
	done     chan struct{}

	// now is swappable so boundary behavior is testable.
	now func() time.Time
}

// New creates a recorder reading from blocks. rate reports the sample rate
// of the stream feeding the queue; write persists finished segments.
func New(log zerolog.Logger, blocks *audio.BlockQueue, rate func() int, write WriteFunc, emit EventFunc, params Params) (*Recorder, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	r := &Recorder{
		log:    log,
		blocks: blocks,
		emit:   emit,
		write:  write,
		rate:   rate,
		now:    time.Now,
	}
	r.params.Store(&params)
	r.state.Store(int32(StateIdle))
	return r, nil
}

// SetParams swaps the live parameters. The change is picked up at the start
// of the next loop iteration.
func (r *Recorder) SetParams(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.params.Store(&p)
	return nil
}

// Params returns the current parameters.
func (r *Recorder) Params() Params { return *r.params.Load() }

// State returns the current lifecycle state.
func (r *Recorder) State() State { return State(r.state.Load()) }

// Snapshot returns the state plus the size of the in-progress segment.
func (r *Recorder) Snapshot() Snapshot {
	return Snapshot{
		State:         r.State(),
		SegmentBlocks: int(r.segmentBlocks.Load()),
		SegmentFrames: int(r.segmentFrames.Load()),
	}
}

// Start spawns the polling loop. No-op if already running.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.stopping.Store(false)
	r.done = make(chan struct{})
	r.state.Store(int32(StateWaiting))
	r.log.Info().Msg("Recorder started")
	// Emit before the loop spawns so "started" precedes the loop's own
	// events.
	r.sendEvent(Event{Kind: EventStatus, Message: "Recording started"})
	go r.loop(r.done)
}

// Stop signals the loop to exit after its current iteration and waits for
// it. An in-progress segment is persisted before the recorder goes idle, so
// a manual stop never discards audio. No-op if not running.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.stopping.Store(true)
	<-r.done
	r.running = false
	r.state.Store(int32(StateIdle))
	r.log.Info().Msg("Recorder stopped")
	r.sendEvent(Event{Kind: EventStatus, Message: "Recording stopped"})
}

func (r *Recorder) loop(done chan struct{}) {
	defer close(done)

	var seg Segment
	var silenceStart time.Time
	inSilence := false

	r.sendEvent(Event{Kind: EventStatus, Message: "Waiting for sound..."})

	for !r.stopping.Load() {
		// Snapshot params once per iteration; tuning is live but never
		// changes a decision mid-block.
		p := *r.params.Load()

		blk, ok := r.blocks.Pop(pollTimeout)
		if !ok {
			continue
		}
		peak := audio.Peak(blk.Samples)

		if r.State() != StateActive {
			// Trigger requires strictly greater: a level exactly at
			// threshold is treated as sound already present, not a
			// trigger.
			if peak > p.Threshold {
				seg = Segment{Blocks: []audio.Block{blk}, SampleRate: r.rate()}
				inSilence = false
				r.setSegment(seg)
				r.state.Store(int32(StateActive))
				r.log.Debug().Float64("level", peak).Msg("Recording triggered")
				r.sendEvent(Event{Kind: EventStatus, Message: "Recording..."})
			}
			continue
		}

		seg.Blocks = append(seg.Blocks, blk)
		r.setSegment(seg)

		// Silence requires strictly less: exactly at threshold still
		// counts as sound and resets the timer.
		if peak < p.Threshold {
			if !inSilence {
				inSilence = true
				silenceStart = r.now()
			} else if r.now().Sub(silenceStart) >= p.SilenceTimeout {
				r.persist(seg, p.OutputDir)
				seg = Segment{}
				inSilence = false
				r.setSegment(seg)
				r.state.Store(int32(StateWaiting))
				r.sendEvent(Event{Kind: EventStatus, Message: "Waiting for sound..."})
			}
		} else {
			// An interrupted silence run is discarded entirely; the
			// next one restarts the timeout from zero.
			inSilence = false
		}
	}

	// Manual stop with a segment in progress: persist before going idle.
	if r.State() == StateActive && !seg.Empty() {
		p := *r.params.Load()
		r.persist(seg, p.OutputDir)
		r.setSegment(Segment{})
	}
}

// persist hands the segment to the writer. Failures are reported upward and
// never crash the loop; the segment is discarded either way since retrying
// a persistent I/O failure would just repeat it.
func (r *Recorder) persist(seg Segment, dir string) {
	path, err := r.write(seg, dir)
	if err != nil {
		r.log.Error().Err(err).Msg("Failed to save recording")
		r.sendEvent(Event{Kind: EventError, Message: err.Error()})
		return
	}
	if path == "" {
		return
	}
	r.log.Info().Str("path", path).Int("frames", seg.Frames()).Msg("Recording saved")
	r.sendEvent(Event{Kind: EventSaved, Path: path})
}

func (r *Recorder) setSegment(seg Segment) {
	r.segmentBlocks.Store(int64(len(seg.Blocks)))
	r.segmentFrames.Store(int64(seg.Frames()))
}

func (r *Recorder) sendEvent(ev Event) {
	if r.emit != nil {
		r.emit(ev)
	}
}
