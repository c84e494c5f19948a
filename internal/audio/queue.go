package audio

import (
	"sync/atomic"
	"time"
)

// BlockQueue is a bounded single-producer/single-consumer queue of audio
// blocks. The producer side never blocks: a push against a full queue drops
// the block and bumps a counter instead, because the producer is the
// real-time audio callback.
type BlockQueue struct {
	ch      chan Block
	dropped atomic.Uint64
}

// NewBlockQueue creates a queue with the given capacity. The backing
// storage is allocated once, up front.
func NewBlockQueue(capacity int) *BlockQueue {
	return &BlockQueue{ch: make(chan Block, capacity)}
}

// TryPush enqueues b without blocking. It reports false when the queue was
// full and the block was dropped.
func (q *BlockQueue) TryPush(b Block) bool {
	select {
	case q.ch <- b:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Pop dequeues the next block, waiting at most timeout. ok is false on
// timeout; that is expected control flow, not an error.
func (q *BlockQueue) Pop(timeout time.Duration) (Block, bool) {
	select {
	case b := <-q.ch:
		return b, true
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case b := <-q.ch:
		return b, true
	case <-t.C:
		return Block{}, false
	}
}

// Len returns the number of blocks currently queued.
func (q *BlockQueue) Len() int { return len(q.ch) }

// Dropped returns the number of blocks dropped on push. Monotonic.
func (q *BlockQueue) Dropped() uint64 { return q.dropped.Load() }

// LevelQueue is the bounded queue of display level samples, same contract
// as BlockQueue but consumed by the presentation layer at its own pace.
type LevelQueue struct {
	ch      chan float64
	dropped atomic.Uint64
}

func NewLevelQueue(capacity int) *LevelQueue {
	return &LevelQueue{ch: make(chan float64, capacity)}
}

// TryPush enqueues v without blocking, dropping it when the queue is full.
func (q *LevelQueue) TryPush(v float64) bool {
	select {
	case q.ch <- v:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// C exposes the receive side for the display consumer.
func (q *LevelQueue) C() <-chan float64 { return q.ch }

// Dropped returns the number of levels dropped on push. Monotonic.
func (q *LevelQueue) Dropped() uint64 { return q.dropped.Load() }
