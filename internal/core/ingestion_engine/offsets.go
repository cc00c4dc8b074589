package ingestion_engine

import (
	"sync"

	"github.com/segmentio/kafka-go"
)

// offsetTracker turns per-event completions into a per-partition commit
// watermark. A consumer group stores a single committed offset per partition
// and committing a message implicitly commits everything before it, so with
// concurrent workers the only safe commit is the newest message whose whole
// offset prefix is terminally handled. An event that must be redelivered
// never reports Done and holds the watermark back until a restart replays it.
type offsetTracker struct {
	mu    sync.Mutex
	parts map[int]*partitionWindow
}

// partitionWindow holds one partition's in-flight offsets in fetch order and
// the completions that arrived ahead of the watermark.
type partitionWindow struct {
	pending []int64
	done    map[int64]kafka.Message
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{parts: make(map[int]*partitionWindow)}
}

// Track records a fetched message as in flight. Fetch order within a
// partition is ascending, which is what makes the prefix walk in Done valid
// even when offsets have gaps.
func (t *offsetTracker) Track(msg kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.parts[msg.Partition]
	if w == nil {
		w = &partitionWindow{done: make(map[int64]kafka.Message)}
		t.parts[msg.Partition] = w
	}
	w.pending = append(w.pending, msg.Offset)
}

// Done marks msg as terminally handled and reports the newest message of its
// partition whose whole prefix is handled. ok is false while an earlier
// offset is still in flight.
func (t *offsetTracker) Done(msg kafka.Message) (commit kafka.Message, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.parts[msg.Partition]
	if w == nil {
		return kafka.Message{}, false
	}
	w.done[msg.Offset] = msg
	for len(w.pending) > 0 {
		m, handled := w.done[w.pending[0]]
		if !handled {
			break
		}
		delete(w.done, w.pending[0])
		w.pending = w.pending[1:]
		commit, ok = m, true
	}
	return commit, ok
}
