package playback

import (
	"iter"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/osa030/nowplaying/internal/domain/playlist"
	"github.com/osa030/nowplaying/internal/domain/track"
)

// Move describes what a navigation call did to the cursor.
type Move int

const (
	MoveNone     Move = iota // Queue is empty
	MoveStep                 // Cursor moved to the neighbour
	MoveWrap                 // Cursor wrapped around (repeat all)
	MoveRepeat               // Cursor stayed on the same item to replay it (repeat one)
	MoveBoundary             // At the boundary with no wrap, cursor unchanged
)

// String returns the string representation of the move.
func (m Move) String() string {
	switch m {
	case MoveNone:
		return "none"
	case MoveStep:
		return "step"
	case MoveWrap:
		return "wrap"
	case MoveRepeat:
		return "repeat"
	case MoveBoundary:
		return "boundary"
	default:
		return "unknown"
	}
}

// Moved reports whether a track should be (re)started.
func (m Move) Moved() bool {
	return m == MoveStep || m == MoveWrap || m == MoveRepeat
}

// ShuffleFunc permutes n elements through swap.
type ShuffleFunc func(n int, swap func(i, j int))

// QueueManager owns the playback queue and its navigation rules.
// Reads are safe from any goroutine; mutations are expected from a
// single command executor.
type QueueManager struct {
	mu      sync.RWMutex
	queue   playlist.Queue
	order   []int // order[i] is the pre-shuffle position of queue.Items[i]
	shuffle ShuffleFunc
}

// NewQueueManager creates an empty queue manager.
// A nil shuffle uses math/rand/v2.
func NewQueueManager(shuffle ShuffleFunc) *QueueManager {
	if shuffle == nil {
		shuffle = rand.Shuffle
	}
	return &QueueManager{
		queue:   playlist.Empty(),
		shuffle: shuffle,
	}
}

// Play replaces the queue with a single track.
func (m *QueueManager) Play(t track.Track) track.Track {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queue.Items = []track.Track{t}
	m.queue.CurrentIndex = 0
	m.order = []int{0}
	return t
}

// PlayList replaces the queue with items and moves the cursor to
// startIndex clamped into range. It returns false when items is empty.
func (m *QueueManager) PlayList(items []track.Track, startIndex int) (track.Track, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(items) == 0 {
		m.queue.Items = nil
		m.queue.CurrentIndex = playlist.NoIndex
		m.order = nil
		return track.Track{}, false
	}

	m.queue.Items = slices.Clone(items)
	m.queue.CurrentIndex = clampIndex(startIndex, len(items))
	m.order = identity(len(items))
	if m.queue.Shuffle {
		m.shuffleUpcomingLocked()
	}
	return m.queue.Items[m.queue.CurrentIndex], true
}

// SkipNext moves the cursor forward. Repeat all wraps to the first item;
// otherwise the last item is a boundary.
func (m *QueueManager) SkipNext() (track.Track, Move) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stepLocked(+1)
}

// SkipPrevious moves the cursor backward. Repeat all wraps to the last
// item; otherwise the first item is a boundary.
func (m *QueueManager) SkipPrevious() (track.Track, Move) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stepLocked(-1)
}

// Advance applies the natural end-of-track rule: repeat one replays the
// current item, everything else behaves like SkipNext.
func (m *QueueManager) Advance() (track.Track, Move) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.queue.IsEmpty() {
		return track.Track{}, MoveNone
	}
	if m.queue.Repeat == playlist.RepeatOne {
		return m.queue.Items[m.queue.CurrentIndex], MoveRepeat
	}
	return m.stepLocked(+1)
}

func (m *QueueManager) stepLocked(delta int) (track.Track, Move) {
	n := len(m.queue.Items)
	if n == 0 {
		return track.Track{}, MoveNone
	}

	next := m.queue.CurrentIndex + delta
	move := MoveStep
	if next < 0 || next >= n {
		if m.queue.Repeat != playlist.RepeatAll {
			return m.queue.Items[m.queue.CurrentIndex], MoveBoundary
		}
		next = (next + n) % n
		move = MoveWrap
	}
	m.queue.CurrentIndex = next
	return m.queue.Items[next], move
}

// SetRepeat changes the repeat mode.
func (m *QueueManager) SetRepeat(mode playlist.RepeatMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue.Repeat = mode
}

// SetShuffle enables or disables shuffle. Enabling permutes the items
// after the cursor; disabling restores the original order and keeps the
// cursor on the same item.
func (m *QueueManager) SetShuffle(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.queue.Shuffle == enabled {
		return
	}
	m.queue.Shuffle = enabled
	if m.queue.IsEmpty() {
		return
	}
	if enabled {
		m.shuffleUpcomingLocked()
		return
	}
	m.restoreOrderLocked()
}

func (m *QueueManager) shuffleUpcomingLocked() {
	start := m.queue.CurrentIndex + 1
	rest := m.queue.Items[start:]
	restOrder := m.order[start:]
	m.shuffle(len(rest), func(i, j int) {
		rest[i], rest[j] = rest[j], rest[i]
		restOrder[i], restOrder[j] = restOrder[j], restOrder[i]
	})
}

func (m *QueueManager) restoreOrderLocked() {
	restored := make([]track.Track, len(m.queue.Items))
	for i, pos := range m.order {
		restored[pos] = m.queue.Items[i]
	}
	m.queue.CurrentIndex = m.order[m.queue.CurrentIndex]
	m.queue.Items = restored
	m.order = identity(len(restored))
}

// Current returns the track at the cursor.
func (m *QueueManager) Current() (track.Track, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queue.Current()
}

// Snapshot returns a deep copy of the queue.
func (m *QueueManager) Snapshot() playlist.Queue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queue.Clone()
}

// Upcoming returns the items after the cursor at call time.
func (m *QueueManager) Upcoming() iter.Seq[track.Track] {
	return m.Snapshot().Upcoming()
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
