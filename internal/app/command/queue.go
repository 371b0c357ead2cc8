package command

import (
	"context"
	"sync"
	"sync/atomic"
)

// Executor runs one command against the engine.
type Executor func(ctx context.Context, cmd Command)

// Queue buffers commands until the engine is ready and then feeds them to
// a single consumer in arrival order. Each accepted command is either
// executed exactly once or dropped on teardown, never both.
type Queue struct {
	mu      sync.Mutex
	buf     []Command
	ready   bool
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
	dropped atomic.Uint64
	now     func() int64
}

// NewQueue creates a queue in the buffering state.
// now stamps EnqueuedAtMS on submitted commands.
func NewQueue(now func() int64) *Queue {
	return &Queue{
		wake: make(chan struct{}, 1),
		now:  now,
	}
}

// Submit appends cmd without blocking. It returns false when the queue
// has been torn down and cmd was dropped.
func (q *Queue) Submit(cmd Command) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.dropped.Add(1)
		return false
	}
	if q.now != nil {
		cmd.EnqueuedAtMS = q.now()
	}
	q.buf = append(q.buf, cmd)
	ready := q.ready
	q.mu.Unlock()

	if ready {
		q.signal()
	}
	return true
}

// OnReady starts the consumer. Buffered commands run first, in order,
// followed by later submissions. Calls after the first, or after
// teardown, do nothing.
func (q *Queue) OnReady(ctx context.Context, exec Executor) {
	q.mu.Lock()
	if q.ready || q.closed {
		q.mu.Unlock()
		return
	}
	q.ready = true
	ctx, q.cancel = context.WithCancel(ctx)
	q.done = make(chan struct{})
	done := q.done
	q.mu.Unlock()

	go q.run(ctx, exec, done)
}

func (q *Queue) run(ctx context.Context, exec Executor, done chan struct{}) {
	defer close(done)
	for {
		cmd, ok, closed := q.pop()
		if closed {
			return
		}
		if ok {
			exec(ctx, cmd)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}
	}
}

func (q *Queue) pop() (Command, bool, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return Command{}, false, true
	}
	if len(q.buf) == 0 {
		return Command{}, false, false
	}
	cmd := q.buf[0]
	q.buf[0] = Command{}
	q.buf = q.buf[1:]
	return cmd, true, false
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// OnTeardown discards every buffered command and stops the consumer once
// the command in flight, if any, returns. Later submissions are dropped.
// It returns the discarded commands; only the first call discards.
func (q *Queue) OnTeardown() []Command {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	dropped := q.buf
	q.buf = nil
	cancel := q.cancel
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.signal()
	q.dropped.Add(uint64(len(dropped)))
	return dropped
}

// Done is closed when the consumer has exited. It is nil before OnReady.
func (q *Queue) Done() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.done
}

// Pending returns the number of buffered commands.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Dropped returns the number of commands discarded so far.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// IsReady reports whether the consumer has been started.
func (q *Queue) IsReady() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready && !q.closed
}

// IsClosed reports whether the queue has been torn down.
func (q *Queue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
