package pose

import (
	"log/slog"
	"sync"
)

// base implements the lock-copy-iterate publish contract shared by every
// Source variant: listeners are snapshotted under a lock then invoked
// lock-free; a listener that panics is removed. The first listener
// triggers start() inside the lock so start/stop calls are strictly
// sequential.
//
// A variant embeds base, supplies startFn/stopFn at construction, and
// calls publish(pose) whenever it has a new sample to deliver.
type base struct {
	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
	started   bool
	last      Pose
	haveLast  bool

	startFn func()
	stopFn  func()

	logger *slog.Logger
}

func newBase(startFn, stopFn func(), logger *slog.Logger) base {
	if startFn == nil {
		startFn = func() {}
	}
	if stopFn == nil {
		stopFn = func() {}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return base{
		listeners: make(map[int]Listener),
		startFn:   startFn,
		stopFn:    stopFn,
		logger:    logger.With(slog.String("component", "pose")),
	}
}

// Register starts acquisition on the first listener and returns an
// idempotent unregister function.
func (b *base) Register(l Listener) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = l
	first := len(b.listeners) == 1
	if first {
		b.started = true
		b.startFn()
	}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unregister(id) })
	}
}

// unregister stops acquisition when the last listener leaves.
func (b *base) unregister(id int) {
	b.mu.Lock()
	delete(b.listeners, id)
	last := len(b.listeners) == 0 && b.started
	if last {
		b.started = false
	}
	b.mu.Unlock()

	if last {
		b.stopFn()
	}
}

// Snapshot returns the most recently published pose.
func (b *base) Snapshot() (Pose, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, b.haveLast
}

// publish delivers p to every currently registered listener. Listeners
// are snapshotted under the lock and invoked lock-free, in whatever
// iteration order the runtime map gives: delivery order across
// listeners is not guaranteed, only that publish itself does not hold
// the lock during listener invocation. A listener that panics is
// removed and the panic is logged rather than propagated.
func (b *base) publish(p Pose) {
	b.mu.Lock()
	b.last = p
	b.haveLast = true
	snapshot := make(map[int]Listener, len(b.listeners))
	for id, l := range b.listeners {
		snapshot[id] = l
	}
	b.mu.Unlock()

	for id, l := range snapshot {
		b.invoke(id, l, p)
	}
}

func (b *base) invoke(id int, l Listener, p Pose) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("pose listener panicked, removing", slog.Any("panic", r))
			b.unregister(id)
		}
	}()
	l(p)
}
