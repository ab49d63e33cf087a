package audit

import (
	"context"
	"sync"

	"github.com/githubnext/gh-aw-core/pkg/logger"
)

var log = logger.New("store:audit")

// queueCapacity bounds the async writer's backlog before backpressure kicks
// in for low-priority entries. A high-priority entry (denial or failure) is
// never dropped: if the queue is at capacity and holds no low-priority entry
// to evict, the queue grows past queueCapacity rather than discard it.
const queueCapacity = 1024

// Writer is the async façade the dependency container hands to every other
// component: Enqueue never blocks the permission check that produced the
// entry. Under sustained overload it sheds load from the oldest
// low-priority (approved, successful) queued entries rather than blocking
// the caller, but never drops a denial or a failure outcome — those are
// exactly the rows a compliance review needs.
type Writer struct {
	store *Store

	mu     sync.Mutex
	queue  []Entry
	notify chan struct{}

	wg   sync.WaitGroup
	stop chan struct{}
}

// NewWriter starts the background drain goroutine for store.
func NewWriter(s *Store) *Writer {
	w := &Writer{
		store:  s,
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.drain()
	return w
}

// Enqueue submits an entry for asynchronous persistence. If the queue is at
// capacity, a low-priority entry (approved, successful) is evicted to admit
// a high-priority one; a low-priority entry arriving at capacity is itself
// dropped with a log warning. A high-priority entry is never evicted or
// discarded: when the queue holds no low-priority entry to make room, the
// new entry is still appended and the queue grows past queueCapacity.
func (w *Writer) Enqueue(e Entry) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.queue) < queueCapacity {
		w.queue = append(w.queue, e)
		w.signalLocked()
		return
	}

	if !isHighPriority(e) {
		log.Printf("audit queue full, dropped low-priority entry %s/%s", e.WorkflowName, e.Operation)
		return
	}

	for i, queued := range w.queue {
		if isHighPriority(queued) {
			continue
		}
		log.Printf("audit queue full, dropped oldest low-priority entry %s/%s to admit %s/%s", queued.WorkflowName, queued.Operation, e.WorkflowName, e.Operation)
		w.queue = append(w.queue[:i], w.queue[i+1:]...)
		w.queue = append(w.queue, e)
		w.signalLocked()
		return
	}

	// Every queued entry is itself high-priority: nothing may be evicted
	// without violating the no-drop invariant, so the backlog grows instead.
	log.Printf("audit queue full of high-priority entries, growing backlog to admit %s/%s", e.WorkflowName, e.Operation)
	w.queue = append(w.queue, e)
	w.signalLocked()
}

// signalLocked wakes the drain goroutine. Must be called with mu held.
func (w *Writer) signalLocked() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// pop removes and returns the oldest queued entry, if any. It takes mu itself.
func (w *Writer) pop() (Entry, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return Entry{}, false
	}
	e := w.queue[0]
	w.queue = w.queue[1:]
	return e, true
}

func isHighPriority(e Entry) bool {
	return !e.Approved || e.Outcome == "failure"
}

func (w *Writer) drain() {
	defer w.wg.Done()
	ctx := context.Background()
	for {
		if e, ok := w.pop(); ok {
			if err := w.store.Append(ctx, e); err != nil {
				log.Printf("failed to persist audit entry: %v", err)
			}
			continue
		}
		select {
		case <-w.notify:
		case <-w.stop:
			// Drain whatever remains before exiting.
			for {
				e, ok := w.pop()
				if !ok {
					return
				}
				if err := w.store.Append(ctx, e); err != nil {
					log.Printf("failed to persist audit entry during shutdown: %v", err)
				}
			}
		}
	}
}

// Close stops the drain goroutine after flushing the current queue.
func (w *Writer) Close() {
	close(w.stop)
	w.wg.Wait()
}
