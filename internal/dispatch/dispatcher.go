// Package dispatch runs realtime work serialized per key (a conversation or a call)
// while different keys proceed in parallel. There is no lock shared between keys.
package dispatch

import (
	"sync"
	"time"

	"github.com/marketchat/internal/logger"
)

const (
	defaultQueueSize   = 128
	defaultIdleTimeout = 30 * time.Second
)

// Task is one unit of work. Tasks for the same key run one at a time in Submit order.
type Task func()

type worker struct {
	tasks chan Task
}

type Dispatcher struct {
	mu        sync.Mutex
	workers   map[string]*worker
	queueSize int
	idle      time.Duration
	closed    bool
	quit      chan struct{}
	wg        sync.WaitGroup
}

// New creates a dispatcher. queueSize bounds pending tasks per key; idle is how long
// a key's worker waits for new tasks before exiting.
func New(queueSize int, idle time.Duration) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if idle <= 0 {
		idle = defaultIdleTimeout
	}
	return &Dispatcher{
		workers:   make(map[string]*worker),
		queueSize: queueSize,
		idle:      idle,
		quit:      make(chan struct{}),
	}
}

// Submit queues t behind earlier tasks for key. It returns false when the key's
// queue is full or the dispatcher is closed; the task is then not run.
func (d *Dispatcher) Submit(key string, t Task) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	w, ok := d.workers[key]
	if !ok {
		w = &worker{tasks: make(chan Task, d.queueSize)}
		d.workers[key] = w
		d.wg.Add(1)
		go d.run(key, w)
	}
	select {
	case w.tasks <- t:
		return true
	default:
		return false
	}
}

// Active returns the number of keys with a live worker.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.workers)
}

// Close stops accepting tasks, runs what is already queued and waits for workers.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.quit)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run(key string, w *worker) {
	defer d.wg.Done()
	timer := time.NewTimer(d.idle)
	defer timer.Stop()

	for {
		select {
		case t := <-w.tasks:
			d.exec(key, t)
			resetTimer(timer, d.idle)
		case <-timer.C:
			// Submit holds d.mu while enqueuing, so an empty queue here stays empty.
			d.mu.Lock()
			if len(w.tasks) == 0 {
				delete(d.workers, key)
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			timer.Reset(d.idle)
		case <-d.quit:
			for {
				select {
				case t := <-w.tasks:
					d.exec(key, t)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) exec(key string, t Task) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("dispatch: panic key=%s: %v", key, r)
		}
	}()
	t()
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
