package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vincentbai/browsetrace/internal/logger"
)

// maxPendingTasks bounds the backlog of tracking calls waiting to run.
const maxPendingTasks = 1024

var (
	errDispatcherClosed = errors.New("tracker is closed")
	errBacklogFull      = errors.New("tracking backlog full")
)

type task struct {
	name string
	fn   func()
}

// dispatcher runs tracking tasks one at a time in the order they were posted.
// Posting never blocks.
type dispatcher struct {
	log logger.Logger

	mu     sync.Mutex
	tasks  []task
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newDispatcher(log logger.Logger) *dispatcher {
	d := &dispatcher{
		log:  log,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) post(name string, fn func()) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errDispatcherClosed
	}
	if len(d.tasks) >= maxPendingTasks {
		d.mu.Unlock()
		d.log.Warn("Tracking backlog full, dropping call", logger.String("task", name))
		return fmt.Errorf("%w: dropped %s", errBacklogFull, name)
	}
	d.tasks = append(d.tasks, task{name: name, fn: fn})
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

// stop refuses new tasks; already posted ones still run.
func (d *dispatcher) stop() {
	d.mu.Lock()
	wasClosed := d.closed
	d.closed = true
	d.mu.Unlock()

	if !wasClosed {
		select {
		case d.wake <- struct{}{}:
		default:
		}
	}
}

// wait blocks until every posted task has run or ctx ends.
func (d *dispatcher) wait(ctx context.Context) error {
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		batch := d.tasks
		d.tasks = nil
		closed := d.closed
		d.mu.Unlock()

		for _, t := range batch {
			d.execute(t)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-d.wake
	}
}

// execute is the containment boundary: a panicking task is logged and the
// loop carries on.
func (d *dispatcher) execute(t task) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Tracking call panicked",
				logger.String("task", t.name),
				logger.Any("panic", r),
			)
		}
	}()
	t.fn()
}
