// Copyright © 2017 The Things Network
// Use of this source code is governed by the MIT license that can be found in the LICENSE file.

// Package worker implements a single-consumer work queue. Tasks run one at a
// time, in submission order, on one goroutine.
package worker

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/apex/log"
)

type task struct {
	name string
	fn   func()
}

// New returns a new Queue that holds at most capacity pending tasks. A
// capacity of 0 means unbounded.
func New(capacity int, ctx log.Interface) *Queue {
	return &Queue{
		ctx:      ctx.WithField("Component", "Worker"),
		capacity: capacity,
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Queue of tasks
type Queue struct {
	ctx      log.Interface
	capacity int

	mu      sync.Mutex
	tasks   []task
	started bool
	closed  bool

	signal  chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

// Submit adds a task to the queue. It never blocks. It returns false if the
// task was dropped because the queue is full or stopped.
func (q *Queue) Submit(name string, fn func()) bool {
	return q.submit(name, fn, true)
}

// Push adds a task to the queue regardless of its capacity. It never blocks.
// It returns false only if the queue is stopped.
func (q *Queue) Push(name string, fn func()) bool {
	return q.submit(name, fn, false)
}

func (q *Queue) submit(name string, fn func(), bounded bool) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.ctx.WithField("Task", name).Debug("Not submitting task [worker stopped]")
		return false
	}
	if bounded && q.capacity > 0 && len(q.tasks) >= q.capacity {
		q.mu.Unlock()
		q.ctx.WithField("Task", name).Warn("Not submitting task [queue full]")
		droppedCounter.Inc()
		return false
	}
	q.tasks = append(q.tasks, task{name: name, fn: fn})
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Len returns the number of pending tasks
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *Queue) next() (t task, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return t, false
	}
	t = q.tasks[0]
	q.tasks[0] = task{}
	q.tasks = q.tasks[1:]
	return t, true
}

// Start the worker goroutine. Calling Start more than once has no effect.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	go q.run()
}

func (q *Queue) run() {
	defer close(q.stopped)
	for {
		select {
		case <-q.done:
			return
		case <-q.signal:
		}
		for {
			select {
			case <-q.done:
				return
			default:
			}
			t, ok := q.next()
			if !ok {
				break
			}
			q.execute(t)
		}
	}
}

func (q *Queue) execute(t task) {
	defer func() {
		if thePanic := recover(); thePanic != nil {
			buf := make([]byte, 1<<16)
			buf = buf[:runtime.Stack(buf, false)]
			q.ctx.WithFields(log.Fields{
				"Task":  t.name,
				"panic": fmt.Sprint(thePanic),
				"stack": string(buf),
			}).Error("Recovered from panic in task")
		}
	}()
	t.fn()
}

// Barrier blocks until all tasks submitted before it have run. It returns
// immediately if the worker is stopped.
func (q *Queue) Barrier() {
	reached := make(chan struct{})
	if !q.Push("barrier", func() { close(reached) }) {
		return
	}
	select {
	case <-reached:
	case <-q.stopped:
	}
}

// Stop the worker after the task in flight. Pending tasks are discarded.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	started := q.started
	pending := len(q.tasks)
	q.tasks = nil
	close(q.done)
	q.mu.Unlock()
	if started {
		<-q.stopped
	} else {
		close(q.stopped)
	}
	if pending > 0 {
		q.ctx.WithField("Pending", pending).Debug("Discarded pending tasks")
	}
}
