// Package timer runs one-shot callbacks at wall-clock deadlines. Recurring
// jobs re-arm themselves from inside their callback.
package timer

import (
	"container/heap"
	"errors"
	"sync"
	"time"
)

// ErrManagerStopped is returned when scheduling on a stopped manager
var ErrManagerStopped = errors.New("timer manager is stopped")

// Task is a callback due at DueAt
type Task struct {
	ID       string
	DueAt    time.Time
	Callback func()
	index    int
}

// taskHeap is a min-heap of tasks ordered by DueAt
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	return h[i].DueAt.Before(h[j].DueAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	task := x.(*Task)
	task.index = len(*h)
	*h = append(*h, task)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*h = old[:n-1]
	return task
}

// Manager dispatches due tasks to a fixed pool of workers. A task with the
// same ID as a pending one replaces it.
type Manager struct {
	mu      sync.Mutex
	heap    taskHeap
	tasks   map[string]*Task
	wakeup  chan struct{}
	due     chan *Task
	stopCh  chan struct{}
	wg      sync.WaitGroup
	workers int
	started bool
	stopped bool
}

// NewManager creates a manager with the given number of workers.
func NewManager(workers int) *Manager {
	if workers < 1 {
		workers = 1
	}
	return &Manager{
		tasks:   make(map[string]*Task),
		wakeup:  make(chan struct{}, 1),
		due:     make(chan *Task, workers),
		stopCh:  make(chan struct{}),
		workers: workers,
	}
}

// Start launches the dispatch loop and workers. Calling it again is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.stopped {
		return
	}
	m.started = true

	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	m.wg.Add(1)
	go m.run()
}

// Stop discards pending tasks and waits for running callbacks to return.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.heap = nil
	m.tasks = make(map[string]*Task)
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
}

// Schedule arms callback to run at dueAt.
func (m *Manager) Schedule(id string, dueAt time.Time, callback func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrManagerStopped
	}

	if existing, ok := m.tasks[id]; ok {
		heap.Remove(&m.heap, existing.index)
	}

	task := &Task{ID: id, DueAt: dueAt, Callback: callback}
	heap.Push(&m.heap, task)
	m.tasks[id] = task

	if m.heap[0] == task {
		select {
		case m.wakeup <- struct{}{}:
		default:
		}
	}
	return nil
}

// Cancel removes a pending task.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok {
		return false
	}
	heap.Remove(&m.heap, task.index)
	delete(m.tasks, id)
	return true
}

// Next returns when the pending task id is due.
func (m *Manager) Next(id string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok {
		return time.Time{}, false
	}
	return task.DueAt, true
}

func (m *Manager) run() {
	defer m.wg.Done()

	for {
		m.mu.Lock()
		if m.stopped {
			m.mu.Unlock()
			return
		}

		wait := time.Hour
		if m.heap.Len() > 0 {
			wait = time.Until(m.heap[0].DueAt)
			if wait <= 0 {
				task := heap.Pop(&m.heap).(*Task)
				delete(m.tasks, task.ID)
				m.mu.Unlock()

				select {
				case m.due <- task:
				case <-m.stopCh:
					return
				}
				continue
			}
		}
		m.mu.Unlock()

		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-m.wakeup:
			t.Stop()
		case <-m.stopCh:
			t.Stop()
			return
		}
	}
}

func (m *Manager) worker() {
	defer m.wg.Done()

	for {
		select {
		case task := <-m.due:
			task.Callback()
		case <-m.stopCh:
			return
		}
	}
}

// Stats reports the number of pending tasks and workers
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{Pending: len(m.tasks), Workers: m.workers}
}

// Stats is a snapshot of a Manager
type Stats struct {
	Pending int
	Workers int
}
