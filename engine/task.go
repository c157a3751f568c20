package engine

import (
	"context"
	"sync"

	"github.com/RENCI-NRIG/impact-smc/metrics"
)

// Task is a supervised background process. Its outcome is observable through
// Done and Err instead of being lost.
type Task struct {
	done   chan struct{}
	err    error
	cancel context.CancelFunc
}

// startTask runs fn in a goroutine. cancel is called once fn returns.
func startTask(cancel context.CancelFunc, fn func() error) *Task {
	t := &Task{done: make(chan struct{}), cancel: cancel}
	metrics.BackgroundTasks.Inc()
	go func() {
		defer metrics.BackgroundTasks.Dec()
		defer close(t.done)
		defer cancel()
		t.err = fn()
	}()
	return t
}

// Done is closed when the task finishes.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task outcome. It is nil until Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel kills the underlying process.
func (t *Task) Cancel() { t.cancel() }

// TaskGroup tracks tasks so that shutdown can wait for them.
type TaskGroup struct {
	mu    sync.Mutex
	tasks map[*Task]struct{}
}

// Add tracks t until it finishes.
func (g *TaskGroup) Add(t *Task) {
	g.mu.Lock()
	if g.tasks == nil {
		g.tasks = make(map[*Task]struct{})
	}
	g.tasks[t] = struct{}{}
	g.mu.Unlock()

	go func() {
		<-t.Done()
		g.mu.Lock()
		delete(g.tasks, t)
		g.mu.Unlock()
	}()
}

// Len returns the number of running tasks.
func (g *TaskGroup) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tasks)
}

// Wait waits for all tracked tasks. When ctx expires the remaining tasks are
// cancelled and ctx.Err is returned.
func (g *TaskGroup) Wait(ctx context.Context) error {
	g.mu.Lock()
	pending := make([]*Task, 0, len(g.tasks))
	for t := range g.tasks {
		pending = append(pending, t)
	}
	g.mu.Unlock()

	for _, t := range pending {
		select {
		case <-t.Done():
		case <-ctx.Done():
			for _, t := range pending {
				t.Cancel()
			}
			return ctx.Err()
		}
	}
	return nil
}
