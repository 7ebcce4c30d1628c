package components

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// taskProcessor is the default TaskProcessor: an unbounded submission queue
// drained by at most `workers` concurrently running tasks.
type taskProcessor struct {
	name  string
	slots *semaphore.Weighted

	// mu orders the closed flag and wg.Add against Shutdown, so a Submit
	// that passed the closed check is always part of the drain wait.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewTaskProcessor creates a named pool running at most workers tasks at a
// time.
func NewTaskProcessor(name string, workers int) (TaskProcessor, error) {
	if name == "" {
		return nil, fmt.Errorf("task processor name must not be empty")
	}
	if workers < 1 {
		return nil, fmt.Errorf("task processor %q: workers must be at least 1, got %d", name, workers)
	}
	return &taskProcessor{
		name:  name,
		slots: semaphore.NewWeighted(int64(workers)),
	}, nil
}

func (p *taskProcessor) Name() string {
	return p.name
}

func (p *taskProcessor) Submit(task func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("task processor %q is shut down", p.name)
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		if err := p.slots.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer p.slots.Release(1)
		task()
	}()
	return nil
}

func (p *taskProcessor) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("task processor %q shutdown: %w", p.name, ctx.Err())
	}
}
