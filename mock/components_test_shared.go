package mock

import (
	"fmt"
	"sync"

	components "github.com/centraunit/goallin_components"
)

// Recorder collects ordered lifecycle events across components so tests can
// assert construction, start and teardown ordering.
type Recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *Recorder) Record(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// Index returns the position of the first matching event, or -1.
func (r *Recorder) Index(event string) int {
	for i, recorded := range r.Events() {
		if recorded == event {
			return i
		}
	}
	return -1
}

// Service is a recording component used across the container test suites.
// Fail* errors, when set, are returned from the corresponding hook.
type Service struct {
	ServiceName string
	Recorder    *Recorder

	FailLoaded   error
	FailStopping error
	FailClose    error
}

func (s *Service) record(event string) {
	if s.Recorder != nil {
		s.Recorder.Record(event + ":" + s.ServiceName)
	}
}

func (s *Service) OnAllComponentsLoaded() error {
	s.record("loaded")
	return s.FailLoaded
}

func (s *Service) OnAllComponentsAreStopping() error {
	s.record("stopping")
	return s.FailStopping
}

func (s *Service) Close() error {
	s.record("close")
	return s.FailClose
}

func (s *Service) OnLoadingCancelled() {
	s.record("loading-cancelled")
}

// Factory returns a component factory that looks up deps in order and then
// constructs a recording Service.
func Factory(recorder *Recorder, name string, deps ...string) components.ComponentFactory {
	return func(ctx *components.ComponentContext) (components.Component, error) {
		for _, dep := range deps {
			if _, err := ctx.FindComponent(dep); err != nil {
				return nil, err
			}
		}
		if recorder != nil {
			recorder.Record("build:" + name)
		}
		return &Service{ServiceName: name, Recorder: recorder}, nil
	}
}

// ServiceFactory constructs a prebuilt Service after resolving deps,
// so tests can set Fail* hooks up front.
func ServiceFactory(service *Service, deps ...string) components.ComponentFactory {
	return func(ctx *components.ComponentContext) (components.Component, error) {
		for _, dep := range deps {
			if _, err := ctx.FindComponent(dep); err != nil {
				return nil, err
			}
		}
		if service.Recorder != nil {
			service.Recorder.Record("build:" + service.ServiceName)
		}
		return service, nil
	}
}

// FailingFactory returns a factory that fails construction with the given
// error after resolving deps.
func FailingFactory(err error, deps ...string) components.ComponentFactory {
	return func(ctx *components.ComponentContext) (components.Component, error) {
		for _, dep := range deps {
			if _, depErr := ctx.FindComponent(dep); depErr != nil {
				return nil, depErr
			}
		}
		return nil, err
	}
}

// BlockingFactory signals entered once it is about to look up dep, then
// resolves it; the lookup suspends until dep is constructed or the load is
// cancelled.
func BlockingFactory(name, dep string, entered chan<- string) components.ComponentFactory {
	return func(ctx *components.ComponentContext) (components.Component, error) {
		entered <- name
		if _, err := ctx.FindComponent(dep); err != nil {
			return nil, err
		}
		return &Service{ServiceName: name}, nil
	}
}

// Worker is a component that schedules jobs on a task processor during
// startup, for exercising the processor registry end to end.
type Worker struct {
	Processor components.TaskProcessor
	Jobs      int

	wg  sync.WaitGroup
	mu  sync.Mutex
	ran int
}

// NewWorkerFactory builds a Worker bound to the named task processor.
func NewWorkerFactory(processorName string, jobs int) components.ComponentFactory {
	return func(ctx *components.ComponentContext) (components.Component, error) {
		processor, err := ctx.GetTaskProcessor(processorName)
		if err != nil {
			return nil, err
		}
		return &Worker{Processor: processor, Jobs: jobs}, nil
	}
}

func (w *Worker) OnAllComponentsLoaded() error {
	for i := 0; i < w.Jobs; i++ {
		w.wg.Add(1)
		if err := w.Processor.Submit(func() {
			defer w.wg.Done()
			w.mu.Lock()
			w.ran++
			w.mu.Unlock()
		}); err != nil {
			w.wg.Done()
			return fmt.Errorf("submit job: %w", err)
		}
	}
	return nil
}

func (w *Worker) OnAllComponentsAreStopping() error {
	w.wg.Wait()
	return nil
}

// Ran returns how many jobs completed.
func (w *Worker) Ran() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ran
}
