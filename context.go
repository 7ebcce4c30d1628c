// Package components provides a concurrent component container with implicit
// dependency discovery and lifecycle orchestration.
//
// A ComponentContext constructs a declared set of named components, observes
// which other components each factory looks up while it runs, and drives all
// components through shared lifecycle phases in an order consistent with the
// discovered dependency graph.
package components

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// ComponentContext is the component container. The set of component names is
// fixed at construction; AddComponent fills the slots concurrently while
// FindComponent discovers dependency edges between them, and the lifecycle
// operations fan out one goroutine per component to advance every slot to the
// phase's target stage.
type ComponentContext struct {
	manager        *Manager
	log            *zap.Logger
	clock          clock.Clock
	taskProcessors map[string]TaskProcessor

	// mu guards the components' edge sets and stages, the task-to-component
	// map and the progress reporter state. Every componentInfo condition
	// variable shares it; waiters hold it only between suspensions.
	mu              sync.Mutex
	components      map[string]*componentInfo
	taskToComponent map[int64]string

	loadCancelled atomic.Bool

	printPeriod   time.Duration
	printStop     chan struct{}
	printDone     chan struct{}
	printStopOnce sync.Once
}

// ContextOption adjusts a ComponentContext at construction time.
type ContextOption func(*ComponentContext)

// WithProgressPeriod overrides how often the context reports components that
// are still being constructed.
func WithProgressPeriod(period time.Duration) ContextOption {
	return func(c *ComponentContext) {
		if period > 0 {
			c.printPeriod = period
		}
	}
}

// WithClock overrides the clock driving the progress reporter.
func WithClock(clk clock.Clock) ContextOption {
	return func(c *ComponentContext) {
		c.clock = clk
	}
}

// NewComponentContext creates a container expecting exactly the given
// component names. The task processor registry is read-only from here on.
// The progress reporter starts immediately and runs until the first of
// OnAllComponentsLoaded or ClearComponents.
func NewComponentContext(manager *Manager, taskProcessors map[string]TaskProcessor, componentNames []string, opts ...ContextOption) *ComponentContext {
	c := &ComponentContext{
		manager:         manager,
		log:             manager.Logger(),
		clock:           clock.New(),
		taskProcessors:  make(map[string]TaskProcessor, len(taskProcessors)),
		components:      make(map[string]*componentInfo, len(componentNames)),
		taskToComponent: make(map[int64]string),
		printPeriod:     defaultProgressPeriod,
	}
	for name, processor := range taskProcessors {
		c.taskProcessors[name] = processor
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, name := range componentNames {
		c.components[name] = newComponentInfo(name, &c.mu, c.log)
	}
	c.startPrintAddingComponentsTask()
	return c
}

// AddComponent constructs the named component by invoking factory on the
// calling goroutine and stores the result. The factory may call
// FindComponent on this context; nested AddComponent calls from the same
// goroutine are rejected.
func (c *ComponentContext) AddComponent(name string, factory ComponentFactory) (Component, error) {
	info, err := c.info(name)
	if err != nil {
		return nil, err
	}
	release, err := c.enterConstruction(name)
	if err != nil {
		return nil, err
	}
	defer release()

	if info.getComponent() != nil {
		return nil, &DuplicateComponentError{Name: name}
	}

	component, err := factory(c)
	if err != nil {
		if IsStageSwitchingCancelled(err) {
			return nil, err
		}
		return nil, &ComponentConstructionFailedError{Name: name, Err: err}
	}
	if err := info.setComponent(component); err != nil {
		return nil, err
	}
	c.log.Debug("component constructed", zap.String("component", name))
	return component, nil
}

// FindComponent returns the named component, blocking until it has been
// constructed. It is legal only from inside a factory running on this
// context; the lookup registers a dependency edge from the calling component
// to name after verifying the edge closes no cycle.
func (c *ComponentContext) FindComponent(name string) (Component, error) {
	if err := c.addDependency(name); err != nil {
		return nil, err
	}
	info := c.components[name]
	if component := info.getComponent(); component != nil {
		return component, nil
	}

	c.mu.Lock()
	c.log.Info("component is not loaded yet",
		zap.String("component", name),
		zap.String("waiter", c.taskToComponent[goid()]))
	c.mu.Unlock()

	return info.waitAndGetComponent()
}

// GetTaskProcessor returns the named task processor.
func (c *ComponentContext) GetTaskProcessor(name string) (TaskProcessor, error) {
	processor, ok := c.taskProcessors[name]
	if !ok {
		return nil, &UnknownTaskProcessorError{Name: name}
	}
	return processor, nil
}

// GetTaskProcessorsMap returns a snapshot of the task processor registry.
func (c *ComponentContext) GetTaskProcessorsMap() map[string]TaskProcessor {
	snapshot := make(map[string]TaskProcessor, len(c.taskProcessors))
	for name, processor := range c.taskProcessors {
		snapshot[name] = processor
	}
	return snapshot
}

// GetManager returns the manager that owns this context.
func (c *ComponentContext) GetManager() *Manager {
	return c.manager
}

// CancelComponentsLoad aborts an in-flight component load: every goroutine
// suspended in FindComponent or a stage wait wakes with a cancellation
// error. Calling it more than once has the effect of calling it once.
func (c *ComponentContext) CancelComponentsLoad() {
	c.cancelComponentLifetimeStageSwitching()
	if c.loadCancelled.Swap(true) {
		return
	}
	c.log.Warn("cancelling components load")
	for _, info := range c.components {
		info.onLoadingCancelled()
	}
}

func (c *ComponentContext) info(name string) (*componentInfo, error) {
	info, ok := c.components[name]
	if !ok {
		return nil, &UnknownComponentError{Name: name}
	}
	return info, nil
}

// enterConstruction records the calling goroutine as the builder of name.
// The returned release must run on every exit path of AddComponent.
func (c *ComponentContext) enterConstruction(name string) (release func(), err error) {
	id := goid()
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.taskToComponent[id]; ok {
		return nil, &NestedConstructionError{Current: current, Name: name}
	}
	c.taskToComponent[id] = name
	return func() {
		c.mu.Lock()
		delete(c.taskToComponent, id)
		c.mu.Unlock()
	}, nil
}

// addDependency resolves the calling component, validates the proposed edge
// for acyclicity and installs both half-edges. Check and insert happen under
// one mutex hold so two factories cannot race to close a cycle.
func (c *ComponentContext) addDependency(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	from, ok := c.taskToComponent[goid()]
	if !ok {
		return &LookupOutsideConstructionError{Name: name}
	}
	target, ok := c.components[name]
	if !ok {
		return &UnknownComponentError{Name: name}
	}
	fromInfo := c.components[from]
	if fromInfo.checkItDependsOn(name) {
		return nil
	}

	c.log.Info("resolving dependency",
		zap.String("from", from),
		zap.String("to", name))

	if trail := c.findDependencyPath(from, name); trail != nil {
		cycle := append([]string{from}, trail...)
		c.log.Error("circular dependency between components",
			zap.String("path", strings.Join(cycle, " -> ")))
		return &CircularDependencyError{Path: cycle}
	}

	fromInfo.addItDependsOn(name)
	target.addDependsOnIt(from)
	return nil
}

// findDependencyPath searches for target from `from` along reverse edges;
// the proposed edge from -> target closes a cycle exactly when such a path
// exists. The returned trail lists the forward-edge path from target back to
// `from`, or nil when target is unreachable. The container mutex must be
// held.
func (c *ComponentContext) findDependencyPath(from, target string) []string {
	handled := make(map[string]struct{})
	var trail []string

	var dfs func(current string) bool
	dfs = func(current string) bool {
		handled[current] = struct{}{}
		found := current == target
		c.components[current].forEachDependsOnIt(func(next string) {
			if found {
				return
			}
			if _, seen := handled[next]; !seen {
				found = dfs(next)
			}
		})
		if found {
			trail = append(trail, current)
		}
		return found
	}

	if !dfs(from) {
		return nil
	}
	return trail
}
