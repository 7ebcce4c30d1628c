package components

import (
	"io"
	"sync"

	"go.uber.org/zap"
)

// lifecycleStage is a point in a component's lifecycle. Stages advance
// monotonically within a lifecycle phase; a component leaves a stage only
// into the phase's target stage.
type lifecycleStage int

const (
	stageNull lifecycleStage = iota
	stageCreateComponentCalled
	stageRunning
	stageReadyForClearing
)

func (s lifecycleStage) String() string {
	switch s {
	case stageNull:
		return "null"
	case stageCreateComponentCalled:
		return "create-component-called"
	case stageRunning:
		return "running"
	case stageReadyForClearing:
		return "ready-for-clearing"
	}
	return "unknown"
}

// componentInfo is the per-component coordination point: it holds the
// instance slot, the current lifecycle stage, the dependency edge sets and
// the wait primitive for readiness and stage changes.
//
// The condition variable shares the owning context's mutex, so a stage or
// slot transition wakes exactly the goroutines parked on this component.
// Methods taking no lock themselves note it explicitly; everything else
// locks through cond.L.
type componentInfo struct {
	name string
	log  *zap.Logger
	cond *sync.Cond

	// guarded by cond.L (the container mutex)
	component               Component
	stage                   lifecycleStage
	itDependsOn             map[string]struct{}
	dependsOnIt             map[string]struct{}
	stageSwitchingCancelled bool
}

func newComponentInfo(name string, mu *sync.Mutex, log *zap.Logger) *componentInfo {
	return &componentInfo{
		name:        name,
		log:         log,
		cond:        sync.NewCond(mu),
		itDependsOn: make(map[string]struct{}),
		dependsOnIt: make(map[string]struct{}),
	}
}

// setComponent stores the constructed instance and advances the stage to
// create-component-called. The slot is set-once; a second call fails with
// DuplicateComponentError.
func (ci *componentInfo) setComponent(component Component) error {
	ci.cond.L.Lock()
	defer ci.cond.L.Unlock()
	if ci.component != nil {
		return &DuplicateComponentError{Name: ci.name}
	}
	ci.component = component
	ci.stage = stageCreateComponentCalled
	ci.cond.Broadcast()
	return nil
}

// getComponent is a non-blocking peek at the instance slot.
func (ci *componentInfo) getComponent() Component {
	ci.cond.L.Lock()
	defer ci.cond.L.Unlock()
	return ci.component
}

// waitAndGetComponent blocks until the slot is populated or cancellation is
// observed. No lock is held while suspended.
func (ci *componentInfo) waitAndGetComponent() (Component, error) {
	ci.cond.L.Lock()
	defer ci.cond.L.Unlock()
	for ci.component == nil {
		if ci.stageSwitchingCancelled {
			return nil, &StageSwitchingCancelledError{Component: ci.name}
		}
		ci.cond.Wait()
	}
	return ci.component, nil
}

// waitStage blocks until the stage reaches target or cancellation is
// observed. handlerName only labels the wait in diagnostics.
func (ci *componentInfo) waitStage(target lifecycleStage, handlerName string) error {
	ci.cond.L.Lock()
	defer ci.cond.L.Unlock()
	for ci.stage != target {
		if ci.stageSwitchingCancelled {
			ci.log.Debug("stage wait cancelled",
				zap.String("component", ci.name),
				zap.String("handler", handlerName),
				zap.Stringer("target", target))
			return &StageSwitchingCancelledError{Component: ci.name}
		}
		ci.cond.Wait()
	}
	return nil
}

func (ci *componentInfo) getStage() lifecycleStage {
	ci.cond.L.Lock()
	defer ci.cond.L.Unlock()
	return ci.stage
}

func (ci *componentInfo) setStage(stage lifecycleStage) {
	ci.cond.L.Lock()
	defer ci.cond.L.Unlock()
	ci.stage = stage
	ci.cond.Broadcast()
}

func (ci *componentInfo) setStageSwitchingCancelled(cancelled bool) {
	ci.cond.L.Lock()
	defer ci.cond.L.Unlock()
	ci.stageSwitchingCancelled = cancelled
	ci.cond.Broadcast()
}

// addItDependsOn requires the container mutex to be held.
func (ci *componentInfo) addItDependsOn(name string) {
	ci.itDependsOn[name] = struct{}{}
}

// addDependsOnIt requires the container mutex to be held.
func (ci *componentInfo) addDependsOnIt(name string) {
	ci.dependsOnIt[name] = struct{}{}
}

// checkItDependsOn requires the container mutex to be held.
func (ci *componentInfo) checkItDependsOn(name string) bool {
	_, ok := ci.itDependsOn[name]
	return ok
}

// forEachDependsOnIt requires the container mutex to be held; f must not
// re-enter this componentInfo.
func (ci *componentInfo) forEachDependsOnIt(f func(name string)) {
	for name := range ci.dependsOnIt {
		f(name)
	}
}

// dependencySnapshot copies one edge set so a caller can iterate and wait
// without holding the container mutex.
func (ci *componentInfo) dependencySnapshot(direction dependencyType) []string {
	ci.cond.L.Lock()
	defer ci.cond.L.Unlock()
	edges := ci.itDependsOn
	if direction == dependencyInverted {
		edges = ci.dependsOnIt
	}
	names := make([]string, 0, len(edges))
	for name := range edges {
		names = append(names, name)
	}
	return names
}

// onAllComponentsLoaded forwards the running notification to the instance.
func (ci *componentInfo) onAllComponentsLoaded() error {
	if component := ci.getComponent(); component != nil {
		return component.OnAllComponentsLoaded()
	}
	return nil
}

// onAllComponentsAreStopping forwards the stopping notification to the
// instance.
func (ci *componentInfo) onAllComponentsAreStopping() error {
	if component := ci.getComponent(); component != nil {
		return component.OnAllComponentsAreStopping()
	}
	return nil
}

// clearComponent releases the instance, closing it first when it implements
// io.Closer. The slot becomes empty again so the context ends teardown with
// every component back at the null stage.
func (ci *componentInfo) clearComponent() error {
	ci.cond.L.Lock()
	component := ci.component
	ci.component = nil
	ci.cond.L.Unlock()
	if closer, ok := component.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// onLoadingCancelled wakes construction waiters parked on this component and
// forwards the cancellation to the instance when it asks for it.
func (ci *componentInfo) onLoadingCancelled() {
	ci.setStageSwitchingCancelled(true)
	if cancellable, ok := ci.getComponent().(LoadingCancellable); ok {
		cancellable.OnLoadingCancelled()
	}
}
