package components

import (
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const defaultProgressPeriod = 10 * time.Second

// dependencyType selects which edge set a lifecycle phase waits on.
type dependencyType int

const (
	// dependencyNormal waits for the components this one depends on.
	dependencyNormal dependencyType = iota
	// dependencyInverted waits for the components depending on this one.
	dependencyInverted
)

// componentLifetimeStageSwitchingParams describes one lifecycle phase: the
// target stage, the componentInfo method to invoke, the wait direction and
// whether a failing component cancels the whole phase. The cancelled flag is
// scoped to a single phase run.
type componentLifetimeStageSwitchingParams struct {
	nextStage              lifecycleStage
	stageSwitchHandler     func(*componentInfo) error
	stageSwitchHandlerName string
	dependencyType         dependencyType
	allowCancelling        bool
	cancelled              atomic.Bool
}

// OnAllComponentsLoaded advances every component to the running stage in
// dependency order. A component failure cancels the phase and is returned
// after every phase goroutine has been joined.
func (c *ComponentContext) OnAllComponentsLoaded() error {
	c.stopPrintAddingComponentsTask()
	return c.processAllComponentLifetimeStageSwitchings(&componentLifetimeStageSwitchingParams{
		nextStage:              stageRunning,
		stageSwitchHandler:     (*componentInfo).onAllComponentsLoaded,
		stageSwitchHandlerName: "OnAllComponentsLoaded",
		dependencyType:         dependencyNormal,
		allowCancelling:        true,
	})
}

// OnAllComponentsAreStopping notifies every component that the service is
// shutting down, in reverse dependency order. Component errors are logged
// and do not abort the remaining components.
func (c *ComponentContext) OnAllComponentsAreStopping() error {
	c.log.Info("sending stopping notification to all components")
	return c.processAllComponentLifetimeStageSwitchings(&componentLifetimeStageSwitchingParams{
		nextStage:              stageReadyForClearing,
		stageSwitchHandler:     (*componentInfo).onAllComponentsAreStopping,
		stageSwitchHandlerName: "OnAllComponentsAreStopping",
		dependencyType:         dependencyInverted,
		allowCancelling:        false,
	})
}

// ClearComponents releases every component instance in reverse dependency
// order, returning all stages to null. Teardown is best-effort: component
// errors are logged and do not abort the remaining components. Every
// goroutine the context spawned has been joined when ClearComponents
// returns.
func (c *ComponentContext) ClearComponents() error {
	c.stopPrintAddingComponentsTask()
	c.log.Info("stopping components")
	err := c.processAllComponentLifetimeStageSwitchings(&componentLifetimeStageSwitchingParams{
		nextStage:              stageNull,
		stageSwitchHandler:     (*componentInfo).clearComponent,
		stageSwitchHandlerName: "ClearComponent",
		dependencyType:         dependencyInverted,
		allowCancelling:        false,
	})
	if err != nil {
		return err
	}
	c.log.Info("stopped all components")
	return nil
}

// processAllComponentLifetimeStageSwitchings runs one lifecycle phase: one
// goroutine per component, joined sequentially. Cancellation errors from
// individual components are swallowed; the first real error cancels the
// phase (when allowed), the remaining goroutines are joined and the error is
// returned. A phase that ends cancelled without a surfaced error is a
// protocol violation.
func (c *ComponentContext) processAllComponentLifetimeStageSwitchings(params *componentLifetimeStageSwitchingParams) error {
	c.prepareComponentLifetimeStageSwitching()

	type stageSwitchTask struct {
		name string
		done chan error
	}
	tasks := make([]stageSwitchTask, 0, len(c.components))
	for name, info := range c.components {
		task := stageSwitchTask{name: name, done: make(chan error, 1)}
		go func(name string, info *componentInfo, done chan error) {
			done <- c.processSingleComponentLifetimeStageSwitching(name, info, params)
		}(name, info, task.done)
		tasks = append(tasks, task)
	}

	var firstErr error
	for i, task := range tasks {
		err := <-task.done
		if err == nil || IsStageSwitchingCancelled(err) {
			continue
		}
		firstErr = err
		if params.allowCancelling && params.cancelled.CompareAndSwap(false, true) {
			c.cancelComponentLifetimeStageSwitching()
		}
		for _, remaining := range tasks[i+1:] {
			<-remaining.done
		}
		break
	}
	if firstErr != nil {
		return firstErr
	}
	if params.cancelled.Load() {
		return &ProtocolViolationError{Handler: params.stageSwitchHandlerName}
	}
	return nil
}

func (c *ComponentContext) processSingleComponentLifetimeStageSwitching(name string, info *componentInfo, params *componentLifetimeStageSwitchingParams) error {
	c.log.Debug("preparing stage switch",
		zap.String("handler", params.stageSwitchHandlerName),
		zap.String("component", name))

	err := func() error {
		for _, neighbor := range info.dependencySnapshot(params.dependencyType) {
			other := c.components[neighbor]
			if other.getStage() == params.nextStage {
				continue
			}
			from, to := name, neighbor
			if params.dependencyType == dependencyInverted {
				from, to = neighbor, name
			}
			c.log.Debug("waiting for dependency",
				zap.String("handler", params.stageSwitchHandlerName),
				zap.String("component", name),
				zap.String("from", from),
				zap.String("to", to))
			if err := other.waitStage(params.nextStage, params.stageSwitchHandlerName); err != nil {
				return err
			}
		}
		c.log.Info("calling stage switch handler",
			zap.String("handler", params.stageSwitchHandlerName),
			zap.String("component", name))
		return params.stageSwitchHandler(info)
	}()

	if err != nil {
		if IsStageSwitchingCancelled(err) {
			c.log.Warn("stage switch cancelled",
				zap.String("handler", params.stageSwitchHandlerName),
				zap.String("component", name),
				zap.Error(err))
			info.setStage(params.nextStage)
			return err
		}
		c.log.Error("stage switch handler failed",
			zap.String("handler", params.stageSwitchHandlerName),
			zap.String("component", name),
			zap.Error(err))
		if params.allowCancelling {
			info.setStageSwitchingCancelled(true)
			if params.cancelled.CompareAndSwap(false, true) {
				c.cancelComponentLifetimeStageSwitching()
			}
			info.setStage(params.nextStage)
			return err
		}
	}

	info.setStage(params.nextStage)
	return nil
}

func (c *ComponentContext) prepareComponentLifetimeStageSwitching() {
	for _, info := range c.components {
		info.setStageSwitchingCancelled(false)
	}
}

func (c *ComponentContext) cancelComponentLifetimeStageSwitching() {
	for _, info := range c.components {
		info.setStageSwitchingCancelled(true)
	}
}

// startPrintAddingComponentsTask spawns the progress reporter. Every period
// it snapshots the components currently under construction and logs them.
func (c *ComponentContext) startPrintAddingComponentsTask() {
	c.printStop = make(chan struct{})
	c.printDone = make(chan struct{})
	go func() {
		defer close(c.printDone)
		ticker := c.clock.Ticker(c.printPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-c.printStop:
				return
			case <-ticker.C:
				c.printAddingComponents()
			}
		}
	}()
}

// stopPrintAddingComponentsTask stops and joins the reporter. Safe to call
// more than once.
func (c *ComponentContext) stopPrintAddingComponentsTask() {
	c.printStopOnce.Do(func() {
		c.log.Debug("stopping adding components reporting")
		close(c.printStop)
	})
	<-c.printDone
}

func (c *ComponentContext) printAddingComponents() {
	c.mu.Lock()
	adding := make([]string, 0, len(c.taskToComponent))
	for _, name := range c.taskToComponent {
		adding = append(adding, name)
	}
	c.mu.Unlock()
	sort.Strings(adding)
	c.log.Info("still adding components", zap.Strings("components", adding))
}
