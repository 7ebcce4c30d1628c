package components

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Manager owns a ComponentContext: it builds the task processors declared in
// the configuration, fans out component construction across goroutines and
// drives the lifecycle phases. Components reach it through
// ComponentContext.GetManager.
type Manager struct {
	config *Config
	log    *zap.Logger

	mu             sync.Mutex
	factories      map[string]ComponentFactory
	taskProcessors map[string]TaskProcessor
	context        *ComponentContext
	started        bool

	contextOpts []ContextOption
}

// NewManager creates a manager for the given configuration. A nil config
// selects DefaultConfig; a nil logger disables logging. Extra context
// options are applied to the ComponentContext built by Run.
func NewManager(config *Config, log *zap.Logger, opts ...ContextOption) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		config:      config,
		log:         log,
		factories:   make(map[string]ComponentFactory),
		contextOpts: opts,
	}
}

// NewManagerFromConfig loads the configuration file and creates a manager
// with a logger built from the configured log level.
func NewManagerFromConfig(path string, opts ...ContextOption) (*Manager, error) {
	config, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	log, err := NewLogger(config.LogLevel)
	if err != nil {
		return nil, err
	}
	return NewManager(config, log, opts...), nil
}

// Logger returns the manager's logger.
func (m *Manager) Logger() *zap.Logger {
	return m.log
}

// Config returns the configuration the manager was created with.
func (m *Manager) Config() *Config {
	return m.config
}

// Context returns the component context, or nil before Run.
func (m *Manager) Context() *ComponentContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.context
}

// ComponentOptions returns the options subtree configured for the named
// component, or nil when it has none.
func (m *Manager) ComponentOptions(name string) map[string]any {
	for _, component := range m.config.Components {
		if component.Name == name {
			return component.Options
		}
	}
	return nil
}

// RegisterComponent registers the factory constructing the named component.
// Registration is rejected once Run has been called.
func (m *Manager) RegisterComponent(name string, factory ComponentFactory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("cannot register component %q: manager already running", name)
	}
	if factory == nil {
		return fmt.Errorf("cannot register component %q: nil factory", name)
	}
	if _, ok := m.factories[name]; ok {
		return &DuplicateComponentError{Name: name}
	}
	m.factories[name] = factory
	return nil
}

// Run constructs every configured component concurrently and advances them
// all to the running stage. The first factory failure cancels the whole
// load; the half-built component set is cleared before Run returns the
// error.
func (m *Manager) Run() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("manager already running")
	}
	for _, component := range m.config.Components {
		if _, ok := m.factories[component.Name]; !ok {
			m.mu.Unlock()
			return &UnknownComponentError{Name: component.Name}
		}
	}
	taskProcessors, err := m.buildTaskProcessors()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	names := m.config.ComponentNames()
	opts := append([]ContextOption{WithProgressPeriod(m.config.ProgressPeriod)}, m.contextOpts...)
	componentContext := NewComponentContext(m, taskProcessors, names, opts...)
	m.started = true
	m.taskProcessors = taskProcessors
	m.context = componentContext
	m.mu.Unlock()

	m.log.Info("loading components", zap.Int("count", len(names)))
	if err := m.loadComponents(componentContext, names); err != nil {
		m.rollback(componentContext, "load")
		return err
	}
	if err := componentContext.OnAllComponentsLoaded(); err != nil {
		m.rollback(componentContext, "start")
		return err
	}
	m.log.Info("all components are running")
	return nil
}

// rollback tears down a half-started component set: components that already
// reached running must be told to stop and drain before their instances are
// released.
func (m *Manager) rollback(componentContext *ComponentContext, phase string) {
	if err := componentContext.OnAllComponentsAreStopping(); err != nil {
		m.log.Error("stopping components after failed "+phase, zap.Error(err))
	}
	if err := componentContext.ClearComponents(); err != nil {
		m.log.Error("clearing components after failed "+phase, zap.Error(err))
	}
}

// loadComponents constructs every component on its own goroutine. The first
// real failure cancels the load; cancellation errors reported by the other
// loaders are not part of the aggregate. Every loader is joined before
// loadComponents returns.
func (m *Manager) loadComponents(componentContext *ComponentContext, names []string) error {
	results := make(chan error, len(names))
	for _, name := range names {
		factory := m.factories[name]
		go func(name string, factory ComponentFactory) {
			_, err := componentContext.AddComponent(name, factory)
			if err != nil && !IsStageSwitchingCancelled(err) {
				m.log.Error("component load failed",
					zap.String("component", name),
					zap.Error(err))
				componentContext.CancelComponentsLoad()
			}
			results <- err
		}(name, factory)
	}

	var loadErr error
	for range names {
		if err := <-results; err != nil && !IsStageSwitchingCancelled(err) {
			loadErr = multierr.Append(loadErr, err)
		}
	}
	return loadErr
}

// Shutdown notifies every component that the service is stopping, clears
// the component set and stops the task processors. Teardown is best-effort;
// all errors are aggregated into the returned error.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	componentContext := m.context
	taskProcessors := m.taskProcessors
	m.mu.Unlock()

	var errs error
	if componentContext != nil {
		errs = multierr.Append(errs, componentContext.OnAllComponentsAreStopping())
		errs = multierr.Append(errs, componentContext.ClearComponents())
	}
	for _, processor := range taskProcessors {
		errs = multierr.Append(errs, processor.Shutdown(ctx))
	}
	if errs != nil {
		m.log.Error("shutdown finished with errors", zap.Error(errs))
	}
	return errs
}

func (m *Manager) buildTaskProcessors() (map[string]TaskProcessor, error) {
	taskProcessors := make(map[string]TaskProcessor, len(m.config.TaskProcessors))
	for name, processorConfig := range m.config.TaskProcessors {
		processor, err := NewTaskProcessor(name, processorConfig.Workers)
		if err != nil {
			return nil, err
		}
		taskProcessors[name] = processor
	}
	return taskProcessors, nil
}
