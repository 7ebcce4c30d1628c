package components

import "context"

// Component is the contract implemented by every named, long-lived service
// object managed by a ComponentContext. Hooks are invoked by the container's
// lifecycle phases; a component never calls them on itself.
type Component interface {
	// OnAllComponentsLoaded is called once every declared component has been
	// constructed. Components are notified in dependency order: everything
	// this component looked up during construction is notified first.
	OnAllComponentsLoaded() error

	// OnAllComponentsAreStopping is called when the service begins shutting
	// down, in reverse dependency order: every component that looked this one
	// up is notified first.
	OnAllComponentsAreStopping() error
}

// LoadingCancellable is implemented by components that want to observe load
// cancellation while other components are still being constructed.
type LoadingCancellable interface {
	OnLoadingCancelled()
}

// ComponentFactory constructs one component. It runs synchronously on the
// goroutine that called AddComponent and may call FindComponent on the given
// context to look up other components, suspending until they are ready.
type ComponentFactory func(ctx *ComponentContext) (Component, error)

// TaskProcessor is a named pool that executes detached tasks with a bounded
// number of concurrently running workers. The component context only stores
// and hands out processors; their lifetime is owned by the Manager.
type TaskProcessor interface {
	// Name returns the processor's registry name.
	Name() string

	// Submit schedules task for execution on the pool. Submit never blocks;
	// it returns an error once the processor is shut down.
	Submit(task func()) error

	// Shutdown stops accepting new tasks and waits for in-flight tasks to
	// finish or for ctx to expire.
	Shutdown(ctx context.Context) error
}
