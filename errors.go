package components

import (
	"errors"
	"fmt"
	"strings"
)

// UnknownComponentError reports an Add or Find for a name outside the set the
// context was constructed with, and a Manager.Run whose configuration names a
// component with no registered factory.
type UnknownComponentError struct {
	Name string
}

func (e *UnknownComponentError) Error() string {
	return fmt.Sprintf("component %q is not declared or has no registered factory", e.Name)
}

// DuplicateComponentError reports a second AddComponent (or factory
// registration) for a name that already has an instance.
type DuplicateComponentError struct {
	Name string
}

func (e *DuplicateComponentError) Error() string {
	return fmt.Sprintf("trying to add component %q multiple times", e.Name)
}

// NestedConstructionError reports an AddComponent issued from a goroutine
// that is already constructing another component.
type NestedConstructionError struct {
	Current string
	Name    string
}

func (e *NestedConstructionError) Error() string {
	return fmt.Sprintf("can't construct multiple components on the same goroutine: component %q is already under construction, got AddComponent(%q)", e.Current, e.Name)
}

// LookupOutsideConstructionError reports a FindComponent call from a
// goroutine that is not running a component factory of this context.
type LookupOutsideConstructionError struct {
	Name string
}

func (e *LookupOutsideConstructionError) Error() string {
	return fmt.Sprintf("FindComponent(%q) can be called only from a component factory", e.Name)
}

// CircularDependencyError reports a rejected dependency edge that would have
// closed a cycle. Path holds the full cycle in forward-edge order, starting
// and ending at the component that issued the lookup.
type CircularDependencyError struct {
	Path []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency between components: %s", strings.Join(e.Path, " -> "))
}

// StageSwitchingCancelledError reports a wait that was woken by load or phase
// cancellation instead of by the event it was waiting for.
type StageSwitchingCancelledError struct {
	Component string
}

func (e *StageSwitchingCancelledError) Error() string {
	return fmt.Sprintf("stage switching cancelled while waiting on component %q", e.Component)
}

// IsStageSwitchingCancelled reports whether err is, or wraps, a
// StageSwitchingCancelledError.
func IsStageSwitchingCancelled(err error) bool {
	var cancelled *StageSwitchingCancelledError
	return errors.As(err, &cancelled)
}

// ComponentConstructionFailedError reports a factory that returned an error.
type ComponentConstructionFailedError struct {
	Name string
	Err  error
}

func (e *ComponentConstructionFailedError) Error() string {
	return fmt.Sprintf("construction of component %q failed: %v", e.Name, e.Err)
}

func (e *ComponentConstructionFailedError) Unwrap() error {
	return e.Err
}

// ProtocolViolationError reports a lifecycle phase that ended cancelled
// although no component surfaced the original error.
type ProtocolViolationError struct {
	Handler string
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("%s cancelled but no original error was surfaced", e.Handler)
}

// UnknownTaskProcessorError reports a GetTaskProcessor for a name absent from
// the registry the context was constructed with.
type UnknownTaskProcessorError struct {
	Name string
}

func (e *UnknownTaskProcessorError) Error() string {
	return fmt.Sprintf("failed to find task processor with name %q", e.Name)
}
