// Package runtime runs background producer loops. A loop is an Executor
// whose Execute method is called until it returns an error. io.EOF ends
// the loop gracefully.
package runtime

import (
	"context"
	"errors"
	"fmt"
)

type (
	// Executor executes a single iteration of a background loop.
	Executor interface {
		Execute(context.Context) error
		Start(context.Context) error
		Flush(context.Context) error
	}

	// StartFunc is a closure that triggers the loop start hook.
	StartFunc func(ctx context.Context) error
	// ExecuteFunc is a closure that executes a single iteration.
	ExecuteFunc func(ctx context.Context) error
	// FlushFunc is a closure that triggers the loop flush hook.
	FlushFunc func(ctx context.Context) error

	// Loop composes hook closures into an Executor. Nil hooks are no-ops.
	Loop struct {
		StartFunc
		ExecuteFunc
		FlushFunc
	}
)

// Start calls the start hook.
func (fn StartFunc) Start(ctx context.Context) error {
	return callHook(ctx, fn)
}

// Execute calls the iteration closure.
func (fn ExecuteFunc) Execute(ctx context.Context) error {
	return callHook(ctx, fn)
}

// Flush calls the flush hook.
func (fn FlushFunc) Flush(ctx context.Context) error {
	return callHook(ctx, fn)
}

func callHook(ctx context.Context, hook func(context.Context) error) error {
	if hook == nil {
		return nil
	}
	return hook(ctx)
}

// ErrorRun combines the iteration error with the flush error.
type ErrorRun struct {
	ErrExec  error
	ErrFlush error
}

func (e ErrorRun) Error() string {
	switch {
	case e.ErrExec != nil && e.ErrFlush != nil:
		return fmt.Sprintf("execute error: %v, flush error: %v", e.ErrExec, e.ErrFlush)
	case e.ErrExec != nil:
		return fmt.Sprintf("execute error: %v", e.ErrExec)
	default:
		return fmt.Sprintf("flush error: %v", e.ErrFlush)
	}
}

// Is checks if any of errors match provided sentinel error.
func (e ErrorRun) Is(err error) bool {
	return errors.Is(e.ErrExec, err) || errors.Is(e.ErrFlush, err)
}
