// Package shutdown implements the directives sent to the managed server
// before it is asked to terminate.
package shutdown

import (
	"context"
	"time"

	"go.uber.org/multierr"
)

// DefaultTimeout bounds a hook run when the caller does not configure one
const DefaultTimeout = 10 * time.Second

// Target identifies the process a hook acts on
type Target struct {
	ID  string
	PID int
}

// Hook asks the managed server to flush or commit its state
type Hook interface {
	Name() string
	Run(ctx context.Context, target Target) error
}

// HookFunc adapts a function to Hook
type HookFunc func(ctx context.Context, target Target) error

func (f HookFunc) Name() string {
	return "func"
}

func (f HookFunc) Run(ctx context.Context, target Target) error {
	return f(ctx, target)
}

type namedHook struct {
	name string
	fn   HookFunc
}

// NewHook names a function hook for logging
func NewHook(name string, fn HookFunc) Hook {
	return &namedHook{name: name, fn: fn}
}

func (h *namedHook) Name() string {
	return h.name
}

func (h *namedHook) Run(ctx context.Context, target Target) error {
	return h.fn(ctx, target)
}

type chain struct {
	hooks []Hook
}

// Chain runs hooks in order. Every hook runs even if an earlier one
// failed; the errors are combined.
func Chain(hooks ...Hook) Hook {
	filtered := make([]Hook, 0, len(hooks))
	for _, hook := range hooks {
		if hook != nil {
			filtered = append(filtered, hook)
		}
	}
	return &chain{hooks: filtered}
}

func (c *chain) Name() string {
	name := "chain("
	for i, hook := range c.hooks {
		if i > 0 {
			name += ","
		}
		name += hook.Name()
	}
	return name + ")"
}

func (c *chain) Run(ctx context.Context, target Target) error {
	var err error
	for _, hook := range c.hooks {
		if ctx.Err() != nil {
			err = multierr.Append(err, ctx.Err())
			break
		}
		err = multierr.Append(err, hook.Run(ctx, target))
	}
	return err
}

// RunWithTimeout runs hook bounded by timeout (DefaultTimeout when zero)
func RunWithTimeout(ctx context.Context, hook Hook, target Target, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hookCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return hook.Run(hookCtx, target)
}
