// Package middleware provides the stage-fired interception chain the agent
// loop drives: a middleware sees the run before and after the agent, every
// model call, and every tool call, and can veto by returning an error.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Chain fires middleware in registration order with short-circuit
// semantics: the first error stops the stage and is returned to the loop.
type Chain struct {
	middlewares []Middleware
	timeout     time.Duration
	mu          sync.RWMutex
}

// ChainOption mutates the chain configuration.
type ChainOption func(*Chain)

// WithTimeout bounds each individual middleware invocation. Zero leaves
// invocations unbounded.
func WithTimeout(d time.Duration) ChainOption {
	return func(c *Chain) {
		c.timeout = d
	}
}

// NewChain builds a chain from mw, dropping nil entries so callers can
// pass conditionally-built slices without filtering first.
func NewChain(mw []Middleware, opts ...ChainOption) *Chain {
	filtered := make([]Middleware, 0, len(mw))
	for _, m := range mw {
		if m != nil {
			filtered = append(filtered, m)
		}
	}
	c := &Chain{middlewares: filtered}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Use appends middleware at runtime.
func (c *Chain) Use(m Middleware) {
	if m == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.middlewares = append(c.middlewares, m)
}

// invokeStage dispatches one stage firing to the matching hook.
func invokeStage(ctx context.Context, mw Middleware, stage Stage, st *State) error {
	switch stage {
	case StageBeforeAgent:
		return mw.BeforeAgent(ctx, st)
	case StageBeforeModel:
		return mw.BeforeModel(ctx, st)
	case StageAfterModel:
		return mw.AfterModel(ctx, st)
	case StageBeforeTool:
		return mw.BeforeTool(ctx, st)
	case StageAfterTool:
		return mw.AfterTool(ctx, st)
	case StageAfterAgent:
		return mw.AfterAgent(ctx, st)
	default:
		return fmt.Errorf("middleware: unknown stage %d", stage)
	}
}

// Execute runs stage across every middleware in order, stopping at and
// returning the first failure. The middleware slice is snapshotted under
// the read lock so concurrent Use calls cannot race the iteration.
func (c *Chain) Execute(ctx context.Context, stage Stage, st *State) error {
	c.mu.RLock()
	mws := make([]Middleware, len(c.middlewares))
	copy(mws, c.middlewares)
	c.mu.RUnlock()

	for _, mw := range mws {
		exec := func(ctx context.Context) error {
			return invokeStage(ctx, mw, stage, st)
		}
		if err := c.runWithTimeout(ctx, exec, mw); err != nil {
			return fmt.Errorf("middleware %s failed: %w", middlewareName(mw), err)
		}
	}
	return nil
}

func (c *Chain) runWithTimeout(ctx context.Context, fn func(context.Context) error, mw Middleware) error {
	if c.timeout <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer close(done)
		done <- fn(ctx)
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("middleware %s timed out", middlewareName(mw))
		}
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func middlewareName(m Middleware) string {
	if m == nil {
		return "<nil>"
	}
	if name := m.Name(); name != "" {
		return name
	}
	return "<unnamed>"
}
