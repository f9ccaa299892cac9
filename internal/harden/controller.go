package harden

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/morph/internal/ir"
)

// Mode selects where hardening jobs run.
type Mode uint8

const (
	// ModeSync runs the job on the triggering call. Deterministic; used by
	// tests, replay and the CLI.
	ModeSync Mode = iota

	// ModeAsync runs the job on a background goroutine; the triggering call
	// returns at once.
	ModeAsync
)

func (m Mode) String() string {
	if m == ModeAsync {
		return "async"
	}
	return "sync"
}

// ParseMode parses "sync" or "async".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "sync", "":
		return ModeSync, nil
	case "async":
		return ModeAsync, nil
	}
	return ModeSync, fmt.Errorf("unknown hardening mode %q", s)
}

// Controller runs hardening jobs, at most one per function at a time.
// Callers are never blocked by a job in flight: a second trigger for the
// same function is a no-op.
type Controller struct {
	compiler *Compiler
	mode     Mode
	logger   *slog.Logger

	group    singleflight.Group
	inflight sync.Map // function name -> struct{}

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewController creates a controller.
func NewController(c *Compiler, mode Mode, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{compiler: c, mode: mode, logger: logger}
}

// Mode returns the job mode.
func (c *Controller) Mode() Mode { return c.mode }

// Compiler returns the compiler used by jobs.
func (c *Controller) Compiler() *Compiler { return c.compiler }

// Trigger starts hardening fn for shape unless a job for fn is in flight or
// the controller is closed. done receives the outcome on the job's
// goroutine while the job still counts as in flight.
func (c *Controller) Trigger(fn *ir.Function, shape ir.Shape, done func(*Native, error)) bool {
	if _, busy := c.inflight.LoadOrStore(fn.Name, struct{}{}); busy {
		c.logger.Debug("hardening already in flight", "function", fn.Name)
		return false
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.inflight.Delete(fn.Name)
		return false
	}
	c.wg.Add(1)
	c.mu.Unlock()

	job := func() {
		defer c.wg.Done()
		defer c.inflight.Delete(fn.Name)
		v, err, _ := c.group.Do(fn.Name, func() (any, error) {
			return c.compile(fn, shape)
		})
		n, _ := v.(*Native)
		if done != nil {
			done(n, err)
		}
	}
	if c.mode == ModeAsync {
		go job()
	} else {
		job()
	}
	return true
}

// Harden compiles fn for shape and waits for the result. A job already in
// flight for fn is joined instead of started again.
func (c *Controller) Harden(ctx context.Context, fn *ir.Function, shape ir.Shape) (*Native, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	ch := c.group.DoChan(fn.Name, func() (any, error) {
		return c.compile(fn, shape)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Native), nil
	}
}

func (c *Controller) compile(fn *ir.Function, shape ir.Shape) (n *Native, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = nil, fail(fn.Name, shape.Key(), "panic during hardening: %v", r)
		}
	}()
	return c.compiler.Compile(fn, shape)
}

// InFlight reports whether a triggered job for the function is running.
func (c *Controller) InFlight(name string) bool {
	_, ok := c.inflight.Load(name)
	return ok
}

// Deoptimize uninstalls n from slot. Exactly one of several concurrent
// callers for the same form gets true.
func (c *Controller) Deoptimize(slot *Slot, n *Native) bool {
	if !slot.Uninstall(n) {
		return false
	}
	c.logger.Debug("native form uninstalled", "function", n.Function, "shape", n.ShapeKey)
	return true
}

// Wait blocks until every triggered job has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close stops accepting jobs and waits for running ones.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.wg.Wait()
}
