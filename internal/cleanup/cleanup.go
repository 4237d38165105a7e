package cleanup

import (
	"context"
	"sync"
	"time"

	"github.com/obslabs/migverify/internal/logging"
)

// Coordinator is an ordered registry of teardown actions. Actions are
// registered the moment the corresponding resource becomes live and are
// executed in reverse order (LIFO) exactly once, whether the run ends in
// success, a fatal error, or an operator interrupt. A failing action is
// logged and never stops the remaining actions.
type Coordinator struct {
	mu      sync.Mutex
	actions []action
	ran     bool
	timeout time.Duration
	log     *logging.Logger
}

type action struct {
	name string
	fn   func(context.Context) error
}

// New creates a coordinator. timeout bounds each individual action.
func New(log *logging.Logger, timeout time.Duration) *Coordinator {
	return &Coordinator{
		timeout: timeout,
		log:     log,
	}
}

// Register pushes a teardown action onto the stack. Call it immediately
// after the resource is acquired, not after a later success check, so an
// interrupt between the two still unwinds the resource.
func (c *Coordinator) Register(name string, fn func(context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions = append(c.actions, action{name: name, fn: fn})
}

// Len returns the number of registered actions still pending
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ran {
		return 0
	}
	return len(c.actions)
}

// RunAll pops and executes every action in reverse-acquisition order.
// Subsequent calls are no-ops, so the normal exit path and the signal
// path can both call it without double-releasing anything.
func (c *Coordinator) RunAll() {
	c.mu.Lock()
	if c.ran {
		c.mu.Unlock()
		return
	}
	c.ran = true
	actions := c.actions
	c.actions = nil
	c.mu.Unlock()

	for i := len(actions) - 1; i >= 0; i-- {
		a := actions[i]
		c.log.Debug("running teardown action", map[string]interface{}{"action": a.name})

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		if err := a.fn(ctx); err != nil {
			c.log.Error("teardown action failed", map[string]interface{}{
				"action": a.name,
				"error":  err.Error(),
			})
		}
		cancel()
	}
}
