// Package recovery implements differentiated failure recovery for batch
// stages. Each failure class gets its own strategy: memory pressure halves
// the batch size, I/O failures back off and retry, schema conflicts re-run
// reconciliation, data corruption degrades the offending records, and
// configuration errors fail immediately without touching any I/O.
package recovery

import (
	"context"
	"time"

	"github.com/geoflow/geoflow/pkg/errors"
)

// State is one node of the per-stage recovery state machine.
type State int

const (
	StateAttempting State = iota
	StateRetrying
	StateReconciling
	StateDegrading
	StateCommitted
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateRetrying:
		return "retrying"
	case StateReconciling:
		return "reconciling"
	case StateDegrading:
		return "degrading"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Stage is one guarded unit of work. Try is re-invoked after every recovery
// transition with the controller's current batch size. Reconcile and Degrade
// are optional; a failure class whose hook is nil is terminal.
type Stage struct {
	// Try runs one attempt with the given batch size.
	Try func(ctx context.Context, batchSize int) error

	// Reconcile re-runs schema reconciliation with the offending batch
	// included. Invoked on schema-class failures.
	Reconcile func(ctx context.Context) error

	// Degrade drops or nulls the offending records so the remainder of the
	// stage can proceed. Invoked on data-class failures, never retried.
	Degrade func(ctx context.Context, cause error) error
}

// Result reports how a guarded stage concluded.
type Result struct {
	State     State
	Attempts  int
	BatchSize int

	// Degraded counts data-class failures absorbed by degradation.
	Degraded int
}

// Controller drives the recovery state machine for the stages of one layer.
// The batch size it carries is sticky: once memory pressure halves it, later
// stages of the same layer keep the reduced size.
type Controller struct {
	maxRetries  int
	floor       int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	sleep func(time.Duration)

	batchSize int

	// OnTransition observes every state change. Used for logging and for
	// asserting transition sequences in tests.
	OnTransition func(from, to State, cause error)
}

// NewController creates a controller starting at the given batch size.
func NewController(batchSize, maxRetries, floor int) *Controller {
	if floor < 1 {
		floor = 1
	}
	if batchSize < floor {
		batchSize = floor
	}
	return &Controller{
		maxRetries:  maxRetries,
		floor:       floor,
		baseBackoff: 100 * time.Millisecond,
		maxBackoff:  5 * time.Second,
		sleep:       time.Sleep,
		batchSize:   batchSize,
	}
}

// WithBackoff sets the I/O retry backoff window.
func (c *Controller) WithBackoff(base, max time.Duration) *Controller {
	c.baseBackoff = base
	c.maxBackoff = max
	return c
}

// WithSleeper replaces the backoff sleep function.
func (c *Controller) WithSleeper(sleep func(time.Duration)) *Controller {
	c.sleep = sleep
	return c
}

// BatchSize returns the controller's current batch size.
func (c *Controller) BatchSize() int { return c.batchSize }

// Run drives one stage to Committed or Failed. Retry budgets are tracked per
// failure class, so an I/O hiccup does not consume the memory-pressure
// budget. Cancellation is honored between attempts and is terminal.
func (c *Controller) Run(ctx context.Context, stage Stage) (Result, error) {
	res := Result{State: StateAttempting, BatchSize: c.batchSize}

	var memRetries, ioRetries, reconciles int
	var lastErr error

	for {
		if err := ctx.Err(); err != nil {
			c.transition(&res, StateFailed, err)
			return res, err
		}

		res.Attempts++
		err := stage.Try(ctx, c.batchSize)
		if err == nil {
			c.transition(&res, StateCommitted, nil)
			res.BatchSize = c.batchSize
			return res, nil
		}
		lastErr = err

		switch errors.ClassOf(err) {
		case errors.ClassMemoryPressure:
			if memRetries >= c.maxRetries || c.batchSize <= c.floor {
				c.transition(&res, StateFailed, err)
				return res, err
			}
			memRetries++
			c.halve()
			c.transition(&res, StateRetrying, err)

		case errors.ClassSourceIO:
			if ioRetries >= c.maxRetries {
				c.transition(&res, StateFailed, err)
				return res, err
			}
			c.transition(&res, StateRetrying, err)
			c.sleep(c.backoff(ioRetries))
			ioRetries++

		case errors.ClassSchemaConflict:
			if stage.Reconcile == nil || reconciles >= c.maxRetries {
				c.transition(&res, StateFailed, err)
				return res, err
			}
			reconciles++
			c.transition(&res, StateReconciling, err)
			if rerr := stage.Reconcile(ctx); rerr != nil {
				c.transition(&res, StateFailed, rerr)
				return res, rerr
			}

		case errors.ClassDataCorruption:
			if stage.Degrade == nil {
				c.transition(&res, StateFailed, err)
				return res, err
			}
			res.Degraded++
			c.transition(&res, StateDegrading, err)
			if derr := stage.Degrade(ctx, err); derr != nil {
				c.transition(&res, StateFailed, derr)
				return res, derr
			}

		default:
			// Fatal configuration, cancellation, and unclassified errors
			// are not recoverable.
			c.transition(&res, StateFailed, err)
			return res, lastErr
		}

		c.transition(&res, StateAttempting, nil)
	}
}

func (c *Controller) halve() {
	half := c.batchSize / 2
	if half < c.floor {
		half = c.floor
	}
	c.batchSize = half
}

func (c *Controller) backoff(retry int) time.Duration {
	d := c.baseBackoff << uint(retry)
	if d > c.maxBackoff || d <= 0 {
		d = c.maxBackoff
	}
	return d
}

func (c *Controller) transition(res *Result, to State, cause error) {
	from := res.State
	res.State = to
	if c.OnTransition != nil {
		c.OnTransition(from, to, cause)
	}
}
