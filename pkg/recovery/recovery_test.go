package recovery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/geoflow/geoflow/pkg/errors"
)

func noSleep(c *Controller) *Controller {
	return c.WithSleeper(func(time.Duration) {})
}

func TestRun_SuccessFirstAttempt(t *testing.T) {
	c := noSleep(NewController(100, 3, 10))

	res, err := c.Run(context.Background(), Stage{
		Try: func(ctx context.Context, batchSize int) error { return nil },
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateCommitted || res.Attempts != 1 {
		t.Errorf("result = %+v", res)
	}
	if res.BatchSize != 100 {
		t.Errorf("batch size changed without memory pressure: %d", res.BatchSize)
	}
}

func TestRun_MemoryPressureHalvesBatch(t *testing.T) {
	c := noSleep(NewController(100, 3, 10))

	var sizes []int
	res, err := c.Run(context.Background(), Stage{
		Try: func(ctx context.Context, batchSize int) error {
			sizes = append(sizes, batchSize)
			if len(sizes) < 3 {
				return errors.New(errors.CodeMemoryLimit, "over budget")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []int{100, 50, 25}
	if fmt.Sprint(sizes) != fmt.Sprint(want) {
		t.Errorf("attempt sizes = %v, want %v", sizes, want)
	}
	if res.BatchSize != 25 {
		t.Errorf("final batch size = %d, want 25", res.BatchSize)
	}
	// Reduced size is sticky for later stages of the same layer.
	if c.BatchSize() != 25 {
		t.Errorf("controller batch size = %d, want 25", c.BatchSize())
	}
}

func TestRun_HalvingRespectsFloor(t *testing.T) {
	c := noSleep(NewController(12, 10, 10))

	c.Run(context.Background(), Stage{
		Try: func(ctx context.Context, batchSize int) error {
			if batchSize > 10 {
				return errors.New(errors.CodeMemoryLimit, "over budget")
			}
			return nil
		},
	})
	if c.BatchSize() != 10 {
		t.Errorf("batch size = %d, want floor 10", c.BatchSize())
	}

	// At the floor there is nothing left to halve; the next memory failure
	// is terminal.
	res, err := c.Run(context.Background(), Stage{
		Try: func(ctx context.Context, batchSize int) error {
			return errors.New(errors.CodeMemoryLimit, "still over")
		},
	})
	if err == nil || res.State != StateFailed {
		t.Errorf("expected terminal failure at floor, got %+v, %v", res, err)
	}
}

func TestRun_IOBackoffRetry(t *testing.T) {
	var slept []time.Duration
	c := NewController(100, 3, 10).
		WithBackoff(10*time.Millisecond, 25*time.Millisecond).
		WithSleeper(func(d time.Duration) { slept = append(slept, d) })

	attempts := 0
	res, err := c.Run(context.Background(), Stage{
		Try: func(ctx context.Context, batchSize int) error {
			attempts++
			if attempts < 4 {
				return errors.New(errors.CodeSourceRead, "transient")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateCommitted || res.Attempts != 4 {
		t.Errorf("result = %+v", res)
	}
	// Exponential, capped at the max.
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 25 * time.Millisecond}
	if fmt.Sprint(slept) != fmt.Sprint(want) {
		t.Errorf("backoffs = %v, want %v", slept, want)
	}
	if c.BatchSize() != 100 {
		t.Errorf("I/O retry must not shrink the batch: %d", c.BatchSize())
	}
}

func TestRun_IORetryLimit(t *testing.T) {
	c := noSleep(NewController(100, 2, 10))

	res, err := c.Run(context.Background(), Stage{
		Try: func(ctx context.Context, batchSize int) error {
			return errors.New(errors.CodeSourceRead, "down")
		},
	})
	if err == nil || res.State != StateFailed {
		t.Fatalf("result = %+v, err = %v", res, err)
	}
	if res.Attempts != 3 { // initial + 2 retries
		t.Errorf("attempts = %d, want 3", res.Attempts)
	}
}

func TestRun_SchemaConflictReconciles(t *testing.T) {
	c := noSleep(NewController(100, 3, 10))

	reconciled := false
	attempts := 0
	res, err := c.Run(context.Background(), Stage{
		Try: func(ctx context.Context, batchSize int) error {
			attempts++
			if !reconciled {
				return errors.New(errors.CodeSchemaConflict, "unexpected field")
			}
			return nil
		},
		Reconcile: func(ctx context.Context) error {
			reconciled = true
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.State != StateCommitted || attempts != 2 {
		t.Errorf("result = %+v, attempts = %d", res, attempts)
	}
}

func TestRun_DataCorruptionDegradesNeverRetries(t *testing.T) {
	c := noSleep(NewController(100, 3, 10))

	degraded := 0
	attempts := 0
	res, err := c.Run(context.Background(), Stage{
		Try: func(ctx context.Context, batchSize int) error {
			attempts++
			if attempts == 1 {
				return errors.RecordCorrupt("l", 5, fmt.Errorf("bad bytes"))
			}
			return nil
		},
		Degrade: func(ctx context.Context, cause error) error {
			degraded++
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if degraded != 1 || res.Degraded != 1 {
		t.Errorf("degraded = %d, result %+v", degraded, res)
	}
	if res.State != StateCommitted {
		t.Errorf("state = %v", res.State)
	}
}

func TestRun_DataCorruptionWithoutDegradeFails(t *testing.T) {
	c := noSleep(NewController(100, 3, 10))

	res, err := c.Run(context.Background(), Stage{
		Try: func(ctx context.Context, batchSize int) error {
			return errors.RecordCorrupt("l", 0, fmt.Errorf("bad"))
		},
	})
	if err == nil || res.State != StateFailed {
		t.Errorf("result = %+v, err = %v", res, err)
	}
}

func TestRun_FatalConfigurationNeverRetried(t *testing.T) {
	c := noSleep(NewController(100, 3, 10))

	attempts := 0
	res, err := c.Run(context.Background(), Stage{
		Try: func(ctx context.Context, batchSize int) error {
			attempts++
			return errors.InvalidChunkSize(-1)
		},
	})
	if err == nil || res.State != StateFailed {
		t.Fatalf("result = %+v, err = %v", res, err)
	}
	if attempts != 1 {
		t.Errorf("fatal error retried %d times", attempts-1)
	}
}

func TestRun_CancellationTerminal(t *testing.T) {
	c := noSleep(NewController(100, 3, 10))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := c.Run(ctx, Stage{
		Try: func(ctx context.Context, batchSize int) error { return nil },
	})
	if err == nil || res.State != StateFailed {
		t.Errorf("result = %+v, err = %v", res, err)
	}
	if res.Attempts != 0 {
		t.Errorf("attempt ran after cancellation")
	}
}

func TestRun_TransitionSequence(t *testing.T) {
	c := noSleep(NewController(100, 3, 10))

	var seq []string
	c.OnTransition = func(from, to State, cause error) {
		seq = append(seq, fmt.Sprintf("%v->%v", from, to))
	}

	attempts := 0
	c.Run(context.Background(), Stage{
		Try: func(ctx context.Context, batchSize int) error {
			attempts++
			if attempts == 1 {
				return errors.New(errors.CodeMemoryLimit, "over")
			}
			return nil
		},
	})

	want := []string{
		"attempting->retrying",
		"retrying->attempting",
		"attempting->committed",
	}
	if fmt.Sprint(seq) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", seq, want)
	}
}
