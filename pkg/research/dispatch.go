package research

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Outcome is the result of one dispatched task. Outcomes are indexed like the
// tasks that produced them, never by completion order.
type Outcome[R any] struct {
	Value   R
	Err     error
	Elapsed time.Duration
}

// Dispatch runs fn once per task concurrently and waits for every call to
// return or fail before returning. A failing task never cancels its siblings.
//
// limit caps the number of calls in flight (0 or less means unlimited).
// timeout bounds each call; a call that exceeds it is reported with
// ErrSearchTimeout even if fn ignores its context, so one stuck callee cannot
// hold the barrier open. A panicking call is reported with ErrTaskPanicked.
func Dispatch[T, R any](ctx context.Context, tasks []T, limit int, timeout time.Duration, fn func(context.Context, T) (R, error)) []Outcome[R] {
	outcomes := make([]Outcome[R], len(tasks))
	fn = recovered(fn)

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, task := range tasks {
		g.Go(func() error {
			start := time.Now()
			value, err := callWithTimeout(ctx, timeout, task, fn)
			outcomes[i] = Outcome[R]{Value: value, Err: err, Elapsed: time.Since(start)}
			return nil
		})
	}

	// Tasks report failures through their Outcome, so Wait is only the barrier.
	_ = g.Wait()
	return outcomes
}

// recovered converts a panic in fn into an error for that call alone.
func recovered[T, R any](fn func(context.Context, T) (R, error)) func(context.Context, T) (R, error) {
	return func(ctx context.Context, task T) (value R, err error) {
		defer func() {
			if p := recover(); p != nil {
				var zero R
				value, err = zero, fmt.Errorf("%w: %v", ErrTaskPanicked, p)
			}
		}()
		return fn(ctx, task)
	}
}

type callResult[R any] struct {
	value R
	err   error
}

func callWithTimeout[T, R any](ctx context.Context, timeout time.Duration, task T, fn func(context.Context, T) (R, error)) (R, error) {
	var zero R
	if timeout <= 0 {
		return fn(ctx, task)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Buffered so a late callee can still deliver and exit after we stop waiting.
	done := make(chan callResult[R], 1)
	go func() {
		value, err := fn(callCtx, task)
		done <- callResult[R]{value: value, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return zero, fmt.Errorf("%w after %s: %w", ErrSearchTimeout, timeout, res.err)
		}
		return res.value, res.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%w after %s", ErrSearchTimeout, timeout)
	}
}
