package runonce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sirvaulterscoff/run-once/store"
)

// runHandler invokes handler, imposing a hard deadline of ttlMs when
// automaticTimeout is set and ttlMs > 0 (spec section 4.3 step 1). The
// handler's own goroutine races against the deadline via errgroup so a
// handler that never checks ctx still surfaces TimeoutError promptly,
// rather than blocking the invocation forever; the abandoned goroutine's
// eventual result is discarded.
func runHandler[Req, Resp any](
	ctx context.Context,
	handler func(ctx context.Context, req Req, retry bool) (Resp, error),
	req Req,
	retry bool,
	ttlMs int64,
	automaticTimeout bool,
	key string,
) (Resp, error) {
	if !automaticTimeout || ttlMs <= 0 {
		return handler(ctx, req, retry)
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, time.Duration(ttlMs)*time.Millisecond)
	defer cancel()

	g, gctx := errgroup.WithContext(deadlineCtx)
	type outcome struct {
		resp Resp
		err  error
	}
	done := make(chan outcome, 1)
	g.Go(func() error {
		resp, err := handler(gctx, req, retry)
		done <- outcome{resp, err}
		return err
	})

	select {
	case o := <-done:
		return o.resp, o.err
	case <-deadlineCtx.Done():
		var zero Resp
		return zero, &TimeoutError{Key: key, TTLMs: ttlMs}
	}
}

// classifyFailure maps a handler error onto a terminal store status and the
// error delivered to the caller, per the table in spec section 4.4.
func classifyFailure(key string, err error, isRetryable func(error) bool) (status store.Status, surfaced error) {
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return store.StatusFailedRetryable, err
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return store.StatusFailedRetryable, err
	}

	if isRetryable != nil && isRetryable(err) {
		return store.StatusFailedRetryable, &RetryableError{Key: key, Err: err}
	}

	return store.StatusFailedNonRetryable, err
}

// runPipeline drives preprocess-resolved req through handler → record →
// postprocess, per spec section 4.3. req has already been resolved by the
// caller (RunOnce): recomputed via Preprocess for a non-persistent request,
// or rehydrated from the stored request_blob for a persistent one.
func runPipeline[Req, Resp, Result any](
	ctx context.Context,
	c *Coordinator,
	key string,
	rq Request[Req, Resp, Result],
	req Req,
	retry bool,
	isRetryable func(error) bool,
) (Result, error) {
	var zero Result

	if retry {
		safeCall(func() { c.logger.Retry(key) })
	} else {
		safeCall(func() { c.logger.Started(key) })
	}

	resp, err := runHandler(ctx, rq.Handler, req, retry, rq.TTLMs, rq.AutomaticTimeout, key)
	if err != nil {
		var timeoutErr *TimeoutError
		if errors.As(err, &timeoutErr) {
			safeCall(func() { c.logger.Timeout(key, err) })
		} else {
			safeCall(func() { c.logger.Error(key, err) })
		}

		status, surfaced := classifyFailure(key, err, isRetryable)
		if status == store.StatusFailedRetryable {
			safeCall(func() { c.logger.MarkRetryable(key) })
		} else {
			safeCall(func() { c.logger.MarkNonRetryable(key) })
		}

		if finishErr := c.store.Finish(ctx, key, nil, status); finishErr != nil {
			return zero, fmt.Errorf("runonce: key %q: recording failure status: %w (original error: %v)", key, finishErr, surfaced)
		}
		return zero, surfaced
	}

	responseBlob, err := rq.ResponseCodec.Encode(resp)
	if err != nil {
		return zero, fmt.Errorf("runonce: key %q: encode response: %w", key, err)
	}
	if err := c.store.Finish(ctx, key, responseBlob, store.StatusCompleted); err != nil {
		return zero, fmt.Errorf("runonce: key %q: recording completion: %w", key, err)
	}
	safeCall(func() { c.logger.Finished(key) })

	result, err := rq.Postprocess(ctx, resp, false)
	if err != nil {
		// The record already shows COMPLETED and will be replayed, not
		// re-run, on the next attempt — postprocess failures are not
		// protected by the idempotency guarantee (spec section 9).
		safeCall(func() { c.logger.Error(key, err) })
		_, surfaced := classifyFailure(key, err, isRetryable)
		return zero, surfaced
	}
	return result, nil
}
