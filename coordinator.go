package runonce

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirvaulterscoff/run-once/store"
)

// Coordinator is the Coordinator Facade of spec section 2(D): the
// process-wide collaborator holding the backing Store, with an explicit
// constructor rather than a package-level singleton (spec section 9). It
// carries no per-invocation state; one Coordinator serves arbitrarily many
// concurrent RunOnce calls across arbitrarily many keys.
type Coordinator struct {
	store       store.Store
	logger      Logger
	isRetryable func(error) bool
	now         func() time.Time
}

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

// WithLogger installs a Logger side channel. Overrides the no-op default.
func WithLogger(l Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithIsRetryable installs the default is_retryable predicate used when
// RunOnce is called without one of its own. Overrides Retryable.
func WithIsRetryable(f func(error) bool) Option {
	return func(c *Coordinator) {
		if f != nil {
			c.isRetryable = f
		}
	}
}

// WithClock overrides the clock used for lease-expiry comparisons.
// Intended for tests exercising spec section 4.2's lease reclamation
// without real sleeps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// New constructs a Coordinator backed by st. st must already be migrated;
// New does not run migrations or otherwise manage the store's lifecycle.
func New(st store.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:       st,
		logger:      noopLogger{},
		isRetryable: Retryable,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// resolveRequest produces the typed Req value the handler should see, per
// the rule of spec section 4.2's tie-breaks: recomputed via Preprocess for
// a non-persistent request on every attempt, or rehydrated from the stored
// request_blob (set on first insert) for a persistent one.
func resolveRequest[Req, Resp, Result any](ctx context.Context, rq Request[Req, Resp, Result], blob []byte) (Req, error) {
	var zero Req
	if !rq.Persistent {
		return rq.Preprocess(ctx)
	}
	if rq.RequestCodec == nil {
		return zero, errors.New("runonce: Persistent requests require a RequestCodec")
	}
	return rq.RequestCodec.Decode(blob)
}

// RunOnce is the single public entry point of spec section 6.1. Go methods
// cannot introduce new type parameters, so RunOnce is a free function over
// a plain *Coordinator rather than a generic method.
//
// isRetryable overrides the Coordinator's default predicate for this call
// only; pass nothing to use the Coordinator's configured predicate (itself
// Retryable unless overridden via WithIsRetryable).
func RunOnce[Req, Resp, Result any](
	ctx context.Context,
	c *Coordinator,
	key string,
	rq Request[Req, Resp, Result],
	isRetryable ...func(error) bool,
) (Result, error) {
	var zero Result

	if strings.TrimSpace(key) == "" {
		return zero, ErrEmptyKey
	}
	if rq.ResponseCodec == nil {
		return zero, fmt.Errorf("runonce: key %q: ResponseCodec is required", key)
	}

	retryPred := c.isRetryable
	if len(isRetryable) > 0 && isRetryable[0] != nil {
		retryPred = isRetryable[0]
	}

	materialize := func(ctx context.Context) ([]byte, error) {
		if rq.RequestCodec == nil {
			return nil, fmt.Errorf("runonce: key %q: Persistent requests require a RequestCodec", key)
		}
		req, err := rq.Preprocess(ctx)
		if err != nil {
			return nil, err
		}
		return rq.RequestCodec.Encode(req)
	}

	outcome, err := arbitrate(ctx, c.store, key, rq.Persistent, materialize, rq.TTLMs, c.now)
	if err != nil {
		return zero, fmt.Errorf("runonce: key %q: %w", key, err)
	}

	switch outcome.kind {
	case outcomeReplay:
		safeCall(func() { c.logger.Replay(key) })
		resp, err := rq.ResponseCodec.Decode(outcome.responseBlob)
		if err != nil {
			return zero, fmt.Errorf("runonce: key %q: decode stored response: %w", key, err)
		}
		return rq.Postprocess(ctx, resp, true)

	case outcomeAlreadyRunning:
		safeCall(func() { c.logger.AlreadyRunning(key) })
		return zero, &AlreadyRunningError{Key: key}

	case outcomePreviouslyFailedHard:
		return zero, &OperationFailedError{Key: key}

	case outcomeFresh, outcomeRetry:
		req, err := resolveRequest(ctx, rq, outcome.requestBlob)
		if err != nil {
			return zero, fmt.Errorf("runonce: key %q: resolve request: %w", key, err)
		}
		return runPipeline(ctx, c, key, rq, req, outcome.kind == outcomeRetry, retryPred)

	default:
		return zero, fmt.Errorf("runonce: key %q: unrecognized arbitration outcome", key)
	}
}
