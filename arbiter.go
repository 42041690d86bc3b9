package runonce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirvaulterscoff/run-once/store"
)

// outcomeKind enumerates the Shared-State Outcome variants of spec
// section 3.3.
type outcomeKind int

const (
	outcomeFresh outcomeKind = iota
	outcomeRetry
	outcomeReplay
	outcomeAlreadyRunning
	outcomePreviouslyFailedHard
)

// arbiterOutcome is the Arbiter's decision for one invocation. RequestBlob
// is populated for outcomeFresh/outcomeRetry only when the request is
// persistent; ResponseBlob is populated for outcomeReplay only.
type arbiterOutcome struct {
	kind         outcomeKind
	requestBlob  []byte
	responseBlob []byte
}

// arbitrate implements the algorithm of spec section 4.2. materialize is
// called at most once, and only when the key is absent and persistent is
// true; it runs the caller's preprocess and returns the encoded request
// blob to insert.
//
// Each store.Store method is independently atomic per key (spec section
// 4.1), so the load-then-insert-or-branch sequence below needs no explicit
// cross-call transaction handle: a losing insert surfaces ErrDuplicateKey
// and the arbiter falls through to reload and branch on the winner's row,
// exactly as spec section 4.2 step 2 describes.
func arbitrate(
	ctx context.Context,
	st store.Store,
	key string,
	persistent bool,
	materialize func(ctx context.Context) ([]byte, error),
	ttlMs int64,
	now func() time.Time,
) (arbiterOutcome, error) {
	rec, err := st.Load(ctx, key)
	if err != nil {
		return arbiterOutcome{}, fmt.Errorf("runonce: load %q: %w", key, err)
	}

	if rec == nil {
		var blob []byte
		if persistent {
			blob, err = materialize(ctx)
			if err != nil {
				return arbiterOutcome{}, err
			}
		}
		if err := st.Insert(ctx, key, blob); err == nil {
			return arbiterOutcome{kind: outcomeFresh, requestBlob: blob}, nil
		} else if !errors.Is(err, store.ErrDuplicateKey) {
			return arbiterOutcome{}, fmt.Errorf("runonce: insert %q: %w", key, err)
		}

		rec, err = st.Load(ctx, key)
		if err != nil {
			return arbiterOutcome{}, fmt.Errorf("runonce: reload %q: %w", key, err)
		}
		if rec == nil {
			return arbiterOutcome{}, fmt.Errorf("runonce: record %q vanished after duplicate-key insert", key)
		}
	}

	switch rec.Status {
	case store.StatusCompleted:
		return arbiterOutcome{kind: outcomeReplay, responseBlob: rec.ResponseBlob}, nil

	case store.StatusFailedNonRetryable:
		return arbiterOutcome{kind: outcomePreviouslyFailedHard}, nil

	case store.StatusFailedRetryable:
		claimed, err := st.Claim(ctx, key, store.StatusFailedRetryable)
		if err != nil {
			return arbiterOutcome{}, fmt.Errorf("runonce: claim %q: %w", key, err)
		}
		if !claimed {
			return arbiterOutcome{kind: outcomeAlreadyRunning}, nil
		}
		return arbiterOutcome{kind: outcomeRetry, requestBlob: rec.RequestBlob}, nil

	case store.StatusRunning:
		if ttlMs > 0 {
			leaseExpires := rec.StartedAt.Add(time.Duration(ttlMs) * time.Millisecond)
			if !now().Before(leaseExpires) {
				claimed, err := st.Claim(ctx, key, store.StatusRunning)
				if err != nil {
					return arbiterOutcome{}, fmt.Errorf("runonce: claim %q: %w", key, err)
				}
				if claimed {
					return arbiterOutcome{kind: outcomeRetry, requestBlob: rec.RequestBlob}, nil
				}
			}
		}
		return arbiterOutcome{kind: outcomeAlreadyRunning}, nil

	default:
		return arbiterOutcome{}, fmt.Errorf("runonce: record %q has unrecognized status %d", key, rec.Status)
	}
}
