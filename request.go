package runonce

import (
	"context"
	"encoding/json"
)

// Codec converts a value of type T to and from its serialized
// representation. Callers supply one per request/response type; the
// coordinator never inspects the bytes itself.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(b []byte) (T, error)
}

// JSONCodec is the default Codec, grounded on encoding/json. A nil-valued T
// encodes to the 4-byte literal "null" rather than a zero-length blob, so a
// persisted request_blob can distinguish "stored null" from "never stored"
// (see Request.Persistent).
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Encode(v T) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec[T]) Decode(b []byte) (T, error) {
	var v T
	err := json.Unmarshal(b, &v)
	return v, err
}

// Request is the ephemeral, caller-supplied descriptor for one invocation,
// per spec section 3.2. Req is the preprocessed input type, Resp is the
// handler's output type, and Result is what postprocess hands back to the
// caller.
type Request[Req, Resp, Result any] struct {
	// Preprocess produces the input value passed to Handler. Called at most
	// once per invocation of RunOnce, unless Persistent is true and a prior
	// attempt already stored a request_blob, in which case the stored value
	// is rehydrated via RequestCodec instead.
	Preprocess func(ctx context.Context) (Req, error)

	// Handler is the idempotent operation itself. retry is true iff this
	// invocation is re-entering after a prior FAILED_RETRYABLE or an
	// expired lease.
	Handler func(ctx context.Context, req Req, retry bool) (Resp, error)

	// Postprocess transforms the handler's (or replayed) response into the
	// value RunOnce returns. alreadyCompleted is true iff resp came from a
	// replay rather than a fresh handler invocation.
	Postprocess func(ctx context.Context, resp Resp, alreadyCompleted bool) (Result, error)

	// TTLMs is the lease duration in milliseconds and, if AutomaticTimeout
	// is also set, the handler's hard deadline. A value <= 0 disables both.
	TTLMs int64

	// AutomaticTimeout, if true and TTLMs > 0, wraps Handler in a hard
	// timeout rather than using TTLMs only as a reclamation lease.
	AutomaticTimeout bool

	// Persistent, if true, serializes Preprocess's output into
	// request_blob on first insert via RequestCodec, and rehydrates it on
	// every subsequent attempt instead of recomputing it.
	Persistent bool

	// RequestCodec serializes/deserializes Req. Required iff Persistent.
	RequestCodec Codec[Req]

	// ResponseCodec serializes/deserializes Resp. Required — every
	// completed response is persisted for replay.
	ResponseCodec Codec[Resp]
}
