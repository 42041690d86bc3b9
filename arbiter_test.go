package runonce

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sirvaulterscoff/run-once/store"
)

// fakeStore is an in-process, map-backed store.Store used to exercise
// arbitrate's branching without a real database. Atomic per key, like any
// conforming implementation must be.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]store.Record
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]store.Record)}
}

func (f *fakeStore) Insert(ctx context.Context, key string, requestBlob []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[key]; ok {
		return store.ErrDuplicateKey
	}
	f.records[key] = store.Record{
		Key:         key,
		StartedAt:   time.Now(),
		Status:      store.StatusRunning,
		RequestBlob: requestBlob,
	}
	return nil
}

func (f *fakeStore) Load(ctx context.Context, key string) (*store.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[key]
	if !ok {
		return nil, nil
	}
	cp := rec
	return &cp, nil
}

func (f *fakeStore) Finish(ctx context.Context, key string, responseBlob []byte, status store.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[key]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now()
	rec.FinishedAt = &now
	rec.Status = status
	rec.ResponseBlob = responseBlob
	f.records[key] = rec
	return nil
}

func (f *fakeStore) Claim(ctx context.Context, key string, expected store.Status) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[key]
	if !ok {
		return false, store.ErrNotFound
	}
	if rec.Status != expected {
		return false, nil
	}
	rec.Status = store.StatusRunning
	rec.StartedAt = time.Now()
	f.records[key] = rec
	return true, nil
}

func TestArbitrate_FreshOnAbsentKey(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()

	out, err := arbitrate(ctx, s, "k1", false, nil, 0, time.Now)
	require.NoError(t, err)
	require.Equal(t, outcomeFresh, out.kind)
}

func TestArbitrate_FreshPersistentMaterializesBlob(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()

	out, err := arbitrate(ctx, s, "k1", true, func(context.Context) ([]byte, error) {
		return []byte(`{"v":1}`), nil
	}, 0, time.Now)
	require.NoError(t, err)
	require.Equal(t, outcomeFresh, out.kind)
	require.Equal(t, []byte(`{"v":1}`), out.requestBlob)
}

func TestArbitrate_ReplayOnCompleted(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()
	require.NoError(t, s.Insert(ctx, "k1", nil))
	require.NoError(t, s.Finish(ctx, "k1", []byte(`"resp"`), store.StatusCompleted))

	out, err := arbitrate(ctx, s, "k1", false, nil, 0, time.Now)
	require.NoError(t, err)
	require.Equal(t, outcomeReplay, out.kind)
	require.Equal(t, []byte(`"resp"`), out.responseBlob)
}

func TestArbitrate_PreviouslyFailedHardOnNonRetryable(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()
	require.NoError(t, s.Insert(ctx, "k1", nil))
	require.NoError(t, s.Finish(ctx, "k1", nil, store.StatusFailedNonRetryable))

	out, err := arbitrate(ctx, s, "k1", false, nil, 0, time.Now)
	require.NoError(t, err)
	require.Equal(t, outcomePreviouslyFailedHard, out.kind)
}

func TestArbitrate_RetryAfterRetryableFailure(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()
	require.NoError(t, s.Insert(ctx, "k1", []byte("req")))
	require.NoError(t, s.Finish(ctx, "k1", nil, store.StatusFailedRetryable))

	out, err := arbitrate(ctx, s, "k1", false, nil, 0, time.Now)
	require.NoError(t, err)
	require.Equal(t, outcomeRetry, out.kind)
	require.Equal(t, []byte("req"), out.requestBlob)

	rec, err := s.Load(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, store.StatusRunning, rec.Status)
}

func TestArbitrate_OnlyOneClaimWinsOnRetryableFailure(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()
	require.NoError(t, s.Insert(ctx, "k1", nil))
	require.NoError(t, s.Finish(ctx, "k1", nil, store.StatusFailedRetryable))

	out1, err := arbitrate(ctx, s, "k1", false, nil, 0, time.Now)
	require.NoError(t, err)
	require.Equal(t, outcomeRetry, out1.kind)

	out2, err := arbitrate(ctx, s, "k1", false, nil, 0, time.Now)
	require.NoError(t, err)
	require.Equal(t, outcomeAlreadyRunning, out2.kind)
}

func TestArbitrate_RunningWithinLeaseIsAlreadyRunning(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()
	require.NoError(t, s.Insert(ctx, "k1", nil))

	out, err := arbitrate(ctx, s, "k1", false, nil, 60_000, time.Now)
	require.NoError(t, err)
	require.Equal(t, outcomeAlreadyRunning, out.kind)
}

func TestArbitrate_RunningWithZeroTTLNeverReclaims(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()
	require.NoError(t, s.Insert(ctx, "k1", nil))

	future := func() time.Time { return time.Now().Add(24 * time.Hour) }
	out, err := arbitrate(ctx, s, "k1", false, nil, 0, future)
	require.NoError(t, err)
	require.Equal(t, outcomeAlreadyRunning, out.kind)
}

func TestArbitrate_ExpiredLeaseReclaimsAsRetry(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()
	require.NoError(t, s.Insert(ctx, "k1", []byte("req")))

	future := func() time.Time { return time.Now().Add(time.Hour) }
	out, err := arbitrate(ctx, s, "k1", false, nil, 1, future)
	require.NoError(t, err)
	require.Equal(t, outcomeRetry, out.kind)
}

func TestArbitrate_ConcurrentInsertRaceFallsThroughToLoad(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore()

	// Simulates a second invocation whose own insert lost the race: the
	// competing invocation inserts the key after this one's Load saw it
	// absent but before this one's Insert.
	out, err := arbitrate(ctx, s, "k1", true, func(ctx context.Context) ([]byte, error) {
		require.NoError(t, s.Insert(ctx, "k1", nil))
		return []byte("req"), nil
	}, 0, time.Now)
	require.NoError(t, err)
	require.Equal(t, outcomeAlreadyRunning, out.kind)
}
