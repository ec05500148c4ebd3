package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/localstore"
	"github.com/fjod/go_cart/storefront/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReporter struct {
	m       sync.RWMutex
	dropped []domain.QueuedOperation
}

func (r *mockReporter) ReportDropped(_ context.Context, op domain.QueuedOperation, _ error) error {
	r.m.Lock()
	defer r.m.Unlock()
	r.dropped = append(r.dropped, op)
	return nil
}

func (r *mockReporter) count() int {
	r.m.RLock()
	defer r.m.RUnlock()
	return len(r.dropped)
}

// mockExecutor fails the listed product ids with the mapped error.
type mockExecutor struct {
	m        sync.RWMutex
	failures map[string]error
	replayed []string
}

func (e *mockExecutor) exec(_ context.Context, op domain.QueuedOperation) error {
	e.m.Lock()
	defer e.m.Unlock()
	if err, ok := e.failures[op.Data.ProductID]; ok {
		return err
	}
	e.replayed = append(e.replayed, op.Data.ProductID)
	return nil
}

func (e *mockExecutor) fail(productID string, err error) {
	e.m.Lock()
	defer e.m.Unlock()
	if e.failures == nil {
		e.failures = map[string]error{}
	}
	if err == nil {
		delete(e.failures, productID)
		return
	}
	e.failures[productID] = err
}

func (e *mockExecutor) order() []string {
	e.m.RLock()
	defer e.m.RUnlock()
	return append([]string(nil), e.replayed...)
}

func newQueue(backend localstore.Backend, rep *mockReporter) *Queue {
	return New(backend, domain.KindCart, "u1",
		WithReporter(rep),
		WithReplayRate(0),
		WithLogger(logging.Discard()),
	)
}

func enqueueAdds(t *testing.T, q *Queue, productIDs ...string) {
	t.Helper()
	for _, id := range productIDs {
		_, err := q.Enqueue(context.Background(), domain.OperationAdd, domain.OperationData{ProductID: id, Quantity: 1})
		require.NoError(t, err)
	}
}

func TestEnqueue_AssignsMetadata(t *testing.T) {
	q := newQueue(localstore.NewMemoryBackend(), &mockReporter{})

	op, err := q.Enqueue(context.Background(), domain.OperationRemove, domain.OperationData{ProductID: "P1"})
	require.NoError(t, err)

	assert.NotEmpty(t, op.ID)
	assert.Equal(t, domain.KindCart, op.Kind)
	assert.Equal(t, "u1", op.OwnerID)
	assert.Equal(t, domain.DefaultMaxRetries, op.MaxRetries)
	assert.Equal(t, 0, op.RetryCount)
	assert.WithinDuration(t, time.Now(), op.Timestamp, time.Minute)
	assert.Equal(t, 1, q.Len(context.Background()))
}

func TestDrain_ReplaysInOrderAndEmptiesQueue(t *testing.T) {
	q := newQueue(localstore.NewMemoryBackend(), &mockReporter{})
	enqueueAdds(t, q, "P1", "P2", "P3")
	exec := &mockExecutor{}

	res, err := q.Drain(context.Background(), exec.exec)
	require.NoError(t, err)

	assert.Equal(t, []string{"P1", "P2", "P3"}, exec.order())
	assert.Equal(t, DrainResult{Succeeded: 3}, res)
	assert.Equal(t, 0, q.Len(context.Background()))
}

func TestDrain_TransientFailureBlocksLaterOperations(t *testing.T) {
	ctx := context.Background()
	q := newQueue(localstore.NewMemoryBackend(), &mockReporter{})
	enqueueAdds(t, q, "P1", "P2")
	exec := &mockExecutor{}
	exec.fail("P1", domain.ErrUnavailable)

	res, err := q.Drain(ctx, exec.exec)
	require.NoError(t, err)
	assert.True(t, res.Blocked)
	assert.Equal(t, 2, res.Remaining)
	assert.Empty(t, exec.order())

	pending := q.Pending(ctx)
	require.Len(t, pending, 2)
	assert.Equal(t, 1, pending[0].RetryCount)
	assert.Equal(t, "P1", pending[0].Data.ProductID)

	exec.fail("P1", nil)
	_, err = q.Drain(ctx, exec.exec)
	require.NoError(t, err)
	assert.Equal(t, []string{"P1", "P2"}, exec.order())
}

func TestDrain_DropsAfterMaxRetriesAndReportsOnce(t *testing.T) {
	ctx := context.Background()
	rep := &mockReporter{}
	q := newQueue(localstore.NewMemoryBackend(), rep)
	enqueueAdds(t, q, "bad", "good")
	exec := &mockExecutor{}
	exec.fail("bad", domain.ErrUnavailable)

	for i := 0; i < domain.DefaultMaxRetries-1; i++ {
		res, err := q.Drain(ctx, exec.exec)
		require.NoError(t, err)
		require.True(t, res.Blocked)
	}
	assert.Equal(t, 0, rep.count())

	res, err := q.Drain(ctx, exec.exec)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, rep.count())
	assert.Equal(t, []string{"good"}, exec.order())
	assert.Equal(t, 0, q.Len(ctx))

	_, err = q.Drain(ctx, exec.exec)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.count())
}

func TestDrain_UnauthorizedStopsWithoutConsumingRetry(t *testing.T) {
	ctx := context.Background()
	q := newQueue(localstore.NewMemoryBackend(), &mockReporter{})
	enqueueAdds(t, q, "P1")
	exec := &mockExecutor{}
	exec.fail("P1", domain.ErrUnauthorized)

	res, err := q.Drain(ctx, exec.exec)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, 1, res.Remaining)

	pending := q.Pending(ctx)
	require.Len(t, pending, 1)
	assert.Equal(t, 0, pending[0].RetryCount)
}

func TestDrain_PermanentFailureIsDropped(t *testing.T) {
	ctx := context.Background()
	rep := &mockReporter{}
	q := newQueue(localstore.NewMemoryBackend(), rep)
	enqueueAdds(t, q, "P1", "P2")
	exec := &mockExecutor{}
	exec.fail("P1", domain.ErrInvalidItem)

	res, err := q.Drain(ctx, exec.exec)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, []string{"P2"}, exec.order())
	assert.Equal(t, 1, rep.count())
}

func TestDrain_ConcurrentDrainIsRejected(t *testing.T) {
	ctx := context.Background()
	q := newQueue(localstore.NewMemoryBackend(), &mockReporter{})
	enqueueAdds(t, q, "P1")

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := q.Drain(ctx, func(context.Context, domain.QueuedOperation) error {
			close(started)
			<-release
			return nil
		})
		done <- err
	}()

	<-started
	assert.True(t, q.Draining())
	_, err := q.Drain(ctx, func(context.Context, domain.QueuedOperation) error { return nil })
	assert.ErrorIs(t, err, ErrDrainInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, q.Draining())
	assert.Equal(t, 0, q.Len(ctx))
}

func TestDrain_ReentrantCallFromExecutorIsRejected(t *testing.T) {
	ctx := context.Background()
	q := newQueue(localstore.NewMemoryBackend(), &mockReporter{})
	enqueueAdds(t, q, "P1")

	var inner error
	_, err := q.Drain(ctx, func(ctx context.Context, _ domain.QueuedOperation) error {
		_, inner = q.Drain(ctx, func(context.Context, domain.QueuedOperation) error { return nil })
		return nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, inner, ErrDrainInProgress)
}

func TestDrain_OperationsEnqueuedDuringDrainAreKept(t *testing.T) {
	ctx := context.Background()
	q := newQueue(localstore.NewMemoryBackend(), &mockReporter{})
	enqueueAdds(t, q, "P1")

	var once sync.Once
	exec := func(ctx context.Context, op domain.QueuedOperation) error {
		once.Do(func() {
			_, err := q.Enqueue(ctx, domain.OperationAdd, domain.OperationData{ProductID: "P2"})
			require.NoError(t, err)
		})
		return nil
	}

	res, err := q.Drain(ctx, exec)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
}

func TestQueue_SurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "storefront.db")

	backend, err := localstore.OpenSQLite(path)
	require.NoError(t, err)
	enqueueAdds(t, newQueue(backend, &mockReporter{}), "P1", "P2")
	require.NoError(t, backend.Close())

	reopened, err := localstore.OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	pending := newQueue(reopened, &mockReporter{}).Pending(ctx)
	require.Len(t, pending, 2)
	assert.Equal(t, "P1", pending[0].Data.ProductID)
	assert.Equal(t, "P2", pending[1].Data.ProductID)
}

func TestQueue_ScopedPerOwner(t *testing.T) {
	ctx := context.Background()
	backend := localstore.NewMemoryBackend()
	enqueueAdds(t, newQueue(backend, &mockReporter{}), "P1")

	other := New(backend, domain.KindCart, "u2", WithLogger(logging.Discard()))
	assert.Equal(t, 0, other.Len(ctx))
	assert.Equal(t, "storefront:queue:cart:u1", Key(domain.KindCart, "u1"))
}

func TestQueue_Clear(t *testing.T) {
	ctx := context.Background()
	q := newQueue(localstore.NewMemoryBackend(), &mockReporter{})
	enqueueAdds(t, q, "P1", "P2")

	require.NoError(t, q.Clear(ctx))
	assert.Equal(t, 0, q.Len(ctx))
}

func TestDrain_RateLimitHonorsContext(t *testing.T) {
	q := New(localstore.NewMemoryBackend(), domain.KindCart, "u1",
		WithReplayRate(0.001),
		WithLogger(logging.Discard()),
	)
	enqueueAdds(t, q, "P1", "P2")
	exec := &mockExecutor{}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := q.Drain(ctx, exec.exec)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrDrainInProgress))
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Remaining)
}
