package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/localstore"
	"github.com/fjod/go_cart/storefront/internal/reporter"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var ErrDrainInProgress = errors.New("queue drain already in progress")

const (
	DefaultReplayRate = 10

	maxWriteAttempts = 5
)

// Executor replays one operation against the remote store.
type Executor func(ctx context.Context, op domain.QueuedOperation) error

// DrainResult summarizes one pass over the queue.
type DrainResult struct {
	Succeeded int
	Dropped   int
	Remaining int
	// Blocked is set when the head operation failed and was kept for the
	// next drain.
	Blocked bool
}

// Queue holds remote mutations of one collection of one owner that could not
// be applied yet. It is persisted through the same backend as the local
// collections, so pending work survives a restart.
type Queue struct {
	kind       domain.Kind
	owner      string
	key        string
	maxRetries int
	reporter   reporter.FailureReporter
	limiter    *rate.Limiter
	log        logrus.FieldLogger

	mu       sync.Mutex
	backend  localstore.Backend
	degraded bool

	draining atomic.Bool
}

type Option func(*Queue)

func WithMaxRetries(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxRetries = n
		}
	}
}

func WithReporter(r reporter.FailureReporter) Option {
	return func(q *Queue) {
		if r != nil {
			q.reporter = r
		}
	}
}

// WithReplayRate limits replays to perSecond operations; zero or less
// disables pacing.
func WithReplayRate(perSecond float64) Option {
	return func(q *Queue) {
		if perSecond <= 0 {
			q.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		q.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(q *Queue) {
		if l != nil {
			q.log = l
		}
	}
}

func Key(kind domain.Kind, owner string) string {
	return fmt.Sprintf("storefront:queue:%s:%s", kind, owner)
}

func New(backend localstore.Backend, kind domain.Kind, owner string, opts ...Option) *Queue {
	q := &Queue{
		kind:       kind,
		owner:      owner,
		key:        Key(kind, owner),
		maxRetries: domain.DefaultMaxRetries,
		limiter:    rate.NewLimiter(rate.Limit(DefaultReplayRate), 1),
		log:        logrus.StandardLogger(),
		backend:    backend,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.log = q.log.WithFields(logrus.Fields{"component": "queue", "key": q.key})
	if q.reporter == nil {
		q.reporter = reporter.NewLogReporter(q.log)
	}
	return q
}

func (q *Queue) Enqueue(ctx context.Context, op domain.OperationType, data domain.OperationData) (domain.QueuedOperation, error) {
	queued := domain.QueuedOperation{
		ID:         localstore.NewID(),
		Operation:  op,
		Kind:       q.kind,
		OwnerID:    q.owner,
		Data:       data,
		Timestamp:  time.Now().UTC(),
		MaxRetries: q.maxRetries,
	}
	err := q.mutate(ctx, func(ops []domain.QueuedOperation) ([]domain.QueuedOperation, bool) {
		return append(ops, queued), true
	})
	if err != nil {
		return domain.QueuedOperation{}, err
	}
	q.log.WithFields(logrus.Fields{"operation": op, "product_id": data.ProductID}).Info("operation queued for retry")
	return queued, nil
}

func (q *Queue) Pending(ctx context.Context) []domain.QueuedOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	ops, _ := q.load(ctx)
	return ops
}

func (q *Queue) Len(ctx context.Context) int {
	return len(q.Pending(ctx))
}

// Draining reports whether a drain is running.
func (q *Queue) Draining() bool {
	return q.draining.Load()
}

// Drain replays operations oldest first. A transiently failing operation
// stays at the head with one more retry counted and ends the pass, so later
// operations never overtake it. An operation that runs out of retries, or
// fails for a reason a retry cannot fix, is dropped and reported once.
// ErrUnauthorized ends the pass without counting a retry and is returned.
func (q *Queue) Drain(ctx context.Context, exec Executor) (DrainResult, error) {
	if !q.draining.CompareAndSwap(false, true) {
		return DrainResult{}, ErrDrainInProgress
	}
	defer q.draining.Store(false)

	var res DrainResult
	for {
		ops := q.Pending(ctx)
		if len(ops) == 0 {
			return res, nil
		}
		head := ops[0]

		if err := q.limiter.Wait(ctx); err != nil {
			res.Remaining = len(ops)
			return res, err
		}

		err := exec(ctx, head)
		switch {
		case err == nil:
			if err := q.remove(ctx, head.ID); err != nil {
				return res, err
			}
			res.Succeeded++

		case errors.Is(err, domain.ErrUnauthorized):
			res.Remaining = len(ops)
			res.Blocked = true
			return res, err

		case !domain.IsRetryable(err):
			if err := q.drop(ctx, head, err); err != nil {
				return res, err
			}
			res.Dropped++

		default:
			head.RetryCount++
			if head.Exhausted() {
				if err := q.drop(ctx, head, err); err != nil {
					return res, err
				}
				res.Dropped++
				continue
			}
			if err := q.update(ctx, head); err != nil {
				return res, err
			}
			q.log.WithFields(logrus.Fields{
				"operation_id": head.ID,
				"retry_count":  head.RetryCount,
			}).WithError(err).Warn("replay failed, will retry later")
			res.Remaining = len(ops)
			res.Blocked = true
			return res, nil
		}
	}
}

func (q *Queue) drop(ctx context.Context, op domain.QueuedOperation, cause error) error {
	if err := q.remove(ctx, op.ID); err != nil {
		return err
	}
	if err := q.reporter.ReportDropped(ctx, op, cause); err != nil {
		q.log.WithError(err).WithField("operation_id", op.ID).Error("failed to report dropped operation")
	}
	return nil
}

func (q *Queue) remove(ctx context.Context, id string) error {
	return q.mutate(ctx, func(ops []domain.QueuedOperation) ([]domain.QueuedOperation, bool) {
		for i := range ops {
			if ops[i].ID == id {
				return append(ops[:i], ops[i+1:]...), true
			}
		}
		return ops, false
	})
}

func (q *Queue) update(ctx context.Context, op domain.QueuedOperation) error {
	return q.mutate(ctx, func(ops []domain.QueuedOperation) ([]domain.QueuedOperation, bool) {
		for i := range ops {
			if ops[i].ID == op.ID {
				ops[i] = op
				return ops, true
			}
		}
		return ops, false
	})
}

// Clear drops every pending operation without replaying it.
func (q *Queue) Clear(ctx context.Context) error {
	return q.mutate(ctx, func(ops []domain.QueuedOperation) ([]domain.QueuedOperation, bool) {
		return nil, len(ops) > 0
	})
}

func (q *Queue) mutate(ctx context.Context, fn func([]domain.QueuedOperation) ([]domain.QueuedOperation, bool)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		ops, version := q.load(ctx)
		next, changed := fn(ops)
		if !changed {
			return nil
		}
		if next == nil {
			next = []domain.QueuedOperation{}
		}

		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to encode queue: %w", err)
		}

		_, err = q.backend.Save(ctx, q.key, data, version)
		if err == nil {
			return nil
		}
		if errors.Is(err, localstore.ErrVersionConflict) {
			continue
		}
		q.fallBack(ctx, data, err)
		return nil
	}
	return fmt.Errorf("failed to write queue %s: %w", q.key, localstore.ErrVersionConflict)
}

func (q *Queue) load(ctx context.Context) ([]domain.QueuedOperation, int64) {
	rec, err := q.backend.Load(ctx, q.key)
	if err != nil {
		if !errors.Is(err, localstore.ErrNotFound) {
			q.fallBack(ctx, nil, err)
		}
		return []domain.QueuedOperation{}, 0
	}

	var ops []domain.QueuedOperation
	if err := json.Unmarshal(rec.Data, &ops); err != nil {
		q.log.WithError(err).Error("stored queue is corrupt, starting empty")
		return []domain.QueuedOperation{}, rec.Version
	}
	return ops, rec.Version
}

func (q *Queue) fallBack(ctx context.Context, pending []byte, cause error) {
	if q.degraded {
		q.log.WithError(cause).Warn("in-memory queue storage failed")
		return
	}
	q.log.WithError(cause).Error("queue storage unavailable, keeping operations in memory for this session")

	mem := localstore.NewMemoryBackend()
	if pending != nil {
		_, _ = mem.Save(ctx, q.key, pending, 0)
	}
	q.backend = mem
	q.degraded = true
}
