package actionqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/estrateji/satchel/internal/domain"
	"github.com/estrateji/satchel/internal/metrics"
	"github.com/estrateji/satchel/internal/store"
	"github.com/google/uuid"
)

// DefaultKey is the local key holding the queue
const DefaultKey = "offlineQueue"

// Queue is an ordered, persistent log of actions waiting for delivery.
// An item leaves only when the server accepts it, rejects it permanently,
// or the retry policy gives up on it.
type Queue struct {
	store     *store.Store
	key       string
	deliverer domain.Deliverer
	conn      domain.Connectivity
	policy    RetryPolicy
	clock     domain.Clock
	metrics   *metrics.Metrics
	logger    *slog.Logger

	running atomic.Bool
}

// Option configures a Queue
type Option func(*Queue)

func WithClock(c domain.Clock) Option { return func(q *Queue) { q.clock = c } }

func WithMetrics(m *metrics.Metrics) Option { return func(q *Queue) { q.metrics = m } }

// WithKey stores the queue under a different local key
func WithKey(key string) Option { return func(q *Queue) { q.key = key } }

// New creates a queue. A nil policy means DefaultPolicy.
func New(s *store.Store, d domain.Deliverer, conn domain.Connectivity, policy RetryPolicy, logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == nil {
		policy = DefaultPolicy
	}
	q := &Queue{
		store:     s,
		key:       DefaultKey,
		deliverer: d,
		conn:      conn,
		policy:    policy,
		clock:     domain.SystemClock,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// RetryResult summarizes one delivery pass
type RetryResult struct {
	Attempted int
	Delivered int
	Failed    int // failed and kept for a later pass
	Dropped   int
	Deferred  int // not due yet under the backoff policy
	Skipped   bool
}

// queueState is the decoded queue. Records that fail to decode are kept
// verbatim so a newer or corrupt entry is never silently discarded.
type queueState struct {
	items []domain.QueuedAction
	bad   []json.RawMessage
}

func (q *Queue) load(tx *store.Txn) (queueState, error) {
	var raws []json.RawMessage
	if _, err := store.GetJSON(tx, store.NSLocal, q.key, &raws); err != nil {
		return queueState{}, err
	}

	var st queueState
	for _, raw := range raws {
		item, err := decodeItem(raw)
		if err != nil {
			q.logger.Warn("undecodable queue item kept aside", "error", err, "queue", q.key)
			st.bad = append(st.bad, raw)
			continue
		}
		st.items = append(st.items, item)
	}
	return st, nil
}

func (q *Queue) save(tx *store.Txn, st queueState) error {
	raws := make([]json.RawMessage, 0, len(st.items)+len(st.bad))
	for _, item := range st.items {
		raw, err := encodeItem(item)
		if err != nil {
			return err
		}
		raws = append(raws, raw)
	}
	raws = append(raws, st.bad...)
	if len(raws) == 0 {
		return tx.Delete(store.NSLocal, q.key)
	}
	return store.PutJSON(tx, store.NSLocal, q.key, raws)
}

// Add appends an action and returns its id.
func (q *Queue) Add(action domain.Action) (string, error) {
	if action == nil {
		return "", errors.New("nil action")
	}
	if _, err := wrapAction(action); err != nil {
		return "", err
	}

	item := domain.QueuedAction{
		ID:        uuid.NewString(),
		Action:    action,
		CreatedAt: q.clock(),
	}

	depth := 0
	err := q.store.Update(func(tx *store.Txn) error {
		st, err := q.load(tx)
		if err != nil {
			return err
		}
		st.items = append(st.items, item)
		depth = len(st.items)
		return q.save(tx, st)
	})
	if err != nil {
		q.logger.Error("failed to queue action", "error", err, "kind", action.Kind())
		return "", err
	}

	q.metrics.QueueDepth(depth)
	q.logger.Info("queued for sync", "id", item.ID, "kind", action.Kind())
	return item.ID, nil
}

// Items returns the queued actions in insertion order
func (q *Queue) Items() []domain.QueuedAction {
	var st queueState
	err := q.store.View(func(tx *store.Txn) error {
		var err error
		st, err = q.load(tx)
		return err
	})
	if err != nil {
		q.logger.Error("failed to read queue", "error", err, "queue", q.key)
		return nil
	}
	return st.items
}

func (q *Queue) Count() int {
	return len(q.Items())
}

// CountByType groups pending actions by kind
func (q *Queue) CountByType() map[domain.ActionKind]int {
	counts := make(map[domain.ActionKind]int)
	for _, item := range q.Items() {
		counts[item.Action.Kind()]++
	}
	return counts
}

// Clear drops every queued action, including undecodable ones
func (q *Queue) Clear() error {
	err := q.store.Update(func(tx *store.Txn) error {
		return tx.Delete(store.NSLocal, q.key)
	})
	if err == nil {
		q.metrics.QueueDepth(0)
	}
	return err
}

// Remove drops one action by id
func (q *Queue) Remove(id string) error {
	return q.store.Update(func(tx *store.Txn) error {
		st, err := q.load(tx)
		if err != nil {
			return err
		}
		kept := st.items[:0]
		found := false
		for _, item := range st.items {
			if item.ID == id {
				found = true
				continue
			}
			kept = append(kept, item)
		}
		if !found {
			return fmt.Errorf("queued action %s: %w", id, domain.ErrNotFound)
		}
		st.items = kept
		return q.save(tx, st)
	})
}

type outcome struct {
	remove bool
	item   domain.QueuedAction
}

// Retry attempts every due item once, in insertion order. It does nothing
// while offline or while another pass is running. Items appended during the
// pass are kept.
func (q *Queue) Retry(ctx context.Context) (RetryResult, error) {
	var res RetryResult
	if q.conn != nil && !q.conn.Online() {
		return res, nil
	}
	if !q.running.CompareAndSwap(false, true) {
		res.Skipped = true
		return res, nil
	}
	defer q.running.Store(false)

	items := q.Items()
	if len(items) == 0 {
		return res, nil
	}

	now := q.clock()
	outcomes := make(map[string]outcome, len(items))

pass:
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		if !item.NextAttemptAt.IsZero() && now.Before(item.NextAttemptAt) {
			res.Deferred++
			continue
		}

		kind := string(item.Action.Kind())
		res.Attempted++
		err := q.deliverer.Deliver(ctx, item.Action.Endpoint(), payloadOf(item.Action))

		switch {
		case err == nil:
			res.Delivered++
			outcomes[item.ID] = outcome{remove: true}
			q.metrics.Delivered(kind)

		case errors.Is(err, domain.ErrServerOffline), errors.Is(err, domain.ErrAuthFailed), ctx.Err() != nil:
			// Not the item's fault: leave it untouched and stop the pass.
			res.Attempted--
			q.logger.Warn("delivery pass interrupted", "error", err, "id", item.ID)
			break pass

		case domain.IsPermanent(err):
			res.Dropped++
			outcomes[item.ID] = outcome{remove: true}
			q.metrics.Dropped(kind, "rejected")
			q.logger.Error("server rejected queued action, dropping", "error", err, "id", item.ID, "kind", kind)

		default:
			item.RetryCount++
			item.LastError = err.Error()
			q.metrics.Failed(kind)

			drop, at := q.policy.Next(item.RetryCount, now)
			if drop {
				res.Dropped++
				outcomes[item.ID] = outcome{remove: true}
				q.metrics.Dropped(kind, "exhausted")
				q.logger.Error("dropping queued action after repeated failures",
					"error", fmt.Errorf("%w: %v", domain.ErrRetryExhausted, err),
					"id", item.ID, "kind", kind, "attempts", item.RetryCount)
				continue
			}
			item.NextAttemptAt = at
			res.Failed++
			outcomes[item.ID] = outcome{item: item}
			q.logger.Warn("delivery failed, will retry", "error", err, "id", item.ID, "kind", kind, "attempts", item.RetryCount)
		}
	}

	if len(outcomes) == 0 {
		return res, nil
	}

	depth := 0
	err := q.store.Update(func(tx *store.Txn) error {
		st, err := q.load(tx)
		if err != nil {
			return err
		}
		kept := st.items[:0]
		for _, item := range st.items {
			o, seen := outcomes[item.ID]
			switch {
			case !seen:
				kept = append(kept, item)
			case !o.remove:
				kept = append(kept, o.item)
			}
		}
		st.items = kept
		depth = len(kept)
		return q.save(tx, st)
	})
	if err != nil {
		q.logger.Error("failed to persist delivery results", "error", err, "queue", q.key)
		return res, err
	}

	q.metrics.QueueDepth(depth)
	if res.Delivered > 0 {
		q.logger.Info("synced queued actions", "delivered", res.Delivered, "remaining", depth)
	}
	return res, nil
}

// Watch runs Retry on every offline to online transition until ctx is done.
func (q *Queue) Watch(ctx context.Context) {
	if q.conn == nil {
		return
	}
	unsubscribe := q.conn.Subscribe(func(online bool) {
		if !online {
			return
		}
		go func() {
			if _, err := q.Retry(ctx); err != nil {
				q.logger.Error("retry on reconnect failed", "error", err)
			}
		}()
	})
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
}
