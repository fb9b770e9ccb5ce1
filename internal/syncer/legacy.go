package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/estrateji/satchel/internal/domain"
	"github.com/estrateji/satchel/internal/store"
)

// Older clients kept one JSON array per item type under these local keys.
const (
	KeyMessageQueue   = "messageQueue"
	KeyExerciseQueue  = "exerciseQueue"
	KeyQuizQueue      = "quizQueue"
	KeyOfflineActions = "offlineActions"
)

// legacyRetryBudget is the attempt budget offlineActions records carry in their retries field
const legacyRetryBudget = 3

var errMalformed = errors.New("malformed legacy item")

// legacyQueue describes how to replay one legacy key
type legacyQueue struct {
	key   string
	route func(item map[string]json.RawMessage, raw json.RawMessage) (endpoint string, payload any, err error)

	// counted queues bump a retries field and drop the item once it reaches legacyRetryBudget
	counted bool
}

var legacyQueues = []legacyQueue{
	{key: KeyExerciseQueue, route: submissionRoute},
	{key: KeyQuizQueue, route: submissionRoute},
	{key: KeyMessageQueue, route: messageRoute},
	{key: KeyOfflineActions, route: actionRoute, counted: true},
}

func submissionRoute(item map[string]json.RawMessage, raw json.RawMessage) (string, any, error) {
	if isEmpty(item["type"]) || isEmpty(item["id"]) {
		return "", nil, errMalformed
	}
	var answers []json.RawMessage
	if err := json.Unmarshal(item["answers"], &answers); err != nil || answers == nil {
		return "", nil, errMalformed
	}
	return "/offline/sync", map[string]any{"submissions": []json.RawMessage{raw}}, nil
}

func messageRoute(_ map[string]json.RawMessage, raw json.RawMessage) (string, any, error) {
	return "/messages/sync", map[string]any{"messages": []json.RawMessage{raw}}, nil
}

func actionRoute(item map[string]json.RawMessage, _ json.RawMessage) (string, any, error) {
	var typ string
	if err := json.Unmarshal(item["type"], &typ); err != nil || typ == "" {
		return "", nil, errMalformed
	}
	payload := item["payload"]
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return "/api/sync/" + typ, payload, nil
}

func isEmpty(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) == 0 || bytes.Equal(v, []byte("null")) || bytes.Equal(v, []byte(`""`))
}

// legacyOp replaces (or, with nil, removes) one item once the pass ends
type legacyOp struct {
	old json.RawMessage
	new json.RawMessage
}

// drainLegacy replays one legacy key. Items leave only after delivery,
// permanent rejection, or an exhausted retry budget; malformed items stay.
// Outcomes are merged into the stored list by value so items appended during
// the pass survive.
func (o *Orchestrator) drainLegacy(ctx context.Context, lq legacyQueue) (StageReport, error) {
	var sr StageReport

	items, err := loadLegacy(o.store, lq.key)
	if err != nil || len(items) == 0 {
		return sr, err
	}

	var (
		ops     []legacyOp
		passErr error
	)
	for _, raw := range items {
		if err := ctx.Err(); err != nil {
			passErr = err
			break
		}

		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			o.logger.Warn("skipping undecodable legacy item", "queue", lq.key, "error", err)
			sr.Skipped++
			continue
		}

		// older clients flagged delivered items instead of removing them
		var synced bool
		if v, ok := fields["synced"]; ok && json.Unmarshal(v, &synced) == nil && synced {
			ops = append(ops, legacyOp{old: raw})
			sr.Skipped++
			continue
		}

		endpoint, payload, err := lq.route(fields, raw)
		if err != nil {
			o.logger.Warn("skipping malformed legacy item", "queue", lq.key, "item", string(raw))
			sr.Skipped++
			continue
		}

		err = o.deliverer.Deliver(ctx, endpoint, payload)
		switch {
		case err == nil:
			ops = append(ops, legacyOp{old: raw})
			sr.Delivered++
		case stopsPass(err):
			sr.Failed++
			passErr = err
		case domain.IsPermanent(err):
			o.logger.Warn("dropping rejected legacy item", "queue", lq.key, "error", err)
			ops = append(ops, legacyOp{old: raw})
			sr.Dropped++
		default:
			sr.Failed++
			o.logger.Warn("failed to sync legacy item", "queue", lq.key, "error", err)
			if lq.counted {
				op, dropped := bumpRetries(fields, raw)
				ops = append(ops, op)
				if dropped {
					o.logger.Error("dropping legacy item after retries",
						"queue", lq.key, "error", fmt.Errorf("%w: %v", domain.ErrRetryExhausted, err))
					sr.Dropped++
				}
			}
		}
		if passErr != nil {
			break
		}
	}

	if len(ops) > 0 {
		if err := o.store.Update(func(tx *store.Txn) error {
			current, err := readLegacy(tx, lq.key)
			if err != nil {
				return err
			}
			return writeLegacy(tx, lq.key, applyOps(current, ops))
		}); err != nil {
			return sr, errors.Join(passErr, err)
		}
	}
	return sr, passErr
}

func bumpRetries(fields map[string]json.RawMessage, raw json.RawMessage) (legacyOp, bool) {
	var retries int
	_ = json.Unmarshal(fields["retries"], &retries)
	if retries >= legacyRetryBudget {
		return legacyOp{old: raw}, true
	}
	fields["retries"] = json.RawMessage(fmt.Sprint(retries + 1))
	updated, err := json.Marshal(fields)
	if err != nil {
		return legacyOp{old: raw, new: raw}, false
	}
	return legacyOp{old: raw, new: updated}, false
}

// applyOps applies each op to the first unconsumed item equal to op.old.
func applyOps(items []json.RawMessage, ops []legacyOp) []json.RawMessage {
	consumed := make([]bool, len(items))
	replaced := make([]json.RawMessage, len(items))
	copy(replaced, items)

	for _, op := range ops {
		for i, item := range items {
			if consumed[i] || !bytes.Equal(item, op.old) {
				continue
			}
			consumed[i] = true
			replaced[i] = op.new
			break
		}
	}

	out := make([]json.RawMessage, 0, len(items))
	for _, item := range replaced {
		if item != nil {
			out = append(out, item)
		}
	}
	return out
}

func loadLegacy(s *store.Store, key string) ([]json.RawMessage, error) {
	var items []json.RawMessage
	err := s.View(func(tx *store.Txn) error {
		var err error
		items, err = readLegacy(tx, key)
		return err
	})
	return items, err
}

func readLegacy(tx *store.Txn, key string) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if _, err := store.GetJSON(tx, store.NSLocal, key, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func writeLegacy(tx *store.Txn, key string, items []json.RawMessage) error {
	if len(items) == 0 {
		return tx.Delete(store.NSLocal, key)
	}
	return store.PutJSON(tx, store.NSLocal, key, items)
}

// LegacyCount returns how many items wait under each legacy key
func (o *Orchestrator) LegacyCount() map[string]int {
	counts := make(map[string]int)
	for _, lq := range legacyQueues {
		items, err := loadLegacy(o.store, lq.key)
		if err != nil {
			o.logger.Warn("failed to read legacy queue", "queue", lq.key, "error", err)
			continue
		}
		if len(items) > 0 {
			counts[lq.key] = len(items)
		}
	}
	return counts
}

// DrainExercises replays only the legacy exercise queue
func (o *Orchestrator) DrainExercises(ctx context.Context) error {
	_, err := o.drainLegacy(ctx, legacyQueues[0])
	return err
}
