package boundary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/estrateji/satchel/internal/domain"
	"github.com/estrateji/satchel/internal/store"
	"github.com/google/uuid"
)

// Background-sync tags
const (
	TagOfflineData = "sync-offline-data"
	TagExercises   = "sync-exercises"
)

const submissionsEndpoint = "/api/offline/sync"

// Handle registers fn for a background-sync tag, replacing any previous handler
func (b *Boundary) Handle(tag string, fn SyncHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[tag] = fn
}

// Sync runs the handler registered for tag.
func (b *Boundary) Sync(ctx context.Context, tag string) error {
	b.mu.RLock()
	fn, ok := b.handlers[tag]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("sync tag %q: %w", tag, domain.ErrNotFound)
	}
	return fn(ctx)
}

// AddSubmission stores a submission for the next sync-offline-data run.
// Keys are time-ordered so submissions are sent in arrival order.
func (b *Boundary) AddSubmission(v json.RawMessage) (string, error) {
	if !json.Valid(v) {
		return "", fmt.Errorf("submission is not valid JSON")
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	if err := b.submissions.Set(id.String(), v); err != nil {
		return "", err
	}
	return id.String(), nil
}

// PendingSubmissions counts stored submissions
func (b *Boundary) PendingSubmissions() int {
	n := 0
	_ = b.submissions.Iterate(func(string, []byte) error {
		n++
		return nil
	})
	return n
}

// syncSubmissions posts every stored submission as one batch and removes the
// sent ones only when the server answers 2xx.
func (b *Boundary) syncSubmissions(ctx context.Context) error {
	var (
		keys  []string
		batch []json.RawMessage
	)
	if err := b.submissions.Iterate(func(key string, value []byte) error {
		keys = append(keys, key)
		batch = append(batch, json.RawMessage(value))
		return nil
	}); err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	resp, err := b.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{"submissions": batch}).
		Post(submissionsEndpoint)
	if err != nil {
		b.logger.Warn("submission sync failed", "error", err)
		return fmt.Errorf("%w: %v", domain.ErrServerOffline, err)
	}
	if !resp.IsSuccess() {
		b.logger.Warn("submission sync rejected", "status", resp.StatusCode())
		return &domain.RemoteError{Status: resp.StatusCode(), Body: resp.String()}
	}

	err = b.store.Update(func(tx *store.Txn) error {
		for _, k := range keys {
			if err := tx.Delete(store.NSSubmissions, k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	b.logger.Info("submissions synced", "count", len(keys))
	return nil
}

// serveSync answers POST /_sync/<tag>
func (b *Boundary) serveSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tag := strings.TrimPrefix(r.URL.Path, syncPrefix)
	if err := b.Sync(r.Context(), tag); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, domain.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "synced", "tag": tag})
}

// serveSubmission answers POST /_submissions (store) and GET (count)
func (b *Boundary) serveSubmission(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]int{"pending": b.PendingSubmissions()})
	case http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		id, err := b.AddSubmission(body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// Tags lists registered background-sync tags
func (b *Boundary) Tags() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	tags := make([]string, 0, len(b.handlers))
	for t := range b.handlers {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}
