package syncer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/estrateji/satchel/internal/actionqueue"
	"github.com/estrateji/satchel/internal/adapter"
	"github.com/estrateji/satchel/internal/domain"
	"github.com/estrateji/satchel/internal/modcache"
	"github.com/estrateji/satchel/internal/netstate"
	"github.com/estrateji/satchel/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	endpoint string
	payload  string
}

type stubDeliverer struct {
	mu      sync.Mutex
	calls   []call
	respond func(endpoint string) error
	onCall  func(endpoint string)
}

func (s *stubDeliverer) Deliver(_ context.Context, endpoint string, payload any) error {
	body, _ := json.Marshal(payload)
	s.mu.Lock()
	s.calls = append(s.calls, call{endpoint, string(body)})
	s.mu.Unlock()
	if s.onCall != nil {
		s.onCall(endpoint)
	}
	if s.respond == nil {
		return nil
	}
	return s.respond(endpoint)
}

func (s *stubDeliverer) endpoints() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	for i, c := range s.calls {
		out[i] = c.endpoint
	}
	return out
}

type fixture struct {
	store   *store.Store
	queue   *actionqueue.Queue
	modules *modcache.Manager
	conn    *netstate.Manual
	orch    *Orchestrator
}

func newFixture(t *testing.T, d domain.Deliverer) *fixture {
	t.Helper()
	s, err := store.Open("", "", store.Options{})
	require.NoError(t, err)
	log := adapter.NullLogger()
	conn := netstate.NewManual(true)
	q := actionqueue.New(s, d, conn, nil, log)
	m := modcache.NewManager(s, log)
	return &fixture{store: s, queue: q, modules: m, conn: conn, orch: New(s, q, m, d, conn, log)}
}

func (f *fixture) setLegacy(t *testing.T, key string, items ...string) {
	t.Helper()
	raw := make([]json.RawMessage, len(items))
	for i, it := range items {
		raw[i] = json.RawMessage(it)
	}
	require.NoError(t, f.store.Namespace(store.NSLocal).SetJSON(key, raw))
}

func (f *fixture) legacy(t *testing.T, key string) []string {
	t.Helper()
	var raw []json.RawMessage
	_, err := f.store.Namespace(store.NSLocal).GetJSON(key, &raw)
	require.NoError(t, err)
	out := make([]string, len(raw))
	for i, r := range raw {
		out[i] = string(r)
	}
	return out
}

func TestTickSkipsWhileOffline(t *testing.T) {
	d := &stubDeliverer{}
	f := newFixture(t, d)
	f.conn.Set(false)

	_, err := f.queue.Add(domain.MessageAction{Body: "hi"})
	require.NoError(t, err)
	require.NoError(t, f.modules.MarkCompleted("m1"))

	report, err := f.orch.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Empty(t, d.endpoints())
	assert.Equal(t, 1, f.queue.Count())
}

func TestTickRunsEveryStage(t *testing.T) {
	d := &stubDeliverer{}
	f := newFixture(t, d)

	_, err := f.queue.Add(domain.MessageAction{Body: "hi"})
	require.NoError(t, err)
	require.NoError(t, f.modules.AddModuleMeta(&domain.CachedModule{ID: "m1", CourseID: "c1"}))
	require.NoError(t, f.modules.MarkCompleted("m1"))
	f.setLegacy(t, KeyExerciseQueue, `{"type":"exercise","id":5,"answers":["a"]}`)
	f.setLegacy(t, KeyMessageQueue, `{"body":"old"}`)
	f.setLegacy(t, KeyOfflineActions, `{"type":"note","payload":{"text":"x"},"retries":0}`)

	report, err := f.orch.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"/offline/sync_messages",
		"/modules/m1/progress",
		"/offline/sync",
		"/messages/sync",
		"/api/sync/note",
	}, d.endpoints())
	assert.Equal(t, 1, report.Queue.Delivered)
	assert.Equal(t, 1, report.Completions.Delivered)
	assert.Equal(t, 1, report.Legacy[KeyExerciseQueue].Delivered)

	assert.JSONEq(t, `{"submissions":[{"type":"exercise","id":5,"answers":["a"]}]}`, d.calls[2].payload)
	assert.JSONEq(t, `{"messages":[{"body":"old"}]}`, d.calls[3].payload)
	assert.JSONEq(t, `{"text":"x"}`, d.calls[4].payload)

	assert.Zero(t, f.queue.Count())
	assert.Empty(t, f.modules.PendingCompletions())
	mod, ok := f.modules.Get("m1")
	require.True(t, ok)
	assert.NotNil(t, mod.LastSyncedAt)
	assert.True(t, f.modules.IsCompleted("m1"), "acknowledging keeps the completion")
	assert.Empty(t, f.orch.LegacyCount())
}

func TestCompletionKeptUntilAcknowledged(t *testing.T) {
	d := &stubDeliverer{respond: func(string) error { return &domain.RemoteError{Status: 500} }}
	f := newFixture(t, d)
	require.NoError(t, f.modules.MarkCompleted("m1"))

	report, err := f.orch.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Completions.Failed)
	assert.Equal(t, []string{"m1"}, f.modules.PendingCompletions())
}

func TestMalformedLegacyItemsAreSkipped(t *testing.T) {
	d := &stubDeliverer{}
	f := newFixture(t, d)
	f.setLegacy(t, KeyQuizQueue,
		`{"type":"quiz","id":1}`,
		`{"type":"quiz","id":2,"answers":[]}`,
		`{"id":3,"answers":[]}`,
		`{"type":"quiz","id":4,"answers":[],"synced":true}`,
	)

	report, err := f.orch.Tick(context.Background())
	require.NoError(t, err)

	sr := report.Legacy[KeyQuizQueue]
	assert.Equal(t, 1, sr.Delivered)
	assert.Equal(t, 3, sr.Skipped)
	assert.Equal(t, []string{
		`{"type":"quiz","id":1}`,
		`{"id":3,"answers":[]}`,
	}, f.legacy(t, KeyQuizQueue), "malformed items stay, delivered and already-synced items leave")
}

func TestLegacyItemRemovedOnlyAfterSuccess(t *testing.T) {
	d := &stubDeliverer{respond: func(endpoint string) error {
		if endpoint == "/messages/sync" {
			return &domain.RemoteError{Status: 503}
		}
		return nil
	}}
	f := newFixture(t, d)
	f.setLegacy(t, KeyMessageQueue, `{"body":"a"}`, `{"body":"b"}`)

	report, err := f.orch.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Legacy[KeyMessageQueue].Failed)
	assert.Len(t, f.legacy(t, KeyMessageQueue), 2)
}

func TestOfflineActionsDropAfterRetryBudget(t *testing.T) {
	d := &stubDeliverer{respond: func(string) error { return &domain.RemoteError{Status: 500} }}
	f := newFixture(t, d)
	f.setLegacy(t, KeyOfflineActions, `{"type":"note","payload":{},"retries":0}`)

	for i := 0; i < legacyRetryBudget; i++ {
		_, err := f.orch.Tick(context.Background())
		require.NoError(t, err)
		items := f.legacy(t, KeyOfflineActions)
		require.Len(t, items, 1)
		var rec struct{ Retries int }
		require.NoError(t, json.Unmarshal([]byte(items[0]), &rec))
		assert.Equal(t, i+1, rec.Retries)
	}

	report, err := f.orch.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Legacy[KeyOfflineActions].Dropped)
	assert.Empty(t, f.legacy(t, KeyOfflineActions))
	assert.Len(t, d.endpoints(), legacyRetryBudget+1)
}

func TestLegacyItemsAddedDuringPassSurvive(t *testing.T) {
	d := &stubDeliverer{}
	f := newFixture(t, d)
	f.setLegacy(t, KeyMessageQueue, `{"body":"a"}`)

	d.onCall = func(endpoint string) {
		if endpoint != "/messages/sync" {
			return
		}
		d.onCall = nil
		f.setLegacy(t, KeyMessageQueue, `{"body":"a"}`, `{"body":"new"}`)
	}

	_, err := f.orch.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{`{"body":"new"}`}, f.legacy(t, KeyMessageQueue))
}

func TestOfflineErrorStopsStageButNotLaterStages(t *testing.T) {
	d := &stubDeliverer{respond: func(endpoint string) error {
		if endpoint == "/modules/m1/progress" {
			return domain.ErrServerOffline
		}
		return nil
	}}
	f := newFixture(t, d)
	require.NoError(t, f.modules.MarkCompleted("m1"))
	require.NoError(t, f.modules.MarkCompleted("m2"))
	f.setLegacy(t, KeyMessageQueue, `{"body":"a"}`)

	report, err := f.orch.Tick(context.Background())
	require.ErrorIs(t, err, domain.ErrServerOffline)
	assert.Equal(t, 1, report.Completions.Failed)
	assert.Equal(t, 1, report.Legacy[KeyMessageQueue].Delivered)
	assert.NotContains(t, d.endpoints(), "/modules/m2/progress")
}
