package prefetch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/estrateji/satchel/internal/adapter"
	"github.com/estrateji/satchel/internal/domain"
	"github.com/estrateji/satchel/internal/downloads"
	"github.com/estrateji/satchel/internal/modcache"
	"github.com/estrateji/satchel/internal/snapshot"
	"github.com/estrateji/satchel/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModules struct {
	mu      sync.Mutex
	modules map[string]*domain.CachedModule
	blobs   map[string][]byte
	sizes   map[string]int64
	fetched []string

	chunks  int    // progress reports per payload, 0 = one
	onChunk func() // runs after each progress report
}

func (f *fakeModules) GetModule(_ context.Context, id string) (*domain.CachedModule, error) {
	m, ok := f.modules[id]
	if !ok {
		return nil, &domain.RemoteError{Status: 404}
	}
	cp := *m
	return &cp, nil
}

func (f *fakeModules) FetchBinaryProgress(_ context.Context, url string, progress domain.ByteProgress) ([]byte, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, url)
	b, ok := f.blobs[url]
	f.mu.Unlock()
	if !ok {
		return nil, errors.New("connection reset")
	}
	streamProgress(b, max(f.chunks, 1), progress, f.onChunk)
	return b, nil
}

// streamProgress reports len(b) bytes in n equal steps
func streamProgress(b []byte, n int, progress domain.ByteProgress, after func()) {
	if progress == nil {
		return
	}
	total := int64(len(b))
	for i := 1; i <= n; i++ {
		progress(total*int64(i)/int64(n), total)
		if after != nil {
			after()
		}
	}
}

type fakeArchiver struct {
	archives map[string][]byte
	chunks   int
	onChunk  func()
}

func (f *fakeArchiver) DownloadCourseArchive(_ context.Context, courseID string, progress domain.ByteProgress) ([]byte, error) {
	b, ok := f.archives[courseID]
	if !ok {
		return nil, &domain.RemoteError{Status: 404}
	}
	streamProgress(b, max(f.chunks, 1), progress, f.onChunk)
	return b, nil
}

func (f *fakeModules) ProbeSize(_ context.Context, url string) (int64, error) {
	if n, ok := f.sizes[url]; ok {
		return n, nil
	}
	return -1, nil
}

func setup(t *testing.T, opts store.Options) (*modcache.Manager, *downloads.Tracker) {
	t.Helper()
	s, err := store.Open("", "", opts)
	require.NoError(t, err)
	log := adapter.NullLogger()
	return modcache.NewManager(s, log), downloads.NewTracker(s, nil, log)
}

func video(id string) *domain.CachedModule {
	return &domain.CachedModule{ID: id, CourseID: "c1", Title: "Module " + id, VideoURL: "/v/" + id}
}

func TestPrefetchSkipsCachedAndContinuesOnFailure(t *testing.T) {
	cache, tracker := setup(t, store.Options{})
	client := &fakeModules{
		modules: map[string]*domain.CachedModule{"m1": video("m1"), "m2": video("m2"), "m3": video("m3"), "m4": video("m4")},
		blobs:   map[string][]byte{"/v/m1": []byte("one"), "/v/m3": []byte("three"), "/v/m4": []byte("four")},
	}
	require.NoError(t, cache.AddModuleMeta(video("m1")))
	require.NoError(t, cache.AddVideoBlob("m1", []byte("one")))

	p := New(client, cache, adapter.NullLogger(), WithTracker(tracker))
	refs := []domain.ModuleRef{{ID: "m1"}, {ID: "m2"}, {ID: "m3"}, {ID: "m4"}}

	res, err := p.PrefetchModules(context.Background(), refs, 2)
	require.NoError(t, err)
	assert.Equal(t, Result{Downloaded: 1, Cached: 1, Failed: 1}, res)

	assert.False(t, cache.HasBlob("m2"))
	got, ok := cache.Get("m2")
	require.True(t, ok, "metadata is kept when the video fails")
	assert.Nil(t, got.Blob)

	got, ok = cache.Get("m3")
	require.True(t, ok)
	assert.Equal(t, []byte("three"), got.Blob)
	assert.False(t, cache.HasBlob("m4"), "limit reached")

	counts := tracker.Counts()
	assert.Equal(t, 1, counts[domain.DownloadCompleted])
	assert.Equal(t, 1, counts[domain.DownloadFailed])
}

func TestPrefetchSkipsModuleWithoutVideo(t *testing.T) {
	cache, _ := setup(t, store.Options{})
	client := &fakeModules{modules: map[string]*domain.CachedModule{"m1": {ID: "m1", Title: "Reading"}}}

	res, err := New(client, cache, adapter.NullLogger()).PrefetchModules(context.Background(), []domain.ModuleRef{{ID: "m1"}}, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, res.NoVideo)
	assert.Empty(t, client.fetched)
}

func TestPrefetchStopsOnCancel(t *testing.T) {
	cache, _ := setup(t, store.Options{})
	client := &fakeModules{modules: map[string]*domain.CachedModule{"m1": video("m1")}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(client, cache, adapter.NullLogger()).PrefetchModules(ctx, []domain.ModuleRef{{ID: "m1"}}, 3)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSaveModuleToOffline(t *testing.T) {
	tests := []struct {
		name     string
		size     int64
		wantErr  error
		wantBlob bool
	}{
		{"under limit", 9, nil, true},
		{"at limit", 10, domain.ErrBlobTooLarge, false},
		{"unknown size", -1, domain.ErrBlobTooLarge, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache, _ := setup(t, store.Options{})
			client := &fakeModules{
				blobs: map[string][]byte{"/v/m1": []byte("123456789")},
				sizes: map[string]int64{},
			}
			if tt.size >= 0 {
				client.sizes["/v/m1"] = tt.size
			}
			p := New(client, cache, adapter.NullLogger(), WithMaxBlobSize(10))

			err := p.SaveModuleToOffline(context.Background(), "m1", "/v/m1", &domain.CachedModule{Title: "Vectors"})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			got, ok := cache.Get("m1")
			require.True(t, ok, "metadata is always kept")
			assert.Equal(t, "Vectors", got.Title)
			assert.Equal(t, tt.wantBlob, got.HasBlob())
		})
	}
}

func TestSaveModuleQuotaKeepsMetadata(t *testing.T) {
	cache, tracker := setup(t, store.Options{Quotas: map[string]int64{store.NSModuleBlobs: 4}})
	client := &fakeModules{
		blobs: map[string][]byte{"/v/m1": []byte("123456789")},
		sizes: map[string]int64{"/v/m1": 9},
	}
	p := New(client, cache, adapter.NullLogger(), WithTracker(tracker))

	err := p.SaveModuleToOffline(context.Background(), "m1", "/v/m1", nil)
	require.ErrorIs(t, err, domain.ErrQuotaExceeded)

	got, ok := cache.Get("m1")
	require.True(t, ok)
	assert.False(t, got.HasBlob())

	tasks := tracker.List()
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.DownloadFailed, tasks[0].Status)
}

func TestRetryTaskRedownloads(t *testing.T) {
	cache, tracker := setup(t, store.Options{})
	client := &fakeModules{
		modules: map[string]*domain.CachedModule{"m1": video("m1")},
		blobs:   map[string][]byte{},
	}
	p := New(client, cache, adapter.NullLogger(), WithTracker(tracker))

	res, err := p.PrefetchModules(context.Background(), []domain.ModuleRef{{ID: "m1"}}, 1)
	require.NoError(t, err)
	require.Equal(t, 1, res.Failed)
	tasks := tracker.List()
	require.Len(t, tasks, 1)
	require.Equal(t, domain.DownloadFailed, tasks[0].Status)

	client.blobs["/v/m1"] = []byte("one")
	require.NoError(t, p.RetryTask(context.Background(), tasks[0].ID))

	task, ok := tracker.Get(tasks[0].ID)
	require.True(t, ok)
	assert.Equal(t, domain.DownloadCompleted, task.Status)
	assert.True(t, cache.HasBlob("m1"))

	assert.ErrorIs(t, p.RetryTask(context.Background(), "missing"), domain.ErrNotFound)
}

func TestDownloadReportsIntermediateProgress(t *testing.T) {
	cache, tracker := setup(t, store.Options{})
	client := &fakeModules{
		modules: map[string]*domain.CachedModule{"m1": video("m1")},
		blobs:   map[string][]byte{"/v/m1": make([]byte, 1000)},
		chunks:  10,
	}
	var seen []int
	client.onChunk = func() {
		tasks := tracker.List()
		require.Len(t, tasks, 1)
		seen = append(seen, tasks[0].Progress)
	}
	p := New(client, cache, adapter.NullLogger(), WithTracker(tracker))

	_, err := p.PrefetchModules(context.Background(), []domain.ModuleRef{{ID: "m1"}}, 1)
	require.NoError(t, err)

	assert.Equal(t, []int{10, 20, 30, 40, 50, 60, 70, 80, 90, 90}, seen)
	task := tracker.List()[0]
	assert.Equal(t, domain.DownloadCompleted, task.Status)
	assert.Equal(t, 100, task.Progress)
}

func TestProgressWritesAreThrottled(t *testing.T) {
	cache, tracker := setup(t, store.Options{})
	client := &fakeModules{
		modules: map[string]*domain.CachedModule{"m1": video("m1")},
		blobs:   map[string][]byte{"/v/m1": make([]byte, 1000)},
		chunks:  1000,
	}
	var changes []int
	client.onChunk = func() {
		pct := tracker.List()[0].Progress
		if len(changes) == 0 || changes[len(changes)-1] != pct {
			changes = append(changes, pct)
		}
	}
	p := New(client, cache, adapter.NullLogger(), WithTracker(tracker))

	_, err := p.PrefetchModules(context.Background(), []domain.ModuleRef{{ID: "m1"}}, 1)
	require.NoError(t, err)

	// first sample is taken before the first write lands
	require.Len(t, changes, 20)
	assert.Equal(t, 0, changes[0])
	for i := 1; i < len(changes); i++ {
		assert.Equal(t, i*progressStep, changes[i])
	}
}

func TestDownloadCourseArchive(t *testing.T) {
	cache, tracker := setup(t, store.Options{})
	s, err := store.Open("", "", store.Options{})
	require.NoError(t, err)
	archives := snapshot.NewArchives(s, adapter.NullLogger())
	archiver := &fakeArchiver{archives: map[string][]byte{"c1": make([]byte, 200)}, chunks: 4}
	var seen []int
	archiver.onChunk = func() { seen = append(seen, tracker.List()[0].Progress) }

	p := New(&fakeModules{}, cache, adapter.NullLogger(), WithTracker(tracker), WithArchives(archiver, archives))

	task, err := p.DownloadCourse(context.Background(), "c1", "Geometry")
	require.NoError(t, err)
	assert.Equal(t, "Geometry", task.Name)
	assert.Equal(t, "c1", task.CourseID)
	assert.Empty(t, task.ModuleID)
	assert.Equal(t, domain.DownloadCompleted, task.Status)
	assert.Equal(t, []int{25, 50, 75, 75}, seen)

	data, ok := archives.Get("c1")
	require.True(t, ok)
	assert.Len(t, data, 200)
	assert.Equal(t, []string{"c1"}, archives.IDs())
}

func TestRetryTaskRedownloadsCourseArchive(t *testing.T) {
	cache, tracker := setup(t, store.Options{})
	s, err := store.Open("", "", store.Options{})
	require.NoError(t, err)
	archives := snapshot.NewArchives(s, adapter.NullLogger())
	archiver := &fakeArchiver{archives: map[string][]byte{}}
	p := New(&fakeModules{}, cache, adapter.NullLogger(), WithTracker(tracker), WithArchives(archiver, archives))

	task, err := p.DownloadCourse(context.Background(), "c2", "")
	var remote *domain.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, domain.DownloadFailed, task.Status)
	assert.Equal(t, "course c2", task.Name)
	_, ok := archives.Get("c2")
	assert.False(t, ok)

	archiver.archives["c2"] = []byte("PK")
	require.NoError(t, p.RetryTask(context.Background(), task.ID))

	got, ok := tracker.Get(task.ID)
	require.True(t, ok)
	assert.Equal(t, domain.DownloadCompleted, got.Status)
	data, ok := archives.Get("c2")
	require.True(t, ok)
	assert.Equal(t, []byte("PK"), data)
}

func TestDownloadCourseNeedsArchives(t *testing.T) {
	cache, tracker := setup(t, store.Options{})
	p := New(&fakeModules{}, cache, adapter.NullLogger(), WithTracker(tracker))

	_, err := p.DownloadCourse(context.Background(), "c1", "x")
	assert.Error(t, err)
	assert.Empty(t, tracker.List())
}
