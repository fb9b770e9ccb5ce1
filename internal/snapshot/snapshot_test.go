package snapshot

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/estrateji/satchel/internal/domain"
	"github.com/estrateji/satchel/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCourses struct {
	courses   []domain.Course
	details   map[string]*domain.CourseDetail
	failBlobs map[string]bool
	pageCalls int
	maxPage   int // server-side page size cap, 0 = honour the request
}

func (f *fakeCourses) ListCourses(_ context.Context, page, perPage int) ([]domain.Course, domain.Page, error) {
	f.pageCalls++
	if f.maxPage > 0 && perPage > f.maxPage {
		perPage = f.maxPage
	}
	pages := (len(f.courses) + perPage - 1) / perPage
	start := min((page-1)*perPage, len(f.courses))
	end := min(start+perPage, len(f.courses))
	return f.courses[start:end], domain.Page{Number: page, PerPage: perPage, Total: len(f.courses), Pages: pages}, nil
}

func (f *fakeCourses) GetCourse(_ context.Context, id string) (*domain.CourseDetail, error) {
	d, ok := f.details[id]
	if !ok {
		return nil, &domain.RemoteError{Status: 500}
	}
	return d, nil
}

func (f *fakeCourses) FetchBinary(_ context.Context, url string) ([]byte, error) {
	if f.failBlobs[url] {
		return nil, domain.ErrServerOffline
	}
	return []byte("payload:" + url), nil
}

type recordingObserver struct{ updates []domain.SyncProgress }

func (r *recordingObserver) OnProgress(p domain.SyncProgress) { r.updates = append(r.updates, p) }

func books(n int) []domain.Resource {
	var out []domain.Resource
	for i := 1; i <= n; i++ {
		out = append(out, domain.Resource{ID: fmt.Sprintf("b%d", i), Title: fmt.Sprintf("Book %d", i), URL: fmt.Sprintf("https://files.example.com/b%d.pdf", i)})
	}
	return out
}

func fixedClock() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }

func newTestStore(t *testing.T, opts store.Options) *store.Store {
	t.Helper()
	s, err := store.Open("", "", opts)
	require.NoError(t, err)
	return s
}

func TestBookFailureDegradesToMetadata(t *testing.T) {
	const n, k = 4, 3
	client := &fakeCourses{
		courses: []domain.Course{{ID: "c1", Title: "Statistics"}},
		details: map[string]*domain.CourseDetail{
			"c1": {
				ID:       "c1",
				Title:    "Statistics",
				Books:    books(n),
				Lectures: []domain.Resource{{ID: "l1", Title: "Intro"}},
				Quizzes:  []domain.Resource{{ID: "q1", Title: "Week 1"}},
			},
		},
		failBlobs: map[string]bool{fmt.Sprintf("https://files.example.com/b%d.pdf", k): true},
	}
	s := newTestStore(t, store.Options{})
	cmds := NewCommands(client, s, fixedClock, nil)

	result, err := cmds.SyncAllUserCourses(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Courses)
	assert.Equal(t, n, result.Books)
	assert.Equal(t, n-1, result.Blobs)

	q := NewQueries(s, nil)
	got := q.Resources("c1", string(domain.ResourceBook))
	require.Len(t, got, n)
	for _, b := range got {
		assert.Equal(t, "pdf", b.FileType)
		assert.Equal(t, "c1", b.CourseID)
		data, ok := q.Blob("c1", b.ID)
		if b.ID == fmt.Sprintf("b%d", k) {
			assert.False(t, ok)
			assert.Zero(t, b.BlobSize)
		} else {
			require.True(t, ok)
			assert.Equal(t, "payload:"+b.URL, string(data))
			assert.Equal(t, int64(len(data)), b.BlobSize)
		}
	}
	assert.Len(t, q.Resources("c1", "all"), n+2)
	assert.Len(t, q.Resources("c1", "quiz"), 1)

	at, ok := q.SyncedAt()
	require.True(t, ok)
	assert.True(t, at.Equal(fixedClock()))
}

func TestCourseFailureDoesNotAbortOthers(t *testing.T) {
	client := &fakeCourses{
		courses: []domain.Course{{ID: "c1", Title: "Art"}, {ID: "broken", Title: "Broken"}, {ID: "c3", Title: "Chemistry"}},
		details: map[string]*domain.CourseDetail{
			"c1": {ID: "c1", Title: "Art"},
			"c3": {ID: "c3", Title: "Chemistry", Exercises: []domain.Resource{{ID: "e1"}}},
		},
	}
	s := newTestStore(t, store.Options{})
	obs := &recordingObserver{}

	result, err := NewCommands(client, s, fixedClock, nil).SyncAllUserCourses(context.Background(), obs)
	require.Error(t, err)
	assert.Equal(t, 2, result.Courses)
	assert.Equal(t, 1, result.Failed)

	require.Len(t, obs.updates, 4)
	assert.Error(t, obs.updates[1].Error)
	assert.True(t, obs.updates[3].Done)

	q := NewQueries(s, nil)
	assert.Len(t, q.All(), 2)
	_, ok := q.Get("broken")
	assert.False(t, ok)
}

func TestSyncReplacesSnapshot(t *testing.T) {
	client := &fakeCourses{
		courses: []domain.Course{{ID: "c1", Title: "Art"}},
		details: map[string]*domain.CourseDetail{
			"c1": {ID: "c1", Lectures: []domain.Resource{{ID: "l1"}, {ID: "l2"}}},
		},
	}
	s := newTestStore(t, store.Options{})
	cmds := NewCommands(client, s, fixedClock, nil)
	_, err := cmds.SyncAllUserCourses(context.Background(), nil)
	require.NoError(t, err)

	client.details["c1"] = &domain.CourseDetail{ID: "c1", Lectures: []domain.Resource{{ID: "l3"}}}
	_, err = cmds.SyncAllUserCourses(context.Background(), nil)
	require.NoError(t, err)

	snap, ok := NewQueries(s, nil).Get("c1")
	require.True(t, ok)
	require.Len(t, snap.Resources, 1)
	assert.Equal(t, "l3", snap.Resources[0].ID)
	assert.Equal(t, "Art", snap.Title)
}

func TestPaginatesCourseListing(t *testing.T) {
	client := &fakeCourses{details: map[string]*domain.CourseDetail{}}
	for i := 0; i < 120; i++ {
		id := fmt.Sprintf("c%03d", i)
		client.courses = append(client.courses, domain.Course{ID: id})
		client.details[id] = &domain.CourseDetail{ID: id}
	}
	s := newTestStore(t, store.Options{})

	result, err := NewCommands(client, s, fixedClock, nil).SyncAllUserCourses(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 120, result.Courses)
	assert.Equal(t, 3, client.pageCalls)
}

func TestPaginatesWhenServerCapsPageSize(t *testing.T) {
	client := &fakeCourses{details: map[string]*domain.CourseDetail{}, maxPage: 20}
	for i := 0; i < 45; i++ {
		id := fmt.Sprintf("c%03d", i)
		client.courses = append(client.courses, domain.Course{ID: id})
		client.details[id] = &domain.CourseDetail{ID: id}
	}

	courses, err := fetchAll(context.Background(), client.ListCourses, 50, nil)
	require.NoError(t, err)
	require.Len(t, courses, 45)
	seen := map[string]bool{}
	for _, c := range courses {
		assert.False(t, seen[c.ID], "duplicate %s", c.ID)
		seen[c.ID] = true
	}
	assert.Equal(t, 3, client.pageCalls)
}

func TestFetchAllStopsWhenServerRepeatsLastPage(t *testing.T) {
	calls := 0
	fetch := func(_ context.Context, page, _ int) ([]string, domain.Page, error) {
		calls++
		// reports no page count and clamps every request to page 1
		return []string{"a", "b"}, domain.Page{Number: 1, Total: 5}, nil
	}

	items, err := fetchAll(context.Background(), fetch, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, items)
	assert.Equal(t, 2, calls)
}

func TestSnapshotOverQuotaDropsPayloads(t *testing.T) {
	client := &fakeCourses{
		courses: []domain.Course{{ID: "c1"}},
		details: map[string]*domain.CourseDetail{"c1": {ID: "c1", Books: books(3)}},
	}
	// room for one payload, not three
	s := newTestStore(t, store.Options{Quotas: map[string]int64{store.NSResourceBlobs: 60}})

	result, err := NewCommands(client, s, fixedClock, nil).SyncAllUserCourses(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Courses)
	assert.Zero(t, result.Blobs)

	q := NewQueries(s, nil)
	got := q.Resources("c1", "book")
	require.Len(t, got, 3)
	for _, b := range got {
		assert.Zero(t, b.BlobSize)
		_, ok := q.Blob("c1", b.ID)
		assert.False(t, ok)
	}
	assert.Zero(t, s.Usage(store.NSResourceBlobs))
}

func TestSnapshotsKeepPayloadsOutOfRecords(t *testing.T) {
	client := &fakeCourses{
		courses: []domain.Course{{ID: "c1", Title: "Physics"}, {ID: "c2", Title: "Music"}},
		details: map[string]*domain.CourseDetail{
			"c1": {ID: "c1", Books: books(2)},
			"c2": {ID: "c2", Books: books(1)},
		},
	}
	s := newTestStore(t, store.Options{})
	cmds := NewCommands(client, s, fixedClock, nil)
	_, err := cmds.SyncAllUserCourses(context.Background(), nil)
	require.NoError(t, err)

	raw, ok, err := s.Namespace(store.NSSnapshots).Get("c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotContains(t, string(raw), "payload:")

	keys, err := s.Namespace(store.NSResourceBlobs).Keys("")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1/b1", "c1/b2", "c2/b1"}, keys)

	q := NewQueries(s, nil)
	assert.Equal(t, 2, q.Count())

	// a resync that lists fewer books drops the stale payload
	client.details["c1"] = &domain.CourseDetail{ID: "c1", Books: books(1)}
	_, err = cmds.SyncCourse(context.Background(), domain.Course{ID: "c1"})
	require.NoError(t, err)
	_, ok = q.Blob("c1", "b2")
	assert.False(t, ok)

	require.NoError(t, cmds.Remove("c1"))
	keys, err = s.Namespace(store.NSResourceBlobs).Keys("")
	require.NoError(t, err)
	assert.Equal(t, []string{"c2/b1"}, keys)
	assert.Equal(t, 1, q.Count())

	require.NoError(t, cmds.Clear())
	assert.Zero(t, q.Count())
	assert.Zero(t, s.Usage(store.NSResourceBlobs))
}

func TestListFailureIsReturned(t *testing.T) {
	s := newTestStore(t, store.Options{})
	_, err := NewCommands(failingLister{&fakeCourses{}}, s, fixedClock, nil).SyncAllUserCourses(context.Background(), nil)
	assert.True(t, errors.Is(err, domain.ErrServerOffline))
}

type failingLister struct{ *fakeCourses }

func (failingLister) ListCourses(context.Context, int, int) ([]domain.Course, domain.Page, error) {
	return nil, domain.Page{}, domain.ErrServerOffline
}

func TestFileTypeOf(t *testing.T) {
	cases := map[string]string{
		"https://x.example.com/a/Reader.PDF":     "pdf",
		"https://x.example.com/slides.pptx?v=2":  "pptx",
		"https://x.example.com/archive.zip#frag": "zip",
		"https://x.example.com/notes":            "file",
		"https://x.example.com/image.png":        "file",
		"":                                       "file",
	}
	for in, want := range cases {
		assert.Equal(t, want, FileTypeOf(in), in)
	}
}
