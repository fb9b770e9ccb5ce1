package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/estrateji/satchel/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "tok", Options{Timeout: 2 * time.Second}, nil), srv
}

func TestListCoursesPaging(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/courses/", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "3", r.URL.Query().Get("page"))
		assert.Equal(t, "50", r.URL.Query().Get("per_page"))
		w.Write([]byte(`{"items":[{"id":7,"title":"Algebra"},{"id":"c8","title":"Biology"}],"meta":{"page":3,"per_page":50,"total":102,"pages":3}}`))
	})

	courses, page, err := c.ListCourses(context.Background(), 3, 50)
	require.NoError(t, err)
	assert.Equal(t, domain.Page{Number: 3, PerPage: 50, Total: 102, Pages: 3}, page)
	assert.Equal(t, []domain.Course{{ID: "7", Title: "Algebra"}, {ID: "c8", Title: "Biology"}}, courses)
}

func TestListCoursesReportsServerPageSize(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		// the server caps per_page at 20 and omits the page count
		w.Write([]byte(`{"items":[{"id":1,"title":"A"}],"meta":{"page":2,"per_page":20,"total":45}}`))
	})

	_, page, err := c.ListCourses(context.Background(), 2, 50)
	require.NoError(t, err)
	assert.Equal(t, domain.Page{Number: 2, PerPage: 20, Total: 45, Pages: 3}, page)
}

func TestListCoursesAcceptsBareArray(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":1,"title":"A"},{"id":2,"title":"B"}]`))
	})

	courses, page, err := c.ListCourses(context.Background(), 1, 50)
	require.NoError(t, err)
	assert.Equal(t, []domain.Course{{ID: "1", Title: "A"}, {ID: "2", Title: "B"}}, courses)
	assert.Equal(t, domain.Page{Number: 1, PerPage: 2, Total: 2, Pages: 1}, page)
}

func TestListCoursesRejectsOtherShapes(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`"maintenance"`))
	})

	_, _, err := c.ListCourses(context.Background(), 1, 50)
	assert.ErrorContains(t, err, "failed to parse response")
}

func TestGetCourseMapsResources(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/courses/7", r.URL.Path)
		w.Write([]byte(`{
			"id": 7, "title": "Algebra",
			"books": [{"id": 1, "title": "Linear", "author": "Strang", "pdf_url": "/files/linear.pdf"}],
			"lectures": [{"id": 2, "title": "Intro", "content_url": "/files/intro.mp4"}],
			"exercises": [{"id": 3, "title": "Set 1", "description": "warmup"}],
			"quizzes": [{"id": 4, "title": "Quiz 1"}]
		}`))
	})

	d, err := c.GetCourse(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "Algebra", d.Title)
	require.Len(t, d.Books, 1)
	assert.Equal(t, "/files/linear.pdf", d.Books[0].URL)
	assert.Equal(t, "by Strang", d.Books[0].Description)
	require.Len(t, d.Lectures, 1)
	assert.Equal(t, "/files/intro.mp4", d.Lectures[0].URL)
	assert.Equal(t, "warmup", d.Exercises[0].Description)
	assert.Equal(t, "4", d.Quizzes[0].ID)
}

func TestGetModule(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/modules/12", r.URL.Path)
		w.Write([]byte(`{"id":12,"course_id":7,"title":"Vectors","video_url":"/v/12.mp4","order":2,"quiz_id":null,"quiz":{"id":40}}`))
	})

	m, err := c.GetModule(context.Background(), "12")
	require.NoError(t, err)
	assert.Equal(t, "12", m.ID)
	assert.Equal(t, "7", m.CourseID)
	assert.Equal(t, 2, m.Order)
	assert.Equal(t, []string{"40"}, m.QuizIDs)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{"unauthorized", http.StatusUnauthorized, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, domain.ErrAuthFailed)
			assert.False(t, domain.IsPermanent(err))
		}},
		{"bad request", http.StatusBadRequest, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, domain.ErrRemoteRejected)
			var re *domain.RemoteError
			require.ErrorAs(t, err, &re)
			assert.Contains(t, re.Body, "nope")
		}},
		{"server error", http.StatusBadGateway, func(t *testing.T, err error) {
			assert.NotErrorIs(t, err, domain.ErrRemoteRejected)
			assert.False(t, domain.IsPermanent(err))
		}},
		{"rate limited", http.StatusTooManyRequests, func(t *testing.T, err error) {
			assert.False(t, domain.IsPermanent(err))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			})
			_, err := c.GetModule(context.Background(), "1")
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestUnreachableServerIsOffline(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, "", Options{Timeout: time.Second}, nil)
	_, _, err := c.ListCourses(context.Background(), 1, 10)
	assert.ErrorIs(t, err, domain.ErrServerOffline)
	assert.ErrorIs(t, c.Health(context.Background()), domain.ErrServerOffline)
}

func TestHealthIgnoresServerErrors(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/", r.URL.Path)
		w.WriteHeader(http.StatusInternalServerError)
	})
	assert.NoError(t, c.Health(context.Background()))
}

func TestDeliverPostsJSON(t *testing.T) {
	var got map[string]any
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/offline/sync", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusCreated)
	})

	payload := map[string]any{"submissions": []any{map[string]any{"type": "quiz", "id": 4}}}
	require.NoError(t, c.Deliver(context.Background(), "/offline/sync", payload))
	assert.Len(t, got["submissions"], 1)
}

func TestFetchBinaryAndProbe(t *testing.T) {
	blob := []byte("0123456789")
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "10")
		if r.Method == http.MethodHead {
			return
		}
		w.Write(blob)
	})

	data, err := c.FetchBinary(context.Background(), srv.URL+"/v/1.mp4")
	require.NoError(t, err)
	assert.Equal(t, blob, data)

	n, err := c.ProbeSize(context.Background(), "/v/1.mp4")
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
}

func TestFetchBinaryProgressReportsReads(t *testing.T) {
	blob := make([]byte, 64<<10)
	for i := range blob {
		blob[i] = byte(i)
	}
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(blob)))
		// flush in chunks so the client sees several reads
		for off := 0; off < len(blob); off += 8 << 10 {
			w.Write(blob[off : off+8<<10])
			w.(http.Flusher).Flush()
		}
	})

	var reads []int64
	var totals []int64
	data, err := c.FetchBinaryProgress(context.Background(), "/v/1.mp4", func(read, total int64) {
		reads = append(reads, read)
		totals = append(totals, total)
	})
	require.NoError(t, err)
	assert.Equal(t, blob, data)

	require.Greater(t, len(reads), 2)
	assert.Equal(t, int64(0), reads[0])
	assert.Equal(t, int64(len(blob)), reads[len(reads)-1])
	assert.IsIncreasing(t, reads)
	for _, total := range totals {
		assert.Equal(t, int64(len(blob)), total)
	}
}

func TestFetchBinaryProgressMapsErrors(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/offline/download/c 1":
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("no archive"))
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	})

	called := false
	_, err := c.DownloadCourseArchive(context.Background(), "c 1", func(int64, int64) { called = true })
	var remote *domain.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, http.StatusNotFound, remote.Status)
	assert.Equal(t, "no archive", remote.Body)
	assert.False(t, called)

	_, err = c.FetchBinaryProgress(context.Background(), "/v/2.mp4", nil)
	assert.ErrorIs(t, err, domain.ErrAuthFailed)
}

func TestDownloadCourseArchive(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/offline/download/42", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/zip")
		w.Write([]byte("PK\x03\x04zip"))
	})

	var last int64
	data, err := c.DownloadCourseArchive(context.Background(), "42", func(read, _ int64) { last = read })
	require.NoError(t, err)
	assert.Equal(t, []byte("PK\x03\x04zip"), data)
	assert.Equal(t, int64(len(data)), last)
}

func TestIDAcceptsNumbersAndStrings(t *testing.T) {
	var v struct {
		A id `json:"a"`
		B id `json:"b"`
		C id `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": 42, "b": "x-1", "c": null}`), &v))
	assert.Equal(t, id("42"), v.A)
	assert.Equal(t, id("x-1"), v.B)
	assert.Equal(t, id(""), v.C)
}
