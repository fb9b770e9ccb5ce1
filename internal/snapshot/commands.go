package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/estrateji/satchel/internal/domain"
	"github.com/estrateji/satchel/internal/store"
)

const (
	defaultChunkSize = 50
	keySyncedAt      = "syncedAt"
)

// Commands performs course snapshot syncs that hit the network.
type Commands struct {
	client domain.CourseClient
	store  *store.Store
	clock  domain.Clock
	logger *slog.Logger
}

// NewCommands creates a new Commands instance.
func NewCommands(client domain.CourseClient, s *store.Store, clock domain.Clock, logger *slog.Logger) *Commands {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = domain.SystemClock
	}
	return &Commands{client: client, store: s, clock: clock, logger: logger}
}

// SyncAllUserCourses snapshots every course visible to the user. Each course
// snapshot wholly replaces the previous one; a course that fails is reported
// and skipped without stopping the others. A book whose payload cannot be
// fetched is kept without its blob. The global syncedAt is written once at the end.
func (c *Commands) SyncAllUserCourses(ctx context.Context, observer domain.SyncObserver) (domain.SyncResult, error) {
	if observer == nil {
		observer = domain.NoOpObserver{}
	}

	courses, err := fetchAll(ctx, c.client.ListCourses, defaultChunkSize, nil)
	if err != nil {
		c.logger.Error("failed to list courses", "error", err)
		return domain.SyncResult{}, err
	}
	c.logger.Debug("listed courses", "count", len(courses))

	var (
		result domain.SyncResult
		errs   []error
	)
	for i, course := range courses {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		snap, books, blobs, err := c.syncCourse(ctx, course)
		progress := domain.SyncProgress{
			CourseID: course.ID,
			Title:    course.Title,
			Loaded:   i + 1,
			Total:    len(courses),
			Books:    books,
			Blobs:    blobs,
			Error:    err,
		}
		if err != nil {
			c.logger.Error("failed to sync course", "error", err, "courseID", course.ID)
			result.Failed++
			errs = append(errs, fmt.Errorf("course %s: %w", course.ID, err))
		} else {
			result.Courses++
			result.Books += books
			result.Blobs += blobs
			c.logger.Debug("synced course", "courseID", course.ID, "resources", len(snap.Resources), "blobs", blobs)
		}
		observer.OnProgress(progress)
	}

	now := c.clock()
	result.SyncedAt = now.UnixMilli()
	if err := c.store.Update(func(tx *store.Txn) error {
		return store.PutJSON(tx, store.NSLocal, keySyncedAt, now)
	}); err != nil {
		c.logger.Error("failed to save sync timestamp", "error", err)
		errs = append(errs, err)
	}

	observer.OnProgress(domain.SyncProgress{Loaded: len(courses), Total: len(courses), Done: true})
	return result, errors.Join(errs...)
}

// SyncCourse snapshots a single course.
func (c *Commands) SyncCourse(ctx context.Context, course domain.Course) (*domain.CourseSnapshot, error) {
	snap, _, _, err := c.syncCourse(ctx, course)
	return snap, err
}

func (c *Commands) syncCourse(ctx context.Context, course domain.Course) (*domain.CourseSnapshot, int, int, error) {
	detail, err := c.client.GetCourse(ctx, course.ID)
	if err != nil {
		return nil, 0, 0, err
	}

	now := c.clock()
	title := detail.Title
	if title == "" {
		title = course.Title
	}
	snap := &domain.CourseSnapshot{CourseID: course.ID, Title: title, SyncedAt: now}

	payloads := make(map[string][]byte)
	for _, book := range detail.Books {
		r := c.stamp(book, domain.ResourceBook, course.ID, now)
		r.FileType = FileTypeOf(r.URL)
		if r.URL != "" {
			data, err := c.client.FetchBinary(ctx, r.URL)
			if err != nil {
				c.logger.Warn("book download failed, keeping metadata", "error", err, "courseID", course.ID, "bookID", r.ID)
			} else {
				r.BlobSize = int64(len(data))
				payloads[r.ID] = data
			}
		}
		snap.Resources = append(snap.Resources, r)
	}
	for _, group := range []struct {
		typ   domain.ResourceType
		items []domain.Resource
	}{
		{domain.ResourceLecture, detail.Lectures},
		{domain.ResourceExercise, detail.Exercises},
		{domain.ResourceQuiz, detail.Quizzes},
	} {
		for _, item := range group.items {
			snap.Resources = append(snap.Resources, c.stamp(item, group.typ, course.ID, now))
		}
	}

	if err := c.save(snap, payloads); err != nil {
		if !errors.Is(err, domain.ErrQuotaExceeded) || len(payloads) == 0 {
			return nil, len(detail.Books), 0, err
		}
		// Over budget: keep the resource list, drop the payloads.
		c.logger.Warn("snapshot over quota, storing without book payloads", "courseID", course.ID)
		for i := range snap.Resources {
			snap.Resources[i].BlobSize = 0
		}
		payloads = nil
		if err := c.save(snap, nil); err != nil {
			return nil, len(detail.Books), 0, err
		}
	}
	return snap, len(detail.Books), len(payloads), nil
}

func (c *Commands) stamp(r domain.Resource, typ domain.ResourceType, courseID string, at time.Time) domain.Resource {
	r.Type = typ
	r.CourseID = courseID
	r.DownloadedAt = at
	return r
}

// save replaces the course's snapshot and book payloads in one write
func (c *Commands) save(snap *domain.CourseSnapshot, payloads map[string][]byte) error {
	return c.store.Update(func(tx *store.Txn) error {
		if err := deleteBlobs(tx, snap.CourseID); err != nil {
			return err
		}
		if err := store.PutJSON(tx, store.NSSnapshots, snap.CourseID, snap); err != nil {
			return err
		}
		for resourceID, data := range payloads {
			if err := tx.Put(store.NSResourceBlobs, blobKey(snap.CourseID, resourceID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func blobKey(courseID, resourceID string) string {
	return courseID + "/" + resourceID
}

func deleteBlobs(tx *store.Txn, courseID string) error {
	var stale []string
	if err := tx.Keys(store.NSResourceBlobs, courseID+"/", func(key string) error {
		stale = append(stale, key)
		return nil
	}); err != nil {
		return err
	}
	for _, key := range stale {
		if err := tx.Delete(store.NSResourceBlobs, key); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes one course snapshot with its book payloads
func (c *Commands) Remove(courseID string) error {
	return c.store.Update(func(tx *store.Txn) error {
		if err := deleteBlobs(tx, courseID); err != nil {
			return err
		}
		return tx.Delete(store.NSSnapshots, courseID)
	})
}

// Clear deletes every snapshot, book payload and the sync timestamp
func (c *Commands) Clear() error {
	return c.store.Update(func(tx *store.Txn) error {
		for _, ns := range []string{store.NSSnapshots, store.NSResourceBlobs} {
			if err := tx.Clear(ns); err != nil {
				return err
			}
		}
		return tx.Delete(store.NSLocal, keySyncedAt)
	})
}

// fetchAll is a generic pagination helper. It walks page numbers and stops on
// the paging the server reports, so a server that caps the page size below
// perPage still yields every item exactly once.
func fetchAll[T any](
	ctx context.Context,
	fetch func(ctx context.Context, page, perPage int) ([]T, domain.Page, error),
	perPage int,
	onProgress domain.ProgressFunc,
) ([]T, error) {
	if perPage <= 0 {
		perPage = defaultChunkSize
	}

	var all []T
	for page := 1; ; page++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		items, info, err := fetch(ctx, page, perPage)
		if err != nil {
			return nil, err
		}
		// a server clamping past the last page answers with an earlier one
		if info.Number > 0 && info.Number != page {
			break
		}

		all = append(all, items...)

		if onProgress != nil {
			onProgress(len(all), info.Total)
		}

		if len(items) == 0 || lastPage(page, info, len(all)) {
			break
		}
	}

	return all, nil
}

func lastPage(page int, info domain.Page, fetched int) bool {
	if info.Pages > 0 {
		return page >= info.Pages
	}
	return fetched >= info.Total
}
