package prefetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/estrateji/satchel/internal/domain"
	"github.com/estrateji/satchel/internal/downloads"
	"github.com/estrateji/satchel/internal/metrics"
	"github.com/estrateji/satchel/internal/modcache"
	"golang.org/x/time/rate"
)

const (
	// DefaultLimit is how many modules a prefetch pass downloads
	DefaultLimit = 3

	// DefaultMaxBlobSize is the ceiling for SaveModuleToOffline
	DefaultMaxBlobSize int64 = 50 << 20

	// progressStep is the minimum percentage change written to a task
	progressStep = 5
)

// Result summarizes one prefetch pass.
type Result struct {
	Downloaded int
	Cached     int // already had a blob
	NoVideo    int
	Failed     int
}

// ArchiveStore keeps downloaded course archives
type ArchiveStore interface {
	Put(courseID string, data []byte) error
}

// Prefetcher eagerly downloads module metadata and video payloads, and
// whole-course archives when configured with WithArchives.
type Prefetcher struct {
	client   domain.ModuleClient
	cache    *modcache.Manager
	tracker  *downloads.Tracker
	archiver domain.ArchiveClient
	archives ArchiveStore
	limiter  *rate.Limiter
	maxBlob  int64
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures a Prefetcher
type Option func(*Prefetcher)

// WithLimiter throttles binary downloads
func WithLimiter(l *rate.Limiter) Option { return func(p *Prefetcher) { p.limiter = l } }

func WithMaxBlobSize(n int64) Option { return func(p *Prefetcher) { p.maxBlob = n } }

func WithTracker(t *downloads.Tracker) Option { return func(p *Prefetcher) { p.tracker = t } }

func WithMetrics(m *metrics.Metrics) Option { return func(p *Prefetcher) { p.metrics = m } }

// WithArchives enables course archive downloads
func WithArchives(client domain.ArchiveClient, archives ArchiveStore) Option {
	return func(p *Prefetcher) {
		p.archiver = client
		p.archives = archives
	}
}

func New(client domain.ModuleClient, cache *modcache.Manager, logger *slog.Logger, opts ...Option) *Prefetcher {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Prefetcher{
		client:  client,
		cache:   cache,
		limiter: rate.NewLimiter(rate.Inf, 1),
		maxBlob: DefaultMaxBlobSize,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PrefetchModules downloads the first limit modules that lack a cached blob.
// A failing module is logged and the batch continues; only cancellation stops it.
func (p *Prefetcher) PrefetchModules(ctx context.Context, modules []domain.ModuleRef, limit int) (Result, error) {
	var res Result
	if limit <= 0 {
		limit = DefaultLimit
	}

	attempted := 0
	for _, ref := range modules {
		if attempted >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if p.cache.HasBlob(ref.ID) {
			p.logger.Debug("module already cached", "moduleID", ref.ID)
			res.Cached++
			p.metrics.Prefetched("cached")
			continue
		}
		attempted++

		outcome, err := p.prefetchOne(ctx, ref)
		switch {
		case err != nil && ctx.Err() != nil:
			return res, ctx.Err()
		case err != nil:
			p.logger.Error("failed to prefetch module", "error", err, "moduleID", ref.ID)
			res.Failed++
		case outcome == "no_video":
			res.NoVideo++
		default:
			res.Downloaded++
		}
		if err != nil {
			outcome = "failed"
		}
		p.metrics.Prefetched(outcome)
	}

	p.logger.Info("prefetch complete",
		"downloaded", res.Downloaded, "cached", res.Cached, "noVideo", res.NoVideo, "failed", res.Failed)
	return res, nil
}

func (p *Prefetcher) prefetchOne(ctx context.Context, ref domain.ModuleRef) (string, error) {
	mod, err := p.client.GetModule(ctx, ref.ID)
	if err != nil {
		return "", fmt.Errorf("fetch module detail: %w", err)
	}
	if mod.ID == "" {
		mod.ID = ref.ID
	}
	if mod.CourseID == "" {
		mod.CourseID = ref.CourseID
	}
	if mod.VideoURL == "" {
		p.logger.Warn("skipping module without video", "moduleID", ref.ID)
		return "no_video", nil
	}

	if err := p.cache.AddModuleMeta(mod); err != nil {
		return "", err
	}
	if err := p.download(ctx, mod); err != nil {
		return "", err
	}
	p.logger.Info("prefetched module", "moduleID", mod.ID, "title", mod.Title)
	return "downloaded", nil
}

// SaveModuleToOffline stores metadata, then the video only when a HEAD probe
// reports it under the size ceiling. An oversized or unsized video leaves the
// metadata cached and returns domain.ErrBlobTooLarge.
func (p *Prefetcher) SaveModuleToOffline(ctx context.Context, id, videoURL string, mod *domain.CachedModule) error {
	rec := domain.CachedModule{ID: id, VideoURL: videoURL}
	if mod != nil {
		rec = *mod
		rec.ID = id
		if videoURL != "" {
			rec.VideoURL = videoURL
		}
	}
	if rec.VideoURL == "" {
		return fmt.Errorf("module %s has no video url", id)
	}

	if err := p.cache.AddModuleMeta(&rec); err != nil {
		return err
	}

	size, err := p.client.ProbeSize(ctx, rec.VideoURL)
	if err != nil {
		p.logger.Error("failed to probe video size", "error", err, "moduleID", id)
		p.metrics.Prefetched("failed")
		return fmt.Errorf("probe video size: %w", err)
	}
	if size < 0 || size >= p.maxBlob {
		p.logger.Warn("video too large for offline storage",
			"moduleID", id, "size", size, "limit", p.maxBlob)
		p.metrics.Prefetched("too_large")
		return fmt.Errorf("module %s (%s): %w", id, sizeLabel(size), domain.ErrBlobTooLarge)
	}

	if err := p.download(ctx, &rec); err != nil {
		p.logger.Error("failed to save module offline", "error", err, "moduleID", id)
		p.metrics.Prefetched("failed")
		return err
	}
	p.metrics.Prefetched("downloaded")
	return nil
}

// download fetches and stores the video payload, tracking it as a download task.
// Quota failures keep the metadata and surface as a failed task.
func (p *Prefetcher) download(ctx context.Context, mod *domain.CachedModule) error {
	taskID := p.track(mod)

	err := p.fetchAndStore(ctx, mod, taskID)
	p.finish(taskID, err)
	if errors.Is(err, domain.ErrQuotaExceeded) {
		p.logger.Warn("storage quota reached, keeping metadata only", "moduleID", mod.ID)
	}
	return err
}

func (p *Prefetcher) fetchAndStore(ctx context.Context, mod *domain.CachedModule, taskID string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	blob, err := p.client.FetchBinaryProgress(ctx, mod.VideoURL, p.reporter(taskID))
	if err != nil {
		return fmt.Errorf("fetch video: %w", err)
	}
	return p.cache.AddVideoBlob(mod.ID, blob)
}

// DownloadCourse fetches a course's offline archive as a tracked task and
// returns the task in its final state.
func (p *Prefetcher) DownloadCourse(ctx context.Context, courseID, name string) (domain.DownloadTask, error) {
	if p.archiver == nil || p.archives == nil {
		return domain.DownloadTask{}, fmt.Errorf("course archives are not configured")
	}
	if name == "" {
		name = "course " + courseID
	}

	task := domain.DownloadTask{Name: name, CourseID: courseID, Status: domain.DownloadPending}
	if p.tracker != nil {
		var err error
		if task, err = p.tracker.AddCourse(name, courseID); err != nil {
			return task, err
		}
	}

	err := p.fetchArchive(ctx, courseID, task.ID)
	p.finish(task.ID, err)
	if err != nil {
		p.logger.Error("failed to download course archive", "error", err, "courseID", courseID)
		p.metrics.Prefetched("failed")
	} else {
		p.logger.Info("downloaded course archive", "courseID", courseID, "name", name)
		p.metrics.Prefetched("downloaded")
	}

	if p.tracker != nil {
		if final, ok := p.tracker.Get(task.ID); ok {
			task = final
		}
	} else if err == nil {
		task.Status = domain.DownloadCompleted
		task.Progress = 100
	}
	return task, err
}

func (p *Prefetcher) fetchArchive(ctx context.Context, courseID, taskID string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	data, err := p.archiver.DownloadCourseArchive(ctx, courseID, p.reporter(taskID))
	if err != nil {
		return fmt.Errorf("fetch course archive: %w", err)
	}
	return p.archives.Put(courseID, data)
}

// RetryTask re-runs a failed task under the same task ID: a course archive
// when the task names a course, otherwise the module video.
func (p *Prefetcher) RetryTask(ctx context.Context, taskID string) error {
	if p.tracker == nil {
		return fmt.Errorf("download tracking is disabled")
	}
	task, ok := p.tracker.Get(taskID)
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}

	var run func() error
	if task.CourseID != "" {
		if p.archiver == nil || p.archives == nil {
			return fmt.Errorf("course archives are not configured")
		}
		run = func() error { return p.fetchArchive(ctx, task.CourseID, taskID) }
	} else {
		mod, ok := p.cache.Get(task.ModuleID)
		if !ok || mod.VideoURL == "" {
			return fmt.Errorf("module %s has no cached video url: %w", task.ModuleID, domain.ErrNotFound)
		}
		run = func() error { return p.fetchAndStore(ctx, mod, taskID) }
	}
	if err := p.tracker.Retry(taskID); err != nil {
		return err
	}

	err := run()
	if err != nil {
		if ferr := p.tracker.Fail(taskID, err); ferr != nil {
			p.logger.Warn("failed to update download task", "error", ferr, "taskID", taskID)
		}
		p.metrics.Prefetched("failed")
		return err
	}
	p.metrics.Prefetched("downloaded")
	return p.tracker.Complete(taskID)
}

// finish moves a tracked task to completed or failed
func (p *Prefetcher) finish(taskID string, err error) {
	if p.tracker == nil || taskID == "" {
		return
	}
	var terr error
	if err != nil {
		terr = p.tracker.Fail(taskID, err)
	} else {
		terr = p.tracker.Complete(taskID)
	}
	if terr != nil {
		p.logger.Warn("failed to update download task", "error", terr, "taskID", taskID)
	}
}

// reporter turns byte progress into task percentages, writing only every
// progressStep points. 100 is left to Complete.
func (p *Prefetcher) reporter(taskID string) domain.ByteProgress {
	if p.tracker == nil || taskID == "" {
		return nil
	}
	last := 0
	return func(read, total int64) {
		if total <= 0 {
			return
		}
		pct := int(read * 100 / total)
		if pct >= 100 || pct-last < progressStep {
			return
		}
		last = pct
		if err := p.tracker.SetProgress(taskID, pct); err != nil {
			p.logger.Warn("failed to update download progress", "error", err, "taskID", taskID)
		}
	}
}

func (p *Prefetcher) track(mod *domain.CachedModule) string {
	if p.tracker == nil {
		return ""
	}
	name := mod.Title
	if name == "" {
		name = "module " + mod.ID
	}
	task, err := p.tracker.Add(name, mod.ID)
	if err != nil {
		p.logger.Warn("failed to track download", "error", err, "moduleID", mod.ID)
		return ""
	}
	return task.ID
}

func sizeLabel(n int64) string {
	if n < 0 {
		return "unknown size"
	}
	return domain.FormatBytes(n)
}
