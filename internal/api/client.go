package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/estrateji/satchel/internal/domain"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 30 * time.Second
	userAgent      = "Satchel/1.0"
	maxPageSize    = 100
)

// Client talks to the learning platform REST API.
// Implements domain.CourseClient, domain.ModuleClient, domain.ArchiveClient and domain.Deliverer.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Options configures a Client
type Options struct {
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 = unlimited
	Burst     int
}

// NewClient creates a new API client authenticated with a bearer token
func NewClient(baseURL, token string, opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), max(opts.Burst, 1))
	}

	hc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", userAgent)
	if token != "" {
		hc.SetAuthToken(token)
	}

	return &Client{http: hc, limiter: limiter, logger: logger}
}

// do sends a request and maps failures onto domain errors:
// transport failure -> ErrServerOffline, 401 -> ErrAuthFailed,
// any other non-2xx -> *domain.RemoteError.
func (c *Client) do(ctx context.Context, method, path string, body any) (*resty.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	c.logger.Debug("api request", "method", method, "path", path)

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, c.transportError(ctx, path, err)
	}
	if err := c.checkStatus(path, resp.StatusCode(), resp.String); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) transportError(ctx context.Context, path string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.logger.Warn("api request failed", "error", err, "path", path)
	return fmt.Errorf("%w: %v", domain.ErrServerOffline, err)
}

// checkStatus maps a response status; body is only read for errors.
func (c *Client) checkStatus(path string, status int, body func() string) error {
	if status == http.StatusUnauthorized {
		return domain.ErrAuthFailed
	}
	if status < 200 || status > 299 {
		c.logger.Error("api request error", "status", status, "path", path)
		return &domain.RemoteError{Status: status, Body: truncate(body(), 512)}
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, dest any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body(), dest); err != nil {
		c.logger.Error("JSON parse error", "error", err, "path", path, "bodyLen", len(resp.Body()))
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// ListCourses returns one page of the current user's courses. The returned
// Page carries the paging the server applied, which may differ from the request.
func (c *Client) ListCourses(ctx context.Context, page, perPage int) ([]domain.Course, domain.Page, error) {
	if perPage <= 0 || perPage > maxPageSize {
		perPage = maxPageSize
	}
	page = max(page, 1)

	var raw json.RawMessage
	path := "/courses/?page=" + strconv.Itoa(page) + "&per_page=" + strconv.Itoa(perPage)
	if err := c.getJSON(ctx, path, &raw); err != nil {
		return nil, domain.Page{}, err
	}

	items, info, err := decodeCourseList(raw)
	if err != nil {
		c.logger.Error("unexpected course listing", "error", err, "path", path)
		return nil, domain.Page{}, fmt.Errorf("failed to parse response: %w", err)
	}

	courses := make([]domain.Course, 0, len(items))
	for _, dto := range items {
		courses = append(courses, mapCourse(dto))
	}
	return courses, info, nil
}

// GetCourse returns a course with its nested resources
func (c *Client) GetCourse(ctx context.Context, courseID string) (*domain.CourseDetail, error) {
	var dto courseDetailDTO
	if err := c.getJSON(ctx, "/courses/"+courseID, &dto); err != nil {
		return nil, err
	}
	return mapCourseDetail(dto), nil
}

// GetModule returns a module's full detail
func (c *Client) GetModule(ctx context.Context, moduleID string) (*domain.CachedModule, error) {
	var dto moduleDTO
	if err := c.getJSON(ctx, "/modules/"+moduleID, &dto); err != nil {
		return nil, err
	}
	return mapModule(dto), nil
}

// FetchBinary downloads a payload. Absolute URLs bypass the base URL.
func (c *Client) FetchBinary(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// FetchBinaryProgress streams a payload instead of buffering it in resty,
// reporting every read against the Content-Length.
func (c *Client) FetchBinaryProgress(ctx context.Context, url string, progress domain.ByteProgress) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	c.logger.Debug("api request", "method", http.MethodGet, "path", url, "stream", true)

	resp, err := c.http.R().SetContext(ctx).SetDoNotParseResponse(true).Get(url)
	if err != nil {
		return nil, c.transportError(ctx, url, err)
	}
	raw := resp.RawBody()
	defer raw.Close()

	if err := c.checkStatus(url, resp.StatusCode(), func() string {
		b, _ := io.ReadAll(io.LimitReader(raw, 1024))
		return string(b)
	}); err != nil {
		return nil, err
	}

	total := int64(-1)
	if resp.RawResponse != nil {
		total = resp.RawResponse.ContentLength
	}
	if progress != nil {
		progress(0, total)
	}
	data, err := io.ReadAll(&countingReader{r: raw, total: total, report: progress})
	if err != nil {
		return nil, c.transportError(ctx, url, err)
	}
	return data, nil
}

// DownloadCourseArchive fetches the offline package of a course
func (c *Client) DownloadCourseArchive(ctx context.Context, courseID string, progress domain.ByteProgress) ([]byte, error) {
	return c.FetchBinaryProgress(ctx, "/offline/download/"+url.PathEscape(courseID), progress)
}

type countingReader struct {
	r      io.Reader
	read   int64
	total  int64
	report domain.ByteProgress
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.read += int64(n)
		if c.report != nil {
			c.report(c.read, c.total)
		}
	}
	return n, err
}

// ProbeSize issues a HEAD request and returns the Content-Length, -1 when unknown
func (c *Client) ProbeSize(ctx context.Context, url string) (int64, error) {
	resp, err := c.do(ctx, http.MethodHead, url, nil)
	if err != nil {
		return -1, err
	}
	if h := resp.Header().Get("Content-Length"); h != "" {
		if n, err := strconv.ParseInt(h, 10, 64); err == nil {
			return n, nil
		}
	}
	if resp.RawResponse != nil && resp.RawResponse.ContentLength >= 0 {
		return resp.RawResponse.ContentLength, nil
	}
	return -1, nil
}

// Deliver posts a JSON payload to endpoint
func (c *Client) Deliver(ctx context.Context, endpoint string, payload any) error {
	_, err := c.do(ctx, http.MethodPost, endpoint, payload)
	return err
}

// Health checks that the API answers at all. Only transport failures count:
// an auth or server error still proves the server is reachable.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/", nil)
	if errors.Is(err, domain.ErrServerOffline) {
		return err
	}
	if err != nil && ctx.Err() != nil {
		return err
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
