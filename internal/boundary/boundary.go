package boundary

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/estrateji/satchel/internal/metrics"
	"github.com/estrateji/satchel/internal/store"
	"github.com/go-resty/resty/v2"
)

// Route prefixes with their own fetch strategy
const (
	offlineAPIPrefix = "/api/offline/"
	downloadPrefix   = "/offline/download/"
	syncPrefix       = "/_sync/"
	submissionsPath  = "/_submissions"
	metricsPath      = "/metrics"
)

// DefaultPrecache lists the fallback assets stored at Install
var DefaultPrecache = []string{"/offline", "/static/offline-fallback.html", "/static/js/offline.bundle.js"}

const maxRequestBody = 32 << 20

// hop-by-hop and recomputed headers are never copied between hops
var skipHeaders = map[string]bool{
	"Connection":        true,
	"Keep-Alive":        true,
	"Proxy-Connection":  true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
	"Te":                true,
	"Trailer":           true,
	"Content-Length":    true,
	"Accept-Encoding":   true,
	"Host":              true,
}

// SyncHandler runs one background-sync tag
type SyncHandler func(ctx context.Context) error

// Boundary is the local proxy between the learning app and the upstream API.
// It decides per route whether a response comes from the cache or the network.
type Boundary struct {
	http        *resty.Client
	store       *store.Store
	responses   *store.Namespace
	submissions *store.Namespace
	precache    []string
	metrics     *metrics.Metrics
	logger      *slog.Logger

	mu       sync.RWMutex
	handlers map[string]SyncHandler
}

// Options configures a Boundary
type Options struct {
	Upstream string
	Token    string
	Timeout  time.Duration
	Precache []string
	Metrics  *metrics.Metrics
}

func New(s *store.Store, opts Options, logger *slog.Logger) *Boundary {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Precache == nil {
		opts.Precache = DefaultPrecache
	}

	hc := resty.New().
		SetBaseURL(strings.TrimRight(opts.Upstream, "/")).
		SetTimeout(opts.Timeout)
	if opts.Token != "" {
		hc.SetAuthToken(opts.Token)
	}

	b := &Boundary{
		http:        hc,
		store:       s,
		responses:   s.Namespace(store.NSResponses),
		submissions: s.Namespace(store.NSSubmissions),
		precache:    opts.Precache,
		metrics:     opts.Metrics,
		logger:      logger,
		handlers:    make(map[string]SyncHandler),
	}
	b.handlers[TagOfflineData] = b.syncSubmissions
	return b
}

// ServeHTTP picks a strategy by path. The proxy only ever sees origin-relative
// paths, so every route prefix is matched at the start of the path.
func (b *Boundary) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == metricsPath:
		b.metrics.Handler().ServeHTTP(w, r)
	case strings.HasPrefix(path, syncPrefix):
		b.serveSync(w, r)
	case path == submissionsPath:
		b.serveSubmission(w, r)
	case strings.HasPrefix(path, offlineAPIPrefix):
		b.networkOnly(w, r)
	case strings.HasPrefix(path, downloadPrefix):
		b.cacheThenNetwork(w, r)
	default:
		b.cacheFirst(w, r)
	}
}

// networkOnly forwards the request; a network failure becomes a 503 the app
// can tell apart from a real server error.
func (b *Boundary) networkOnly(w http.ResponseWriter, r *http.Request) {
	resp, err := b.fetch(r)
	if err != nil {
		b.logger.Debug("offline api request failed", "path", r.URL.Path, "error", err)
		b.metrics.Served("offline_api", "offline")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Offline mode active"})
		return
	}
	b.metrics.Served("offline_api", "network")
	resp.write(w)
}

// cacheThenNetwork serves bulk downloads from the cache, fetching and caching on a miss.
func (b *Boundary) cacheThenNetwork(w http.ResponseWriter, r *http.Request) {
	if cached, ok := b.lookup(r); ok {
		b.metrics.Served("download", "cache")
		cached.write(w)
		return
	}

	resp, err := b.fetch(r)
	if err != nil {
		b.metrics.Served("download", "error")
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		return
	}
	b.remember(r, resp)
	b.metrics.Served("download", "network")
	resp.write(w)
}

// cacheFirst serves from the cache when possible and falls back to the network.
func (b *Boundary) cacheFirst(w http.ResponseWriter, r *http.Request) {
	if cached, ok := b.lookup(r); ok {
		b.metrics.Served("default", "cache")
		cached.write(w)
		return
	}

	resp, err := b.fetch(r)
	if err != nil {
		b.metrics.Served("default", "error")
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		return
	}
	b.metrics.Served("default", "network")
	resp.write(w)
}

// fetch forwards r upstream. Only transport failures are errors; any HTTP
// status is a response.
func (b *Boundary) fetch(r *http.Request) (*cachedResponse, error) {
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
		if err != nil {
			return nil, err
		}
	}

	req := b.http.R().SetContext(r.Context())
	for k, vs := range r.Header {
		if skipHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		req.SetHeaderMultiValues(map[string][]string{k: vs})
	}
	if len(body) > 0 {
		req.SetBody(body)
	}

	resp, err := req.Execute(r.Method, r.URL.RequestURI())
	if err != nil {
		return nil, err
	}

	return &cachedResponse{
		Status: resp.StatusCode(),
		Header: filterHeader(resp.Header()),
		Body:   resp.Body(),
	}, nil
}

// Install precaches the fallback assets. Missing assets are logged, not fatal.
func (b *Boundary) Install(ctx context.Context) error {
	stored := 0
	for _, asset := range b.precache {
		if err := ctx.Err(); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset, nil)
		if err != nil {
			b.logger.Warn("invalid precache asset", "asset", asset, "error", err)
			continue
		}
		resp, err := b.fetch(req)
		if err != nil {
			b.logger.Warn("failed to precache asset", "asset", asset, "error", err)
			continue
		}
		if !resp.ok() {
			b.logger.Warn("precache asset unavailable", "asset", asset, "status", resp.Status)
			continue
		}
		if err := b.save(req, resp); err != nil {
			b.logger.Warn("failed to store precached asset", "asset", asset, "error", err)
			continue
		}
		stored++
	}
	b.logger.Info("precache complete", "stored", stored, "assets", len(b.precache))
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
