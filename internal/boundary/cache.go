package boundary

import (
	"net/http"
	"strconv"
	"time"
)

// cachedResponse is a stored upstream response
type cachedResponse struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

func (c *cachedResponse) ok() bool { return c.Status >= 200 && c.Status < 300 }

func (c *cachedResponse) write(w http.ResponseWriter) {
	for k, vs := range c.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(c.Body)))
	w.WriteHeader(c.Status)
	_, _ = w.Write(c.Body)
}

func filterHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		if skipHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// Only GET responses are cached, keyed by method and request URI.
func cacheKey(r *http.Request) (string, bool) {
	if r.Method != http.MethodGet {
		return "", false
	}
	return r.Method + " " + r.URL.RequestURI(), true
}

func (b *Boundary) lookup(r *http.Request) (*cachedResponse, bool) {
	key, ok := cacheKey(r)
	if !ok {
		return nil, false
	}
	var resp cachedResponse
	found, err := b.responses.GetJSON(key, &resp)
	if err != nil {
		b.logger.Warn("failed to read cached response", "key", key, "error", err)
		return nil, false
	}
	return &resp, found
}

func (b *Boundary) save(r *http.Request, resp *cachedResponse) error {
	key, ok := cacheKey(r)
	if !ok {
		return nil
	}
	rec := *resp
	rec.StoredAt = time.Now()
	return b.responses.SetJSON(key, &rec)
}

// remember caches successful responses; a failed write only costs the cache entry.
func (b *Boundary) remember(r *http.Request, resp *cachedResponse) {
	if !resp.ok() {
		return
	}
	if err := b.save(r, resp); err != nil {
		b.logger.Warn("failed to cache response", "path", r.URL.Path, "error", err)
	}
}

// Cached lists the request keys held in the response cache
func (b *Boundary) Cached() []string {
	keys, err := b.responses.Keys("")
	if err != nil {
		b.logger.Warn("failed to list cached responses", "error", err)
	}
	return keys
}
