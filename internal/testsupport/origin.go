package testsupport

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// Origin is an httptest server that serves named byte streams with Range
// support, standing in for a CDN.
type Origin struct {
	*httptest.Server

	mu       sync.Mutex
	streams  map[string][]byte
	failures map[string]int
	hits     map[string]int
	stalls   map[string]bool
	dropped  map[string]int
}

// NewOrigin starts an origin serving streams by path ("/video", "/audio", ...).
func NewOrigin(t testing.TB, streams map[string][]byte) *Origin {
	t.Helper()
	o := &Origin{
		streams:  streams,
		failures: make(map[string]int),
		hits:     make(map[string]int),
		stalls:   make(map[string]bool),
		dropped:  make(map[string]int),
	}
	o.Server = httptest.NewServer(http.HandlerFunc(o.serve))
	t.Cleanup(o.Close)
	return o
}

// FailWith makes the next n requests for path answer 503. A negative n makes
// every request answer 403.
func (o *Origin) FailWith(path string, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures[path] = n
}

// Stall makes requests for path send half of the stream and then hang until
// the client goes away.
func (o *Origin) Stall(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stalls[path] = true
}

// Dropped reports how many stalled requests for path the client abandoned.
func (o *Origin) Dropped(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dropped[path]
}

// Hits reports how many requests reached path.
func (o *Origin) Hits(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[path]
}

// URL returns the absolute URL of path.
func (o *Origin) URL(path string) string {
	return o.Server.URL + "/" + strings.TrimPrefix(path, "/")
}

func (o *Origin) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	o.mu.Lock()
	o.hits[path]++
	data, ok := o.streams[path]
	fail := o.failures[path]
	if fail > 0 {
		o.failures[path] = fail - 1
	}
	stall := o.stalls[path]
	o.mu.Unlock()

	switch {
	case stall && ok:
		o.stallRequest(w, r, path, data)
	case fail < 0:
		http.Error(w, "forbidden", http.StatusForbidden)
	case fail > 0:
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	case !ok:
		http.NotFound(w, r)
	default:
		http.ServeContent(w, r, path, time.Time{}, bytes.NewReader(data))
	}
}

func (o *Origin) stallRequest(w http.ResponseWriter, r *http.Request, path string, data []byte) {
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data[:len(data)/2])
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	<-r.Context().Done()
	o.mu.Lock()
	o.dropped[path]++
	o.mu.Unlock()
}
