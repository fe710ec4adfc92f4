// Package upstreamtest provides a scripted upstream.Doer for tests.
package upstreamtest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"railbook/backend/services/booking-service/internal/railerr"
	"railbook/backend/services/booking-service/internal/upstream"
)

// HandlerFunc answers one request.
type HandlerFunc func(req *upstream.Request) (*upstream.Response, error)

// Fake routes requests by path (query string ignored) to registered handlers and records them.
// Unregistered paths fail with a transient error.
type Fake struct {
	mu       sync.Mutex
	handlers map[string]HandlerFunc
	requests map[string][]*upstream.Request
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		handlers: make(map[string]HandlerFunc),
		requests: make(map[string][]*upstream.Request),
	}
}

// Handle registers fn for path.
func (f *Fake) Handle(path string, fn HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[normalize(path)] = fn
}

// JSON registers a fixed 200 response body for path.
func (f *Fake) JSON(path, body string) {
	f.Handle(path, func(*upstream.Request) (*upstream.Response, error) {
		return OK(body), nil
	})
}

// Sequence registers bodies returned in order; the last one repeats.
func (f *Fake) Sequence(path string, bodies ...string) {
	var mu sync.Mutex
	i := 0
	f.Handle(path, func(*upstream.Request) (*upstream.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		body := bodies[i]
		if i < len(bodies)-1 {
			i++
		}
		return OK(body), nil
	})
}

// Fail registers a transient failure for path.
func (f *Fake) Fail(path string) {
	f.Handle(path, func(*upstream.Request) (*upstream.Response, error) {
		return nil, railerr.Transient("scripted failure for %s", path)
	})
}

// Do implements upstream.Doer.
func (f *Fake) Do(_ context.Context, req *upstream.Request) (*upstream.Response, error) {
	key := normalize(req.Path)
	f.mu.Lock()
	f.requests[key] = append(f.requests[key], req)
	fn := f.handlers[key]
	f.mu.Unlock()

	if fn == nil {
		return nil, railerr.Transient("no handler for %s", key)
	}
	return fn(req)
}

// Calls returns how many requests hit path.
func (f *Fake) Calls(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests[normalize(path)])
}

// Last returns the latest request for path, or nil.
func (f *Fake) Last(path string) *upstream.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	reqs := f.requests[normalize(path)]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

// OK wraps body in a 200 response.
func OK(body string) *upstream.Response {
	return &upstream.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte(body)}
}

// Row builds a pipe-delimited left-ticket row of 36 fields with the given index overrides.
func Row(fields map[int]string) string {
	parts := make([]string, 36)
	for idx, v := range fields {
		if idx < 0 || idx >= len(parts) {
			panic(fmt.Sprintf("upstreamtest: row index %d out of range", idx))
		}
		parts[idx] = v
	}
	return strings.Join(parts, "|")
}

func normalize(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return strings.TrimPrefix(path, "/")
}
