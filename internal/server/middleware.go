package server

import (
	"bytes"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// RequestLogEntry is one served request as shown on /ops/requests.
type RequestLogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	StatusCode int       `json:"status_code"`
	DurationMS float64   `json:"duration_ms"`
	RequestID  string    `json:"request_id,omitempty"`
}

// RequestLog keeps the most recent requests in a fixed-size ring.
type RequestLog struct {
	mu   sync.RWMutex
	ring []RequestLogEntry
	next int
	full bool
}

// NewRequestLog creates a request log holding up to size entries.
func NewRequestLog(size int) *RequestLog {
	if size < 1 {
		size = 1
	}
	return &RequestLog{ring: make([]RequestLogEntry, size)}
}

// Add records entry, overwriting the oldest once the ring is full.
func (rl *RequestLog) Add(entry RequestLogEntry) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.ring[rl.next] = entry
	rl.next = (rl.next + 1) % len(rl.ring)
	if rl.next == 0 {
		rl.full = true
	}
}

// Entries returns the recorded requests, oldest first.
func (rl *RequestLog) Entries() []RequestLogEntry {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	if !rl.full {
		return append([]RequestLogEntry(nil), rl.ring[:rl.next]...)
	}
	out := make([]RequestLogEntry, 0, len(rl.ring))
	out = append(out, rl.ring[rl.next:]...)
	return append(out, rl.ring[:rl.next]...)
}

// Clear drops every entry.
func (rl *RequestLog) Clear() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	clear(rl.ring)
	rl.next, rl.full = 0, false
}

// KeyedMutex serializes work per string key.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock blocks until key is free and returns its unlock function.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// IdempotencyTracker remembers responses to POSTs that carried an
// Idempotency-Key. Entries older than the TTL are dropped on the next Store.
type IdempotencyTracker struct {
	mu      sync.RWMutex
	replies map[string]cachedReply
	ttl     time.Duration
	now     func() time.Time
	keys    *KeyedMutex
}

type cachedReply struct {
	status int
	body   []byte
	at     time.Time
}

// NewIdempotencyTracker creates a tracker whose entries expire after ttl.
// A zero ttl keeps entries until Reset.
func NewIdempotencyTracker(ttl time.Duration) *IdempotencyTracker {
	return &IdempotencyTracker{
		replies: make(map[string]cachedReply),
		ttl:     ttl,
		now:     time.Now,
		keys:    NewKeyedMutex(),
	}
}

func (it *IdempotencyTracker) expired(c cachedReply) bool {
	return it.ttl > 0 && it.now().Sub(c.at) > it.ttl
}

// Check returns the cached status and body for key.
func (it *IdempotencyTracker) Check(key string) (int, []byte, bool) {
	it.mu.RLock()
	defer it.mu.RUnlock()
	c, ok := it.replies[key]
	if !ok || it.expired(c) {
		return 0, nil, false
	}
	return c.status, c.body, true
}

// Store caches a response under key and evicts expired entries.
func (it *IdempotencyTracker) Store(key string, status int, body []byte) {
	it.mu.Lock()
	defer it.mu.Unlock()
	for k, c := range it.replies {
		if it.expired(c) {
			delete(it.replies, k)
		}
	}
	it.replies[key] = cachedReply{status: status, body: bytes.Clone(body), at: it.now()}
}

// Len returns the number of cached responses.
func (it *IdempotencyTracker) Len() int {
	it.mu.RLock()
	defer it.mu.RUnlock()
	return len(it.replies)
}

// Reset forgets every cached response.
func (it *IdempotencyTracker) Reset() {
	it.mu.Lock()
	defer it.mu.Unlock()
	clear(it.replies)
}

// Middleware is the shared middleware chain and the state it records for
// the ops plane.
type Middleware struct {
	cfg        *Config
	logger     *slog.Logger
	ReqLog     *RequestLog
	Idempotent *IdempotencyTracker
}

// NewMiddleware keeps the last 1000 requests and caches idempotent replies for a day.
func NewMiddleware(cfg *Config, logger *slog.Logger) *Middleware {
	return &Middleware{
		cfg:        cfg,
		logger:     logger,
		ReqLog:     NewRequestLog(1000),
		Idempotent: NewIdempotencyTracker(24 * time.Hour),
	}
}

// CORS allows the storefront and back-office frontends to call the API.
func (m *Middleware) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Accept-Language, Authorization, Content-Type, Idempotency-Key")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Recover turns handler panics into 500 responses.
func (m *Middleware) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				m.logger.Error("panic serving request",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				Error(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code written by downstream handlers.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// RequestLog middleware captures request details into the ring buffer.
func (m *Middleware) RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rec, r)

		entry := RequestLogEntry{
			Timestamp:  start,
			Method:     r.Method,
			Path:       r.URL.Path,
			StatusCode: rec.statusCode,
			DurationMS: float64(time.Since(start).Microseconds()) / 1000,
			RequestID:  chimw.GetReqID(r.Context()),
		}
		m.ReqLog.Add(entry)

		m.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.statusCode,
			"duration_ms", entry.DurationMS,
			"request_id", entry.RequestID,
		)
	})
}

// responseRecorder captures response status and body for idempotency caching.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// Idempotency replays the first response to a POST carrying an
// Idempotency-Key. Concurrent requests with the same key wait for the
// first to finish. Server errors are not cached.
func (m *Middleware) Idempotency(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if r.Method != http.MethodPost || key == "" {
			next.ServeHTTP(w, r)
			return
		}
		key = r.URL.Path + "|" + key

		unlock := m.Idempotent.keys.Lock(key)
		defer unlock()

		if status, body, ok := m.Idempotent.Check(key); ok {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(status)
			w.Write(body)
			return
		}

		rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)
		if rec.statusCode < http.StatusInternalServerError {
			m.Idempotent.Store(key, rec.statusCode, rec.body.Bytes())
		}
	})
}
