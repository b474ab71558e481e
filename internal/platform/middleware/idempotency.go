package middleware

import (
	"bytes"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// DefaultIdempotencyTTL is how long a cached response remains replayable.
// Ledger mutations (wallet credits, transfers, invoice generation) must not
// be duplicated by client retries; a short window is enough for that.
const DefaultIdempotencyTTL = time.Hour

// IdempotencyEntry is a cached response for an idempotent request.
type IdempotencyEntry struct {
	Key        string
	Method     string
	Path       string
	StatusCode int
	Headers    http.Header
	Body       []byte
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// IdempotencyStore is the persistence interface for idempotency entries.
// Implementations must be safe for concurrent use.
type IdempotencyStore interface {
	Get(key string) (*IdempotencyEntry, bool)
	Set(key string, entry *IdempotencyEntry)
	Delete(key string)
}

// InMemoryIdempotencyStore is a concurrency-safe in-memory IdempotencyStore
// with TTL expiry and periodic cleanup.
type InMemoryIdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]*IdempotencyEntry
	ttl     time.Duration
	nowFunc func() time.Time
	stop    chan struct{}
}

func NewInMemoryIdempotencyStore(ttl time.Duration) *InMemoryIdempotencyStore {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	s := &InMemoryIdempotencyStore{
		entries: make(map[string]*IdempotencyEntry),
		ttl:     ttl,
		nowFunc: time.Now,
		stop:    make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *InMemoryIdempotencyStore) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.stop:
			return
		}
	}
}

// Stop terminates the background cleanup goroutine.
func (s *InMemoryIdempotencyStore) Stop() {
	close(s.stop)
}

func (s *InMemoryIdempotencyStore) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFunc()
	for key, entry := range s.entries {
		if now.After(entry.ExpiresAt) {
			delete(s.entries, key)
		}
	}
}

func (s *InMemoryIdempotencyStore) Get(key string) (*IdempotencyEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if s.nowFunc().After(entry.ExpiresAt) {
		return nil, false
	}
	cp := *entry
	if entry.Headers != nil {
		cp.Headers = entry.Headers.Clone()
	}
	cp.Body = make([]byte, len(entry.Body))
	copy(cp.Body, entry.Body)
	return &cp, true
}

func (s *InMemoryIdempotencyStore) Set(key string, entry *IdempotencyEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.nowFunc()
	}
	if cp.ExpiresAt.IsZero() {
		cp.ExpiresAt = cp.CreatedAt.Add(s.ttl)
	}
	if entry.Headers != nil {
		cp.Headers = entry.Headers.Clone()
	}
	cp.Body = make([]byte, len(entry.Body))
	copy(cp.Body, entry.Body)
	s.entries[key] = &cp
}

func (s *InMemoryIdempotencyStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Idempotency returns middleware that replays cached responses for retried
// write requests carrying an Idempotency-Key header.
//
//   - GET and DELETE requests pass through untouched.
//   - Requests without a key pass through untouched.
//   - A key reused against a different method+path yields 422, preventing
//     accidental cross-operation reuse.
//   - Otherwise the first response is captured and later retries replay it
//     with X-Idempotency-Replayed: true.
func Idempotency(store IdempotencyStore) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			method := c.Request().Method
			if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch {
				return next(c)
			}

			idempKey := c.Request().Header.Get("Idempotency-Key")
			if idempKey == "" {
				return next(c)
			}

			path := c.Request().URL.Path

			if cached, ok := store.Get(idempKey); ok {
				if cached.Method != method || cached.Path != path {
					return echo.NewHTTPError(http.StatusUnprocessableEntity,
						"idempotency key was already used for a different operation")
				}
				resp := c.Response()
				for k, vals := range cached.Headers {
					for _, v := range vals {
						resp.Header().Set(k, v)
					}
				}
				resp.Header().Set("X-Idempotency-Replayed", "true")
				resp.WriteHeader(cached.StatusCode)
				_, err := resp.Write(cached.Body)
				return err
			}

			origWriter := c.Response().Writer
			rec := &idempotencyRecorder{
				ResponseWriter: origWriter,
				body:           &bytes.Buffer{},
				statusCode:     http.StatusOK,
			}
			c.Response().Writer = rec

			if err := next(c); err != nil {
				c.Response().Writer = origWriter
				return err
			}

			c.Response().Writer = origWriter

			capturedHeaders := make(http.Header)
			for k, vals := range rec.Header() {
				capturedHeaders[k] = vals
			}

			store.Set(idempKey, &IdempotencyEntry{
				Key:        idempKey,
				Method:     method,
				Path:       path,
				StatusCode: rec.statusCode,
				Headers:    capturedHeaders,
				Body:       rec.body.Bytes(),
			})

			for k, vals := range capturedHeaders {
				for _, v := range vals {
					origWriter.Header().Set(k, v)
				}
			}
			origWriter.WriteHeader(rec.statusCode)
			_, err := origWriter.Write(rec.body.Bytes())
			return err
		}
	}
}

// idempotencyRecorder buffers the downstream handler's response so it can be
// cached and then written to the real client.
type idempotencyRecorder struct {
	http.ResponseWriter
	body        *bytes.Buffer
	statusCode  int
	wroteHeader bool
}

func (r *idempotencyRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.statusCode = code
		r.wroteHeader = true
	}
}

func (r *idempotencyRecorder) Write(b []byte) (int, error) {
	return r.body.Write(b)
}
