package httpmiddleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func TestWrap_Order(t *testing.T) {
	var calls []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls = append(calls, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Wrap(okHandler(), mark("first"), mark("second"), mark("third"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"first", "second", "third"}, calls)
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusNotFound, `product "x" not found`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"code":404,"message":"product \"x\" not found"}`, rec.Body.String())
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	t.Run("generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Len(t, seen, 36)
		assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	})

	t.Run("reused", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "abc-123")
		h.ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, "abc-123", seen)
	})

	t.Run("invalid replaced", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, strings.Repeat("x", 200))
		h.ServeHTTP(httptest.NewRecorder(), req)
		assert.Len(t, seen, 36)
	})
}

func TestRecovery(t *testing.T) {
	h := Recovery()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"code":500,"message":"internal error"}`, rec.Body.String())
}

func TestLogRequests(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	lg := zap.New(core)

	r := chi.NewRouter()
	r.Use(LogRequests())
	r.Get("/api/products/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	h := Wrap(r, RequestID(), InjectLogger(lg))
	req := httptest.NewRequest(http.MethodGet, "/api/products/42", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.All()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, zapcore.WarnLevel, e.Level)
	fields := e.ContextMap()
	assert.Equal(t, "/api/products/{id}", fields["route"])
	assert.EqualValues(t, http.StatusNotFound, fields["status"])
	assert.Equal(t, "req-1", fields["request_id"])
}

func TestInjectLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := InjectLogger(zap.New(core))(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		zctx.From(r.Context()).Info("inside")
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, 1, logs.FilterMessage("inside").Len())
}

type noopTelemetry struct{}

func (noopTelemetry) MeterProvider() metric.MeterProvider { return metricnoop.NewMeterProvider() }
func (noopTelemetry) TracerProvider() trace.TracerProvider { return tracenoop.NewTracerProvider() }

func TestInstrument(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Instrument("test", noopTelemetry{}))
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		cfg        CORSConfig
		method     string
		headers    map[string]string
		wantStatus int
		wantOrigin string
		wantCreds  string
	}{
		{
			name:       "wildcard simple request",
			cfg:        CORSConfig{AllowOrigins: []string{"*"}},
			method:     http.MethodGet,
			headers:    map[string]string{"Origin": "https://shop.example"},
			wantStatus: http.StatusOK,
			wantOrigin: "*",
		},
		{
			name:       "listed origin matched case-insensitively",
			cfg:        CORSConfig{AllowOrigins: []string{"https://Shop.example"}},
			method:     http.MethodGet,
			headers:    map[string]string{"Origin": "https://shop.example"},
			wantStatus: http.StatusOK,
			wantOrigin: "https://Shop.example",
		},
		{
			name:       "unlisted origin gets no header",
			cfg:        CORSConfig{AllowOrigins: []string{"https://shop.example"}},
			method:     http.MethodGet,
			headers:    map[string]string{"Origin": "https://evil.example"},
			wantStatus: http.StatusOK,
		},
		{
			name:   "preflight",
			cfg:    CORSConfig{AllowOrigins: []string{"https://shop.example"}, AllowCredentials: true, MaxAge: 600},
			method: http.MethodOptions,
			headers: map[string]string{
				"Origin":                        "https://shop.example",
				"Access-Control-Request-Method": "POST",
			},
			wantStatus: http.StatusNoContent,
			wantOrigin: "https://shop.example",
			wantCreds:  "true",
		},
		{
			name:   "credentials with wildcard echo the origin",
			cfg:    CORSConfig{AllowOrigins: []string{"*"}, AllowCredentials: true},
			method: http.MethodGet,
			headers: map[string]string{
				"Origin": "https://shop.example",
			},
			wantStatus: http.StatusOK,
			wantOrigin: "https://shop.example",
			wantCreds:  "true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := CORS(tt.cfg)(okHandler())
			req := httptest.NewRequest(tt.method, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantCreds, rec.Header().Get("Access-Control-Allow-Credentials"))
		})
	}
}

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memoryStore) Key(parts ...string) string { return strings.Join(parts, ":") }

func (m *memoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memoryStore) SetNX(_ context.Context, key, value string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = value
	return true, nil
}

func (m *memoryStore) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryStore) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func TestIdempotency(t *testing.T) {
	store := &memoryStore{data: make(map[string]string)}
	calls := 0
	h := Idempotency(IdempotencyConfig{
		Store: store,
		TTL:   time.Hour,
		Scope: func(r *http.Request) string { return r.Header.Get("X-User-Id") },
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if strings.Contains(r.URL.Path, "fail") {
			WriteError(w, http.StatusUnprocessableEntity, "rejected")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"o-1"}`))
	}))

	send := func(path, key, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("X-User-Id", "u1")
		if key != "" {
			req.Header.Set(IdempotencyKeyHeader, key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := send("/orders", "k1", `{"a":1}`)
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, 1, calls)

	replay := send("/orders", "k1", `{"a":1}`)
	assert.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, `{"id":"o-1"}`, replay.Body.String())
	assert.Equal(t, "application/json", replay.Header().Get("Content-Type"))
	assert.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, 1, calls)

	conflict := send("/orders", "k1", `{"a":2}`)
	assert.Equal(t, http.StatusConflict, conflict.Code)
	assert.Equal(t, 1, calls)

	send("/orders", "", `{"a":1}`)
	assert.Equal(t, 2, calls)

	send("/orders/fail", "k2", `{}`)
	send("/orders/fail", "k2", `{}`)
	assert.Equal(t, 4, calls, "failed responses are not recorded")
	_, held := store.data["idempotency:u1:POST:/orders/fail:k2"]
	assert.False(t, held, "failed responses release the key")
}

func TestIdempotency_ConcurrentRepeatRunsOnce(t *testing.T) {
	store := &memoryStore{data: make(map[string]string)}
	var calls atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	h := Idempotency(IdempotencyConfig{Store: store, TTL: time.Hour})(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			close(entered)
			<-release
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"o-1"}`))
		}))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"a":1}`))
		req.Header.Set(IdempotencyKeyHeader, "k1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	firstDone := make(chan *httptest.ResponseRecorder)
	go func() { firstDone <- send() }()
	<-entered

	inFlight := send()
	assert.Equal(t, http.StatusConflict, inFlight.Code)

	close(release)
	first := <-firstDone
	assert.Equal(t, http.StatusCreated, first.Code)

	replay := send()
	assert.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, int32(1), calls.Load())
}

func TestIdempotency_PanicReleasesKey(t *testing.T) {
	store := &memoryStore{data: make(map[string]string)}
	h := Idempotency(IdempotencyConfig{Store: store, TTL: time.Hour})(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("boom")
		}))

	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{}`))
	req.Header.Set(IdempotencyKeyHeader, "k1")
	assert.Panics(t, func() { h.ServeHTTP(httptest.NewRecorder(), req) })
	assert.Empty(t, store.data)
}

func TestIdempotency_NilStore(t *testing.T) {
	h := Idempotency(IdempotencyConfig{})(okHandler())
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(IdempotencyKeyHeader, "k")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIdempotencyRecord_RoundTrip(t *testing.T) {
	rec := idempotencyRecord{Status: 201, ContentType: "application/json", Body: []byte(`{"x":1}`), RequestHash: "h"}
	got, err := decodeIdempotencyRecord(rec.encode())
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	_, err = decodeIdempotencyRecord([]byte(`{}`))
	require.Error(t, err)

	pending := idempotencyRecord{Pending: true, RequestHash: "h"}
	got, err = decodeIdempotencyRecord(pending.encode())
	require.NoError(t, err)
	assert.Equal(t, pending, got)
}
